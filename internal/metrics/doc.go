// Package metrics provides per-backend request accounting for the router.
//
// Aggregator is the source of truth: it keeps cumulative request, error and
// latency totals per backend and derives average latency and error rate on
// read. Each backend's counters sit behind their own mutex so concurrent
// writers never lose an increment and readers never see a half-applied
// update.
//
// Exporter mirrors the same activity into Prometheus collectors through a
// buffered, non-blocking event channel drained by a dedicated goroutine:
//
//	exporter := metrics.NewExporter(1000, logger)
//	go exporter.Run(ctx)
//
//	exporter.Emit(metrics.Event{
//		Type:    metrics.EventPredictionSucceeded,
//		Backend: "distilbert",
//		Latency: 42 * time.Millisecond,
//	})
//
// Exporter is best effort; when its buffer is full events are dropped. The
// JSON endpoint backed by Aggregator is never affected by that.
package metrics
