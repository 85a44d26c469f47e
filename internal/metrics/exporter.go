package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type EventType string

const (
	EventPredictionSucceeded EventType = "prediction_succeeded"
	EventPredictionFailed    EventType = "prediction_failed"
	EventWeightsChanged      EventType = "weights_changed"
	EventHealthChanged       EventType = "health_changed"
)

const (
	outcomeSuccess = "success"
	outcomeError   = "error"
)

type Event struct {
	Type      EventType
	Timestamp time.Time
	Backend   string
	Latency   time.Duration
	Weights   map[string]float64
	Healthy   bool
}

// Exporter mirrors routing activity into Prometheus collectors. Events are
// consumed on a dedicated goroutine so the request path never waits on it.
type Exporter struct {
	eventCh  chan Event
	registry *prometheus.Registry
	logger   *slog.Logger

	predictions *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	weights     *prometheus.GaugeVec
	backendUp   *prometheus.GaugeVec
	lastSeen    *prometheus.GaugeVec
}

func NewExporter(bufferSize int, logger *slog.Logger) *Exporter {
	registry := prometheus.NewRegistry()

	e := &Exporter{
		eventCh:  make(chan Event, bufferSize),
		registry: registry,
		logger:   logger,
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inference_router",
			Name:      "predictions_total",
			Help:      "Total prediction attempts by backend and outcome",
		}, []string{"backend", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "inference_router",
			Name:      "prediction_latency_seconds",
			Help:      "Backend invocation latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"backend"}),
		weights: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "inference_router",
			Name:      "routing_weight",
			Help:      "Current A/B routing weight per backend",
		}, []string{"backend"}),
		backendUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "inference_router",
			Name:      "backend_up",
			Help:      "Whether the last health probe succeeded (1=up, 0=down)",
		}, []string{"backend"}),
		lastSeen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "inference_router",
			Name:      "last_prediction_timestamp_seconds",
			Help:      "Unix time of the last completed invocation per backend",
		}, []string{"backend"}),
	}

	registry.MustRegister(e.predictions, e.latency, e.weights, e.backendUp, e.lastSeen)
	return e
}

// Emit queues an event without blocking. Events are dropped when the
// buffer is full.
func (e *Exporter) Emit(event Event) {
	if e == nil {
		return
	}

	select {
	case e.eventCh <- event:
	default:
		e.logger.Debug("Metrics event dropped", slog.String("type", string(event.Type)))
	}
}

// Run processes events until ctx is cancelled, then drains what is left.
func (e *Exporter) Run(ctx context.Context) error {
	e.logger.Info("Metrics exporter started")
	defer e.logger.Info("Metrics exporter stopped")

	for {
		select {
		case event := <-e.eventCh:
			e.processEvent(event)
		case <-ctx.Done():
			e.drain()
			return nil
		}
	}
}

func (e *Exporter) processEvent(event Event) {
	switch event.Type {
	case EventPredictionSucceeded:
		e.predictions.WithLabelValues(event.Backend, outcomeSuccess).Inc()
		e.latency.WithLabelValues(event.Backend).Observe(event.Latency.Seconds())
		e.lastSeen.WithLabelValues(event.Backend).Set(float64(event.Timestamp.Unix()))

	case EventPredictionFailed:
		e.predictions.WithLabelValues(event.Backend, outcomeError).Inc()
		e.latency.WithLabelValues(event.Backend).Observe(event.Latency.Seconds())
		e.lastSeen.WithLabelValues(event.Backend).Set(float64(event.Timestamp.Unix()))

	case EventWeightsChanged:
		for backend, w := range event.Weights {
			e.weights.WithLabelValues(backend).Set(w)
		}

	case EventHealthChanged:
		up := 0.0
		if event.Healthy {
			up = 1
		}
		e.backendUp.WithLabelValues(event.Backend).Set(up)
	}
}

func (e *Exporter) drain() {
	for {
		select {
		case event := <-e.eventCh:
			e.processEvent(event)
		default:
			return
		}
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
