package healthcheck

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/angeloszaimis/inference-router/internal/metrics"
)

// Target is a remote backend to probe.
type Target struct {
	ID  string
	URL *url.URL
}

// HealthCheck periodically sends GET <host>/health to target and reports
// transitions to the exporter. Probes are informational only; they never
// change routing. It returns when ctx is cancelled.
func HealthCheck(
	ctx context.Context,
	target Target,
	interval time.Duration,
	exporter *metrics.Exporter,
	logger *slog.Logger,
) error {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	healthURL := target.URL.ResolveReference(&url.URL{Path: "/health"})
	log := logger.With(slog.String("backend", target.ID), slog.String("url", healthURL.String()))

	var known, healthy bool

	for {
		select {
		case <-ctx.Done():
			log.Info("Health check stopped")
			return nil

		case <-ticker.C:
			up := probe(ctx, client, healthURL)
			if ctx.Err() != nil {
				continue
			}
			if known && up == healthy {
				continue
			}

			known, healthy = true, up
			exporter.Emit(metrics.Event{
				Type:      metrics.EventHealthChanged,
				Timestamp: time.Now(),
				Backend:   target.ID,
				Healthy:   up,
			})

			if up {
				log.Info("Backend is up")
			} else {
				log.Warn("Backend is down")
			}
		}
	}
}

func probe(ctx context.Context, client *http.Client, healthURL *url.URL) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL.String(), nil)
	if err != nil {
		return false
	}

	res, err := client.Do(req)
	if err != nil {
		return false
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	return res.StatusCode == http.StatusOK
}
