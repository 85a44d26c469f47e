package main

import (
	"log/slog"
	"net/http"

	"github.com/angeloszaimis/inference-router/internal/handler"
	"github.com/angeloszaimis/inference-router/internal/metrics"
)

func setupRouter(
	api *handler.API,
	aggregator *metrics.Aggregator,
	exporter *metrics.Exporter,
	rateLimit func(http.Handler) http.Handler,
	logger *slog.Logger,
) http.Handler {
	if rateLimit == nil {
		rateLimit = func(next http.Handler) http.Handler { return next }
	}

	mux := http.NewServeMux()

	mux.Handle("POST /predict", rateLimit(http.HandlerFunc(api.Predict)))
	mux.HandleFunc("POST /config/weights", api.UpdateWeights)
	mux.HandleFunc("GET /config/weights", api.Weights)
	mux.HandleFunc("GET /metrics", aggregator.Handler())
	mux.Handle("GET /metrics/prometheus", exporter.Handler())
	mux.HandleFunc("GET /health", api.Health)

	return handler.RequestID(handler.Logging(logger)(mux))
}
