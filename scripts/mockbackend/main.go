// Mockbackend is a stand-in remote inference server for exercising http
// backends, circuit breaking and health probes locally.
//
// Usage:
//
//	go run ./scripts/mockbackend -port 9001 -version distilbert-v1
//	go run ./scripts/mockbackend -port 9002 -latency 120ms -fail-rate 0.2
//
// It serves POST /predict ({"text"} -> {"label","score","version"}) and
// GET /health. Classification uses the built-in lexicon model.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/inference-router/internal/backend"
)

type predictRequest struct {
	Text string `json:"text"`
}

type predictResponse struct {
	Label   string  `json:"label"`
	Score   float64 `json:"score"`
	Version string  `json:"version"`
}

func main() {
	port := flag.Int("port", 9001, "port to listen on")
	version := flag.String("version", "mock-v1", "model version to report")
	latency := flag.Duration("latency", 0, "artificial delay added to every prediction")
	failRate := flag.Float64("fail-rate", 0, "fraction of predictions answered with 500")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil)).With(slog.String("version", *version))
	model := backend.NewLexicon(*version)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /predict", func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		var req predictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		if *latency > 0 {
			select {
			case <-time.After(*latency):
			case <-r.Context().Done():
				return
			}
		}

		if rand.Float64() < *failRate {
			log.Warn("simulated failure", slog.String("request_id", requestID))
			http.Error(w, "simulated failure", http.StatusInternalServerError)
			return
		}

		res, err := model.Classify(r.Context(), req.Text)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		log.Info("prediction", slog.String("request_id", requestID), slog.String("label", res.Label))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(predictResponse{Label: res.Label, Score: res.Confidence, Version: res.Version})
	})

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Info("starting mock backend", slog.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("server failed", slog.Any("err", err))
		os.Exit(1)
	}
}
