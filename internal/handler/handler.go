package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/angeloszaimis/inference-router/internal/dispatcher"
	"github.com/angeloszaimis/inference-router/internal/router"
)

const maxBodyBytes = 1 << 20

const (
	ErrTypeInvalidRequest          = "InvalidRequest"
	ErrTypeUnknownBackend          = "UnknownBackend"
	ErrTypeMismatchedBackendSet    = "MismatchedBackendSet"
	ErrTypeInvalidWeight           = "InvalidWeight"
	ErrTypeWeightsNotNormalized    = "WeightsNotNormalized"
	ErrTypeBackendInvocationFailed = "BackendInvocationFailed"
	ErrTypeRequestCancelled        = "RequestCancelled"
	ErrTypeRateLimited             = "RateLimited"
	ErrTypeInternal                = "InternalError"
)

// Predictor runs one prediction.
type Predictor interface {
	Predict(ctx context.Context, req dispatcher.Request) (*dispatcher.Prediction, error)
}

// WeightStore reads and replaces routing weights. Swap returns the table
// it committed.
type WeightStore interface {
	Swap(weights router.WeightTable) (router.WeightTable, error)
	CurrentWeights() router.WeightTable
}

type PredictRequest struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

func (r PredictRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Text, validation.Required),
	)
}

type PredictResponse struct {
	Prediction   string  `json:"prediction"`
	Confidence   float64 `json:"confidence"`
	ModelVersion string  `json:"model_version"`
	Latency      float64 `json:"latency"`
	Timestamp    string  `json:"timestamp"`
}

type UpdateWeightsResponse struct {
	Message    string             `json:"message"`
	NewWeights router.WeightTable `json:"new_weights"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type API struct {
	logger    *slog.Logger
	predictor Predictor
	weights   WeightStore
}

func NewAPI(logger *slog.Logger, predictor Predictor, weights WeightStore) *API {
	return &API{
		logger:    logger,
		predictor: predictor,
		weights:   weights,
	}
}

// Predict handles POST /predict.
func (a *API) Predict(w http.ResponseWriter, r *http.Request) {
	log := a.logger.With(slog.String("request_id", RequestIDFrom(r.Context())))

	var req PredictRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrTypeInvalidRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, ErrTypeInvalidRequest, err.Error())
		return
	}

	pred, err := a.predictor.Predict(r.Context(), dispatcher.Request{Text: req.Text, Model: req.Model})
	if err != nil {
		status, kind := classifyPredictError(err)
		if status >= http.StatusInternalServerError {
			log.Error("Prediction failed", slog.String("model", req.Model), slog.Any("err", err))
		} else {
			log.Info("Prediction rejected", slog.String("model", req.Model), slog.Any("err", err))
		}
		writeError(w, status, kind, err.Error())
		return
	}

	log.Info("Prediction served",
		slog.String("backend", pred.Backend),
		slog.String("label", pred.Label),
		slog.Float64("latency_ms", pred.LatencyMs))

	w.Header().Set("X-Backend-Id", pred.Backend)
	writeJSON(w, http.StatusOK, PredictResponse{
		Prediction:   pred.Label,
		Confidence:   pred.Confidence,
		ModelVersion: pred.Version,
		Latency:      math.Round(pred.LatencyMs*100) / 100,
		Timestamp:    pred.Timestamp.Format(time.RFC3339Nano),
	})
}

// UpdateWeights handles POST /config/weights.
func (a *API) UpdateWeights(w http.ResponseWriter, r *http.Request) {
	var raw map[string]*float64
	if err := decode(r, &raw); err != nil {
		writeError(w, http.StatusBadRequest, ErrTypeInvalidRequest, err.Error())
		return
	}

	weights, err := toWeightTable(raw)
	if err == nil {
		weights, err = a.weights.Swap(weights)
	}
	if err != nil {
		kind := ErrTypeInternal
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, router.ErrMismatchedBackendSet):
			kind = ErrTypeMismatchedBackendSet
		case errors.Is(err, router.ErrInvalidWeight):
			kind = ErrTypeInvalidWeight
		case errors.Is(err, router.ErrWeightsNotNormalized):
			kind = ErrTypeWeightsNotNormalized
		default:
			status = http.StatusInternalServerError
		}

		a.logger.Warn("Weight update rejected", slog.Any("err", err))
		writeError(w, status, kind, err.Error())
		return
	}

	a.logger.Info("Weights updated", slog.Any("weights", weights))
	writeJSON(w, http.StatusOK, UpdateWeightsResponse{
		Message:    "Weights successfully updated",
		NewWeights: weights,
	})
}

// toWeightTable rejects null weights, which JSON would otherwise decode
// as 0.
func toWeightTable(raw map[string]*float64) (router.WeightTable, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: body must be a JSON object", router.ErrMismatchedBackendSet)
	}

	weights := make(router.WeightTable, len(raw))
	for id, w := range raw {
		if w == nil {
			return nil, fmt.Errorf("%w: %q has weight null", router.ErrInvalidWeight, id)
		}
		weights[id] = *w
	}
	return weights, nil
}

// Weights handles GET /config/weights.
func (a *API) Weights(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.weights.CurrentWeights())
}

// Health handles GET /health.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func classifyPredictError(err error) (int, string) {
	switch {
	case errors.Is(err, dispatcher.ErrUnknownBackend):
		return http.StatusBadRequest, ErrTypeUnknownBackend
	case errors.Is(err, dispatcher.ErrBackendInvocationFailed):
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout, ErrTypeBackendInvocationFailed
		}
		return http.StatusInternalServerError, ErrTypeBackendInvocationFailed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout, ErrTypeRequestCancelled
	default:
		return http.StatusInternalServerError, ErrTypeInternal
	}
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Type: kind, Message: message}})
}
