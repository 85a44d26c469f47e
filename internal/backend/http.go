package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

const maxResponseBytes = 1 << 20

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Label   string  `json:"label"`
	Score   float64 `json:"score"`
	Version string  `json:"version"`
}

// HTTP calls a remote inference server. The server receives
// {"text": ...} and must answer {"label", "score", "version"}.
type HTTP struct {
	url     *url.URL
	version string
	client  *http.Client
}

// NewHTTP creates an HTTP backend posting to endpoint. version is reported
// when the server does not return one.
func NewHTTP(endpoint *url.URL, version string, client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTP{
		url:     endpoint,
		version: version,
		client:  client,
	}
}

// URL returns the inference endpoint.
func (h *HTTP) URL() *url.URL {
	return h.url
}

func (h *HTTP) Classify(ctx context.Context, text string) (Result, error) {
	payload, err := json.Marshal(classifyRequest{Text: text})
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url.String(), bytes.NewReader(payload))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := h.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return Result{}, err
	}

	if res.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("inference server returned %d: %s", res.StatusCode, bytes.TrimSpace(body))
	}

	var out classifyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Result{}, fmt.Errorf("decode inference response: %w", err)
	}

	version := out.Version
	if version == "" {
		version = h.version
	}

	return Result{
		Label:      out.Label,
		Confidence: out.Score,
		Version:    version,
	}, nil
}
