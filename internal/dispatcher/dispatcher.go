package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/angeloszaimis/inference-router/internal/backend"
	"github.com/angeloszaimis/inference-router/internal/metrics"
)

const DefaultTimeout = 5 * time.Second

var (
	ErrUnknownBackend          = errors.New("unknown backend")
	ErrBackendInvocationFailed = errors.New("backend invocation failed")
	ErrInvalidResult           = errors.New("invalid classification result")
)

// Selector picks a backend when the request does not name one.
type Selector interface {
	Select() (string, error)
}

// Recorder receives the outcome of every completed backend invocation.
type Recorder interface {
	RecordSuccess(backend string, latencyMs float64) error
	RecordError(backend string, latencyMs float64) error
}

// Request is one inbound prediction. Model is optional.
type Request struct {
	Text  string
	Model string
}

// Prediction is the successful outcome of a request.
type Prediction struct {
	Backend    string
	Label      string
	Confidence float64
	Version    string
	LatencyMs  float64
	Timestamp  time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout bounds every backend invocation. Non-positive values keep the
// default.
func WithTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.timeout = d
		}
	}
}

// WithBackendTimeout overrides the invocation timeout for one backend.
func WithBackendTimeout(id string, d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.backendTimeouts[id] = d
		}
	}
}

// WithExporter mirrors outcomes into a Prometheus exporter.
func WithExporter(e *metrics.Exporter) Option {
	return func(disp *Dispatcher) {
		disp.exporter = e
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(disp *Dispatcher) {
		disp.now = now
	}
}

type Dispatcher struct {
	logger          *slog.Logger
	registry        *backend.Registry
	selector        Selector
	recorder        Recorder
	exporter        *metrics.Exporter
	timeout         time.Duration
	backendTimeouts map[string]time.Duration
	now             func() time.Time
}

func New(logger *slog.Logger, registry *backend.Registry, selector Selector, recorder Recorder, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:          logger,
		registry:        registry,
		selector:        selector,
		recorder:        recorder,
		timeout:         DefaultTimeout,
		backendTimeouts: make(map[string]time.Duration),
		now:             time.Now,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

type invocation struct {
	result backend.Result
	err    error
}

// Predict resolves a backend, invokes it and records the outcome. If ctx is
// cancelled before the backend answers, nothing is recorded and ctx's error
// is returned.
func (d *Dispatcher) Predict(ctx context.Context, req Request) (*Prediction, error) {
	id, classifier, err := d.resolve(req.Model)
	if err != nil {
		return nil, err
	}

	log := d.logger.With(slog.String("backend", id))

	timeout := d.timeoutFor(id)
	invokeCtx, cancel := context.WithTimeoutCause(ctx, timeout, backend.ErrInvocationTimeout)
	defer cancel()

	done := make(chan invocation, 1)
	start := time.Now()

	go func() {
		res, err := classifier.Classify(invokeCtx, req.Text)
		done <- invocation{result: res, err: err}
	}()

	var out invocation
	completed := false
	select {
	case out = <-done:
		completed = true
	case <-invokeCtx.Done():
		out = invocation{err: invokeCtx.Err()}
		if errors.Is(context.Cause(invokeCtx), backend.ErrInvocationTimeout) {
			out.err = fmt.Errorf("%w after %s: %w", backend.ErrInvocationTimeout, timeout, invokeCtx.Err())
		}
	}

	latency := time.Since(start)
	latencyMs := float64(latency) / float64(time.Millisecond)

	// A call is abandoned when the caller left before it finished, or when
	// it failed only because the caller's context ended. A backend that
	// answered on its own is recorded either way.
	abandoned := ctx.Err() != nil &&
		(!completed || (out.err != nil && errors.Is(out.err, ctx.Err())))
	if abandoned {
		log.Debug("Request cancelled before backend completed", slog.Any("err", ctx.Err()))
		return nil, ctx.Err()
	}

	if out.err == nil {
		out.err = validate(out.result)
	}

	if out.err != nil {
		d.record(log, id, latencyMs, out.err)
		d.emit(metrics.EventPredictionFailed, id, latency)

		log.Warn("Backend invocation failed",
			slog.Float64("latency_ms", latencyMs),
			slog.Any("err", out.err))

		return nil, fmt.Errorf("%w: %s: %w", ErrBackendInvocationFailed, id, out.err)
	}

	d.record(log, id, latencyMs, nil)
	d.emit(metrics.EventPredictionSucceeded, id, latency)

	log.Debug("Prediction completed",
		slog.String("label", out.result.Label),
		slog.Float64("latency_ms", latencyMs))

	return &Prediction{
		Backend:    id,
		Label:      out.result.Label,
		Confidence: out.result.Confidence,
		Version:    out.result.Version,
		LatencyMs:  latencyMs,
		Timestamp:  d.now(),
	}, nil
}

func (d *Dispatcher) resolve(model string) (string, backend.Classifier, error) {
	id := model
	if id == "" {
		selected, err := d.selector.Select()
		if err != nil {
			return "", nil, err
		}
		id = selected
	}

	classifier, ok := d.registry.Get(id)
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownBackend, id)
	}

	return id, classifier, nil
}

// record stores the outcome. A recording failure is logged and never
// replaces the request's own result.
func (d *Dispatcher) record(log *slog.Logger, id string, latencyMs float64, invokeErr error) {
	var err error
	if invokeErr != nil {
		err = d.recorder.RecordError(id, latencyMs)
	} else {
		err = d.recorder.RecordSuccess(id, latencyMs)
	}

	if err != nil {
		log.Error("Failed to record metrics", slog.Any("err", err))
	}
}

func (d *Dispatcher) emit(t metrics.EventType, id string, latency time.Duration) {
	d.exporter.Emit(metrics.Event{
		Type:      t,
		Timestamp: d.now(),
		Backend:   id,
		Latency:   latency,
	})
}

func (d *Dispatcher) timeoutFor(id string) time.Duration {
	if t, ok := d.backendTimeouts[id]; ok {
		return t
	}
	return d.timeout
}

func validate(res backend.Result) error {
	if res.Label == "" {
		return fmt.Errorf("%w: empty label", ErrInvalidResult)
	}
	if !(res.Confidence >= 0 && res.Confidence <= 1) {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidResult, res.Confidence)
	}
	return nil
}
