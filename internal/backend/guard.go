package backend

import (
	"context"
	"errors"

	"github.com/angeloszaimis/inference-router/internal/circuitbreaker"
)

var (
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrInvocationTimeout is the cancellation cause a dispatcher sets on
	// the context it bounds a call with. Only that deadline, not the
	// caller's, counts against the backend.
	ErrInvocationTimeout = errors.New("backend invocation timed out")
)

// Guard short-circuits calls to a backend whose breaker is open. Routing
// weights are untouched; a rejected call surfaces as a backend error.
type Guard struct {
	next    Classifier
	breaker *circuitbreaker.CircuitBreaker
}

func NewGuard(next Classifier, breaker *circuitbreaker.CircuitBreaker) *Guard {
	return &Guard{
		next:    next,
		breaker: breaker,
	}
}

func (g *Guard) Classify(ctx context.Context, text string) (Result, error) {
	if !g.breaker.Allow() {
		return Result{}, ErrCircuitOpen
	}

	res, err := g.next.Classify(ctx, text)
	switch {
	case err == nil:
		g.breaker.RecordSuccess()
	case ctx.Err() != nil && !errors.Is(context.Cause(ctx), ErrInvocationTimeout):
		// The caller went away; this says nothing about the backend.
		g.breaker.Release()
	default:
		g.breaker.RecordFailure()
	}

	return res, err
}
