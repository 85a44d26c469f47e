package backend

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

var (
	ErrDuplicateBackend = errors.New("duplicate backend id")
	ErrNoBackends       = errors.New("no backends registered")
)

// Result is the outcome of one classification call.
type Result struct {
	Label      string
	Confidence float64
	Version    string
}

// Classifier labels a piece of text. Implementations must honor ctx
// cancellation where the underlying mechanism allows it.
type Classifier interface {
	Classify(ctx context.Context, text string) (Result, error)
}

// ClassifierFunc adapts an ordinary function to Classifier.
type ClassifierFunc func(ctx context.Context, text string) (Result, error)

func (f ClassifierFunc) Classify(ctx context.Context, text string) (Result, error) {
	return f(ctx, text)
}

// Entry pairs a backend ID with its implementation.
type Entry struct {
	ID         string
	Classifier Classifier
}

// Registry is the immutable set of backends known to the router.
type Registry struct {
	ids         []string
	classifiers map[string]Classifier
}

func NewRegistry(entries ...Entry) (*Registry, error) {
	if len(entries) == 0 {
		return nil, ErrNoBackends
	}

	r := &Registry{
		classifiers: make(map[string]Classifier, len(entries)),
	}

	for _, e := range entries {
		if e.ID == "" || e.Classifier == nil {
			return nil, fmt.Errorf("backend %q: id and classifier are required", e.ID)
		}
		if _, exists := r.classifiers[e.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateBackend, e.ID)
		}
		r.classifiers[e.ID] = e.Classifier
		r.ids = append(r.ids, e.ID)
	}

	slices.Sort(r.ids)
	return r, nil
}

// Get returns the classifier registered under id.
func (r *Registry) Get(id string) (Classifier, bool) {
	c, ok := r.classifiers[id]
	return c, ok
}

// IDs returns the registered backend IDs in sorted order.
func (r *Registry) IDs() []string {
	return slices.Clone(r.ids)
}
