package router

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Epsilon is the tolerance used when checking that weights sum to 1.
const Epsilon = 1e-6

// WeightTable maps a backend ID to its share of traffic.
type WeightTable map[string]float64

// table is an immutable view of a WeightTable prepared for sampling.
type table struct {
	ids        []string
	weights    []float64
	cumulative []float64
}

// Router selects backends according to a live-swappable WeightTable.
type Router struct {
	mutex    sync.Mutex // serializes writers
	keys     map[string]struct{}
	current  atomic.Pointer[table]
	observer func(WeightTable)
}

// Option configures a Router.
type Option func(*Router)

// WithObserver registers fn to receive a copy of every committed table,
// including the initial one. fn runs under the writer lock, so calls
// arrive in commit order; it must not block or call back into the Router.
func WithObserver(fn func(WeightTable)) Option {
	return func(r *Router) {
		r.observer = fn
	}
}

// New validates weights and returns a Router whose backend set is the key
// set of weights.
func New(weights WeightTable, opts ...Option) (*Router, error) {
	if len(weights) == 0 {
		return nil, ErrEmptyWeightTable
	}

	keys := make(map[string]struct{}, len(weights))
	for id := range weights {
		keys[id] = struct{}{}
	}

	r := &Router{keys: keys}
	for _, opt := range opts {
		opt(r)
	}

	if _, err := r.Swap(weights); err != nil {
		return nil, err
	}
	return r, nil
}

// Select draws one backend ID with probability proportional to its weight.
func (r *Router) Select() (string, error) {
	t := r.current.Load()
	if t == nil || len(t.ids) == 0 {
		return "", ErrEmptyWeightTable
	}

	total := t.cumulative[len(t.cumulative)-1]
	if total <= 0 {
		return "", ErrEmptyWeightTable
	}

	target := rand.Float64() * total
	idx := sort.Search(len(t.cumulative), func(i int) bool {
		return t.cumulative[i] > target
	})

	// Float rounding can leave target == total; fall back to the last
	// backend that carries weight.
	if idx >= len(t.ids) {
		idx = t.lastWeighted()
	}

	return t.ids[idx], nil
}

// UpdateWeights replaces the WeightTable. Validation runs before any
// mutation; a rejected update leaves the current table untouched.
func (r *Router) UpdateWeights(weights WeightTable) error {
	_, err := r.Swap(weights)
	return err
}

// Swap is UpdateWeights returning a copy of the table it committed, which
// concurrent writers cannot have replaced yet.
func (r *Router) Swap(weights WeightTable) (WeightTable, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err := r.validate(weights); err != nil {
		return nil, err
	}

	t := newTable(weights)
	r.current.Store(t)

	if r.observer != nil {
		r.observer(t.weightTable())
	}
	return t.weightTable(), nil
}

// CurrentWeights returns a copy of the active WeightTable.
func (r *Router) CurrentWeights() WeightTable {
	t := r.current.Load()
	if t == nil {
		return WeightTable{}
	}
	return t.weightTable()
}

// Backends returns the fixed backend set in sorted order.
func (r *Router) Backends() []string {
	ids := make([]string, 0, len(r.keys))
	for id := range r.keys {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r *Router) validate(weights WeightTable) error {
	if err := r.checkKeys(weights); err != nil {
		return err
	}

	sum := 0.0
	for _, id := range sortedKeys(weights) {
		w := weights[id]
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("%w: %q has weight %v", ErrInvalidWeight, id, w)
		}
		sum += w
	}

	if math.Abs(sum-1) > Epsilon {
		return fmt.Errorf("%w: sum is %v", ErrWeightsNotNormalized, sum)
	}

	return nil
}

func (r *Router) checkKeys(weights WeightTable) error {
	var missing, unknown []string

	for id := range r.keys {
		if _, ok := weights[id]; !ok {
			missing = append(missing, id)
		}
	}
	for id := range weights {
		if _, ok := r.keys[id]; !ok {
			unknown = append(unknown, id)
		}
	}

	if len(missing) == 0 && len(unknown) == 0 {
		return nil
	}

	slices.Sort(missing)
	slices.Sort(unknown)

	var details []string
	if len(missing) > 0 {
		details = append(details, "missing "+strings.Join(missing, ","))
	}
	if len(unknown) > 0 {
		details = append(details, "unknown "+strings.Join(unknown, ","))
	}

	return fmt.Errorf("%w: %s", ErrMismatchedBackendSet, strings.Join(details, "; "))
}

func newTable(weights WeightTable) *table {
	ids := sortedKeys(weights)
	t := &table{
		ids:        ids,
		weights:    make([]float64, len(ids)),
		cumulative: make([]float64, len(ids)),
	}

	running := 0.0
	for i, id := range ids {
		t.weights[i] = weights[id]
		running += weights[id]
		t.cumulative[i] = running
	}

	return t
}

func (t *table) weightTable() WeightTable {
	out := make(WeightTable, len(t.ids))
	for i, id := range t.ids {
		out[id] = t.weights[i]
	}
	return out
}

func (t *table) lastWeighted() int {
	for i := len(t.weights) - 1; i > 0; i-- {
		if t.weights[i] > 0 {
			return i
		}
	}
	return 0
}

func sortedKeys(weights WeightTable) []string {
	ids := make([]string, 0, len(weights))
	for id := range weights {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
