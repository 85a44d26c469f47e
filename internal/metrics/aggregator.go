package metrics

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

var (
	ErrEmptyBackend   = errors.New("backend id is empty")
	ErrInvalidLatency = errors.New("invalid latency")
)

// Stats is the derived view of one backend's record.
type Stats struct {
	Count        uint64  `json:"count"`
	Errors       uint64  `json:"errors"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	ErrorRate    float64 `json:"error_rate"`
}

// record holds the cumulative counters for one backend. All three fields
// change together under mutex.
type record struct {
	mutex          sync.Mutex
	count          uint64
	errorCount     uint64
	totalLatencyMs float64
}

// Aggregator accumulates per-backend request counters for the lifetime of
// the process. Counters are never reset or windowed.
type Aggregator struct {
	mutex   sync.RWMutex
	records map[string]*record
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		records: make(map[string]*record),
	}
}

// RecordSuccess counts one successful request to backend.
func (a *Aggregator) RecordSuccess(backend string, latencyMs float64) error {
	return a.record(backend, latencyMs, false)
}

// RecordError counts one failed request to backend. The failed attempt
// still contributes its latency.
func (a *Aggregator) RecordError(backend string, latencyMs float64) error {
	return a.record(backend, latencyMs, true)
}

func (a *Aggregator) record(backend string, latencyMs float64, failed bool) error {
	if backend == "" {
		return ErrEmptyBackend
	}
	if latencyMs < 0 || math.IsNaN(latencyMs) || math.IsInf(latencyMs, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidLatency, latencyMs)
	}

	rec := a.getOrCreate(backend)

	rec.mutex.Lock()
	defer rec.mutex.Unlock()

	rec.count++
	rec.totalLatencyMs += latencyMs
	if failed {
		rec.errorCount++
	}

	return nil
}

func (a *Aggregator) getOrCreate(backend string) *record {
	a.mutex.RLock()
	rec, exists := a.records[backend]
	a.mutex.RUnlock()

	if exists {
		return rec
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	// Another goroutine may have created it
	if rec, exists = a.records[backend]; exists {
		return rec
	}

	rec = &record{}
	a.records[backend] = rec
	return rec
}

// Snapshot returns the derived stats for every backend that has served at
// least one request. Each record is read under its own lock.
func (a *Aggregator) Snapshot() map[string]Stats {
	a.mutex.RLock()
	records := make(map[string]*record, len(a.records))
	for backend, rec := range a.records {
		records[backend] = rec
	}
	a.mutex.RUnlock()

	snap := make(map[string]Stats, len(records))
	for backend, rec := range records {
		snap[backend] = rec.stats()
	}

	return snap
}

func (r *record) stats() Stats {
	r.mutex.Lock()
	count, errorCount, total := r.count, r.errorCount, r.totalLatencyMs
	r.mutex.Unlock()

	if count == 0 {
		return Stats{}
	}

	return Stats{
		Count:        count,
		Errors:       errorCount,
		AvgLatencyMs: total / float64(count),
		ErrorRate:    float64(errorCount) / float64(count),
	}
}
