package loader

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrAggregatorCorrupted is returned by every Aggregator call once a holder
// panicked inside the critical section.
var ErrAggregatorCorrupted = errors.New("loader: error aggregator corrupted")

// Aggregator is an append-only, concurrency-safe sink for ErrorDetails
// shared by parallel workers.
type Aggregator struct {
	mu       sync.Mutex
	items    []ErrorDetail
	poisoned atomic.Bool

	// onAppend runs inside the critical section; test seam.
	onAppend func(n int)
}

// NewAggregator returns an empty Aggregator.
func NewAggregator() *Aggregator { return &Aggregator{} }

// locked runs fn under the mutex. A panic in fn poisons the aggregator
// before it propagates.
func (a *Aggregator) locked(fn func()) error {
	if a.poisoned.Load() {
		return ErrAggregatorCorrupted
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.poisoned.Load() {
		return ErrAggregatorCorrupted
	}

	ok := false
	defer func() {
		if !ok {
			a.poisoned.Store(true)
		}
	}()
	fn()
	ok = true
	return nil
}

// AddOne appends d.
func (a *Aggregator) AddOne(d ErrorDetail) error {
	return a.locked(func() {
		if a.onAppend != nil {
			a.onAppend(1)
		}
		a.items = append(a.items, d)
	})
}

// AddMany appends ds in a single critical section, so one worker's errors
// stay contiguous.
func (a *Aggregator) AddMany(ds []ErrorDetail) error {
	if len(ds) == 0 {
		if a.poisoned.Load() {
			return ErrAggregatorCorrupted
		}
		return nil
	}
	return a.locked(func() {
		if a.onAppend != nil {
			a.onAppend(len(ds))
		}
		a.items = append(a.items, ds...)
	})
}

// Snapshot returns a copy of everything added so far.
func (a *Aggregator) Snapshot() ([]ErrorDetail, error) {
	var out []ErrorDetail
	err := a.locked(func() {
		out = make([]ErrorDetail, len(a.items))
		copy(out, a.items)
	})
	return out, err
}

// Count returns the number of collected details without copying them.
func (a *Aggregator) Count() (int, error) {
	var n int
	err := a.locked(func() { n = len(a.items) })
	return n, err
}

// Poisoned reports whether the aggregator is unusable.
func (a *Aggregator) Poisoned() bool { return a.poisoned.Load() }
