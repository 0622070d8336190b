// Package reservoir provides a fixed-capacity uniform sample over a stream of
// unknown length (Vitter's algorithm R).
package reservoir

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// DefaultCapacity is the sample size used by the metric accumulators.
const DefaultCapacity = 200

// ErrInvalidCapacity is returned when a reservoir is created with a non-positive capacity.
var ErrInvalidCapacity = errors.New("reservoir capacity must be positive")

// Reservoir keeps at most Cap() values. After N >= Cap() insertions every
// observed value is in the sample with probability Cap()/N.
// A Reservoir is not safe for concurrent use.
type Reservoir[T any] struct {
	items    []T
	capacity int
	seen     int64
	rng      *rand.Rand
}

// New creates an empty reservoir. A nil rng falls back to a randomly seeded PCG source.
func New[T any](capacity int, rng *rand.Rand) (*Reservoir[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}

	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // sampling, not crypto.
	}

	return &Reservoir[T]{
		items:    make([]T, 0, min(capacity, initialAlloc)),
		capacity: capacity,
		rng:      rng,
	}, nil
}

// initialAlloc bounds the up-front allocation for large capacities.
const initialAlloc = 64

// Add offers a value to the sample.
func (r *Reservoir[T]) Add(value T) {
	r.seen++

	if len(r.items) < r.capacity {
		r.items = append(r.items, value)

		return
	}

	// j is uniform over [0, seen); keeping the value when j < capacity gives it
	// inclusion probability capacity/seen, and slot j is uniform over the sample.
	j := r.rng.Int64N(r.seen)
	if j < int64(r.capacity) {
		r.items[j] = value
	}
}

// Len returns the current sample size.
func (r *Reservoir[T]) Len() int {
	return len(r.items)
}

// Cap returns the maximum sample size.
func (r *Reservoir[T]) Cap() int {
	return r.capacity
}

// Seen returns how many values have been offered.
func (r *Reservoir[T]) Seen() int64 {
	return r.seen
}

// Values returns a copy of the current sample.
func (r *Reservoir[T]) Values() []T {
	out := make([]T, len(r.items))
	copy(out, r.items)

	return out
}

// Reset empties the sample and the seen counter.
func (r *Reservoir[T]) Reset() {
	clear(r.items)
	r.items = r.items[:0]
	r.seen = 0
}
