// Package optimistic holds provisional state that is applied
// before a mutation is confirmed and reverted if it fails.
package optimistic

import (
	"context"
	"sync"
)

// Value is state whose changes are shown immediately and rolled
// back when the backing mutation fails.
type Value[T any] struct {
	mu      sync.Mutex
	v       T
	version uint64
	pending int
}

// New returns a Value holding v.
func New[T any](v T) *Value[T] {
	return &Value[T]{v: v}
}

// Get returns the current, possibly provisional, value.
func (o *Value[T]) Get() T {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.v
}

// Pending reports whether a commit is in flight.
func (o *Value[T]) Pending() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending > 0
}

// Apply sets next as the tentative value and runs commit. When
// commit fails the prior value is restored, unless a later Apply
// has replaced the tentative value in the meantime. It returns the
// value in effect afterwards and commit's error.
func (o *Value[T]) Apply(
	ctx context.Context, next T,
	commit func(ctx context.Context, next T) error,
) (T, error) {
	o.mu.Lock()
	prior := o.v
	o.v = next
	o.version++
	mine := o.version
	o.pending++
	o.mu.Unlock()

	err := commit(ctx, next)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending--
	if err != nil && o.version == mine {
		o.v = prior
	}
	return o.v, err
}

// Update is Apply with the tentative value derived from the
// current one.
func (o *Value[T]) Update(
	ctx context.Context, change func(T) T,
	commit func(ctx context.Context, next T) error,
) (T, error) {
	return o.Apply(ctx, change(o.Get()), commit)
}
