// Package tracker keeps the set of spans that have started but not ended,
// so a tracer can terminate them on shutdown.
package tracker

import (
	"sync"
	"sync/atomic"
)

// Registry is a concurrent set of live items. After Close, Add rejects new
// items so nothing can slip in behind a final Drain.
type Registry[T comparable] struct {
	mu     sync.Mutex
	items  map[T]struct{}
	closed atomic.Bool
}

// New creates an empty registry.
func New[T comparable]() *Registry[T] {
	return &Registry[T]{items: make(map[T]struct{})}
}

// Add registers v. It returns false if the registry is closed.
func (r *Registry[T]) Add(v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Load() {
		return false
	}
	r.items[v] = struct{}{}

	return true
}

// Remove unregisters v. Removing an unknown item is a no-op.
func (r *Registry[T]) Remove(v T) {
	r.mu.Lock()
	delete(r.items, v)
	r.mu.Unlock()
}

// Len returns the number of registered items.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.items)
}

// Close marks the registry closed and returns every item still registered.
// The registry is empty afterwards. Calling Close again returns nil.
func (r *Registry[T]) Close() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Swap(true) {
		return nil
	}
	out := make([]T, 0, len(r.items))
	for v := range r.items {
		out = append(out, v)
	}
	clear(r.items)

	return out
}

// Closed reports whether Close has been called.
func (r *Registry[T]) Closed() bool {
	return r.closed.Load()
}
