// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package internal

import (
	"iter"
	"sync"
)

// Handlers is a concurrency-safe registration list that preserves insertion
// order and allows entries to remove themselves.
type Handlers[T any] struct {
	mu      sync.RWMutex
	next    uint64
	order   []uint64
	entries map[uint64]T
}

func NewHandlers[T any]() *Handlers[T] {
	return &Handlers[T]{entries: map[uint64]T{}}
}

// Add registers a value and returns a function that removes it. Calling the
// remove function more than once is a no-op.
func (h *Handlers[T]) Add(value T) (remove func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	h.order = append(h.order, id)
	h.entries[id] = value

	return sync.OnceFunc(func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		delete(h.entries, id)
		for i, o := range h.order {
			if o == id {
				h.order = append(h.order[:i], h.order[i+1:]...)
				break
			}
		}
	})
}

// Len returns the number of registered values.
func (h *Handlers[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.order)
}

// All iterates a snapshot of the registered values in insertion order, so
// the callback may add or remove entries.
func (h *Handlers[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		h.mu.RLock()
		values := make([]T, 0, len(h.order))
		for _, id := range h.order {
			values = append(values, h.entries[id])
		}
		h.mu.RUnlock()

		for _, v := range values {
			if !yield(v) {
				return
			}
		}
	}
}
