// Package state provides a small observable state holder: Get returns the
// current value and Subscribe registers a listener invoked synchronously
// after every mutation.
package state

import "sync"

// Holder owns a single value with subscriber notification on change. The
// value has a single writer; reads and subscriptions are safe from any
// goroutine.
type Holder[T any] struct {
	mu        sync.RWMutex
	value     T
	listeners map[uint64]func(T)
	nextID    uint64
}

func NewHolder[T any](initial T) *Holder[T] {
	return &Holder[T]{
		value:     initial,
		listeners: make(map[uint64]func(T)),
	}
}

// Get returns the current value.
func (h *Holder[T]) Get() T {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.value
}

// Set replaces the value and notifies every listener with the new value.
// Listeners run synchronously on the caller's goroutine; relative order
// between listeners is not guaranteed.
func (h *Holder[T]) Set(value T) {
	h.mu.Lock()
	h.value = value
	listeners := make([]func(T), 0, len(h.listeners))
	for _, fn := range h.listeners {
		listeners = append(listeners, fn)
	}
	h.mu.Unlock()

	for _, fn := range listeners {
		fn(value)
	}
}

// Subscribe registers a listener and returns a cancel function. Cancelling is
// idempotent and synchronous: after it returns the listener is never invoked
// again.
func (h *Holder[T]) Subscribe(fn func(T)) func() {
	if fn == nil {
		return func() {}
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.listeners[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.listeners, id)
		h.mu.Unlock()
	}
}
