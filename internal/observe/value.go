// Package observe provides a latest-value holder that readers can poll or watch.
package observe

import (
	"context"
	"sync"
)

// Value holds the most recent value of T. Watchers receive every value that
// is set, except that a slow watcher only ever sees the latest one.
type Value[T any] struct {
	mu       sync.RWMutex
	current  T
	watchers map[uint64]chan T
	nextID   uint64
}

// NewValue creates a Value seeded with initial.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{
		current:  initial,
		watchers: make(map[uint64]chan T),
	}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current
}

// Set replaces the current value and notifies watchers without blocking.
func (v *Value[T]) Set(val T) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.current = val
	for _, ch := range v.watchers {
		offer(ch, val)
	}
}

// Watch returns a channel that first yields the current value and then every
// subsequent one. The channel is closed once ctx is done.
func (v *Value[T]) Watch(ctx context.Context) <-chan T {
	ch := make(chan T, 1)

	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.watchers[id] = ch
	ch <- v.current
	v.mu.Unlock()

	go func() {
		<-ctx.Done()
		v.mu.Lock()
		delete(v.watchers, id)
		close(ch)
		v.mu.Unlock()
	}()

	return ch
}

// offer puts val into a buffered channel of size one, dropping a stale
// unread value if there is one.
func offer[T any](ch chan T, val T) {
	select {
	case ch <- val:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- val:
	default:
	}
}
