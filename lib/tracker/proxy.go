// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"slices"
	"sync"
)

// ProxyTracker maps client-assigned ids to server-side handles for
// client callbacks. Owners must Clear it when they shut down so that
// no handle outlives its session.
type ProxyTracker[T any] struct {
	mu      sync.Mutex
	entries map[uint32]T
}

// NewProxyTracker returns an empty proxy tracker.
func NewProxyTracker[T any]() *ProxyTracker[T] {
	return &ProxyTracker[T]{entries: make(map[uint32]T)}
}

// Track stores value under the client's id. It refuses id 0 and ids
// already tracked.
func (t *ProxyTracker[T]) Track(id uint32, value T) bool {
	if id == 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[id]; exists {
		return false
	}
	t.entries[id] = value
	return true
}

// Get returns the handle for id.
func (t *ProxyTracker[T]) Get(id uint32) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	value, ok := t.entries[id]
	return value, ok
}

// Remove deletes id and returns its handle.
func (t *ProxyTracker[T]) Remove(id uint32) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	value, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return value, ok
}

// Clear removes every handle and returns them in id order.
func (t *ProxyTracker[T]) Clear() []T {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]uint32, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	values := make([]T, 0, len(ids))
	for _, id := range ids {
		values = append(values, t.entries[id])
	}
	clear(t.entries)
	return values
}

// Len returns the number of tracked handles.
func (t *ProxyTracker[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
