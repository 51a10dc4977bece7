// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"errors"
	"math"
	"slices"
	"sync"
)

// ErrExhausted is returned by Track when every non-zero uint32 id is
// held by a live value.
var ErrExhausted = errors.New("tracker: id space exhausted")

// ObjectTracker maps tracker-assigned ids to values.
type ObjectTracker[T any] struct {
	mu      sync.Mutex
	last    uint32
	entries map[uint32]T
}

// NewObjectTracker returns an empty tracker whose first id is 1.
func NewObjectTracker[T any]() *ObjectTracker[T] {
	return &ObjectTracker[T]{entries: make(map[uint32]T)}
}

// Track stores value under a fresh id. After the counter wraps, ids
// still held by live values and 0 are skipped.
func (t *ObjectTracker[T]) Track(value T) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if uint64(len(t.entries)) >= math.MaxUint32 {
		return 0, ErrExhausted
	}
	for {
		t.last++
		if t.last == 0 {
			continue
		}
		if _, live := t.entries[t.last]; live {
			continue
		}
		t.entries[t.last] = value
		return t.last, nil
	}
}

// Get returns the value for id.
func (t *ObjectTracker[T]) Get(id uint32) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	value, ok := t.entries[id]
	return value, ok
}

// Update calls fn with a pointer to the value for id and stores the
// result. fn runs under the tracker lock and must not call back into
// the tracker.
func (t *ObjectTracker[T]) Update(id uint32, fn func(*T)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	value, ok := t.entries[id]
	if !ok {
		return false
	}
	fn(&value)
	t.entries[id] = value
	return true
}

// Replace stores value under an id that is already live.
func (t *ObjectTracker[T]) Replace(id uint32, value T) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; !ok {
		return false
	}
	t.entries[id] = value
	return true
}

// Remove deletes id and returns its value. Removing an id that is not
// live returns false and changes nothing.
func (t *ObjectTracker[T]) Remove(id uint32) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	value, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return value, ok
}

// Clear removes every entry and returns the values in id order. The
// id counter keeps its position.
func (t *ObjectTracker[T]) Clear() []T {
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

// IDs returns the live ids in ascending order.
func (t *ObjectTracker[T]) IDs() []uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]uint32, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of live entries.
func (t *ObjectTracker[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
