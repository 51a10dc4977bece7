// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"sync"

	"github.com/bureau-foundation/apidaemon/lib/tracker"
)

// Shared is state shared by every instance of one service. It is
// created once by the daemon and handed to the service's factory.
type Shared[T any] struct {
	mu    sync.Mutex
	value T
}

// NewShared wraps value.
func NewShared[T any](value T) *Shared[T] {
	return &Shared[T]{value: value}
}

// With runs fn with exclusive access to the state. fn must not call
// into another service's shared state or block on the network.
func (s *Shared[T]) With(fn func(state *T) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.value)
}

// EventKey identifies one event of one object.
type EventKey struct {
	Object uint32
	Event  uint32
}

// EventMap records which events a client enabled on an instance. It is
// safe for concurrent use.
type EventMap struct {
	mu      sync.Mutex
	enabled map[EventKey]bool
}

// NewEventMap returns an empty event map.
func NewEventMap() *EventMap {
	return &EventMap{enabled: make(map[EventKey]bool)}
}

// Enable turns the event on. It returns false if it was already on.
func (m *EventMap) Enable(object, event uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := EventKey{Object: object, Event: event}
	if m.enabled[key] {
		return false
	}
	m.enabled[key] = true
	return true
}

// Disable turns the event off. It returns false if it was not on.
func (m *EventMap) Disable(object, event uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := EventKey{Object: object, Event: event}
	if !m.enabled[key] {
		return false
	}
	delete(m.enabled, key)
	return true
}

// Enabled reports whether the event is on.
func (m *EventMap) Enabled(object, event uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled[EventKey{Object: object, Event: event}]
}

// ForgetObject drops every event of object.
func (m *EventMap) ForgetObject(object uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.enabled {
		if key.Object == object {
			delete(m.enabled, key)
		}
	}
}

// Broadcast is a set of instance supports interested in a shared
// event, keyed by their session tracker id.
type Broadcast struct {
	mu          sync.Mutex
	subscribers map[tracker.SessionTrackerID]*Support
}

// NewBroadcast returns an empty broadcast set.
func NewBroadcast() *Broadcast {
	return &Broadcast{subscribers: make(map[tracker.SessionTrackerID]*Support)}
}

// Subscribe adds support to the set.
func (b *Broadcast) Subscribe(support *Support) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[support.ID()] = support
}

// Unsubscribe removes the instance with id.
func (b *Broadcast) Unsubscribe(id tracker.SessionTrackerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Each calls fn for every subscriber. The set is copied first so fn
// may Subscribe or Unsubscribe.
func (b *Broadcast) Each(fn func(support *Support)) {
	b.mu.Lock()
	subscribers := make([]*Support, 0, len(b.subscribers))
	for _, support := range b.subscribers {
		subscribers = append(subscribers, support)
	}
	b.mu.Unlock()
	for _, support := range subscribers {
		fn(support)
	}
}

// Len returns the number of subscribers.
func (b *Broadcast) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
