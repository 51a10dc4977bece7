// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package outbound

import (
	"slices"
	"sync"

	"github.com/bureau-foundation/apidaemon/lib/tracker"
)

// Group indexes the live connections' queues by session id, so
// components outside a connection can reach it. It is safe for
// concurrent use.
type Group struct {
	mu     sync.Mutex
	queues map[uint32]*Queue
}

// NewGroup returns an empty group.
func NewGroup() *Group {
	return &Group{queues: make(map[uint32]*Queue)}
}

// Add registers the queue of session.
func (g *Group) Add(session uint32, queue *Queue) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queues[session] = queue
}

// Remove forgets session.
func (g *Group) Remove(session uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.queues, session)
}

// SendData enqueues payload on the connection of id.Session. It
// returns false if that session is gone.
func (g *Group) SendData(id tracker.SessionTrackerID, payload []byte) bool {
	g.mu.Lock()
	queue, ok := g.queues[id.Session]
	g.mu.Unlock()
	if !ok {
		return false
	}
	return queue.SendData(id, payload)
}

// Crash sends a crash notification to each listed session that is
// still connected and returns how many were notified.
func (g *Group) Crash(sessions []uint32, crash Crash) int {
	g.mu.Lock()
	targets := make([]*Queue, 0, len(sessions))
	for _, session := range sessions {
		if queue, ok := g.queues[session]; ok {
			targets = append(targets, queue)
		}
	}
	g.mu.Unlock()

	notified := 0
	for _, queue := range targets {
		if queue.SendCrash(crash) {
			notified++
		}
	}
	return notified
}

// CloseAll asks every connection to close.
func (g *Group) CloseAll() {
	g.mu.Lock()
	targets := make([]*Queue, 0, len(g.queues))
	for _, queue := range g.queues {
		targets = append(targets, queue)
	}
	g.mu.Unlock()
	for _, queue := range targets {
		queue.Close()
	}
}

// Sessions returns the connected session ids in ascending order.
func (g *Group) Sessions() []uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	sessions := make([]uint32, 0, len(g.queues))
	for session := range g.queues {
		sessions = append(sessions, session)
	}
	slices.Sort(sessions)
	return sessions
}

// Len returns the number of connected sessions.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queues)
}
