// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tokens holds one-time handshake tokens.
//
// A trusted registrar (the runtime endpoint in package transport)
// registers a token together with the origin attributes of the web
// application that will present it. The application then opens a
// WebSocket session and sends the token in its handshake. The session
// consumes the token and binds the attributes to itself. A token is
// good for exactly one session: consumption removes it.
package tokens

import (
	"sync"

	"github.com/bureau-foundation/apidaemon/lib/origin"
)

// Manager maps pending tokens to the attributes they grant. It is
// safe for concurrent use. The daemon creates one Manager and shares it
// between the registration endpoint and every session.
type Manager struct {
	mu      sync.Mutex
	pending map[string]origin.Attributes
}

// NewManager creates an empty token manager.
func NewManager() *Manager {
	return &Manager{pending: make(map[string]origin.Attributes)}
}

// Register records token. It returns false, leaving the existing entry
// untouched, if token is empty or already registered.
func (m *Manager) Register(token string, attributes origin.Attributes) bool {
	if token == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.pending[token]; exists {
		return false
	}
	m.pending[token] = origin.New(attributes.Identity, attributes.Permissions...)
	return true
}

// Consume removes token and returns its attributes. Lookup and removal
// happen under one lock acquisition, so of any number of concurrent
// Consume calls for the same token exactly one succeeds.
func (m *Manager) Consume(token string) (origin.Attributes, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	attributes, exists := m.pending[token]
	if !exists {
		return origin.Attributes{}, false
	}
	delete(m.pending, token)
	return attributes, true
}

// Len returns the number of registered, unconsumed tokens.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
