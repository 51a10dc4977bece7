// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package origin describes who is on the other end of a session.
//
// An [Attributes] value is bound to a session once, when its handshake
// token is consumed (WebSocket) or when the connection is accepted
// (Unix socket). It never changes afterwards. Services consult it to
// gate permission-sensitive operations.
package origin

import "slices"

// UnixSocketIdentity is the identity bound to every Unix socket
// session. Peers on the local socket are trusted system processes and
// hold every permission.
const UnixSocketIdentity = "uds"

// Attributes is the verified identity and permission set of a peer.
type Attributes struct {
	Identity    string   `json:"identity"`
	Permissions []string `json:"permissions,omitempty"`
}

// New returns Attributes holding a private copy of permissions.
func New(identity string, permissions ...string) Attributes {
	return Attributes{Identity: identity, Permissions: slices.Clone(permissions)}
}

// UnixSocket returns the attributes bound to Unix socket sessions.
func UnixSocket() Attributes {
	return Attributes{Identity: UnixSocketIdentity}
}

// Privileged reports whether these attributes bypass permission checks.
func (a Attributes) Privileged() bool {
	return a.Identity == UnixSocketIdentity
}

// HasPermission reports whether the peer holds permission. An empty
// permission name is always held.
func (a Attributes) HasPermission(permission string) bool {
	if permission == "" || a.Privileged() {
		return true
	}
	return slices.Contains(a.Permissions, permission)
}
