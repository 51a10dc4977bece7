// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tracker maps wire integers to live values.
//
// [ObjectTracker] holds server-side objects (sockets, service
// instances) that a client addresses by id. The tracker allocates the
// ids: they start at 1, grow monotonically, and are never handed out
// while a value still holds them, so a released id cannot silently
// alias a newer object. 0 is never issued because it means "the
// service itself" on the wire.
//
// [ProxyTracker] is the converse: the client picks the id when it hands
// the server a callback handle (an observer, a delegate), and server
// code uses the id to call back.
//
// [IDFactory] and [Sequence] issue session ids and server-initiated
// request sequence numbers.
//
// Trackers are safe for concurrent use. A service instance normally
// touches its trackers only from its session's reading goroutine, but
// worker goroutines that finish a pooled operation may need to track or
// resolve an object.
package tracker
