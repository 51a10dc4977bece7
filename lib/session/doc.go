// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session implements the per-connection protocol state
// machine.
//
// A [Session] starts in [Handshaking] (WebSocket connections) or
// [Established] (Unix socket connections, which are trusted as
// "uds"). While handshaking, the only accepted payload is a
// protocol.Handshake carrying a token registered with the tokens
// manager; the token is consumed, binding the origin attributes it was
// registered with. A failed handshake is answered and ends the
// connection. No service state exists before establishment.
//
// Established sessions decode every payload as a protocol.BaseMessage.
// Service 0 is the session itself and answers the core requests:
// HasService, GetService, ReleaseObject, EnableEvent and DisableEvent.
// Any other service id addresses a live service instance created by
// GetService; ids start at 1 and are never reused while live.
//
// The session is driven by the connection's reading goroutine:
// [Session.OnMessage] and [Session.Close] must not be called
// concurrently. Service instances may send from any goroutine through
// their service.Support, which encodes the message and enqueues it on
// the connection's outbound.Queue.
package session
