// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the session wire types.
//
// A connection carries a sequence of payloads, each one frame on the
// Unix socket (see lib/frame) or one binary message on a WebSocket.
// Before a session is established the only legal payloads are
// [Handshake] (client to daemon) and [HandshakeAck] (daemon to
// client). Afterwards every payload is a [BaseMessage].
//
// BaseMessage.Service selects a service instance on the connection.
// Service 0 is the session itself: its Content is a [CoreRequest] or
// [CoreResponse]. Any other value is an id previously returned by a
// successful GetService call, and Content belongs to that service.
//
// BaseMessage.Object selects a tracked object inside the instance. 0 is
// the instance itself.
//
// Sequence numbers are issued by whoever sends the request. Clients use
// their own counter; server-initiated calls into client proxies use
// even numbers from tracker.NewServerSequence. A response carries the
// sequence number of the request it answers.
//
// All payloads are encoded with lib/codec.
package protocol
