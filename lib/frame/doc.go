// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package frame implements the length-prefixed framing used on stream
// transports (the Unix socket listener and the parent/child daemon
// pipe).
//
// Wire format:
//
//	[4 bytes: payload length, big-endian uint32][payload]
//
// The payload is opaque at this layer. WebSocket connections do not use
// this package: each binary WebSocket message is already one frame.
//
// [Read] distinguishes a clean close from a broken stream. End of
// stream before the first header byte returns io.EOF unwrapped, which
// callers treat as a normal disconnect. End of stream anywhere inside a
// frame returns an error wrapping [ErrTruncated].
package frame
