// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tcpsocket implements the TCPSocketFactory service, which
// opens outbound TCP connections for clients holding the tcp-socket
// permission.
//
// Open runs on the [Manager]'s bounded worker pool and answers with the
// object id of the new socket. Each socket then has its own reader,
// which turns inbound bytes into Data events, and its own writer, which
// performs Send requests in order. A socket ends with a Close event
// when the peer closes it, a read fails (preceded by an Error event) or
// the client sends Close. Releasing the socket object, or closing the
// instance, closes the connection without an event.
package tcpsocket
