// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport accepts client connections and runs a session on
// each.
//
// Two transports carry the protocol. [UnixServer] listens on a Unix
// domain socket; each payload is framed with lib/frame and sessions
// start established with the privileged "uds" origin. [WebSocketHandler]
// serves /ws; each binary message carries one payload and sessions
// start with the token handshake. Text messages end a WebSocket
// connection.
//
// [RuntimeHandler] serves the web runtime's token registration socket
// at "/" followed by the runtime token. Each JSON text message
// {token, identity, permissions} registers a handshake token with the
// tokens manager and is answered with {"result": bool}.
//
// Every connection has one reading goroutine, which feeds the session,
// and one writer goroutine running the connection's outbound.Queue.
// When either side ends, the other is shut down and the session drops
// its service instances.
//
// [HTTPServer] serves the WebSocket, runtime and metrics endpoints on
// TCP. [TCPDialer] is the outbound TCP dialer used by services that
// open sockets for clients.
package transport
