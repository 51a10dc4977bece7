// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"net"
	"time"
)

// Compile-time interface checks.
var (
	_ Listener = (*UnixServer)(nil)
	_ Listener = (*HTTPServer)(nil)
	_ Dialer   = (*TCPDialer)(nil)
)

// Listener is one running transport.
type Listener interface {
	// Serve accepts connections until ctx is cancelled or Close is
	// called. Returns nil on clean shutdown.
	Serve(ctx context.Context) error

	// Address returns the socket path or host:port being served.
	Address() string

	// Close stops accepting connections.
	Close() error
}

// Dialer opens outbound connections on behalf of clients.
type Dialer interface {
	DialContext(ctx context.Context, address string) (net.Conn, error)
}

// TCPDialer opens TCP connections.
type TCPDialer struct {
	// Timeout bounds connection establishment. Zero means only the
	// context deadline applies.
	Timeout time.Duration
}

// DialContext opens a TCP connection to address (host:port).
func (d *TCPDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	return (&net.Dialer{Timeout: d.Timeout}).DialContext(ctx, "tcp", address)
}
