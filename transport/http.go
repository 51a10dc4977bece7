// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// HTTPServer serves HTTP endpoints on TCP.
type HTTPServer struct {
	listener net.Listener
	handler  http.Handler
	server   *http.Server
}

// NewHTTPServer listens on address (e.g. "127.0.0.1:8081", or ":0"
// for a random port).
func NewHTTPServer(address string, handler http.Handler) (*HTTPServer, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &HTTPServer{
		listener: listener,
		handler:  handler,
		server: &http.Server{
			Handler: handler,
			// Only the header phase is bounded; upgraded connections
			// keep their own deadlines.
			ReadHeaderTimeout: 30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}, nil
}

// Serve blocks until ctx is cancelled or Close is called. Request
// contexts derive from ctx, so cancelling it also ends upgraded
// connections.
func (s *HTTPServer) Serve(ctx context.Context) error {
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }
	stop := context.AfterFunc(ctx, func() { s.server.Close() })
	defer stop()

	err := s.server.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Address returns the listening address in "host:port" form.
func (s *HTTPServer) Address() string {
	return s.listener.Addr().String()
}

// Close shuts the server down.
func (s *HTTPServer) Close() error {
	return s.server.Close()
}

// NewMux routes the daemon's endpoints: /ws for protocol sessions,
// /metrics when metrics is non-nil, and every other path to the
// runtime registration handler, which rejects all but its own.
func NewMux(ws http.Handler, runtime http.Handler, metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /ws", ws)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	mux.Handle("GET /", runtime)
	return mux
}
