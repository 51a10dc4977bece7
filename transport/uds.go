// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/apidaemon/lib/frame"
	"github.com/bureau-foundation/apidaemon/lib/origin"
)

// UnixServer serves the protocol on a Unix domain socket. Connections
// are trusted: their sessions start established as the "uds" origin.
type UnixServer struct {
	path     string
	config   Config
	listener *net.UnixListener
	logger   *slog.Logger

	// activeConnections tracks connection goroutines so Serve can wait
	// for them on shutdown.
	activeConnections sync.WaitGroup
}

// NewUnixServer removes any stale socket at path, listens, and makes
// the socket connectable by every local user.
func NewUnixServer(path string, config Config) (*UnixServer, error) {
	config = config.withDefaults()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale socket %s: %w", path, err)
	}
	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o777); err != nil {
		listener.Close()
		return nil, fmt.Errorf("setting permissions on %s: %w", path, err)
	}
	return &UnixServer{
		path:     path,
		config:   config,
		listener: listener,
		logger:   config.Logger.With("transport", "uds"),
	}, nil
}

// Address returns the socket path.
func (s *UnixServer) Address() string { return s.path }

// Close stops accepting connections. The socket file is removed.
func (s *UnixServer) Close() error { return s.listener.Close() }

// Serve accepts connections until ctx is cancelled or Close is called,
// then closes the open connections and waits for their goroutines.
func (s *UnixServer) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.listener.Close() })
	defer stop()

	s.logger.Info("unix socket server listening", "path", s.path)

	for {
		conn, err := s.listener.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

func (s *UnixServer) handleConnection(ctx context.Context, conn *net.UnixConn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	logger := s.logger
	if credentials, err := peerCredentials(conn); err != nil {
		logger.Debug("peer credentials unavailable", "error", err)
	} else {
		logger = logger.With("pid", credentials.Pid, "uid", credentials.Uid, "gid", credentials.Gid)
	}
	logger.Debug("connection accepted")

	established := origin.UnixSocket()
	s.config.serveConnection("uds",
		func() ([]byte, error) { return frame.Read(conn) },
		&streamWriter{conn: conn},
		&established,
		logger,
	)
}

// peerCredentials reads SO_PEERCRED from conn.
func peerCredentials(conn *net.UnixConn) (*unix.Ucred, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, err
	}
	var credentials *unix.Ucred
	var credentialsErr error
	if err := raw.Control(func(fd uintptr) {
		credentials, credentialsErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return nil, err
	}
	return credentials, credentialsErr
}

// streamWriter writes frames to a Unix connection.
type streamWriter struct {
	conn *net.UnixConn
}

func (w *streamWriter) WriteFrame(payload []byte) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return frame.Write(w.conn, payload)
}

// Shutdown shuts the socket down in both directions, which wakes the
// reading goroutine with end of stream.
func (w *streamWriter) Shutdown() error {
	return errors.Join(w.conn.CloseWrite(), w.conn.CloseRead())
}
