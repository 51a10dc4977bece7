// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"fmt"
	"io"
	"sync"

	"github.com/bureau-foundation/apidaemon/lib/codec"
	"github.com/bureau-foundation/apidaemon/lib/frame"
)

// link is one end of a parent/child connection. Writes are serialized;
// reads must come from a single goroutine.
type link struct {
	mu   sync.Mutex
	conn io.ReadWriteCloser
}

func newLink(conn io.ReadWriteCloser) *link {
	return &link{conn: conn}
}

func (l *link) send(message any) error {
	data, err := codec.Marshal(message)
	if err != nil {
		return fmt.Errorf("encoding %T: %w", message, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return frame.Write(l.conn, data)
}

// receive reads one frame and decodes it into message. A decode error
// is wrapped in *decodeError so callers can tell a broken peer from a
// closed link.
func (l *link) receive(message interface{ validate() error }) error {
	data, err := frame.Read(l.conn)
	if err != nil {
		return err
	}
	if err := codec.Unmarshal(data, message); err != nil {
		return &decodeError{cause: err, length: len(data)}
	}
	if err := message.validate(); err != nil {
		return &decodeError{cause: err, length: len(data)}
	}
	return nil
}

func (l *link) close() error {
	return l.conn.Close()
}

type decodeError struct {
	cause  error
	length int
}

func (e *decodeError) Error() string {
	return fmt.Sprintf("undecodable %d byte message: %v", e.length, e.cause)
}

func (e *decodeError) Unwrap() error { return e.cause }
