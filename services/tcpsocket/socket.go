// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tcpsocket

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bureau-foundation/apidaemon/lib/service"
)

const (
	// readBufferSize is the largest Data event payload.
	readBufferSize = 16384

	// writeQueueLength bounds Send requests waiting for the socket's
	// writer. OnRequest blocks once it is full.
	writeQueueLength = 64

	// writeTimeout bounds writing one Send payload.
	writeTimeout = 30 * time.Second
)

type write struct {
	data      []byte
	responder *service.Responder
}

// socket is one open connection and its reader and writer goroutines.
type socket struct {
	id      uint32
	conn    net.Conn
	support *service.Support
	logger  *slog.Logger

	writes    chan write
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	resumed   *sync.Cond
	suspended bool
	silent    bool
}

func newSocket(id uint32, conn net.Conn, support *service.Support, logger *slog.Logger) *socket {
	s := &socket{
		id:      id,
		conn:    conn,
		support: support,
		logger:  logger.With("socket", id, "remote", conn.RemoteAddr().String()),
		writes:  make(chan write, writeQueueLength),
		done:    make(chan struct{}),
	}
	s.resumed = sync.NewCond(&s.mu)
	return s
}

// start runs the reader and writer. onExit runs once the reader has
// sent the socket's final events.
func (s *socket) start(onExit func()) {
	go s.writeLoop()
	go func() {
		s.readLoop()
		onExit()
	}()
}

func (s *socket) readLoop() {
	buffer := make([]byte, readBufferSize)
	for {
		if !s.waitResumed() {
			break
		}
		n, err := s.conn.Read(buffer)
		if n > 0 {
			s.event(Event{Data: &DataEvent{Data: append([]byte(nil), buffer[:n]...)}})
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.isClosed() {
				s.logger.Info("socket read failed", "error", err)
				s.event(Event{Error: &ErrorEvent{Message: err.Error()}})
			}
			break
		}
	}
	s.close(false)
	s.event(Event{Close: &CloseEvent{}})
}

// waitResumed blocks while the socket is suspended. It returns false
// once the socket is closed.
func (s *socket) waitResumed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.suspended && !s.isClosed() {
		s.resumed.Wait()
	}
	return !s.isClosed()
}

func (s *socket) writeLoop() {
	for {
		select {
		case <-s.done:
			for {
				select {
				case pending := <-s.writes:
					s.answer(pending.responder, Response{Send: &Result{Success: false}})
				default:
					return
				}
			}
		case pending := <-s.writes:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_, err := s.conn.Write(pending.data)
			if err != nil {
				s.logger.Info("socket write failed", "error", err)
			}
			s.answer(pending.responder, Response{Send: &Result{Success: err == nil}})
		}
	}
}

// send queues data for the writer. Writes complete in request order.
func (s *socket) send(data []byte, responder *service.Responder) {
	if s.isClosed() {
		s.answer(responder, Response{Send: &Result{Success: false}})
		return
	}
	select {
	case <-s.done:
		s.answer(responder, Response{Send: &Result{Success: false}})
	case s.writes <- write{data: data, responder: responder}:
	}
}

func (s *socket) setSuspended(suspended bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspended = suspended
	if !suspended {
		s.resumed.Broadcast()
	}
}

// close shuts the connection. A silent close suppresses the final
// Close event, for objects the client already released.
func (s *socket) close(silent bool) {
	s.mu.Lock()
	if silent {
		s.silent = true
	}
	s.mu.Unlock()

	s.closeOnce.Do(func() {
		close(s.done)
		if err := s.conn.Close(); err != nil {
			s.logger.Debug("socket close", "error", err)
		}
		s.mu.Lock()
		s.resumed.Broadcast()
		s.mu.Unlock()
	})
}

func (s *socket) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *socket) event(event Event) {
	s.mu.Lock()
	silent := s.silent
	s.mu.Unlock()
	if silent {
		return
	}
	if err := s.support.Event(s.id, event); err != nil {
		s.logger.Debug("socket event not delivered", "error", err)
	}
}

func (s *socket) answer(responder *service.Responder, response Response) {
	if err := responder.Resolve(response); err != nil {
		s.logger.Debug("response not delivered", "error", err)
	}
}
