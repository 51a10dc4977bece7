// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package outbound is the single writer of a connection.
//
// Every connection has one [Queue]. The session, its service instances
// and any worker goroutines they spawn enqueue encoded payloads on it;
// exactly one goroutine runs [Queue.Run] and writes them to the
// transport in FIFO order, so frame boundaries never interleave.
//
// A [KindClose] message, or a [KindChildDaemonCrash] notification from
// the remote service manager, ends Run: the writer shuts the
// connection down in both directions, which also wakes the reading
// goroutine. Messages still queued behind it are dropped.
package outbound

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/apidaemon/lib/tracker"
)

// Kind discriminates queued messages.
type Kind uint8

const (
	// KindData carries one encoded payload.
	KindData Kind = iota + 1

	// KindChildDaemonCrash reports that a child daemon hosting a remote
	// service exited. Sessions cannot recover the child's state, so the
	// connection is closed.
	KindChildDaemonCrash

	// KindClose closes the connection.
	KindClose
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindChildDaemonCrash:
		return "child-daemon-crash"
	case KindClose:
		return "close"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Crash describes a child daemon exit.
type Crash struct {
	Service  string
	ExitCode int
	PID      int
}

// Message is one queued item.
type Message struct {
	Kind Kind

	// Tracker identifies the service instance that produced a data
	// payload (service 0 for the session itself).
	Tracker tracker.SessionTrackerID

	Payload []byte

	Crash Crash
}

// FrameWriter is the transport side of a connection.
type FrameWriter interface {
	// WriteFrame writes one payload as one transport frame.
	WriteFrame(payload []byte) error

	// Shutdown closes the connection in both directions.
	Shutdown() error
}

// DefaultCapacity is the queue depth used by the transports. A full
// queue blocks senders until the writer catches up.
const DefaultCapacity = 256

// Queue is a connection's outbound message channel.
type Queue struct {
	messages  chan Message
	done      chan struct{}
	stopOnce  sync.Once
	bytesSent atomic.Uint64
	logger    *slog.Logger
}

// NewQueue creates a queue holding up to capacity pending messages.
func NewQueue(capacity int, logger *slog.Logger) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Queue{
		messages: make(chan Message, capacity),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// Send enqueues message. It returns false if the writer has stopped.
func (q *Queue) Send(message Message) bool {
	select {
	case <-q.done:
		return false
	default:
	}
	select {
	case q.messages <- message:
		return true
	case <-q.done:
		return false
	}
}

// SendData enqueues a data payload produced by the instance id.
func (q *Queue) SendData(id tracker.SessionTrackerID, payload []byte) bool {
	return q.Send(Message{Kind: KindData, Tracker: id, Payload: payload})
}

// SendCrash enqueues a child daemon crash notification.
func (q *Queue) SendCrash(crash Crash) bool {
	return q.Send(Message{Kind: KindChildDaemonCrash, Crash: crash})
}

// Close enqueues a close request behind any pending data. If the
// queue is full the writer is stopped directly instead.
func (q *Queue) Close() {
	select {
	case <-q.done:
		return
	default:
	}
	select {
	case q.messages <- Message{Kind: KindClose}:
	case <-q.done:
	default:
		q.stop()
	}
}

// Done is closed once the writer has stopped.
func (q *Queue) Done() <-chan struct{} { return q.done }

// BytesSent returns the payload bytes written so far.
func (q *Queue) BytesSent() uint64 { return q.bytesSent.Load() }

func (q *Queue) stop() {
	q.stopOnce.Do(func() { close(q.done) })
}

// Run writes queued messages to writer until a close, a crash
// notification or a write error. It shuts writer down before
// returning. Only one goroutine may call Run. The returned error is
// the write error, if any.
func (q *Queue) Run(writer FrameWriter) error {
	defer q.stop()
	for {
		select {
		case <-q.done:
			q.shutdown(writer)
			return nil
		case message := <-q.messages:
			switch message.Kind {
			case KindData:
				if err := writer.WriteFrame(message.Payload); err != nil {
					q.shutdown(writer)
					return fmt.Errorf("writing frame: %w", err)
				}
				q.bytesSent.Add(uint64(len(message.Payload)))
			case KindChildDaemonCrash:
				q.logger.Error("child daemon died, closing connection",
					"service", message.Crash.Service,
					"pid", message.Crash.PID,
					"exit_code", message.Crash.ExitCode,
				)
				q.shutdown(writer)
				return nil
			case KindClose:
				q.shutdown(writer)
				return nil
			default:
				q.logger.Warn("dropping outbound message of unknown kind", "kind", message.Kind)
			}
		}
	}
}

func (q *Queue) shutdown(writer FrameWriter) {
	if err := writer.Shutdown(); err != nil {
		q.logger.Debug("connection shutdown", "error", err)
	}
}
