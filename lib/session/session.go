// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/time/rate"

	"github.com/bureau-foundation/apidaemon/lib/clock"
	"github.com/bureau-foundation/apidaemon/lib/codec"
	"github.com/bureau-foundation/apidaemon/lib/metrics"
	"github.com/bureau-foundation/apidaemon/lib/origin"
	"github.com/bureau-foundation/apidaemon/lib/outbound"
	"github.com/bureau-foundation/apidaemon/lib/protocol"
	"github.com/bureau-foundation/apidaemon/lib/registry"
	"github.com/bureau-foundation/apidaemon/lib/service"
	"github.com/bureau-foundation/apidaemon/lib/tokens"
	"github.com/bureau-foundation/apidaemon/lib/tracker"
)

var (
	// ErrHandshakeFailed means the first payload was not a valid
	// handshake with a live token. The connection must be closed.
	ErrHandshakeFailed = errors.New("session: handshake failed")

	// ErrMalformedMessage means an established session received a
	// payload that is not a BaseMessage. The connection must be closed.
	ErrMalformedMessage = errors.New("session: malformed message")

	// ErrClosed is returned by OnMessage after Close.
	ErrClosed = errors.New("session: closed")
)

// State is the session's protocol state.
type State uint8

const (
	Handshaking State = iota
	Established
)

func (s State) String() string {
	switch s {
	case Handshaking:
		return "handshaking"
	case Established:
		return "established"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// coreName labels service 0 in logs and metrics.
const coreName = "core"

// Config holds a session's collaborators.
type Config struct {
	// ID is the process-unique session id.
	ID uint32

	Registry *registry.Registry
	Tokens   *tokens.Manager

	// Queue is the connection's outbound queue. The session never
	// closes it; the transport does.
	Queue *outbound.Queue

	// Transport labels metrics ("uds", "ws").
	Transport string

	// SlowThreshold, when positive, logs a warning for messages whose
	// synchronous handling takes longer.
	SlowThreshold time.Duration

	Clock   clock.Clock
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// entry is one slot of the service table. instance is nil while the
// factory runs.
type entry struct {
	name     string
	instance service.Instance
}

// Session is one connection's protocol state.
type Session struct {
	config   Config
	logger   *slog.Logger
	state    State
	origin   origin.Attributes
	services *tracker.ObjectTracker[*entry]
	sequence *tracker.Sequence
	slowLog  rate.Sometimes
	closed   bool
}

// New creates a session awaiting a handshake.
func New(config Config) *Session {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Session{
		config:   config,
		logger:   logger.With("session", config.ID),
		state:    Handshaking,
		services: tracker.NewObjectTracker[*entry](),
		sequence: tracker.NewServerSequence(),
		slowLog:  rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// NewEstablished creates a session already bound to attributes.
func NewEstablished(config Config, attributes origin.Attributes) *Session {
	s := New(config)
	s.establish(attributes)
	return s
}

// ID returns the session id.
func (s *Session) ID() uint32 { return s.config.ID }

// State returns the protocol state.
func (s *Session) State() State { return s.state }

// Origin returns the bound origin attributes. It is zero while
// handshaking.
func (s *Session) Origin() origin.Attributes { return s.origin }

// ServiceCount returns the number of live service instances.
func (s *Session) ServiceCount() int { return s.services.Len() }

func (s *Session) establish(attributes origin.Attributes) {
	s.origin = attributes
	s.state = Established
	s.logger = s.logger.With("identity", attributes.Identity)
}

// OnMessage handles one inbound payload. A non-nil error means the
// connection must be closed.
func (s *Session) OnMessage(payload []byte) error {
	if s.closed {
		return ErrClosed
	}
	if s.state == Handshaking {
		return s.handshake(payload)
	}

	message, err := protocol.DecodeBaseMessage(payload)
	if err != nil {
		s.logger.Warn("dropping connection after malformed message", "error", err, "length", len(payload))
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	start := s.config.Clock.Now()
	name, format := s.dispatch(&message)
	elapsed := s.config.Clock.Now().Sub(start)

	s.config.Metrics.Request(name, elapsed)
	if s.config.SlowThreshold > 0 && elapsed > s.config.SlowThreshold {
		s.config.Metrics.SlowRequest(name)
		s.slowLog.Do(func() {
			s.logger.Warn("slow message handling",
				"service", name,
				"service_id", message.Service,
				"elapsed", elapsed,
				"threshold", s.config.SlowThreshold,
				"request", format(),
			)
		})
	}
	return nil
}

func (s *Session) handshake(payload []byte) error {
	var request protocol.Handshake
	if err := codec.Unmarshal(payload, &request); err != nil {
		return s.rejectHandshake(fmt.Errorf("decoding handshake: %w", err))
	}
	attributes, ok := s.config.Tokens.Consume(request.Token)
	if !ok {
		return s.rejectHandshake(errors.New("unknown or already used token"))
	}
	s.establish(attributes)
	s.logger.Info("session established", "permissions", attributes.Permissions)
	s.sendRaw(protocol.HandshakeAck{Success: true})
	return nil
}

func (s *Session) rejectHandshake(cause error) error {
	s.config.Metrics.HandshakeFailed()
	s.logger.Warn("handshake rejected", "error", cause)
	s.sendRaw(protocol.HandshakeAck{Success: false})
	return fmt.Errorf("%w: %v", ErrHandshakeFailed, cause)
}

// sendRaw enqueues a payload that is not a BaseMessage.
func (s *Session) sendRaw(content any) {
	data, err := codec.Marshal(content)
	if err != nil {
		s.logger.Error("encoding session payload", "error", err)
		return
	}
	s.config.Queue.SendData(tracker.SessionTrackerID{Session: s.config.ID}, data)
}

// Send implements service.Sender.
func (s *Session) Send(message protocol.BaseMessage) bool {
	data, err := message.Encode()
	if err != nil {
		s.logger.Error("encoding outbound message", "service_id", message.Service, "error", err)
		return false
	}
	return s.config.Queue.SendData(tracker.SessionTrackerID{Session: s.config.ID, Service: message.Service}, data)
}

// dispatch routes message and returns the handling service's name and
// a lazy renderer of the message for the slow-message log.
func (s *Session) dispatch(message *protocol.BaseMessage) (string, func() string) {
	if message.Service == protocol.CoreService {
		s.onCoreMessage(message)
		return coreName, func() string { return codec.Diagnose(message.Content) }
	}

	slot, ok := s.services.Get(message.Service)
	if !ok || slot.instance == nil {
		s.logger.Debug("dropping message for unknown service",
			"service_id", message.Service,
			"kind", message.Kind.Type,
		)
		return "unknown", func() string { return codec.Diagnose(message.Content) }
	}
	s.guard(slot, "request", func() { slot.instance.OnRequest(message) })
	return slot.name, func() string {
		var rendered string
		s.guard(slot, "format", func() { rendered = slot.instance.FormatRequest(message) })
		return rendered
	}
}

// guard runs fn, recovering a panic raised by a service. It returns
// false if fn panicked.
func (s *Session) guard(slot *entry, operation string, fn func()) (completed bool) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error("service panicked",
				"service", slot.name,
				"operation", operation,
				"panic", recovered,
				"stack", string(debug.Stack()),
			)
			completed = false
		}
	}()
	fn()
	return true
}

// Close drops every service instance. It is idempotent.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	dropped := s.services.Clear()
	for _, slot := range dropped {
		s.dropInstance(slot)
	}
	if len(dropped) > 0 {
		s.logger.Debug("session closed", "instances", len(dropped))
	}
}

func (s *Session) dropInstance(slot *entry) {
	if slot.instance == nil {
		return
	}
	s.guard(slot, "close", slot.instance.Close)
	s.config.Metrics.InstanceDropped(slot.name)
}
