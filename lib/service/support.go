// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/bureau-foundation/apidaemon/lib/codec"
	"github.com/bureau-foundation/apidaemon/lib/origin"
	"github.com/bureau-foundation/apidaemon/lib/protocol"
	"github.com/bureau-foundation/apidaemon/lib/tracker"
)

// ErrSessionClosed is returned when a message cannot be queued because
// the owning session is gone.
var ErrSessionClosed = errors.New("service: session closed")

// ErrAlreadyResolved is returned by a Responder that already answered.
var ErrAlreadyResolved = errors.New("service: request already resolved")

// Sender queues an outbound message on the owning connection. It
// returns false once the connection is closed.
type Sender interface {
	Send(message protocol.BaseMessage) bool
}

// Support is the session side of one service instance. It is safe for
// concurrent use.
type Support struct {
	id       tracker.SessionTrackerID
	origin   origin.Attributes
	sender   Sender
	sequence *tracker.Sequence
	logger   *slog.Logger
}

// NewSupport binds an instance id to the session's sender. sequence
// numbers server-initiated calls and is shared by every instance of the
// session.
func NewSupport(id tracker.SessionTrackerID, attributes origin.Attributes, sender Sender, sequence *tracker.Sequence, logger *slog.Logger) *Support {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Support{
		id:       id,
		origin:   attributes,
		sender:   sender,
		sequence: sequence,
		logger:   logger,
	}
}

// ID returns the instance's session tracker id.
func (s *Support) ID() tracker.SessionTrackerID { return s.id }

// Origin returns the session's origin attributes.
func (s *Support) Origin() origin.Attributes { return s.origin }

// Logger returns a logger annotated with the instance id.
func (s *Support) Logger() *slog.Logger { return s.logger }

// Respond answers request with content encoded as CBOR.
func (s *Support) Respond(request *protocol.BaseMessage, content any) error {
	data, err := codec.Marshal(content)
	if err != nil {
		return fmt.Errorf("encoding response for request %d: %w", request.Response(), err)
	}
	return s.send(request.Reply(data))
}

// Event sends an event from object (0 for the instance itself).
func (s *Support) Event(object uint32, content any) error {
	data, err := codec.Marshal(content)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	return s.send(protocol.NewEvent(s.id.Service, object, data))
}

// Call sends a request to the client proxy with the given id and
// returns its sequence number. The client's response arrives at the
// instance's OnRequest.
func (s *Support) Call(proxy uint32, content any) (uint64, error) {
	data, err := codec.Marshal(content)
	if err != nil {
		return 0, fmt.Errorf("encoding proxy call: %w", err)
	}
	sequence := s.sequence.Next()
	if err := s.send(protocol.NewRequest(s.id.Service, proxy, sequence, data)); err != nil {
		return 0, err
	}
	return sequence, nil
}

// MaybeSendPermissionError answers request with a permission error if
// the origin lacks permission. It returns true when it did, in which
// case the caller must not answer the request itself.
func (s *Support) MaybeSendPermissionError(request *protocol.BaseMessage, permission, message string) bool {
	if s.origin.HasPermission(permission) {
		return false
	}
	s.logger.Info("permission denied",
		"identity", s.origin.Identity,
		"permission", permission,
	)
	if err := s.send(request.PermissionDenied(permission, message)); err != nil {
		s.logger.Debug("permission error not delivered", "error", err)
	}
	return true
}

// Responder returns a once-only responder for request.
func (s *Support) Responder(request *protocol.BaseMessage) *Responder {
	return &Responder{support: s, request: *request}
}

func (s *Support) send(message protocol.BaseMessage) error {
	if !s.sender.Send(message) {
		return ErrSessionClosed
	}
	return nil
}

// Responder is a pending request that is answered exactly once. It is
// handed to worker goroutines that finish a request after OnRequest has
// returned. Only the first Resolve or Reject sends anything.
type Responder struct {
	support  *Support
	request  protocol.BaseMessage
	resolved atomic.Bool
}

// Resolve answers the request with a success payload.
func (r *Responder) Resolve(content any) error {
	if !r.resolved.CompareAndSwap(false, true) {
		return ErrAlreadyResolved
	}
	return r.support.Respond(&r.request, content)
}

// Reject answers the request with an error payload. On the wire a
// rejection is an ordinary response whose content is the service's
// error variant.
func (r *Responder) Reject(content any) error {
	return r.Resolve(content)
}

// Deny answers the request with a permission error.
func (r *Responder) Deny(permission, message string) error {
	if !r.resolved.CompareAndSwap(false, true) {
		return ErrAlreadyResolved
	}
	return r.support.send(r.request.PermissionDenied(permission, message))
}

// Resolved reports whether the request has been answered.
func (r *Responder) Resolved() bool { return r.resolved.Load() }

// Request returns the pending request.
func (r *Responder) Request() *protocol.BaseMessage { return &r.request }
