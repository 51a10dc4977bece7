// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"fmt"

	"github.com/bureau-foundation/apidaemon/lib/codec"
)

// CoreService is the reserved service id for session-level requests.
const CoreService uint32 = 0

// KindType discriminates the BaseMessage kinds.
type KindType uint8

const (
	KindRequest KindType = iota + 1
	KindResponse
	KindEvent
	KindPermissionError
)

func (k KindType) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindEvent:
		return "event"
	case KindPermissionError:
		return "permission-error"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Kind is the BaseMessage kind. Sequence is set for requests,
// responses and permission errors. Permission and Message are set only
// for permission errors.
type Kind struct {
	Type       KindType `cbor:"type"`
	Sequence   uint64   `cbor:"seq,omitempty"`
	Permission string   `cbor:"permission,omitempty"`
	Message    string   `cbor:"message,omitempty"`
}

// BaseMessage is the envelope of every post-handshake payload.
type BaseMessage struct {
	Service uint32 `cbor:"service"`
	Object  uint32 `cbor:"object"`
	Kind    Kind   `cbor:"kind"`
	Content []byte `cbor:"content,omitempty"`
}

// NewRequest builds a request message.
func NewRequest(service, object uint32, sequence uint64, content []byte) BaseMessage {
	return BaseMessage{
		Service: service,
		Object:  object,
		Kind:    Kind{Type: KindRequest, Sequence: sequence},
		Content: content,
	}
}

// NewEvent builds an event message. Events carry no sequence number.
func NewEvent(service, object uint32, content []byte) BaseMessage {
	return BaseMessage{
		Service: service,
		Object:  object,
		Kind:    Kind{Type: KindEvent},
		Content: content,
	}
}

// Response returns the sequence number that correlates this message
// with a request: the request's own number for requests, and the
// answered request's number for responses and permission errors.
// Events return 0.
func (m *BaseMessage) Response() uint64 {
	if m.Kind.Type == KindEvent {
		return 0
	}
	return m.Kind.Sequence
}

// IsRequest reports whether the message is a request.
func (m *BaseMessage) IsRequest() bool { return m.Kind.Type == KindRequest }

// IsResponse reports whether the message answers a request.
func (m *BaseMessage) IsResponse() bool {
	return m.Kind.Type == KindResponse || m.Kind.Type == KindPermissionError
}

// Reply builds the response to m with the given content. Service and
// object are copied from m.
func (m *BaseMessage) Reply(content []byte) BaseMessage {
	return BaseMessage{
		Service: m.Service,
		Object:  m.Object,
		Kind:    Kind{Type: KindResponse, Sequence: m.Kind.Sequence},
		Content: content,
	}
}

// PermissionDenied builds the permission-error answer to m.
func (m *BaseMessage) PermissionDenied(permission, message string) BaseMessage {
	return BaseMessage{
		Service: m.Service,
		Object:  m.Object,
		Kind: Kind{
			Type:       KindPermissionError,
			Sequence:   m.Kind.Sequence,
			Permission: permission,
			Message:    message,
		},
	}
}

// Validate checks the kind discriminant.
func (m *BaseMessage) Validate() error {
	switch m.Kind.Type {
	case KindRequest, KindResponse, KindEvent, KindPermissionError:
		return nil
	default:
		return fmt.Errorf("invalid message kind %d", uint8(m.Kind.Type))
	}
}

// Encode encodes the message.
func (m *BaseMessage) Encode() ([]byte, error) {
	return codec.Marshal(m)
}

// DecodeBaseMessage decodes and validates a BaseMessage payload.
func DecodeBaseMessage(data []byte) (BaseMessage, error) {
	var message BaseMessage
	if err := codec.Unmarshal(data, &message); err != nil {
		return BaseMessage{}, fmt.Errorf("decoding base message: %w", err)
	}
	if err := message.Validate(); err != nil {
		return BaseMessage{}, err
	}
	return message, nil
}

// Handshake is the first payload of a WebSocket session.
type Handshake struct {
	Token string `cbor:"token"`
}

// HandshakeAck answers a Handshake.
type HandshakeAck struct {
	Success bool `cbor:"success"`
}
