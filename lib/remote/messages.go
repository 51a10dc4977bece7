// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/apidaemon/lib/origin"
	"github.com/bureau-foundation/apidaemon/lib/protocol"
	"github.com/bureau-foundation/apidaemon/lib/tracker"
)

// ParentToChild is one message from the daemon to a child. Exactly one
// field is set.
type ParentToChild struct {
	CreateService  *CreateService  `cbor:"create_service,omitempty"`
	ReleaseService *ReleaseService `cbor:"release_service,omitempty"`
	Request        *Request        `cbor:"request,omitempty"`
	EnableEvent    *EventToggle    `cbor:"enable_event,omitempty"`
	DisableEvent   *EventToggle    `cbor:"disable_event,omitempty"`
	ReleaseObject  *ReleaseObject  `cbor:"release_object,omitempty"`
}

// CreateService asks the child for a new instance. The child runs the
// fingerprint and permission checks against Origin.
type CreateService struct {
	Call        uint64                   `cbor:"call"`
	Name        string                   `cbor:"name"`
	Fingerprint string                   `cbor:"fingerprint"`
	Tracker     tracker.SessionTrackerID `cbor:"tracker"`
	Origin      origin.Attributes        `cbor:"origin"`
}

// ReleaseService drops an instance. It has no reply.
type ReleaseService struct {
	Name    string                   `cbor:"name"`
	Tracker tracker.SessionTrackerID `cbor:"tracker"`
}

// Request relays one encoded BaseMessage from a session.
type Request struct {
	Session uint32 `cbor:"session"`
	Message []byte `cbor:"message"`
}

// EventToggle turns one event of one object on or off.
type EventToggle struct {
	Call    uint64                   `cbor:"call"`
	Tracker tracker.SessionTrackerID `cbor:"tracker"`
	Object  uint32                   `cbor:"object"`
	Event   uint32                   `cbor:"event"`
}

// ReleaseObject releases a tracked object of an instance.
type ReleaseObject struct {
	Call    uint64                   `cbor:"call"`
	Tracker tracker.SessionTrackerID `cbor:"tracker"`
	Object  uint32                   `cbor:"object"`
}

// ChildToParent is one message from a child to the daemon. Exactly one
// field is set.
type ChildToParent struct {
	Created        *Created  `cbor:"created,omitempty"`
	Packet         *Packet   `cbor:"packet,omitempty"`
	ObjectReleased *Result   `cbor:"object_released,omitempty"`
	EventToggled   *Result   `cbor:"event_toggled,omitempty"`
	Stop           *struct{} `cbor:"stop,omitempty"`
}

// Created answers CreateService.
type Created struct {
	Call     uint64                      `cbor:"call"`
	Tracker  tracker.SessionTrackerID    `cbor:"tracker"`
	Response protocol.GetServiceResponse `cbor:"response"`
}

// Packet is an encoded BaseMessage for the session in Tracker.
type Packet struct {
	Tracker tracker.SessionTrackerID `cbor:"tracker"`
	Payload []byte                   `cbor:"payload"`
}

// Result answers ReleaseObject and the event toggles.
type Result struct {
	Call    uint64                   `cbor:"call"`
	Tracker tracker.SessionTrackerID `cbor:"tracker"`
	Success bool                     `cbor:"success"`
}

// call returns the call id a reply answers, or false for messages that
// answer nothing.
func (m *ChildToParent) call() (uint64, bool) {
	switch {
	case m.Created != nil:
		return m.Created.Call, true
	case m.ObjectReleased != nil:
		return m.ObjectReleased.Call, true
	case m.EventToggled != nil:
		return m.EventToggled.Call, true
	default:
		return 0, false
	}
}

var errNoVariant = errors.New("no variant set")

// validate checks that exactly one field is set.
func (m *ParentToChild) validate() error {
	return exactlyOne(m.CreateService != nil, m.ReleaseService != nil, m.Request != nil,
		m.EnableEvent != nil, m.DisableEvent != nil, m.ReleaseObject != nil)
}

func (m *ChildToParent) validate() error {
	return exactlyOne(m.Created != nil, m.Packet != nil, m.ObjectReleased != nil,
		m.EventToggled != nil, m.Stop != nil)
}

func exactlyOne(set ...bool) error {
	count := 0
	for _, isSet := range set {
		if isSet {
			count++
		}
	}
	switch count {
	case 0:
		return errNoVariant
	case 1:
		return nil
	default:
		return fmt.Errorf("%d variants set", count)
	}
}
