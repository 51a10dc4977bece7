// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/apidaemon/lib/codec"
	"github.com/bureau-foundation/apidaemon/lib/protocol"
)

// Instance is one live service instance owned by a session.
type Instance interface {
	// OnRequest handles a message addressed to the instance: a client
	// request, or a response to a call the instance made into a client
	// proxy.
	OnRequest(message *protocol.BaseMessage)

	// FormatRequest renders a request for logs.
	FormatRequest(message *protocol.BaseMessage) string

	// ReleaseObject drops a tracked object. It returns false if the id
	// is not live; releasing twice is not an error.
	ReleaseObject(object uint32) bool

	// Close releases everything the instance holds.
	Close()
}

// EventSource is implemented by instances whose events are delivered
// only after the client enables them.
type EventSource interface {
	EnableEvent(object, event uint32) bool
	DisableEvent(object, event uint32) bool
}

// Factory builds an instance bound to support. An error whose chain
// contains a *StatusError is reported to the client with that status;
// any other error is reported as an internal error.
type Factory func(support *Support) (Instance, error)

// Descriptor registers a service with the registry.
type Descriptor struct {
	// Name is the service name clients ask for.
	Name string

	// Fingerprint is the schema fingerprint (lib/fingerprint) the
	// client must present.
	Fingerprint string

	// Permission, if set, must be held by the session origin.
	Permission string

	Create Factory
}

// Validate checks that the descriptor is complete.
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return errors.New("service descriptor has no name")
	}
	if d.Fingerprint == "" {
		return fmt.Errorf("service %q has no fingerprint", d.Name)
	}
	if d.Create == nil {
		return fmt.Errorf("service %q has no factory", d.Name)
	}
	return nil
}

// StatusError makes a factory failure visible to the client as a
// specific GetService status.
type StatusError struct {
	Status protocol.GetServiceStatus
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return e.Status.String()
	}
	return e.Status.String() + ": " + e.Detail
}

// ResponseFor converts a factory error into the response sent to the
// client.
func ResponseFor(err error) protocol.GetServiceResponse {
	var statusError *StatusError
	if errors.As(err, &statusError) {
		return protocol.Failed(statusError.Status, statusError.Detail)
	}
	return protocol.Failed(protocol.GetServiceInternalError, err.Error())
}

// Decode decodes the service-specific content of message into v.
func Decode(message *protocol.BaseMessage, v any) error {
	if err := codec.Unmarshal(message.Content, v); err != nil {
		return fmt.Errorf("decoding request content: %w", err)
	}
	return nil
}

// FormatContent renders message content in CBOR diagnostic notation.
// Instances without a better rendering can return this from
// FormatRequest.
func FormatContent(message *protocol.BaseMessage) string {
	return fmt.Sprintf("object=%d %s", message.Object, codec.Diagnose(message.Content))
}
