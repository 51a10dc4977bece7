// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"github.com/bureau-foundation/apidaemon/lib/codec"
	"github.com/bureau-foundation/apidaemon/lib/protocol"
	"github.com/bureau-foundation/apidaemon/lib/service"
	"github.com/bureau-foundation/apidaemon/lib/tracker"
)

func (s *Session) onCoreMessage(message *protocol.BaseMessage) {
	if !message.IsRequest() {
		s.logger.Debug("dropping non-request core message", "kind", message.Kind.Type)
		return
	}
	var request protocol.CoreRequest
	if err := codec.Unmarshal(message.Content, &request); err != nil {
		s.logger.Warn("dropping undecodable core request", "error", err)
		return
	}
	variant, err := request.Variant()
	if err != nil {
		s.logger.Warn("dropping invalid core request", "error", err)
		return
	}
	s.logger.Debug("core request", "request", variant, "sequence", message.Kind.Sequence)

	var response protocol.CoreResponse
	switch {
	case request.HasService != nil:
		response.HasService = &protocol.BoolResponse{Success: s.config.Registry.Has(request.HasService.Name)}
	case request.GetService != nil:
		result := s.getService(request.GetService)
		response.GetService = &result
	case request.ReleaseObject != nil:
		response.ReleaseObject = &protocol.BoolResponse{Success: s.releaseObject(request.ReleaseObject)}
	case request.EnableEvent != nil:
		response.EnableEvent = &protocol.BoolResponse{Success: s.toggleEvent(request.EnableEvent, true)}
	case request.DisableEvent != nil:
		response.DisableEvent = &protocol.BoolResponse{Success: s.toggleEvent(request.DisableEvent, false)}
	}

	data, err := codec.Marshal(response)
	if err != nil {
		s.logger.Error("encoding core response", "request", variant, "error", err)
		return
	}
	s.Send(message.Reply(data))
}

func (s *Session) getService(request *protocol.GetServiceRequest) protocol.GetServiceResponse {
	factory, response := s.config.Registry.Resolve(request.Name, request.Fingerprint, s.origin)
	if response.Status != protocol.GetServiceSuccess {
		s.logger.Info("get service refused", "service", request.Name, "status", response.Status)
		return response
	}

	// Reserve the id first so the factory's Support knows it.
	id, err := s.services.Track(&entry{name: request.Name})
	if err != nil {
		s.logger.Error("no service id available", "service", request.Name, "error", err)
		return protocol.Failed(protocol.GetServiceInternalError, err.Error())
	}
	support := service.NewSupport(
		tracker.SessionTrackerID{Session: s.config.ID, Service: id},
		s.origin,
		s,
		s.sequence,
		s.logger.With("service", request.Name, "service_id", id),
	)

	var instance service.Instance
	slot := &entry{name: request.Name}
	if !s.guard(slot, "create", func() { instance, err = factory(support) }) {
		s.services.Remove(id)
		return protocol.Failed(protocol.GetServiceInternalError, "service factory panicked")
	}
	if err != nil {
		s.services.Remove(id)
		s.logger.Warn("service creation failed", "service", request.Name, "error", err)
		return service.ResponseFor(err)
	}

	slot.instance = instance
	s.services.Replace(id, slot)
	s.config.Metrics.InstanceCreated(request.Name)
	s.logger.Debug("service instance created", "service", request.Name, "service_id", id)
	return protocol.Succeeded(id)
}

// releaseObject releases one tracked object. Object 0 releases the
// service instance itself.
func (s *Session) releaseObject(request *protocol.ReleaseObjectRequest) bool {
	slot, ok := s.services.Get(request.Service)
	if !ok || slot.instance == nil {
		return false
	}
	if request.Object == 0 {
		s.services.Remove(request.Service)
		s.dropInstance(slot)
		return true
	}
	var released bool
	s.guard(slot, "release", func() { released = slot.instance.ReleaseObject(request.Object) })
	return released
}

func (s *Session) toggleEvent(request *protocol.EventRequest, enable bool) bool {
	slot, ok := s.services.Get(request.Service)
	if !ok || slot.instance == nil {
		return false
	}
	source, ok := slot.instance.(service.EventSource)
	if !ok {
		return false
	}
	var changed bool
	s.guard(slot, "event", func() {
		if enable {
			changed = source.EnableEvent(request.Object, request.Event)
		} else {
			changed = source.DisableEvent(request.Object, request.Event)
		}
	})
	return changed
}
