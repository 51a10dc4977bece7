// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"

	"github.com/bureau-foundation/apidaemon/lib/netutil"
	"github.com/bureau-foundation/apidaemon/lib/protocol"
	"github.com/bureau-foundation/apidaemon/lib/registry"
	"github.com/bureau-foundation/apidaemon/lib/service"
	"github.com/bureau-foundation/apidaemon/lib/tracker"
)

// ServeChild hosts the services of reg for a parent daemon on conn. It
// returns nil when the parent closes the link or ctx is done, after
// closing every hosted instance. A parent that sends an undecodable
// message ends the link with an error.
func ServeChild(ctx context.Context, conn io.ReadWriteCloser, reg *registry.Registry, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	server := &childServer{
		link:      newLink(conn),
		registry:  reg,
		logger:    logger,
		instances: make(map[tracker.SessionTrackerID]*hosted),
		sequences: make(map[uint32]*tracker.Sequence),
	}
	stop := context.AfterFunc(ctx, func() {
		if err := server.link.send(ChildToParent{Stop: &struct{}{}}); err != nil {
			logger.Debug("stop not delivered to parent", "error", err)
		}
		server.link.close()
	})
	defer stop()
	defer server.closeAll()

	logger.Info("serving parent daemon", "services", reg.Names())
	for {
		var message ParentToChild
		if err := server.link.receive(&message); err != nil {
			if ctx.Err() != nil || netutil.IsExpectedCloseError(err) {
				return nil
			}
			server.link.close()
			return fmt.Errorf("reading from parent daemon: %w", err)
		}
		server.handle(&message)
	}
}

type hosted struct {
	name     string
	instance service.Instance
}

// childServer state is touched only by the ServeChild goroutine.
type childServer struct {
	link      *link
	registry  *registry.Registry
	logger    *slog.Logger
	instances map[tracker.SessionTrackerID]*hosted
	sequences map[uint32]*tracker.Sequence
}

func (s *childServer) handle(message *ParentToChild) {
	switch {
	case message.CreateService != nil:
		s.create(message.CreateService)
	case message.ReleaseService != nil:
		s.release(message.ReleaseService.Tracker)
	case message.Request != nil:
		s.request(message.Request)
	case message.ReleaseObject != nil:
		request := message.ReleaseObject
		var released bool
		if target, ok := s.instances[request.Tracker]; ok {
			s.guard(target, "release", func() { released = target.instance.ReleaseObject(request.Object) })
		}
		s.reply(ChildToParent{ObjectReleased: &Result{Call: request.Call, Tracker: request.Tracker, Success: released}})
	case message.EnableEvent != nil:
		s.toggle(message.EnableEvent, true)
	case message.DisableEvent != nil:
		s.toggle(message.DisableEvent, false)
	}
}

func (s *childServer) create(request *CreateService) {
	logger := s.logger.With("service", request.Name, "tracker", request.Tracker)
	result := func(response protocol.GetServiceResponse) {
		s.reply(ChildToParent{Created: &Created{Call: request.Call, Tracker: request.Tracker, Response: response}})
	}
	if _, exists := s.instances[request.Tracker]; exists {
		logger.Error("instance id already in use")
		result(protocol.Failed(protocol.GetServiceInternalError, "instance id already in use"))
		return
	}

	factory, response := s.registry.Resolve(request.Name, request.Fingerprint, request.Origin)
	if response.Status != protocol.GetServiceSuccess {
		logger.Info("create service refused", "status", response.Status)
		result(response)
		return
	}

	support := service.NewSupport(
		request.Tracker,
		request.Origin,
		&packetSender{link: s.link, session: request.Tracker.Session},
		s.sequence(request.Tracker.Session),
		logger,
	)
	slot := &hosted{name: request.Name}
	var err error
	if !s.guard(slot, "create", func() { slot.instance, err = factory(support) }) {
		result(protocol.Failed(protocol.GetServiceInternalError, "service factory panicked"))
		return
	}
	if err != nil {
		logger.Warn("service creation failed", "error", err)
		result(service.ResponseFor(err))
		return
	}
	s.instances[request.Tracker] = slot
	logger.Debug("service instance created")
	result(protocol.Succeeded(request.Tracker.Service))
}

func (s *childServer) request(request *Request) {
	message, err := protocol.DecodeBaseMessage(request.Message)
	if err != nil {
		s.logger.Warn("dropping undecodable relayed request", "session", request.Session, "error", err)
		return
	}
	id := tracker.SessionTrackerID{Session: request.Session, Service: message.Service}
	target, ok := s.instances[id]
	if !ok {
		s.logger.Debug("dropping request for unknown instance", "tracker", id)
		return
	}
	s.guard(target, "request", func() { target.instance.OnRequest(&message) })
}

func (s *childServer) toggle(request *EventToggle, enable bool) {
	var changed bool
	if target, ok := s.instances[request.Tracker]; ok {
		if source, ok := target.instance.(service.EventSource); ok {
			s.guard(target, "event", func() {
				if enable {
					changed = source.EnableEvent(request.Object, request.Event)
				} else {
					changed = source.DisableEvent(request.Object, request.Event)
				}
			})
		}
	}
	s.reply(ChildToParent{EventToggled: &Result{Call: request.Call, Tracker: request.Tracker, Success: changed}})
}

func (s *childServer) release(id tracker.SessionTrackerID) {
	target, ok := s.instances[id]
	if !ok {
		return
	}
	delete(s.instances, id)
	s.guard(target, "close", target.instance.Close)
	s.forgetSequence(id.Session)
}

func (s *childServer) closeAll() {
	for id := range s.instances {
		s.release(id)
	}
}

// sequence returns the server-call sequence shared by every instance
// of one parent session.
func (s *childServer) sequence(session uint32) *tracker.Sequence {
	sequence, ok := s.sequences[session]
	if !ok {
		sequence = tracker.NewServerSequence()
		s.sequences[session] = sequence
	}
	return sequence
}

func (s *childServer) forgetSequence(session uint32) {
	for id := range s.instances {
		if id.Session == session {
			return
		}
	}
	delete(s.sequences, session)
}

func (s *childServer) reply(message ChildToParent) {
	if err := s.link.send(message); err != nil {
		s.logger.Warn("replying to parent daemon", "error", err)
	}
}

func (s *childServer) guard(target *hosted, operation string, fn func()) (completed bool) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error("service panicked",
				"service", target.name,
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

// packetSender implements service.Sender for hosted instances. It may
// be called from any goroutine.
type packetSender struct {
	link    *link
	session uint32
}

func (p *packetSender) Send(message protocol.BaseMessage) bool {
	data, err := message.Encode()
	if err != nil {
		return false
	}
	packet := &Packet{
		Tracker: tracker.SessionTrackerID{Session: p.session, Service: message.Service},
		Payload: data,
	}
	return p.link.send(ChildToParent{Packet: packet}) == nil
}
