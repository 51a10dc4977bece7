// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"log/slog"

	"github.com/bureau-foundation/apidaemon/lib/protocol"
	"github.com/bureau-foundation/apidaemon/lib/service"
	"github.com/bureau-foundation/apidaemon/lib/tracker"
)

// Instance is the session's handle on a service instance living in a
// child daemon.
type Instance struct {
	manager *Manager
	child   *child
	name    string
	id      tracker.SessionTrackerID
	logger  *slog.Logger
}

var (
	_ service.Instance    = (*Instance)(nil)
	_ service.EventSource = (*Instance)(nil)
)

// OnRequest relays message to the child. Answers come back as packets.
func (i *Instance) OnRequest(message *protocol.BaseMessage) {
	data, err := message.Encode()
	if err != nil {
		i.logger.Error("encoding request for child daemon", "error", err)
		return
	}
	if err := i.manager.send(i.child, ParentToChild{Request: &Request{Session: i.id.Session, Message: data}}); err != nil {
		i.logger.Warn("relaying request to child daemon", "error", err)
	}
}

// FormatRequest renders the raw request; its schema is only known to
// the child.
func (i *Instance) FormatRequest(message *protocol.BaseMessage) string {
	return "remote " + i.name + " " + service.FormatContent(message)
}

// ReleaseObject waits for the child to release the object.
func (i *Instance) ReleaseObject(object uint32) bool {
	reply, err := i.manager.call(i.child, func(call uint64) ParentToChild {
		return ParentToChild{ReleaseObject: &ReleaseObject{Call: call, Tracker: i.id, Object: object}}
	})
	if err != nil {
		i.logger.Warn("releasing remote object", "object", object, "error", err)
		return false
	}
	return reply.ObjectReleased != nil && reply.ObjectReleased.Success
}

// EnableEvent implements service.EventSource.
func (i *Instance) EnableEvent(object, event uint32) bool {
	return i.toggle(object, event, true)
}

// DisableEvent implements service.EventSource.
func (i *Instance) DisableEvent(object, event uint32) bool {
	return i.toggle(object, event, false)
}

func (i *Instance) toggle(object, event uint32, enable bool) bool {
	reply, err := i.manager.call(i.child, func(call uint64) ParentToChild {
		toggle := &EventToggle{Call: call, Tracker: i.id, Object: object, Event: event}
		if enable {
			return ParentToChild{EnableEvent: toggle}
		}
		return ParentToChild{DisableEvent: toggle}
	})
	if err != nil {
		i.logger.Warn("toggling remote event", "object", object, "event", event, "error", err)
		return false
	}
	return reply.EventToggled != nil && reply.EventToggled.Success
}

// Close tells the child to drop the instance.
func (i *Instance) Close() {
	i.logger.Debug("releasing remote service instance")
	if err := i.manager.send(i.child, ParentToChild{ReleaseService: &ReleaseService{Name: i.name, Tracker: i.id}}); err != nil {
		i.logger.Debug("release not delivered to child daemon", "error", err)
	}
}
