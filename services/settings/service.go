// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/apidaemon/lib/origin"
	"github.com/bureau-foundation/apidaemon/lib/protocol"
	"github.com/bureau-foundation/apidaemon/lib/service"
	"github.com/bureau-foundation/apidaemon/lib/tracker"
)

var (
	_ service.Instance    = (*Instance)(nil)
	_ service.EventSource = (*Instance)(nil)
)

// workQueueLength bounds requests waiting for an instance's worker.
// OnRequest blocks once it is full.
const workQueueLength = 64

// Descriptor registers SettingsManager backed by store.
func Descriptor(store *Store) service.Descriptor {
	return service.Descriptor{
		Name:        ServiceName,
		Fingerprint: Fingerprint,
		Create: func(support *service.Support) (service.Instance, error) {
			return NewInstance(store, support), nil
		},
	}
}

// canRead reports whether attributes may read setting name.
func canRead(name string, attributes origin.Attributes) bool {
	if attributes.HasPermission(PermissionRead) || attributes.HasPermission(PermissionWrite) {
		return true
	}
	return name == ThemeSetting && attributes.HasPermission(PermissionTheme)
}

// observer is a client proxy and the settings it is registered for,
// mapped to the store registration ids.
type observer struct {
	id    uint32
	names map[string]uint64
}

// Instance is one session's SettingsManager. Store operations run on
// the instance's worker goroutine in request order.
type Instance struct {
	store   *Store
	support *service.Support
	logger  *slog.Logger
	events  *service.EventMap

	ctx    context.Context
	cancel context.CancelFunc
	work   chan func(context.Context)

	unsubscribe func()
	closeOnce   sync.Once

	mu      sync.Mutex
	proxies *tracker.ProxyTracker[*observer]
}

// NewInstance creates an instance and starts its worker. Instances
// whose origin can read settings receive Change events once enabled.
func NewInstance(store *Store, support *service.Support) *Instance {
	ctx, cancel := context.WithCancel(context.Background())
	instance := &Instance{
		store:   store,
		support: support,
		logger:  support.Logger().With("service", ServiceName),
		events:  service.NewEventMap(),
		ctx:     ctx,
		cancel:  cancel,
		work:    make(chan func(context.Context), workQueueLength),
		proxies: tracker.NewProxyTracker[*observer](),
	}
	if support.Origin().HasPermission(PermissionRead) {
		instance.unsubscribe = store.Subscribe(instance.onChange)
	}
	go instance.run()
	return instance
}

func (i *Instance) run() {
	for fn := range i.work {
		fn(i.ctx)
	}
}

func (i *Instance) onChange(setting SettingInfo) {
	if !i.events.Enabled(0, EventChange) {
		return
	}
	if err := i.support.Event(0, Event{Change: &setting}); err != nil {
		i.logger.Debug("change event not delivered", "setting", setting.Name, "error", err)
	}
}

// OnRequest implements service.Instance.
func (i *Instance) OnRequest(message *protocol.BaseMessage) {
	if message.IsResponse() {
		// Observer callbacks return nothing of interest.
		return
	}
	var request Request
	if err := service.Decode(message, &request); err != nil {
		i.logger.Warn("dropping undecodable request", "error", err)
		return
	}

	responder := i.support.Responder(message)
	switch request.variant() {
	case "get":
		i.get(responder, request.Get.Name)
	case "get_batch":
		i.getBatch(responder, request.GetBatch.Names)
	case "set":
		i.set(responder, request.Set.Settings)
	case "clear":
		i.clear(responder)
	case "add_observer":
		i.addObserver(responder, request.AddObserver)
	case "remove_observer":
		i.removeObserver(responder, request.RemoveObserver)
	default:
		i.logger.Warn("dropping request without a single variant")
	}
}

func (i *Instance) get(responder *service.Responder, name string) {
	if !canRead(name, i.support.Origin()) &&
		i.support.MaybeSendPermissionError(responder.Request(), PermissionRead, "get setting") {
		return
	}
	i.enqueue(func(ctx context.Context) {
		setting, err := i.store.Get(ctx, name)
		switch {
		case err == nil:
			i.answer(responder, Response{Get: &setting})
		case errors.Is(err, ErrNotFound):
			i.answer(responder, Response{GetError: &GetError{Name: name, Reason: ReasonNonExistingSetting}})
		default:
			i.logger.Error("reading setting", "setting", name, "error", err)
			i.answer(responder, Response{GetError: &GetError{Name: name, Reason: ReasonUnknownError}})
		}
	})
}

func (i *Instance) getBatch(responder *service.Responder, names []string) {
	if i.support.MaybeSendPermissionError(responder.Request(), PermissionRead, "get a batch of settings") {
		return
	}
	i.enqueue(func(ctx context.Context) {
		settings, err := i.store.GetBatch(ctx, names)
		if err != nil {
			i.logger.Error("reading settings", "count", len(names), "error", err)
			// An empty batch is the failure answer; the caller still
			// correlates it with its request.
			settings = []SettingInfo{}
		}
		i.answer(responder, Response{GetBatch: &Batch{Settings: settings}})
	})
}

func (i *Instance) set(responder *service.Responder, settings []SettingInfo) {
	if i.support.MaybeSendPermissionError(responder.Request(), PermissionWrite, "set settings") {
		return
	}
	i.enqueue(func(ctx context.Context) {
		err := i.store.Set(ctx, settings)
		if err != nil {
			i.logger.Error("writing settings", "count", len(settings), "error", err)
		}
		i.answer(responder, Response{Set: &Result{Success: err == nil}})
	})
}

func (i *Instance) clear(responder *service.Responder) {
	if i.support.MaybeSendPermissionError(responder.Request(), PermissionWrite, "clear settings") {
		return
	}
	i.enqueue(func(ctx context.Context) {
		err := i.store.Clear(ctx)
		if err != nil {
			i.logger.Error("clearing settings", "error", err)
		}
		i.answer(responder, Response{Clear: &Result{Success: err == nil}})
	})
}

func (i *Instance) addObserver(responder *service.Responder, request *ObserverRequest) {
	if !canRead(request.Name, i.support.Origin()) &&
		i.support.MaybeSendPermissionError(responder.Request(), PermissionRead, fmt.Sprintf("add setting observer for %s", request.Name)) {
		return
	}
	ok := i.observe(request.Name, request.Observer)
	if !ok {
		i.logger.Info("observer refused", "setting", request.Name, "observer", request.Observer)
	}
	i.answer(responder, Response{AddObserver: &Result{Success: ok}})
}

func (i *Instance) observe(name string, proxy uint32) bool {
	if proxy == 0 {
		return false
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	handle, ok := i.proxies.Get(proxy)
	if !ok {
		handle = &observer{id: proxy, names: make(map[string]uint64)}
		i.proxies.Track(proxy, handle)
	}
	if _, registered := handle.names[name]; registered {
		return true
	}
	handle.names[name] = i.store.Observe(name, func(setting SettingInfo) {
		if _, err := i.support.Call(proxy, ObserverCall{Callback: &setting}); err != nil {
			i.logger.Debug("observer not called", "setting", setting.Name, "observer", proxy, "error", err)
		}
	})
	return true
}

func (i *Instance) removeObserver(responder *service.Responder, request *ObserverRequest) {
	if !canRead(request.Name, i.support.Origin()) &&
		i.support.MaybeSendPermissionError(responder.Request(), PermissionRead, fmt.Sprintf("remove setting observer for %s", request.Name)) {
		return
	}
	i.answer(responder, Response{RemoveObserver: &Result{Success: i.unobserve(request.Name, request.Observer)}})
}

func (i *Instance) unobserve(name string, proxy uint32) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	handle, ok := i.proxies.Get(proxy)
	if !ok {
		return false
	}
	registration, ok := handle.names[name]
	if !ok {
		return false
	}
	delete(handle.names, name)
	return i.store.Unobserve(name, registration)
}

func (i *Instance) enqueue(fn func(ctx context.Context)) {
	i.work <- fn
}

func (i *Instance) answer(responder *service.Responder, response Response) {
	if err := responder.Resolve(response); err != nil {
		i.logger.Debug("response not delivered", "error", err)
	}
}

// FormatRequest implements service.Instance.
func (i *Instance) FormatRequest(message *protocol.BaseMessage) string {
	var request Request
	if err := service.Decode(message, &request); err != nil {
		return fmt.Sprintf("undecodable %s request: %v", ServiceName, err)
	}
	return fmt.Sprintf("%s %s: %s", ServiceName, request.variant(), service.FormatContent(message))
}

// ReleaseObject drops an observer proxy and its registrations.
func (i *Instance) ReleaseObject(object uint32) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	handle, ok := i.proxies.Remove(object)
	if !ok {
		return false
	}
	i.forget(handle)
	return true
}

func (i *Instance) forget(handle *observer) {
	for name, registration := range handle.names {
		i.store.Unobserve(name, registration)
	}
	clear(handle.names)
}

// EnableEvent implements service.EventSource. Only Change on object 0
// exists.
func (i *Instance) EnableEvent(object, event uint32) bool {
	if object != 0 || event != EventChange || i.unsubscribe == nil {
		return false
	}
	return i.events.Enable(object, event)
}

// DisableEvent implements service.EventSource.
func (i *Instance) DisableEvent(object, event uint32) bool {
	return i.events.Disable(object, event)
}

// Close drops observers and the change subscription, and stops the
// worker. Requests still queued fail with a cancelled context.
func (i *Instance) Close() {
	i.closeOnce.Do(func() {
		if i.unsubscribe != nil {
			i.unsubscribe()
		}
		i.mu.Lock()
		for _, handle := range i.proxies.Clear() {
			i.forget(handle)
		}
		i.mu.Unlock()
		i.cancel()
		close(i.work)
	})
}
