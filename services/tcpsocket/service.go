// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tcpsocket

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/apidaemon/lib/protocol"
	"github.com/bureau-foundation/apidaemon/lib/service"
	"github.com/bureau-foundation/apidaemon/lib/tracker"
	"github.com/bureau-foundation/apidaemon/transport"
)

var _ service.Instance = (*Instance)(nil)

// Defaults for Config.
const (
	DefaultWorkers     = 8
	DefaultDialTimeout = 10 * time.Second
)

// Config configures a Manager.
type Config struct {
	// Dialer opens connections. Defaults to a transport.TCPDialer.
	Dialer transport.Dialer

	// Workers bounds concurrent connection attempts across all
	// sessions.
	Workers int

	// DialTimeout bounds one connection attempt.
	DialTimeout time.Duration

	Logger *slog.Logger
}

// Manager is the state shared by every TCPSocketFactory instance: the
// dialer and the worker pool connection attempts run on.
type Manager struct {
	dialer      transport.Dialer
	dialTimeout time.Duration
	logger      *slog.Logger
	workers     errgroup.Group

	open    atomic.Int64
	dialing atomic.Int64
}

// NewManager creates a manager.
func NewManager(config Config) *Manager {
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = DefaultDialTimeout
	}
	if config.Dialer == nil {
		config.Dialer = &transport.TCPDialer{Timeout: config.DialTimeout}
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	m := &Manager{
		dialer:      config.Dialer,
		dialTimeout: config.DialTimeout,
		logger:      config.Logger,
	}
	m.workers.SetLimit(config.Workers)
	return m
}

// Descriptor registers TCPSocketFactory.
func (m *Manager) Descriptor() service.Descriptor {
	return service.Descriptor{
		Name:        ServiceName,
		Fingerprint: Fingerprint,
		Permission:  Permission,
		Create: func(support *service.Support) (service.Instance, error) {
			return m.newInstance(support), nil
		},
	}
}

// Wait blocks until in-flight connection attempts finish.
func (m *Manager) Wait() {
	m.workers.Wait()
}

// Status counts open sockets and pending connection attempts.
type Status struct {
	Open    int64
	Dialing int64
}

// Status returns the current counts.
func (m *Manager) Status() Status {
	return Status{Open: m.open.Load(), Dialing: m.dialing.Load()}
}

// Instance is one session's TCPSocketFactory. Sockets are tracked
// objects; their ids address Send, Close, Suspend and Resume and tag
// their events.
type Instance struct {
	manager *Manager
	support *service.Support
	logger  *slog.Logger
	sockets *tracker.ObjectTracker[*socket]

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func (m *Manager) newInstance(support *service.Support) *Instance {
	ctx, cancel := context.WithCancel(context.Background())
	return &Instance{
		manager: m,
		support: support,
		logger:  support.Logger().With("service", ServiceName),
		sockets: tracker.NewObjectTracker[*socket](),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// OnRequest implements service.Instance.
func (i *Instance) OnRequest(message *protocol.BaseMessage) {
	if message.IsResponse() {
		return
	}
	var request Request
	if err := service.Decode(message, &request); err != nil {
		i.logger.Warn("dropping undecodable request", "error", err)
		return
	}
	responder := i.support.Responder(message)
	variant := request.variant()

	if variant == "open" {
		if message.Object != 0 {
			i.logger.Warn("dropping open addressed to a socket", "object", message.Object)
			return
		}
		i.open(responder, request.Open)
		return
	}

	target, ok := i.sockets.Get(message.Object)
	if !ok || target == nil {
		i.logger.Debug("dropping request for unknown socket", "object", message.Object, "request", variant)
		return
	}
	switch variant {
	case "send":
		target.send(request.Send.Data, responder)
	case "close":
		target.close(false)
		i.answer(responder, Response{Close: &Result{Success: true}})
	case "suspend":
		target.setSuspended(true)
		i.answer(responder, Response{Suspend: &Result{Success: true}})
	case "resume":
		// Answer first so the response precedes held data.
		i.answer(responder, Response{Resume: &Result{Success: true}})
		target.setSuspended(false)
	default:
		i.logger.Warn("dropping request without a single variant", "object", message.Object)
	}
}

func (i *Instance) open(responder *service.Responder, request *OpenRequest) {
	if request.Host == "" || request.Port <= 0 || request.Port > 65535 {
		i.answer(responder, Response{OpenError: &OpenError{Reason: "invalid address"}})
		return
	}
	address := net.JoinHostPort(request.Host, strconv.Itoa(request.Port))

	m := i.manager
	m.dialing.Add(1)
	m.workers.Go(func() error {
		defer m.dialing.Add(-1)
		ctx, cancel := context.WithTimeout(i.ctx, m.dialTimeout)
		defer cancel()

		conn, err := m.dialer.DialContext(ctx, address)
		if err != nil {
			i.logger.Info("socket connection failed", "address", address, "error", err)
			i.answer(responder, Response{OpenError: &OpenError{Reason: err.Error()}})
			return nil
		}
		i.adopt(conn, address, responder)
		return nil
	})
}

// adopt tracks a connected socket, answers Open with its id and starts
// its goroutines.
func (i *Instance) adopt(conn net.Conn, address string, responder *service.Responder) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		conn.Close()
		i.answer(responder, Response{OpenError: &OpenError{Reason: "instance closed"}})
		return
	}

	// The id is only known once tracked. The placeholder is replaced
	// before the id is revealed to the client.
	id, err := i.sockets.Track(nil)
	if err != nil {
		conn.Close()
		i.answer(responder, Response{OpenError: &OpenError{Reason: err.Error()}})
		return
	}
	opened := newSocket(id, conn, i.support, i.logger)
	i.sockets.Replace(id, opened)

	i.manager.open.Add(1)
	i.logger.Info("socket opened", "socket", id, "address", address)
	i.answer(responder, Response{Open: &OpenResult{Object: id}})
	opened.start(func() {
		i.manager.open.Add(-1)
		i.untrack(id, opened)
	})
}

// untrack forgets id if it still names s.
func (i *Instance) untrack(id uint32, s *socket) {
	if current, ok := i.sockets.Get(id); ok && current == s {
		i.sockets.Remove(id)
	}
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
	if request.Send != nil {
		return fmt.Sprintf("%s send object=%d bytes=%d", ServiceName, message.Object, len(request.Send.Data))
	}
	return fmt.Sprintf("%s %s: %s", ServiceName, request.variant(), service.FormatContent(message))
}

// ReleaseObject closes the socket without a Close event.
func (i *Instance) ReleaseObject(object uint32) bool {
	target, ok := i.sockets.Get(object)
	if !ok || target == nil {
		return false
	}
	i.sockets.Remove(object)
	target.close(true)
	return true
}

// Close closes every socket and abandons pending connection attempts.
func (i *Instance) Close() {
	i.mu.Lock()
	i.closed = true
	i.mu.Unlock()
	i.cancel()
	for _, target := range i.sockets.Clear() {
		if target != nil {
			target.close(true)
		}
	}
}
