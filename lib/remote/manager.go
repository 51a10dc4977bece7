// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/apidaemon/lib/metrics"
	"github.com/bureau-foundation/apidaemon/lib/netutil"
	"github.com/bureau-foundation/apidaemon/lib/outbound"
	"github.com/bureau-foundation/apidaemon/lib/protocol"
	"github.com/bureau-foundation/apidaemon/lib/registry"
	"github.com/bureau-foundation/apidaemon/lib/service"
	"github.com/bureau-foundation/apidaemon/lib/systemstate"
)

// ErrChildGone is returned by calls whose child daemon exited or was
// killed before answering.
var ErrChildGone = errors.New("remote: child daemon gone")

// DefaultCallTimeout bounds how long a session waits for a child reply.
const DefaultCallTimeout = 10 * time.Second

// Config configures a Manager.
type Config struct {
	Registrar *Registrar

	// Checker hides services the running system may not host. Nil
	// allows every installed service.
	Checker *systemstate.Checker

	// Connections receives packets and crash notifications.
	Connections *outbound.Group

	// Spawn starts a child. Defaults to an ExecSpawner.
	Spawn SpawnFunc

	CallTimeout time.Duration

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Manager owns the child daemons. It is safe for concurrent use.
type Manager struct {
	config Config
	logger *slog.Logger
	calls  atomic.Uint64

	mu       sync.Mutex
	children map[string]*child
}

// child is one running child daemon.
type child struct {
	name   string
	pid    int
	link   *link
	kill   func() error
	gone   chan struct{}
	logger *slog.Logger

	mu      sync.Mutex
	pending map[uint64]chan ChildToParent
}

var _ registry.Remote = (*Manager)(nil)

// NewManager creates a manager. No child is started until a session
// asks for a remote service.
func NewManager(config Config) *Manager {
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.Connections == nil {
		config.Connections = outbound.NewGroup()
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultCallTimeout
	}
	if config.Spawn == nil {
		spawner := &ExecSpawner{Registrar: config.Registrar, Logger: config.Logger}
		config.Spawn = spawner.Spawn
	}
	return &Manager{
		config:   config,
		logger:   config.Logger,
		children: make(map[string]*child),
	}
}

// Available implements registry.Remote.
func (m *Manager) Available(name string) bool {
	if !m.config.Registrar.Has(name) {
		return false
	}
	return m.config.Checker == nil || m.config.Checker.Allowed(name)
}

// Names implements registry.Remote.
func (m *Manager) Names() []string {
	var names []string
	for _, name := range m.config.Registrar.Names() {
		if m.Available(name) {
			names = append(names, name)
		}
	}
	return names
}

// Factory implements registry.Remote. The instance is created in the
// child, which answers with the GetService outcome.
func (m *Manager) Factory(name, fingerprint string) service.Factory {
	return func(support *service.Support) (service.Instance, error) {
		running, err := m.ensure(name)
		if err != nil {
			return nil, err
		}
		id := support.ID()
		reply, err := m.call(running, func(call uint64) ParentToChild {
			return ParentToChild{CreateService: &CreateService{
				Call:        call,
				Name:        name,
				Fingerprint: fingerprint,
				Tracker:     id,
				Origin:      support.Origin(),
			}}
		})
		if err != nil {
			return nil, fmt.Errorf("creating remote service %q: %w", name, err)
		}
		if reply.Created == nil {
			return nil, fmt.Errorf("creating remote service %q: unexpected reply", name)
		}
		response := reply.Created.Response
		if response.Status != protocol.GetServiceSuccess {
			return nil, &service.StatusError{Status: response.Status, Detail: response.Detail}
		}
		return &Instance{
			manager: m,
			child:   running,
			name:    name,
			id:      id,
			logger:  support.Logger(),
		}, nil
	}
}

// Running returns the pid of each running child by service name.
func (m *Manager) Running() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	running := make(map[string]int, len(m.children))
	for name, child := range m.children {
		running[name] = child.pid
	}
	return running
}

// Shutdown kills every child. Their watchdogs report the exits as
// usual.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	children := make([]*child, 0, len(m.children))
	for _, child := range m.children {
		children = append(children, child)
	}
	m.mu.Unlock()
	for _, child := range children {
		if err := child.kill(); err != nil {
			child.logger.Debug("killing child daemon", "error", err)
		}
	}
}

// ensure returns the running child for name, spawning it if needed.
func (m *Manager) ensure(name string) (*child, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if running, ok := m.children[name]; ok {
		return running, nil
	}

	spawned, err := m.config.Spawn(name)
	if err != nil {
		m.logger.Error("spawning child daemon", "service", name, "error", err)
		return nil, fmt.Errorf("spawning child daemon for %q: %w", name, err)
	}
	running := &child{
		name:    name,
		pid:     spawned.PID,
		link:    newLink(spawned.Conn),
		kill:    spawned.Kill,
		gone:    make(chan struct{}),
		logger:  m.logger.With("service", name, "pid", spawned.PID),
		pending: make(map[uint64]chan ChildToParent),
	}
	m.children[name] = running
	running.logger.Info("child daemon started")

	go m.readLoop(running)
	go m.watchdog(running, spawned.Wait)
	return running, nil
}

// call sends the message built for a fresh call id and waits for the
// child's reply.
func (m *Manager) call(target *child, build func(call uint64) ParentToChild) (ChildToParent, error) {
	call := m.calls.Add(1)
	reply := make(chan ChildToParent, 1)

	target.mu.Lock()
	target.pending[call] = reply
	target.mu.Unlock()
	defer func() {
		target.mu.Lock()
		delete(target.pending, call)
		target.mu.Unlock()
	}()

	if err := target.link.send(build(call)); err != nil {
		return ChildToParent{}, fmt.Errorf("sending to child daemon: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.config.CallTimeout)
	defer cancel()
	select {
	case message := <-reply:
		return message, nil
	case <-target.gone:
		return ChildToParent{}, ErrChildGone
	case <-ctx.Done():
		return ChildToParent{}, fmt.Errorf("waiting for child daemon: %w", ctx.Err())
	}
}

// send delivers a message that has no reply.
func (m *Manager) send(target *child, message ParentToChild) error {
	select {
	case <-target.gone:
		return ErrChildGone
	default:
	}
	return target.link.send(message)
}

func (m *Manager) readLoop(running *child) {
	for {
		var message ChildToParent
		if err := running.link.receive(&message); err != nil {
			var decodeErr *decodeError
			if errors.As(err, &decodeErr) {
				running.logger.Error("killing child daemon after undecodable message", "error", err)
				if killErr := running.kill(); killErr != nil {
					running.logger.Warn("killing child daemon", "error", killErr)
				}
			} else if !netutil.IsExpectedCloseError(err) {
				running.logger.Info("child link read failed", "error", err)
			}
			return
		}

		switch {
		case message.Packet != nil:
			if !m.config.Connections.SendData(message.Packet.Tracker, message.Packet.Payload) {
				running.logger.Debug("dropping packet for closed session", "tracker", message.Packet.Tracker)
			}
		case message.Stop != nil:
			running.logger.Info("child daemon stopping")
			return
		default:
			call, _ := message.call()
			running.mu.Lock()
			reply, ok := running.pending[call]
			running.mu.Unlock()
			if !ok {
				running.logger.Warn("dropping reply to unknown call", "call", call)
				continue
			}
			select {
			case reply <- message:
			default:
				running.logger.Warn("dropping duplicate reply", "call", call)
			}
		}
	}
}

// watchdog reaps the child and tears down everything that depended on
// it.
func (m *Manager) watchdog(running *child, wait func() int) {
	code := wait()

	m.mu.Lock()
	if m.children[running.name] == running {
		delete(m.children, running.name)
	}
	m.mu.Unlock()

	close(running.gone)
	running.link.close()

	crash := outbound.Crash{Service: running.name, ExitCode: code, PID: running.pid}
	notified := m.config.Connections.Crash(m.config.Connections.Sessions(), crash)
	m.config.Metrics.ChildDaemonCrashed(running.name)
	running.logger.Error("child daemon exited", "exit_code", code, "sessions_notified", notified)
}
