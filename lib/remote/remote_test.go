// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/apidaemon/lib/codec"
	"github.com/bureau-foundation/apidaemon/lib/frame"
	"github.com/bureau-foundation/apidaemon/lib/origin"
	"github.com/bureau-foundation/apidaemon/lib/outbound"
	"github.com/bureau-foundation/apidaemon/lib/protocol"
	"github.com/bureau-foundation/apidaemon/lib/registry"
	"github.com/bureau-foundation/apidaemon/lib/service"
	"github.com/bureau-foundation/apidaemon/lib/testutil"
	"github.com/bureau-foundation/apidaemon/lib/tracker"
)

const echoFingerprint = "e1e2e3e4"

type echoText struct {
	Text string `cbor:"text"`
}

type echoInstance struct {
	support *service.Support
	events  *service.EventMap
	closed  chan<- tracker.SessionTrackerID
}

func (e *echoInstance) OnRequest(message *protocol.BaseMessage) {
	var request echoText
	if err := service.Decode(message, &request); err != nil {
		return
	}
	e.support.Respond(message, request)
}

func (e *echoInstance) FormatRequest(message *protocol.BaseMessage) string {
	return service.FormatContent(message)
}

func (e *echoInstance) ReleaseObject(object uint32) bool { return object == 5 }

func (e *echoInstance) EnableEvent(object, event uint32) bool  { return e.events.Enable(object, event) }
func (e *echoInstance) DisableEvent(object, event uint32) bool { return e.events.Disable(object, event) }

func (e *echoInstance) Close() { e.closed <- e.support.ID() }

func echoRegistry(t *testing.T, closed chan<- tracker.SessionTrackerID) *registry.Registry {
	t.Helper()
	reg := registry.New(registry.Config{})
	err := reg.Register(service.Descriptor{
		Name:        "Echo",
		Fingerprint: echoFingerprint,
		Permission:  "echo",
		Create: func(support *service.Support) (service.Instance, error) {
			return &echoInstance{support: support, events: service.NewEventMap(), closed: closed}, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

// fakeChild is an in-process child daemon on one end of a net.Pipe.
type fakeChild struct {
	conn   net.Conn
	exited chan struct{}
	code   int
	once   sync.Once
}

func (c *fakeChild) exit(code int) {
	c.once.Do(func() {
		c.code = code
		close(c.exited)
	})
}

type frameSink struct {
	frames   chan []byte
	shutdown chan struct{}
	once     sync.Once
}

func newFrameSink() *frameSink {
	return &frameSink{frames: make(chan []byte, 64), shutdown: make(chan struct{})}
}

func (s *frameSink) WriteFrame(data []byte) error {
	s.frames <- append([]byte(nil), data...)
	return nil
}

func (s *frameSink) Shutdown() error {
	s.once.Do(func() { close(s.shutdown) })
	return nil
}

type nopSender struct{}

func (nopSender) Send(protocol.BaseMessage) bool { return true }

type harness struct {
	manager  *Manager
	sink     *frameSink
	written  <-chan error
	children chan *fakeChild
	closed   chan tracker.SessionTrackerID
	spawns   atomic.Int32
}

// newHarness builds a manager whose children run ServeChild in
// process (serve) or only drain the link (!serve). Session 1 is
// connected.
func newHarness(t *testing.T, serve bool, callTimeout time.Duration) *harness {
	t.Helper()
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "Echo"), 0o755); err != nil {
		t.Fatal(err)
	}
	registrar, err := NewRegistrar(filepath.Join(t.TempDir(), "services.yaml"), root, nil)
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{
		sink:     newFrameSink(),
		children: make(chan *fakeChild, 8),
		closed:   make(chan tracker.SessionTrackerID, 8),
	}
	childRegistry := echoRegistry(t, h.closed)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	group := outbound.NewGroup()
	queue := outbound.NewQueue(16, nil)
	written := make(chan error, 1)
	go func() { written <- queue.Run(h.sink) }()
	h.written = written
	group.Add(1, queue)
	t.Cleanup(queue.Close)

	spawn := func(name string) (*Child, error) {
		parentEnd, childEnd := net.Pipe()
		child := &fakeChild{conn: childEnd, exited: make(chan struct{})}
		if serve {
			go ServeChild(ctx, childEnd, childRegistry, nil)
		} else {
			go io.Copy(io.Discard, childEnd)
		}
		t.Cleanup(func() {
			child.exit(0)
			childEnd.Close()
		})
		pid := 4000 + int(h.spawns.Add(1))
		h.children <- child
		return &Child{
			Conn: parentEnd,
			PID:  pid,
			Wait: func() int { <-child.exited; return child.code },
			Kill: func() error { child.exit(-109); return nil },
		}, nil
	}

	h.manager = NewManager(Config{
		Registrar:   registrar,
		Connections: group,
		Spawn:       spawn,
		CallTimeout: callTimeout,
	})
	return h
}

func supportFor(id tracker.SessionTrackerID, attributes origin.Attributes) *service.Support {
	return service.NewSupport(id, attributes, nopSender{}, tracker.NewServerSequence(), nil)
}

func TestRemoteInstanceRoundTrip(t *testing.T) {
	h := newHarness(t, true, 5*time.Second)
	id := tracker.SessionTrackerID{Session: 1, Service: 3}

	if !h.manager.Available("Echo") || h.manager.Available("Missing") {
		t.Fatal("availability does not follow the registrar")
	}
	instance, err := h.manager.Factory("Echo", echoFingerprint)(supportFor(id, origin.New("app://test", "echo")))
	if err != nil {
		t.Fatalf("creating remote instance: %v", err)
	}

	request := protocol.NewRequest(3, 0, 11, codec.MustMarshal(echoText{Text: "hi"}))
	instance.OnRequest(&request)
	data := testutil.RequireReceive(t, h.sink.frames, 5*time.Second, "relayed response")
	response, err := protocol.DecodeBaseMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	var answer echoText
	if err := codec.Unmarshal(response.Content, &answer); err != nil {
		t.Fatal(err)
	}
	if response.Response() != 11 || response.Service != 3 || answer.Text != "hi" {
		t.Errorf("response = %+v, content %+v", response, answer)
	}

	if !instance.ReleaseObject(5) || instance.ReleaseObject(6) {
		t.Error("ReleaseObject results not relayed")
	}
	events := instance.(service.EventSource)
	if !events.EnableEvent(0, 1) || events.EnableEvent(0, 1) {
		t.Error("EnableEvent results not relayed")
	}
	if !events.DisableEvent(0, 1) {
		t.Error("DisableEvent result not relayed")
	}

	instance.Close()
	if released := testutil.RequireReceive(t, h.closed, 5*time.Second, "child instance close"); released != id {
		t.Errorf("released %v, want %v", released, id)
	}
	if h.spawns.Load() != 1 {
		t.Errorf("spawned %d children, want 1", h.spawns.Load())
	}
}

func TestRemoteCreateRefused(t *testing.T) {
	h := newHarness(t, true, 5*time.Second)
	tests := []struct {
		name        string
		fingerprint string
		attributes  origin.Attributes
		want        protocol.GetServiceStatus
	}{
		{"fingerprint", "00000000", origin.New("app://test", "echo"), protocol.GetServiceFingerprintMismatch},
		{"permission", echoFingerprint, origin.New("app://test"), protocol.GetServiceMissingPermission},
	}
	for i, test := range tests {
		id := tracker.SessionTrackerID{Session: 1, Service: uint32(10 + i)}
		_, err := h.manager.Factory("Echo", test.fingerprint)(supportFor(id, test.attributes))
		var statusError *service.StatusError
		if !errors.As(err, &statusError) || statusError.Status != test.want {
			t.Errorf("%s: error = %v, want status %v", test.name, err, test.want)
		}
	}
	if h.spawns.Load() != 1 {
		t.Errorf("spawned %d children, want 1", h.spawns.Load())
	}
}

func TestChildExitNotifiesSessions(t *testing.T) {
	h := newHarness(t, true, 5*time.Second)
	id := tracker.SessionTrackerID{Session: 1, Service: 1}
	factory := h.manager.Factory("Echo", echoFingerprint)
	instance, err := factory(supportFor(id, origin.UnixSocket()))
	if err != nil {
		t.Fatal(err)
	}
	child := testutil.RequireReceive(t, h.children, time.Second, "spawned child")
	if pid := h.manager.Running()["Echo"]; pid != 4001 {
		t.Errorf("Running pid = %d", pid)
	}

	child.exit(3)
	testutil.RequireClosed(t, h.sink.shutdown, 5*time.Second, "connection shutdown after crash")
	if err := testutil.RequireReceive(t, h.written, 5*time.Second, "writer exit"); err != nil {
		t.Errorf("writer: %v", err)
	}
	if len(h.manager.Running()) != 0 {
		t.Errorf("Running = %v after exit", h.manager.Running())
	}
	if instance.ReleaseObject(5) {
		t.Error("ReleaseObject succeeded on a dead child")
	}

	if _, err := factory(supportFor(tracker.SessionTrackerID{Session: 1, Service: 2}, origin.UnixSocket())); err != nil {
		t.Fatalf("creating after respawn: %v", err)
	}
	if h.spawns.Load() != 2 {
		t.Errorf("spawned %d children, want 2", h.spawns.Load())
	}
}

func TestUndecodableChildMessageKillsChild(t *testing.T) {
	h := newHarness(t, false, 5*time.Second)
	if _, err := h.manager.ensure("Echo"); err != nil {
		t.Fatal(err)
	}
	child := testutil.RequireReceive(t, h.children, time.Second, "spawned child")

	if err := frame.Write(child.conn, []byte{0xff}); err != nil {
		t.Fatalf("writing garbage: %v", err)
	}
	testutil.RequireClosed(t, child.exited, 5*time.Second, "child killed")
	if child.code != -109 {
		t.Errorf("exit code = %d, want -109", child.code)
	}
}

func TestCallTimesOut(t *testing.T) {
	h := newHarness(t, false, 50*time.Millisecond)
	_, err := h.manager.Factory("Echo", echoFingerprint)(supportFor(tracker.SessionTrackerID{Session: 1, Service: 1}, origin.UnixSocket()))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
}

func TestServeChildStopsOnCancel(t *testing.T) {
	closed := make(chan tracker.SessionTrackerID, 1)
	parentEnd, childEnd := net.Pipe()
	defer parentEnd.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- ServeChild(ctx, childEnd, echoRegistry(t, closed), nil) }()

	parent := newLink(parentEnd)
	id := tracker.SessionTrackerID{Session: 2, Service: 7}
	create := ParentToChild{CreateService: &CreateService{
		Call: 1, Name: "Echo", Fingerprint: echoFingerprint, Tracker: id, Origin: origin.UnixSocket(),
	}}
	if err := parent.send(create); err != nil {
		t.Fatal(err)
	}
	var reply ChildToParent
	if err := parent.receive(&reply); err != nil {
		t.Fatal(err)
	}
	if reply.Created == nil || reply.Created.Call != 1 || reply.Created.Response.ID != 7 {
		t.Fatalf("reply = %+v", reply)
	}

	// A second create for the same tracker id is refused.
	create.CreateService.Call = 2
	parent.send(create)
	reply = ChildToParent{}
	if err := parent.receive(&reply); err != nil {
		t.Fatal(err)
	}
	if reply.Created == nil || reply.Created.Response.Status != protocol.GetServiceInternalError {
		t.Errorf("duplicate create reply = %+v", reply.Created)
	}

	cancel()
	reply = ChildToParent{}
	if err := parent.receive(&reply); err != nil {
		t.Fatal(err)
	}
	if reply.Stop == nil {
		t.Errorf("reply after cancel = %+v, want stop", reply)
	}
	if err := testutil.RequireReceive(t, served, 5*time.Second, "ServeChild return"); err != nil {
		t.Errorf("ServeChild: %v", err)
	}
	if released := testutil.RequireReceive(t, closed, time.Second, "instance close"); released != id {
		t.Errorf("closed %v", released)
	}
}

func TestMessageVariants(t *testing.T) {
	if err := (&ParentToChild{}).validate(); !errors.Is(err, errNoVariant) {
		t.Errorf("empty parent message: %v", err)
	}
	both := ChildToParent{Stop: &struct{}{}, Packet: &Packet{}}
	if err := both.validate(); err == nil {
		t.Error("two variants accepted")
	}
	data := codec.MustMarshal(ChildToParent{ObjectReleased: &Result{Call: 9, Success: true}})
	var decoded ChildToParent
	if err := codec.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if call, ok := decoded.call(); !ok || call != 9 {
		t.Errorf("call = %d, %v", call, ok)
	}
}
