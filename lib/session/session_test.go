// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/apidaemon/lib/clock"
	"github.com/bureau-foundation/apidaemon/lib/codec"
	"github.com/bureau-foundation/apidaemon/lib/metrics"
	"github.com/bureau-foundation/apidaemon/lib/origin"
	"github.com/bureau-foundation/apidaemon/lib/outbound"
	"github.com/bureau-foundation/apidaemon/lib/protocol"
	"github.com/bureau-foundation/apidaemon/lib/registry"
	"github.com/bureau-foundation/apidaemon/lib/service"
	"github.com/bureau-foundation/apidaemon/lib/testutil"
	"github.com/bureau-foundation/apidaemon/lib/tokens"
	"github.com/bureau-foundation/apidaemon/lib/tracker"
)

const echoFingerprint = "0f1e2d3c"

type echoRequest struct {
	Text  string        `cbor:"text"`
	Track bool          `cbor:"track,omitempty"`
	Panic bool          `cbor:"panic,omitempty"`
	Delay time.Duration `cbor:"delay,omitempty"`
}

type echoResponse struct {
	Text   string `cbor:"text"`
	Object uint32 `cbor:"object,omitempty"`
}

type echoInstance struct {
	support *service.Support
	clock   *clock.FakeClock
	objects *tracker.ObjectTracker[string]
	events  *service.EventMap
	closed  *atomic.Int32
}

func (e *echoInstance) OnRequest(message *protocol.BaseMessage) {
	if !message.IsRequest() {
		return
	}
	var request echoRequest
	if err := service.Decode(message, &request); err != nil {
		return
	}
	if request.Panic {
		panic("echo asked to panic")
	}
	if request.Delay > 0 {
		e.clock.Advance(request.Delay)
	}
	response := echoResponse{Text: request.Text}
	if request.Track {
		id, err := e.objects.Track(request.Text)
		if err != nil {
			return
		}
		response.Object = id
	}
	_ = e.support.Respond(message, response)
}

func (e *echoInstance) FormatRequest(message *protocol.BaseMessage) string {
	return service.FormatContent(message)
}

func (e *echoInstance) ReleaseObject(object uint32) bool {
	_, ok := e.objects.Remove(object)
	return ok
}

func (e *echoInstance) EnableEvent(object, event uint32) bool  { return e.events.Enable(object, event) }
func (e *echoInstance) DisableEvent(object, event uint32) bool { return e.events.Disable(object, event) }

func (e *echoInstance) Close() { e.closed.Add(1) }

// frameSink is an outbound.FrameWriter delivering frames to a channel.
type frameSink struct {
	frames chan []byte
}

func (f *frameSink) WriteFrame(payload []byte) error {
	f.frames <- append([]byte(nil), payload...)
	return nil
}

func (f *frameSink) Shutdown() error { return nil }

type harness struct {
	t        *testing.T
	session  *Session
	frames   chan []byte
	tokens   *tokens.Manager
	clock    *clock.FakeClock
	metrics  *metrics.Metrics
	closed   *atomic.Int32
	sequence uint64
}

func newHarness(t *testing.T, established *origin.Attributes) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		frames:  make(chan []byte, 64),
		tokens:  tokens.NewManager(),
		clock:   clock.Fake(time.Unix(1_700_000_000, 0)),
		metrics: metrics.New(),
		closed:  &atomic.Int32{},
	}

	services := registry.New(registry.Config{})
	register := func(descriptor service.Descriptor) {
		if err := services.Register(descriptor); err != nil {
			t.Fatalf("Register(%s): %v", descriptor.Name, err)
		}
	}
	register(service.Descriptor{
		Name:        "Echo",
		Fingerprint: echoFingerprint,
		Permission:  "echo",
		Create: func(support *service.Support) (service.Instance, error) {
			return &echoInstance{
				support: support,
				clock:   h.clock,
				objects: tracker.NewObjectTracker[string](),
				events:  service.NewEventMap(),
				closed:  h.closed,
			}, nil
		},
	})
	register(service.Descriptor{
		Name:        "Broken",
		Fingerprint: echoFingerprint,
		Create: func(*service.Support) (service.Instance, error) {
			return nil, errors.New("backing store unavailable")
		},
	})
	register(service.Descriptor{
		Name:        "Refusing",
		Fingerprint: echoFingerprint,
		Create: func(*service.Support) (service.Instance, error) {
			return nil, &service.StatusError{Status: protocol.GetServiceMissingPermission}
		},
	})
	register(service.Descriptor{
		Name:        "Exploding",
		Fingerprint: echoFingerprint,
		Create: func(*service.Support) (service.Instance, error) {
			panic("factory bug")
		},
	})

	queue := outbound.NewQueue(64, nil)
	go queue.Run(&frameSink{frames: h.frames})
	t.Cleanup(queue.Close)

	config := Config{
		ID:            7,
		Registry:      services,
		Tokens:        h.tokens,
		Queue:         queue,
		Transport:     "test",
		SlowThreshold: time.Second,
		Clock:         h.clock,
		Metrics:       h.metrics,
	}
	if established != nil {
		h.session = NewEstablished(config, *established)
	} else {
		h.session = New(config)
	}
	return h
}

func (h *harness) next() []byte {
	h.t.Helper()
	return testutil.RequireReceive(h.t, h.frames, 5*time.Second, "waiting for outbound frame")
}

func (h *harness) nextMessage() protocol.BaseMessage {
	h.t.Helper()
	message, err := protocol.DecodeBaseMessage(h.next())
	if err != nil {
		h.t.Fatalf("decoding outbound message: %v", err)
	}
	return message
}

func (h *harness) send(service, object uint32, content any) uint64 {
	h.t.Helper()
	h.sequence += 2
	sequence := h.sequence + 1
	message := protocol.NewRequest(service, object, sequence, codec.MustMarshal(content))
	data, err := message.Encode()
	if err != nil {
		h.t.Fatalf("encoding request: %v", err)
	}
	if err := h.session.OnMessage(data); err != nil {
		h.t.Fatalf("OnMessage: %v", err)
	}
	return sequence
}

func (h *harness) core(request protocol.CoreRequest) protocol.CoreResponse {
	h.t.Helper()
	sequence := h.send(protocol.CoreService, 0, request)
	reply := h.nextMessage()
	if reply.Kind.Type != protocol.KindResponse || reply.Response() != sequence || reply.Service != 0 {
		h.t.Fatalf("core reply = %+v, want response to sequence %d", reply, sequence)
	}
	var response protocol.CoreResponse
	if err := codec.Unmarshal(reply.Content, &response); err != nil {
		h.t.Fatalf("decoding core response: %v", err)
	}
	return response
}

func (h *harness) getService(name, fingerprint string) protocol.GetServiceResponse {
	h.t.Helper()
	response := h.core(protocol.CoreRequest{GetService: &protocol.GetServiceRequest{Name: name, Fingerprint: fingerprint}})
	if response.GetService == nil {
		h.t.Fatalf("GetService response missing: %+v", response)
	}
	return *response.GetService
}

func (h *harness) hasService(name string) bool {
	h.t.Helper()
	response := h.core(protocol.CoreRequest{HasService: &protocol.HasServiceRequest{Name: name}})
	if response.HasService == nil {
		h.t.Fatalf("HasService response missing: %+v", response)
	}
	return response.HasService.Success
}

func (h *harness) release(service, object uint32) bool {
	h.t.Helper()
	response := h.core(protocol.CoreRequest{ReleaseObject: &protocol.ReleaseObjectRequest{Service: service, Object: object}})
	if response.ReleaseObject == nil {
		h.t.Fatalf("ReleaseObject response missing: %+v", response)
	}
	return response.ReleaseObject.Success
}

func (h *harness) echo(service uint32, request echoRequest) echoResponse {
	h.t.Helper()
	sequence := h.send(service, 0, request)
	reply := h.nextMessage()
	if reply.Response() != sequence || reply.Service != service {
		h.t.Fatalf("echo reply = %+v, want service %d sequence %d", reply, service, sequence)
	}
	var response echoResponse
	if err := codec.Unmarshal(reply.Content, &response); err != nil {
		h.t.Fatalf("decoding echo response: %v", err)
	}
	return response
}

func privileged() *origin.Attributes {
	attributes := origin.UnixSocket()
	return &attributes
}

func TestHandshakeConsumesToken(t *testing.T) {
	h := newHarness(t, nil)
	h.tokens.Register("token-a", origin.New("app://calendar", "echo"))

	if err := h.session.OnMessage(codec.MustMarshal(protocol.Handshake{Token: "token-a"})); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	var ack protocol.HandshakeAck
	if err := codec.Unmarshal(h.next(), &ack); err != nil || !ack.Success {
		t.Fatalf("ack = %+v, %v; want success", ack, err)
	}
	if h.session.State() != Established {
		t.Errorf("State = %v", h.session.State())
	}
	if h.session.Origin().Identity != "app://calendar" {
		t.Errorf("Origin = %+v", h.session.Origin())
	}
	if h.tokens.Len() != 0 {
		t.Errorf("token still registered")
	}

	// The same token cannot establish a second session.
	replay := newHarness(t, nil)
	replay.tokens = h.tokens
	replay.session.config.Tokens = h.tokens
	err := replay.session.OnMessage(codec.MustMarshal(protocol.Handshake{Token: "token-a"}))
	if !errors.Is(err, ErrHandshakeFailed) {
		t.Fatalf("replayed handshake error = %v, want ErrHandshakeFailed", err)
	}
	if err := codec.Unmarshal(replay.next(), &ack); err != nil || ack.Success {
		t.Fatalf("replay ack = %+v, %v; want failure", ack, err)
	}
	if replay.session.State() != Handshaking {
		t.Errorf("replay State = %v", replay.session.State())
	}
}

func TestHandshakeRejectsGarbage(t *testing.T) {
	h := newHarness(t, nil)
	err := h.session.OnMessage([]byte{0xff, 0x00, 0x13})
	if !errors.Is(err, ErrHandshakeFailed) {
		t.Fatalf("error = %v, want ErrHandshakeFailed", err)
	}
	var ack protocol.HandshakeAck
	if err := codec.Unmarshal(h.next(), &ack); err != nil || ack.Success {
		t.Fatalf("ack = %+v, %v", ack, err)
	}
}

func TestMalformedBaseMessageEndsSession(t *testing.T) {
	h := newHarness(t, privileged())
	err := h.session.OnMessage(codec.MustMarshal(map[string]any{"service": "not a number"}))
	if !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("error = %v, want ErrMalformedMessage", err)
	}
}

func TestHasService(t *testing.T) {
	h := newHarness(t, privileged())
	if !h.hasService("Echo") {
		t.Error("HasService(Echo) = false")
	}
	if h.hasService("Nonexistent") {
		t.Error("HasService(Nonexistent) = true")
	}
}

func TestGetServiceStatuses(t *testing.T) {
	limited := origin.New("app://limited")
	tests := []struct {
		name        string
		origin      *origin.Attributes
		service     string
		fingerprint string
		want        protocol.GetServiceStatus
	}{
		{"success", privileged(), "Echo", echoFingerprint, protocol.GetServiceSuccess},
		{"unknown", privileged(), "Nonexistent", echoFingerprint, protocol.GetServiceUnknownService},
		{"fingerprint", privileged(), "Echo", "deadbeef", protocol.GetServiceFingerprintMismatch},
		{"permission", &limited, "Echo", echoFingerprint, protocol.GetServiceMissingPermission},
		{"factory error", privileged(), "Broken", echoFingerprint, protocol.GetServiceInternalError},
		{"factory status", privileged(), "Refusing", echoFingerprint, protocol.GetServiceMissingPermission},
		{"factory panic", privileged(), "Exploding", echoFingerprint, protocol.GetServiceInternalError},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			h := newHarness(t, test.origin)
			response := h.getService(test.service, test.fingerprint)
			if response.Status != test.want {
				t.Fatalf("status = %v, want %v", response.Status, test.want)
			}
			if test.want == protocol.GetServiceSuccess && response.ID != 1 {
				t.Errorf("first service id = %d, want 1", response.ID)
			}
			if test.want != protocol.GetServiceSuccess && h.session.ServiceCount() != 0 {
				t.Errorf("failed GetService left %d instances", h.session.ServiceCount())
			}
		})
	}
}

func TestServiceIDsAreDistinct(t *testing.T) {
	h := newHarness(t, privileged())
	first := h.getService("Echo", echoFingerprint).ID
	second := h.getService("Echo", echoFingerprint).ID
	if first == second || first == 0 || second == 0 {
		t.Fatalf("service ids %d and %d", first, second)
	}
	if got := h.echo(second, echoRequest{Text: "to second"}); got.Text != "to second" {
		t.Errorf("echo = %+v", got)
	}
}

func TestRequestRoutingAndObjectRelease(t *testing.T) {
	h := newHarness(t, privileged())
	id := h.getService("Echo", echoFingerprint).ID

	tracked := h.echo(id, echoRequest{Text: "keep me", Track: true})
	if tracked.Object == 0 {
		t.Fatalf("tracked object id = 0")
	}
	if !h.release(id, tracked.Object) {
		t.Error("first ReleaseObject = false")
	}
	if h.release(id, tracked.Object) {
		t.Error("second ReleaseObject = true")
	}
	if h.release(99, 1) {
		t.Error("ReleaseObject on unknown service = true")
	}
}

func TestReleaseServiceInstance(t *testing.T) {
	h := newHarness(t, privileged())
	id := h.getService("Echo", echoFingerprint).ID

	if !h.release(id, 0) {
		t.Fatal("releasing the instance failed")
	}
	if h.closed.Load() != 1 {
		t.Errorf("Close called %d times", h.closed.Load())
	}

	// Requests to the released id are dropped; the next frame is the
	// HasService answer.
	h.send(id, 0, echoRequest{Text: "nobody home"})
	if !h.hasService("Echo") {
		t.Error("HasService(Echo) = false")
	}
	if next := h.getService("Echo", echoFingerprint).ID; next == id {
		t.Errorf("released id %d reissued immediately", id)
	}
}

func TestEventToggles(t *testing.T) {
	h := newHarness(t, privileged())
	id := h.getService("Echo", echoFingerprint).ID
	toggle := func(enable bool) bool {
		request := &protocol.EventRequest{Service: id, Object: 0, Event: 3}
		if enable {
			return h.core(protocol.CoreRequest{EnableEvent: request}).EnableEvent.Success
		}
		return h.core(protocol.CoreRequest{DisableEvent: request}).DisableEvent.Success
	}
	if !toggle(true) {
		t.Error("first enable = false")
	}
	if toggle(true) {
		t.Error("second enable = true")
	}
	if !toggle(false) {
		t.Error("disable = false")
	}
}

func TestServicePanicKeepsSession(t *testing.T) {
	h := newHarness(t, privileged())
	id := h.getService("Echo", echoFingerprint).ID
	h.send(id, 0, echoRequest{Panic: true})
	if got := h.echo(id, echoRequest{Text: "still here"}); got.Text != "still here" {
		t.Errorf("echo after panic = %+v", got)
	}
}

func TestUndecodableCoreRequestDropped(t *testing.T) {
	h := newHarness(t, privileged())
	h.send(protocol.CoreService, 0, "not a core request")
	h.send(protocol.CoreService, 0, protocol.CoreRequest{})
	if !h.hasService("Echo") {
		t.Error("session stopped answering after bad core requests")
	}
}

func TestSlowMessageCounted(t *testing.T) {
	h := newHarness(t, privileged())
	id := h.getService("Echo", echoFingerprint).ID
	h.echo(id, echoRequest{Text: "fast"})
	h.echo(id, echoRequest{Text: "slow", Delay: 3 * time.Second})

	families, err := h.metrics.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var slow float64
	for _, family := range families {
		if family.GetName() != "apidaemon_slow_requests_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			slow += metric.GetCounter().GetValue()
		}
	}
	if slow != 1 {
		t.Errorf("slow requests = %v, want 1", slow)
	}
}

func TestCloseDropsInstances(t *testing.T) {
	h := newHarness(t, privileged())
	h.getService("Echo", echoFingerprint)
	h.getService("Echo", echoFingerprint)

	h.session.Close()
	h.session.Close()
	if h.closed.Load() != 2 {
		t.Errorf("instances closed %d times, want 2", h.closed.Load())
	}
	if h.session.ServiceCount() != 0 {
		t.Errorf("ServiceCount = %d", h.session.ServiceCount())
	}
	if err := h.session.OnMessage(nil); !errors.Is(err, ErrClosed) {
		t.Errorf("OnMessage after Close = %v", err)
	}
}
