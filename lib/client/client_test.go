// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/bureau-foundation/apidaemon/lib/codec"
	"github.com/bureau-foundation/apidaemon/lib/frame"
	"github.com/bureau-foundation/apidaemon/lib/protocol"
	"github.com/bureau-foundation/apidaemon/lib/testutil"
)

func readMessage(t *testing.T, conn net.Conn) protocol.BaseMessage {
	t.Helper()
	data, err := frame.Read(conn)
	if err != nil {
		t.Errorf("server read: %v", err)
		return protocol.BaseMessage{}
	}
	message, err := protocol.DecodeBaseMessage(data)
	if err != nil {
		t.Errorf("server decode: %v", err)
	}
	return message
}

func writeMessage(t *testing.T, conn net.Conn, message protocol.BaseMessage) {
	t.Helper()
	data, err := message.Encode()
	if err != nil {
		t.Errorf("server encode: %v", err)
		return
	}
	if err := frame.Write(conn, data); err != nil {
		t.Errorf("server write: %v", err)
	}
}

func TestCallsCorrelateOutOfOrder(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	c := New(NewStreamConn(clientSide), nil)
	t.Cleanup(func() { c.Close() })

	go func() {
		first := readMessage(t, serverSide)
		second := readMessage(t, serverSide)
		echo := func(request protocol.BaseMessage) protocol.BaseMessage {
			var label string
			codec.Unmarshal(request.Content, &label)
			return request.Reply(codec.MustMarshal(label))
		}
		writeMessage(t, serverSide, echo(second))
		writeMessage(t, serverSide, protocol.NewEvent(3, 4, codec.MustMarshal("tick")))
		writeMessage(t, serverSide, echo(first))
	}()

	type outcome struct {
		text string
		err  error
	}
	results := make(chan outcome, 2)
	call := func(label string) {
		var text string
		err := c.Invoke(context.Background(), 3, 0, label, &text)
		results <- outcome{text, err}
	}
	// Whichever request arrives second is answered first.
	go call("first")
	go call("second")

	seen := map[string]bool{}
	for range 2 {
		result := testutil.RequireReceive(t, results, 5*time.Second, "call result")
		if result.err != nil {
			t.Fatalf("Invoke: %v", result.err)
		}
		seen[result.text] = true
	}
	if !seen["first"] || !seen["second"] {
		t.Errorf("results = %v", seen)
	}

	event := testutil.RequireReceive(t, c.Incoming(), 5*time.Second, "event")
	if event.Kind.Type != protocol.KindEvent || event.Service != 3 || event.Object != 4 {
		t.Errorf("event = %+v", event)
	}
}

func TestSequencesAreOdd(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	c := New(NewStreamConn(clientSide), nil)
	t.Cleanup(func() { c.Close() })

	sequences := make(chan uint64, 3)
	go func() {
		for range 3 {
			request := readMessage(t, serverSide)
			sequences <- request.Kind.Sequence
			writeMessage(t, serverSide, request.Reply(codec.MustMarshal(true)))
		}
	}()
	for range 3 {
		if _, err := c.Call(context.Background(), 1, 0, "ping"); err != nil {
			t.Fatalf("Call: %v", err)
		}
		if sequence := testutil.RequireReceive(t, sequences, 5*time.Second, "sequence"); sequence%2 != 1 {
			t.Errorf("sequence %d is even", sequence)
		}
	}
}

func TestPermissionErrorSurfaced(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	c := New(NewStreamConn(clientSide), nil)
	t.Cleanup(func() { c.Close() })

	go func() {
		request := readMessage(t, serverSide)
		writeMessage(t, serverSide, request.PermissionDenied("settings:write", "read-only origin"))
	}()
	err := c.Invoke(context.Background(), 2, 0, "set", nil)
	var permissionError *PermissionError
	if !errors.As(err, &permissionError) || permissionError.Permission != "settings:write" {
		t.Fatalf("Invoke error = %v, want PermissionError", err)
	}
}

func TestConnectionLossReleasesCallers(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	c := New(NewStreamConn(clientSide), nil)

	go func() {
		readMessage(t, serverSide)
		serverSide.Close()
	}()
	_, err := c.Call(context.Background(), 1, 0, "never answered")
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("Call error = %v, want ErrClosed", err)
	}
	testutil.RequireClosed(t, c.Done(), 5*time.Second, "client done")
	if _, err := c.Call(context.Background(), 1, 0, "after close"); !errors.Is(err, ErrClosed) {
		t.Errorf("Call after close = %v", err)
	}
}

func TestHandshake(t *testing.T) {
	for _, accepted := range []bool{true, false} {
		clientSide, serverSide := net.Pipe()
		go func() {
			data, err := frame.Read(serverSide)
			if err != nil {
				t.Errorf("server read: %v", err)
				return
			}
			var request protocol.Handshake
			if err := codec.Unmarshal(data, &request); err != nil || request.Token != "hunter2" {
				t.Errorf("handshake = %+v, %v", request, err)
			}
			frame.Write(serverSide, codec.MustMarshal(protocol.HandshakeAck{Success: accepted}))
		}()
		err := Handshake(NewStreamConn(clientSide), "hunter2")
		if accepted && err != nil {
			t.Errorf("accepted handshake: %v", err)
		}
		if !accepted && !errors.Is(err, ErrHandshakeRejected) {
			t.Errorf("rejected handshake error = %v", err)
		}
		clientSide.Close()
		serverSide.Close()
	}
}
