// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !no_settings && !no_tcpsocket

package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"slices"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/apidaemon/lib/client"
	"github.com/bureau-foundation/apidaemon/lib/config"
	"github.com/bureau-foundation/apidaemon/lib/protocol"
	"github.com/bureau-foundation/apidaemon/lib/testutil"
	"github.com/bureau-foundation/apidaemon/services/settings"
	"github.com/bureau-foundation/apidaemon/services/tcpsocket"
	"github.com/bureau-foundation/apidaemon/transport"
)

const testRuntimeToken = "runtime-secret"

type running struct {
	daemon *daemon
	done   chan error
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	directory := t.TempDir()
	cfg := config.Default()
	cfg.General.Host = "127.0.0.1"
	cfg.General.Port = 0
	cfg.General.SocketPath = filepath.Join(testutil.SocketDir(t), "api-daemon.sock")
	cfg.General.RemoteServicesPath = ""
	cfg.Settings.DatabasePath = filepath.Join(directory, "settings", "settings.sqlite")
	return cfg
}

func startTestDaemon(t *testing.T, cfg *config.Config) *running {
	t.Helper()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	t.Setenv(RuntimeTokenVariable, testRuntimeToken)

	ctx, cancel := context.WithCancel(context.Background())
	d, err := newDaemon(ctx, cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		cancel()
		t.Fatalf("newDaemon: %v", err)
	}
	r := &running{daemon: d, done: make(chan error, 1)}
	go func() { r.done <- d.serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, r.done, 5*time.Second, "daemon exit"); err != nil {
			t.Errorf("serve: %v", err)
		}
		d.close()
	})
	return r
}

func timeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestUnixClientUsesSettings(t *testing.T) {
	r := startTestDaemon(t, testConfig(t))
	ctx := timeout(t)

	c, err := client.DialUnix(ctx, r.daemon.config.General.SocketPath, nil)
	if err != nil {
		t.Fatalf("DialUnix: %v", err)
	}
	defer c.Close()

	for _, name := range []string{settings.ServiceName, tcpsocket.ServiceName} {
		if has, err := c.HasService(ctx, name); err != nil || !has {
			t.Fatalf("HasService(%s) = %v, %v", name, has, err)
		}
	}
	got, err := c.GetService(ctx, settings.ServiceName, settings.Fingerprint)
	if err != nil || got.Status != protocol.GetServiceSuccess {
		t.Fatalf("GetService = %+v, %v", got, err)
	}

	var set settings.Response
	request := settings.Request{Set: &settings.SetRequest{Settings: []settings.SettingInfo{
		{Name: "language.current", Value: json.RawMessage(`"fr-FR"`)},
	}}}
	if err := c.Invoke(ctx, got.ID, 0, request, &set); err != nil || set.Set == nil || !set.Set.Success {
		t.Fatalf("set = %+v, %v", set, err)
	}
	var get settings.Response
	if err := c.Invoke(ctx, got.ID, 0, settings.Request{Get: &settings.GetRequest{Name: "language.current"}}, &get); err != nil {
		t.Fatal(err)
	}
	if get.Get == nil || string(get.Get.Value) != `"fr-FR"` {
		t.Fatalf("get = %+v", get)
	}
}

func TestWebSocketSessionNeedsRegisteredToken(t *testing.T) {
	r := startTestDaemon(t, testConfig(t))
	ctx := timeout(t)
	address := r.daemon.http.Address()

	if _, err := client.DialWebSocket(ctx, "ws://"+address+"/ws", "unregistered", nil); err == nil {
		t.Fatal("handshake with an unregistered token succeeded")
	}

	runtime, _, err := websocket.DefaultDialer.DialContext(ctx, "ws://"+address+"/"+testRuntimeToken, nil)
	if err != nil {
		t.Fatalf("dialing runtime endpoint: %v", err)
	}
	defer runtime.Close()
	token := testutil.UniqueID("app-token")
	registration := transport.RuntimeRegistration{Token: token, Identity: "app://settings", Permissions: []string{settings.PermissionRead}}
	if err := runtime.WriteJSON(registration); err != nil {
		t.Fatal(err)
	}
	var result transport.RuntimeResult
	if err := runtime.ReadJSON(&result); err != nil || !result.Result {
		t.Fatalf("registration = %+v, %v", result, err)
	}

	c, err := client.DialWebSocket(ctx, "ws://"+address+"/ws", token, nil)
	if err != nil {
		t.Fatalf("DialWebSocket: %v", err)
	}
	defer c.Close()

	denied, err := c.GetService(ctx, tcpsocket.ServiceName, tcpsocket.Fingerprint)
	if err != nil || denied.Status != protocol.GetServiceMissingPermission {
		t.Fatalf("GetService(%s) = %+v, %v", tcpsocket.ServiceName, denied, err)
	}
	got, err := c.GetService(ctx, settings.ServiceName, settings.Fingerprint)
	if err != nil || got.Status != protocol.GetServiceSuccess {
		t.Fatalf("GetService(%s) = %+v, %v", settings.ServiceName, got, err)
	}
	request := settings.Request{Set: &settings.SetRequest{Settings: []settings.SettingInfo{
		{Name: "language.current", Value: json.RawMessage(`"de-DE"`)},
	}}}
	var permission *client.PermissionError
	if err := c.Invoke(ctx, got.ID, 0, request, nil); !errors.As(err, &permission) || permission.Permission != settings.PermissionWrite {
		t.Fatalf("set without write permission = %v", err)
	}

	// Tokens are single use.
	if _, err := client.DialWebSocket(ctx, "ws://"+address+"/ws", token, nil); err == nil {
		t.Fatal("second handshake with a consumed token succeeded")
	}
}

func TestDisabledServiceIsHidden(t *testing.T) {
	cfg := testConfig(t)
	cfg.Services.Disabled = []string{tcpsocket.ServiceName}
	r := startTestDaemon(t, cfg)

	names := r.daemon.registry.Names()
	if slices.Contains(names, tcpsocket.ServiceName) || !slices.Contains(names, settings.ServiceName) {
		t.Fatalf("Names = %v", names)
	}
	if len(r.daemon.services) != 1 {
		t.Errorf("%d services opened, want 1", len(r.daemon.services))
	}
}

func TestMetricsServed(t *testing.T) {
	r := startTestDaemon(t, testConfig(t))
	response, err := http.Get("http://" + r.daemon.http.Address() + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Errorf("GET /metrics = %s", response.Status)
	}
}

func TestNewDaemonFailsOnBusyAddress(t *testing.T) {
	first := startTestDaemon(t, testConfig(t))
	cfg := testConfig(t)
	host, port := splitAddress(t, first.daemon.http.Address())
	cfg.General.Host = host
	cfg.General.Port = port
	if _, err := newDaemon(context.Background(), cfg, slog.New(slog.DiscardHandler)); err == nil {
		t.Fatal("newDaemon on a busy address succeeded")
	}
}

func splitAddress(t *testing.T, address string) (string, int) {
	t.Helper()
	host, portText, err := net.SplitHostPort(address)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		t.Fatal(err)
	}
	return host, port
}
