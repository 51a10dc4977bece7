// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"slices"
	"testing"

	"github.com/bureau-foundation/apidaemon/lib/origin"
	"github.com/bureau-foundation/apidaemon/lib/protocol"
	"github.com/bureau-foundation/apidaemon/lib/service"
)

func noopFactory(*service.Support) (service.Instance, error) { return nil, nil }

func descriptor(name, fingerprint, permission string) service.Descriptor {
	return service.Descriptor{Name: name, Fingerprint: fingerprint, Permission: permission, Create: noopFactory}
}

type fakeRemote struct {
	names []string
	asked []string
}

func (f *fakeRemote) Available(name string) bool { return slices.Contains(f.names, name) }
func (f *fakeRemote) Names() []string            { return f.names }
func (f *fakeRemote) Factory(name, fingerprint string) service.Factory {
	f.asked = append(f.asked, name+"@"+fingerprint)
	return noopFactory
}

func TestRegisterRejectsDuplicatesAndInvalid(t *testing.T) {
	registry := New(Config{})
	if err := registry.Register(descriptor("SettingsManager", "f1", "")); err != nil {
		t.Fatal(err)
	}
	if err := registry.Register(descriptor("SettingsManager", "f2", "")); err == nil {
		t.Error("duplicate registration accepted")
	}
	if err := registry.Register(descriptor("", "f", "")); err == nil {
		t.Error("nameless descriptor accepted")
	}
}

func TestResolveOrder(t *testing.T) {
	registry := New(Config{})
	registry.Register(descriptor("TcpSocketFactory", "good", "tcp-socket"))

	tests := []struct {
		name        string
		service     string
		fingerprint string
		origin      origin.Attributes
		want        protocol.GetServiceStatus
	}{
		{"unknown", "Nope", "good", origin.UnixSocket(), protocol.GetServiceUnknownService},
		{"mismatch beats permission", "TcpSocketFactory", "bad", origin.New("app"), protocol.GetServiceFingerprintMismatch},
		{"missing permission", "TcpSocketFactory", "good", origin.New("app"), protocol.GetServiceMissingPermission},
		{"granted", "TcpSocketFactory", "good", origin.New("app", "tcp-socket"), protocol.GetServiceSuccess},
		{"uds", "TcpSocketFactory", "good", origin.UnixSocket(), protocol.GetServiceSuccess},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			factory, response := registry.Resolve(test.service, test.fingerprint, test.origin)
			if response.Status != test.want {
				t.Fatalf("status = %v, want %v", response.Status, test.want)
			}
			if (factory != nil) != (test.want == protocol.GetServiceSuccess) {
				t.Errorf("factory presence does not match status")
			}
		})
	}
}

func TestDisabledServicesAreHidden(t *testing.T) {
	registry := New(Config{Disabled: []string{"TcpSocketFactory"}})
	registry.Register(descriptor("TcpSocketFactory", "f", ""))
	registry.Register(descriptor("SettingsManager", "f", ""))

	if registry.Has("TcpSocketFactory") {
		t.Error("disabled service reported present")
	}
	if _, response := registry.Resolve("TcpSocketFactory", "f", origin.UnixSocket()); response.Status != protocol.GetServiceUnknownService {
		t.Errorf("disabled service resolved with %v", response.Status)
	}
	if !slices.Equal(registry.Names(), []string{"SettingsManager"}) {
		t.Errorf("Names = %v", registry.Names())
	}
}

func TestRemoteServices(t *testing.T) {
	registry := New(Config{})
	registry.Register(descriptor("SettingsManager", "f", ""))
	remote := &fakeRemote{names: []string{"MediaService", "SettingsManager"}}
	registry.SetRemote(remote)

	if !registry.Has("MediaService") {
		t.Error("remote service not reported")
	}
	want := []string{"MediaService:remote", "SettingsManager"}
	if !slices.Equal(registry.Names(), want) {
		t.Errorf("Names = %v, want %v", registry.Names(), want)
	}

	factory, response := registry.Resolve("MediaService", "remote-fp", origin.New("app"))
	if factory == nil || response.Status != protocol.GetServiceSuccess {
		t.Fatalf("remote resolve = %v", response.Status)
	}
	if !slices.Equal(remote.asked, []string{"MediaService@remote-fp"}) {
		t.Errorf("remote asked %v", remote.asked)
	}

	// Local wins over remote with the same name.
	if _, response := registry.Resolve("SettingsManager", "wrong", origin.UnixSocket()); response.Status != protocol.GetServiceFingerprintMismatch {
		t.Errorf("local/remote precedence: %v", response.Status)
	}
}
