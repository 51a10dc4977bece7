// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry is the daemon's service dispatch table.
//
// The registry answers HasService and resolves GetService requests. It
// holds the local services compiled into the binary (each registered
// by a build-tagged file in cmd/api-daemon, and optionally disabled by
// configuration) and, when configured, a [Remote] source for services
// hosted by child daemons. Local names take precedence over remote
// names.
//
// GetService resolution applies its checks in a fixed order: the name
// must be known and enabled, the client's fingerprint must match, and
// the session origin must hold the service's required permission. Only
// then does the caller allocate an id and run the factory.
package registry

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/bureau-foundation/apidaemon/lib/origin"
	"github.com/bureau-foundation/apidaemon/lib/protocol"
	"github.com/bureau-foundation/apidaemon/lib/service"
)

// RemoteSuffix marks remote services in Names.
const RemoteSuffix = ":remote"

// Remote is a source of services hosted outside the process.
type Remote interface {
	// Available reports whether name is installed and allowed on this
	// system.
	Available(name string) bool

	// Names lists the available remote services.
	Names() []string

	// Factory returns the factory that creates an instance of name in
	// its child daemon. Fingerprint and permission checks happen in the
	// child.
	Factory(name, fingerprint string) service.Factory
}

// Config configures a Registry.
type Config struct {
	// Disabled names local services that are compiled in but must not
	// be offered.
	Disabled []string

	Logger *slog.Logger
}

// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	services map[string]service.Descriptor
	disabled map[string]bool
	remote   Remote
	logger   *slog.Logger
}

// New creates an empty registry.
func New(config Config) *Registry {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	disabled := make(map[string]bool, len(config.Disabled))
	for _, name := range config.Disabled {
		disabled[name] = true
	}
	return &Registry{
		services: make(map[string]service.Descriptor),
		disabled: disabled,
		logger:   logger,
	}
}

// Register adds a local service. Duplicate names are rejected.
func (r *Registry) Register(descriptor service.Descriptor) error {
	if err := descriptor.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.services[descriptor.Name]; exists {
		return fmt.Errorf("service %q registered twice", descriptor.Name)
	}
	r.services[descriptor.Name] = descriptor
	if r.disabled[descriptor.Name] {
		r.logger.Info("service disabled by configuration", "service", descriptor.Name)
	} else {
		r.logger.Debug("service registered",
			"service", descriptor.Name,
			"fingerprint", descriptor.Fingerprint,
		)
	}
	return nil
}

// SetRemote installs the remote service source.
func (r *Registry) SetRemote(remote Remote) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remote = remote
}

// Lookup returns the descriptor of an enabled local service.
func (r *Registry) Lookup(name string) (service.Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookupLocked(name)
}

func (r *Registry) lookupLocked(name string) (service.Descriptor, bool) {
	descriptor, ok := r.services[name]
	if !ok || r.disabled[name] {
		return service.Descriptor{}, false
	}
	return descriptor, true
}

// Has reports whether name is offered locally or remotely.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.lookupLocked(name); ok {
		return true
	}
	return r.remote != nil && r.remote.Available(name)
}

// Names lists offered services in sorted order, remote ones with
// RemoteSuffix.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		if !r.disabled[name] {
			names = append(names, name)
		}
	}
	if r.remote != nil {
		for _, name := range r.remote.Names() {
			if _, local := r.services[name]; !local {
				names = append(names, name+RemoteSuffix)
			}
		}
	}
	slices.Sort(names)
	return names
}

// Resolve runs the GetService checks for name. On success it returns
// the factory and a response with status GetServiceSuccess (the id is
// filled in by the session). Otherwise the factory is nil and the
// response carries the failure status.
func (r *Registry) Resolve(name, fingerprint string, attributes origin.Attributes) (service.Factory, protocol.GetServiceResponse) {
	r.mu.RLock()
	descriptor, local := r.lookupLocked(name)
	remote := r.remote
	r.mu.RUnlock()

	if !local {
		if remote != nil && remote.Available(name) {
			return remote.Factory(name, fingerprint), protocol.GetServiceResponse{Status: protocol.GetServiceSuccess}
		}
		return nil, protocol.Failed(protocol.GetServiceUnknownService, "")
	}

	if fingerprint != descriptor.Fingerprint {
		r.logger.Info("fingerprint mismatch",
			"service", name,
			"expected", descriptor.Fingerprint,
			"received", fingerprint,
		)
		return nil, protocol.Failed(protocol.GetServiceFingerprintMismatch, "")
	}

	if !attributes.HasPermission(descriptor.Permission) {
		r.logger.Info("service permission denied",
			"service", name,
			"identity", attributes.Identity,
			"permission", descriptor.Permission,
		)
		return nil, protocol.Failed(protocol.GetServiceMissingPermission, "")
	}

	return descriptor.Create, protocol.GetServiceResponse{Status: protocol.GetServiceSuccess}
}
