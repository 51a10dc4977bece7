// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"

	"github.com/bureau-foundation/apidaemon/lib/service"
)

// compiledService is a local service built into this binary. Each one
// lives in a services_*.go file behind its own build tag.
type compiledService struct {
	name string
	open func(ctx context.Context, d *daemon) (*openedService, error)
}

// openedService is a compiled service with its shared state open.
type openedService struct {
	descriptor service.Descriptor

	// status returns slog key/value pairs for the status report.
	status func(ctx context.Context) []any

	close func()
}

var compiledServices []compiledService

// compile is called from the init function of each services_*.go file.
func compile(s compiledService) {
	compiledServices = append(compiledServices, s)
}

func compiledServiceNames() []string {
	names := make([]string, 0, len(compiledServices))
	for _, s := range compiledServices {
		names = append(names, s.name)
	}
	return names
}
