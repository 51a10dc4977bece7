// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !no_tcpsocket

package main

import (
	"context"

	"github.com/bureau-foundation/apidaemon/services/tcpsocket"
)

func init() {
	compile(compiledService{name: tcpsocket.ServiceName, open: openTCPSocket})
}

func openTCPSocket(_ context.Context, d *daemon) (*openedService, error) {
	manager := tcpsocket.NewManager(tcpsocket.Config{
		Workers:     d.config.TCPSocket.Workers,
		DialTimeout: d.config.DialTimeout(),
		Logger:      d.logger,
	})
	return &openedService{
		descriptor: manager.Descriptor(),
		status: func(context.Context) []any {
			status := manager.Status()
			return []any{"open", status.Open, "dialing", status.Dialing}
		},
		close: manager.Wait,
	}, nil
}
