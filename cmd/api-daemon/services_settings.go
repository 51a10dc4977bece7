// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !no_settings

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/apidaemon/services/settings"
)

func init() {
	compile(compiledService{name: settings.ServiceName, open: openSettings})
}

func openSettings(ctx context.Context, d *daemon) (*openedService, error) {
	path := d.config.Settings.DatabasePath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating settings directory: %w", err)
	}
	logger := d.logger.With("service", settings.ServiceName)
	store, err := settings.OpenStore(ctx, settings.StoreConfig{
		Path:         path,
		DefaultsPath: d.config.Settings.DefaultsPath,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	return &openedService{
		descriptor: settings.Descriptor(store),
		status: func(ctx context.Context) []any {
			status, err := store.Status(ctx)
			if err != nil {
				return []any{"error", err}
			}
			return []any{
				"settings", status.Settings,
				"listeners", status.Listeners,
				"observers", status.Observers,
				"observed_names", status.ObservedNames,
			}
		},
		close: func() {
			if err := store.Close(); err != nil {
				logger.Warn("closing settings store", "error", err)
			}
		},
	}, nil
}
