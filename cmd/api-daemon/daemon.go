// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/apidaemon/lib/config"
	"github.com/bureau-foundation/apidaemon/lib/metrics"
	"github.com/bureau-foundation/apidaemon/lib/outbound"
	"github.com/bureau-foundation/apidaemon/lib/registry"
	"github.com/bureau-foundation/apidaemon/lib/remote"
	"github.com/bureau-foundation/apidaemon/lib/systemstate"
	"github.com/bureau-foundation/apidaemon/lib/tokens"
	"github.com/bureau-foundation/apidaemon/lib/tracker"
	"github.com/bureau-foundation/apidaemon/transport"
)

// daemon holds the process-wide state: the registry and the shared
// state of every service, the transports, and the child daemons.
type daemon struct {
	config  *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	tokens      *tokens.Manager
	connections *outbound.Group
	registry    *registry.Registry
	services    []*openedService

	registrar *remote.Registrar
	remote    *remote.Manager

	unix *transport.UnixServer
	http *transport.HTTPServer
}

// newDaemon opens the services and binds the listeners. Nothing is
// served until serve.
func newDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *daemon, err error) {
	d := &daemon{
		config:      cfg,
		logger:      logger,
		metrics:     metrics.New(),
		tokens:      tokens.NewManager(),
		connections: outbound.NewGroup(),
		registry: registry.New(registry.Config{
			Disabled: cfg.Services.Disabled,
			Logger:   logger,
		}),
	}
	defer func() {
		if err != nil {
			d.close()
		}
	}()

	for _, compiled := range compiledServices {
		if slices.Contains(cfg.Services.Disabled, compiled.name) {
			logger.Info("service disabled", "service", compiled.name)
			continue
		}
		opened, err := compiled.open(ctx, d)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", compiled.name, err)
		}
		d.services = append(d.services, opened)
		if err := d.registry.Register(opened.descriptor); err != nil {
			return nil, err
		}
	}

	if cfg.General.RemoteServicesPath != "" {
		if err := d.startRemote(); err != nil {
			return nil, err
		}
	}

	runtimeToken, err := loadRuntimeToken(cfg.Runtime, os.Getenv, logger)
	if err != nil {
		return nil, err
	}
	if runtimeToken == "" {
		logger.Warn("no runtime token configured; WebSocket sessions cannot be authorized")
	}

	transportConfig := transport.Config{
		Registry:      d.registry,
		Tokens:        d.tokens,
		SessionIDs:    tracker.NewIDFactory(1, 1),
		Connections:   d.connections,
		SlowThreshold: cfg.SlowThreshold(),
		Metrics:       d.metrics,
		Logger:        logger,
	}
	if cfg.General.SocketPath != "" {
		d.unix, err = transport.NewUnixServer(cfg.General.SocketPath, transportConfig)
		if err != nil {
			return nil, err
		}
	}
	mux := transport.NewMux(
		transport.NewWebSocketHandler(transportConfig),
		transport.NewRuntimeHandler(runtimeToken, d.tokens, logger),
		d.metrics.Handler(),
	)
	d.http, err = transport.NewHTTPServer(cfg.Address(), mux)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// startRemote offers the services installed under the remote services
// path. Running as root, each child runs under its own uid.
func (d *daemon) startRemote() error {
	general := d.config.General
	logger := d.logger.With("component", "remote")
	registrar, err := remote.NewRegistrar(general.RemoteServicesConfig, general.RemoteServicesPath, logger)
	if err != nil {
		return fmt.Errorf("loading remote services: %w", err)
	}
	privileged := os.Geteuid() == 0
	if privileged {
		registrar.Chown = true
		if err := registrar.Scan(); err != nil {
			return fmt.Errorf("scanning remote services: %w", err)
		}
	}
	spawner := &remote.ExecSpawner{Registrar: registrar, Privileged: privileged, Logger: logger}
	d.registrar = registrar
	d.remote = remote.NewManager(remote.Config{
		Registrar:   registrar,
		Checker:     systemstate.New(general.RemoteServicesPath, logger),
		Connections: d.connections,
		Spawn:       spawner.Spawn,
		Metrics:     d.metrics,
		Logger:      logger,
	})
	d.registry.SetRemote(d.remote)
	logger.Info("remote services", "path", general.RemoteServicesPath, "installed", registrar.Names())
	return nil
}

// serve runs the listeners until ctx is done or one of them fails.
func (d *daemon) serve(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	if d.unix != nil {
		group.Go(func() error { return d.unix.Serve(ctx) })
	}
	group.Go(func() error {
		if err := d.http.Serve(ctx); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if d.registrar != nil {
		group.Go(func() error {
			d.watchRemote(ctx)
			return nil
		})
	}
	group.Go(func() error {
		d.reportStatus(ctx)
		return nil
	})

	d.logger.Info("api-daemon ready",
		"address", d.http.Address(),
		"socket", d.config.General.SocketPath,
		"services", d.registry.Names(),
	)
	err := group.Wait()
	d.connections.CloseAll()
	d.logger.Info("api-daemon stopped")
	return err
}

// watchRemote rescans the remote services directory on changes. A
// missing directory is not watched.
func (d *daemon) watchRemote(ctx context.Context) {
	if _, err := os.Stat(d.registrar.Root()); errors.Is(err, os.ErrNotExist) {
		d.logger.Info("remote services directory missing, not watching", "path", d.registrar.Root())
		return
	}
	if err := d.registrar.Watch(ctx); err != nil {
		d.logger.Warn("remote services watch stopped", "error", err)
	}
}

// reportStatus logs the daemon status on every SIGUSR1 until ctx is
// done.
func (d *daemon) reportStatus(ctx context.Context) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGUSR1)
	defer signal.Stop(signals)
	for {
		select {
		case <-ctx.Done():
			return
		case <-signals:
			d.logStatus(ctx)
		}
	}
}

func (d *daemon) logStatus(ctx context.Context) {
	d.logger.Info("status",
		"sessions", d.connections.Len(),
		"pending_tokens", d.tokens.Len(),
		"services", d.registry.Names(),
	)
	for _, opened := range d.services {
		if opened.status != nil {
			d.logger.Info("service status", append([]any{"service", opened.descriptor.Name}, opened.status(ctx)...)...)
		}
	}
	if d.remote != nil {
		d.logger.Info("remote status", "running", d.remote.Running())
	}
}

// close releases what newDaemon acquired. It is safe after a partial
// newDaemon.
func (d *daemon) close() {
	if d.remote != nil {
		d.remote.Shutdown()
	}
	if d.unix != nil {
		d.unix.Close()
	}
	if d.http != nil {
		d.http.Close()
	}
	for _, opened := range slices.Backward(d.services) {
		if opened.close != nil {
			opened.close()
		}
	}
	d.services = nil
}
