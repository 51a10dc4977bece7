// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/apidaemon/lib/config"
	"github.com/bureau-foundation/apidaemon/lib/process"
	"github.com/bureau-foundation/apidaemon/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("api-daemon", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to api-daemon.yaml (default: $"+config.EnvironmentVariable+")")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("api-daemon %s\n", version.Full(compiledServiceNames()))
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logOutput, closeLog, err := process.OpenLog(cfg.General.LogPath)
	if err != nil {
		return err
	}
	defer closeLog()
	logger := process.NewLogger(logOutput, cfg.General.VerboseLog, "api-daemon")
	logger.Info("starting", "version", version.Info(), "services", compiledServiceNames())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.close()
	return d.serve(ctx)
}

func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
