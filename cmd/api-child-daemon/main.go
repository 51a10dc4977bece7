// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/apidaemon/lib/process"
	"github.com/bureau-foundation/apidaemon/lib/registry"
	"github.com/bureau-foundation/apidaemon/lib/remote"
	"github.com/bureau-foundation/apidaemon/lib/version"
	"github.com/bureau-foundation/apidaemon/services/tcpsocket"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		workers     int
		dialTimeout time.Duration
		verbose     bool
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("api-child-daemon", pflag.ContinueOnError)
	flagSet.IntVar(&workers, "workers", tcpsocket.DefaultWorkers, "concurrent connection attempts")
	flagSet.DurationVar(&dialTimeout, "dial-timeout", tcpsocket.DefaultDialTimeout, "timeout of one connection attempt")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("api-child-daemon %s\n", version.Full([]string{tcpsocket.ServiceName}))
		return nil
	}

	conn, err := parentConn(os.Getenv)
	if err != nil {
		return err
	}
	logger := process.NewLogger(os.Stderr, verbose, "api-child-daemon")

	manager := tcpsocket.NewManager(tcpsocket.Config{
		Workers:     workers,
		DialTimeout: dialTimeout,
		Logger:      logger,
	})
	services := registry.New(registry.Config{Logger: logger})
	if err := services.Register(manager.Descriptor()); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	err = remote.ServeChild(ctx, conn, services, logger)
	manager.Wait()
	return err
}

// parentConn wraps the descriptor named by IPC_FD.
func parentConn(getenv func(string) string) (net.Conn, error) {
	value := getenv(remote.IPCFDVariable)
	if value == "" {
		return nil, fmt.Errorf("%s is not set; this binary is started by api-daemon", remote.IPCFDVariable)
	}
	fd, err := strconv.Atoi(value)
	if err != nil || fd < 0 {
		return nil, fmt.Errorf("invalid %s %q", remote.IPCFDVariable, value)
	}
	file := os.NewFile(uintptr(fd), "ipc-parent")
	if file == nil {
		return nil, fmt.Errorf("invalid %s %d", remote.IPCFDVariable, fd)
	}
	defer file.Close()
	conn, err := net.FileConn(file)
	if err != nil {
		return nil, fmt.Errorf("wrapping %s %d: %w", remote.IPCFDVariable, fd, err)
	}
	return conn, nil
}
