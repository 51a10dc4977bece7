// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package systemstate decides whether a remote service may run on this
// system.
//
// A remote service directory may contain valid_build_props.txt, a
// newline-separated list of build signatures the service was
// qualified on. When the file exists, the service is offered only if
// the running system's build signature appears in the list and
// SELinux is enforcing. Services without the file are always offered.
//
// The build signature is the kernel release reported by uname(2).
package systemstate

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// WhitelistFile is the per-service build signature list.
const WhitelistFile = "valid_build_props.txt"

// DefaultEnforcePath exposes the SELinux enforcement mode.
const DefaultEnforcePath = "/sys/fs/selinux/enforce"

// Checker is safe for concurrent use.
type Checker struct {
	// RemotePath is the directory holding one subdirectory per remote
	// service.
	RemotePath string

	// BuildSignature returns the running system's signature.
	BuildSignature func() (string, error)

	// EnforcePath is read to determine SELinux enforcement. A missing
	// file means SELinux is disabled.
	EnforcePath string

	Logger *slog.Logger
}

// New returns a Checker reading the live system.
func New(remotePath string, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Checker{
		RemotePath:     remotePath,
		BuildSignature: KernelRelease,
		EnforcePath:    DefaultEnforcePath,
		Logger:         logger,
	}
}

// Allowed reports whether the remote service name may be offered.
func (c *Checker) Allowed(name string) bool {
	data, err := os.ReadFile(filepath.Join(c.RemotePath, name, WhitelistFile))
	if errors.Is(err, os.ErrNotExist) {
		return true
	}
	if err != nil {
		c.Logger.Warn("reading build whitelist", "service", name, "error", err)
		return false
	}

	signature, err := c.BuildSignature()
	if err != nil || signature == "" {
		c.Logger.Warn("build signature unavailable", "service", name, "error", err)
		return false
	}
	if !Listed(signature, string(data)) {
		c.Logger.Info("remote service not qualified for this build", "service", name, "build", signature)
		return false
	}

	enforcing, err := c.Enforcing()
	if err != nil {
		c.Logger.Warn("reading selinux state", "service", name, "error", err)
		return false
	}
	if !enforcing {
		c.Logger.Info("remote service requires selinux enforcing", "service", name)
	}
	return enforcing
}

// Enforcing reports whether SELinux is in enforcing mode.
func (c *Checker) Enforcing() (bool, error) {
	data, err := os.ReadFile(c.EnforcePath)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", c.EnforcePath, err)
	}
	switch value := strings.TrimSpace(string(data)); value {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, fmt.Errorf("unexpected selinux enforce value %q", value)
	}
}

// Listed reports whether signature is one of the non-empty trimmed
// lines of list.
func Listed(signature, list string) bool {
	for line := range strings.Lines(list) {
		if entry := strings.TrimSpace(line); entry != "" && entry == signature {
			return true
		}
	}
	return false
}

// KernelRelease returns the kernel release, e.g. "6.8.0-45-generic".
func KernelRelease() (string, error) {
	var name unix.Utsname
	if err := unix.Uname(&name); err != nil {
		return "", fmt.Errorf("uname: %w", err)
	}
	return unix.ByteSliceToString(name.Release[:]), nil
}
