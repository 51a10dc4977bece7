// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// OpenLog returns the destination for the daemon's log: path opened
// for appending, or stderr when path is empty. The returned close
// function is a no-op for stderr.
func OpenLog(path string) (io.Writer, func() error, error) {
	if path == "" {
		return os.Stderr, func() error { return nil }, nil
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	return file, file.Close, nil
}

// NewLogger builds the JSON logger of a daemon binary and installs it
// as the slog default. Output of the standard log package (net/http
// among others) then ends up in the same stream.
func NewLogger(w io.Writer, verbose bool, binary string) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})).With("binary", binary)
	slog.SetDefault(logger)
	return logger
}
