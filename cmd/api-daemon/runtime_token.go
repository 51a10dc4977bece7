// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/bureau-foundation/apidaemon/lib/config"
)

// RuntimeTokenVariable overrides runtime.token_path.
const RuntimeTokenVariable = "WS_RUNTIME_TOKEN"

// loadRuntimeToken returns the token guarding the runtime endpoint:
// the environment variable, else the token file. With
// runtime.generate_token a missing file is created holding a fresh
// token. An empty result disables the endpoint.
func loadRuntimeToken(runtime config.RuntimeConfig, getenv func(string) string, logger *slog.Logger) (string, error) {
	if token := strings.TrimSpace(getenv(RuntimeTokenVariable)); token != "" {
		logger.Info("runtime token from environment", "variable", RuntimeTokenVariable)
		return token, nil
	}

	if runtime.TokenPath != "" {
		data, err := os.ReadFile(runtime.TokenPath)
		switch {
		case err == nil:
			if token := strings.TrimSpace(string(data)); token != "" {
				logger.Info("runtime token from file", "path", runtime.TokenPath)
				return token, nil
			}
		case !errors.Is(err, os.ErrNotExist):
			return "", fmt.Errorf("reading runtime token: %w", err)
		}
	}

	if !runtime.GenerateToken {
		return "", nil
	}
	token := uuid.NewString()
	if runtime.TokenPath == "" {
		logger.Warn("generated a runtime token that is not persisted; set runtime.token_path to share it")
		return token, nil
	}
	if err := os.MkdirAll(filepath.Dir(runtime.TokenPath), 0o755); err != nil {
		return "", fmt.Errorf("creating runtime token directory: %w", err)
	}
	if err := os.WriteFile(runtime.TokenPath, []byte(token+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("writing runtime token: %w", err)
	}
	logger.Info("generated runtime token", "path", runtime.TokenPath)
	return token, nil
}
