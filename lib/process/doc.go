// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint helpers shared by the daemon
// binaries: reporting a fatal error before or after the structured
// logger exists, and routing the standard library's log package into
// slog.
package process
