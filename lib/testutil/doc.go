// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for api-daemon packages.
//
// [SocketDir] creates a short temporary directory in /tmp for Unix
// domain sockets, whose paths are limited to 108 bytes.
//
// [RequireReceive] and [RequireClosed] wrap the select
// with a wall-clock timeout, so tests waiting on goroutines fail
// instead of hanging. They are the only place tests use real timeouts;
// timing behavior under test goes through lib/clock.
//
// [UniqueID] generates distinct identifiers, such as runtime tokens,
// without consulting the clock.
package testutil
