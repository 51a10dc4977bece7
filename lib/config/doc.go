// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the api-daemon.
//
// Configuration is loaded from a single file specified by either the
// APIDAEMON_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). Values missing from the file keep the
// defaults of [Default]. There is no automatic file search.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${APIDAEMON_ROOT} (the directory holding the config file)
// and ${VAR:-default} patterns are expanded. No environment variable
// overrides a config value directly.
//
// Sections:
//
//   - general -- listen address, slow-message threshold, logging,
//     remote services and the Unix socket
//   - runtime -- where the runtime registration token comes from
//   - services -- compiled-in services to withhold
//   - settings -- the settings service database and defaults
//   - tcp_socket -- the TCP socket service worker pool
//
// This package depends on no other api-daemon packages.
package config
