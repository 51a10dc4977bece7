// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Api-daemon exposes system services to local clients over a Unix
// socket and to web runtimes over WebSocket.
//
// On startup it loads the YAML configuration named by --config or
// APIDAEMON_CONFIG, opens every compiled-in service that is not listed
// under services.disabled, and, when general.remote_services_path is
// set, offers the remote services installed there through child
// daemons. It then serves:
//
//   - the Unix socket at general.socket_path, whose peers hold every
//     permission;
//   - /ws on general.host:general.port, where a session must present a
//     handshake token registered by the runtime;
//   - /<runtime token> on the same address, where the runtime registers
//     those tokens;
//   - /metrics, Prometheus exposition.
//
// SIGUSR1 logs a status line per service. SIGINT and SIGTERM close
// every session and exit.
//
// Services are selected at build time: the no_settings and
// no_tcpsocket build tags leave out SettingsManager and
// TCPSocketFactory.
package main
