// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Api-child-daemon hosts TCPSocketFactory out of process for an
// api-daemon.
//
// Installed as <remote services path>/TCPSocketFactory/daemon, it is
// started by the parent on the first request for the service, runs
// under the uid the parent's registrar assigned, and talks to the
// parent over the socket descriptor named by IPC_FD. It exits when the
// parent closes that socket.
package main
