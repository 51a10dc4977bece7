// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package remote hosts services in child daemon processes.
//
// Every subdirectory of the remote services directory is one remote
// service: an executable named daemon plus whatever it needs. The
// [Registrar] gives each a stable numeric id, persisted in a YAML file,
// from which the child's uid and gid derive. The [Manager] implements
// registry.Remote: on the first GetService for a remote name it spawns
// the child with one end of a socketpair in IPC_FD, then relays every
// message for the instance over that link.
//
// The link carries length-prefixed frames (lib/frame) whose payloads
// are CBOR [ParentToChild] and [ChildToParent] values. Operations the
// session waits for (CreateService, ReleaseObject and the event
// toggles) carry a call id that the child echoes in its reply, so any
// number of sessions can wait on one child at once. Packets from the
// child are already encoded BaseMessages and go straight to the
// connection of the session they name.
//
// A child that exits, or that sends something the parent cannot
// decode, is gone for good: the manager kills it if needed, forgets it,
// fails its pending calls with [ErrChildGone] and sends a child daemon
// crash notification to every connected session, which closes them.
// The next GetService spawns a fresh child.
//
// [ServeChild] is the other end, run by cmd/api-child-daemon.
package remote
