// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service defines the contract between the session core and
// the services it hosts.
//
// A service is registered as a [Descriptor]: a name, a schema
// fingerprint, an optional required permission, and a [Factory] that
// builds one [Instance] per successful GetService call. The session
// owns the instance from then on. It routes every BaseMessage addressed
// to the instance's id to OnRequest, forwards ReleaseObject requests,
// asks FormatRequest for a readable rendering of slow requests, and
// calls Close exactly once when the client releases the instance or the
// session ends. Close must release every tracked object and proxy the
// instance holds.
//
// Instances talk back through the [Support] they were created with:
// responses, events, permission errors and calls into client proxies
// all go through it, so an instance never touches the transport.
//
// OnRequest runs on the session's reading goroutine; requests on one
// connection are handled one at a time in arrival order. An instance
// that needs to block (network, disk) hands the request to a worker
// together with a [Responder], which resolves the request exactly once
// from any goroutine.
//
// State shared by every instance of a service across sessions is built
// once at startup and passed to the factory, usually wrapped in
// [Shared]. There are no package-level singletons. One instance never
// locks another service's shared state; services that need each other
// go through dispatch like any client.
package service
