// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package settings implements the SettingsManager service: a
// persistent key/value store of JSON settings shared by every session.
//
// One [Store] is built at daemon startup and handed to every instance.
// It keeps settings in SQLite (lib/sqlitepool) and, on open, merges a
// JSONC defaults file. A default is only applied to a setting that is
// missing, or whose current value still equals the previous default;
// values a user changed are never overwritten by a new defaults file.
//
// Reads require settings:read (or settings:write). The single setting
// nutria.theme is also readable with the themeable permission. Writes
// require settings:write.
//
// Every change is delivered two ways: as a Change event to instances
// whose origin can read settings and that enabled the event, and as a
// callback request to client observer proxies registered for the
// setting's name with AddObserver. Releasing an observer proxy, or
// closing the instance, drops its registrations.
package settings
