// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool is the SQLite connection pool behind the daemon's
// persistent service state.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool. Every connection
// gets the same pragmas (WAL journal, NORMAL synchronous, a five
// second busy timeout) and then runs the owner's schema script, which
// must be idempotent (CREATE TABLE IF NOT EXISTS and friends).
// Connections are not safe for concurrent use: [Pool.With] lends one
// to a function and returns it afterwards.
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   databasePath,
//	    Schema: `CREATE TABLE IF NOT EXISTS settings (name TEXT PRIMARY KEY, value BLOB)`,
//	    Logger: logger,
//	})
package sqlitepool
