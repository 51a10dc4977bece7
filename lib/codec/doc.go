// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the daemon's single CBOR configuration.
//
// Every binary payload the daemon exchanges is CBOR: the session
// handshake, the BaseMessage envelope, core and service request
// content, and the parent/child daemon IPC messages. JSON appears only
// on the runtime token-registration endpoint and in the settings
// defaults file.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items. The
// same logical value always produces identical bytes, which keeps
// golden-byte tests stable and lets two peers compare encoded content
// directly.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Stream helpers exist for the parent/child pipe:
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// # Struct Tags
//
// Wire types carry `cbor` tags with short keys. Types that also travel
// as JSON (origin attributes on the registration endpoint) carry `json`
// tags only; fxamacker/cbor reads `json` tags when `cbor` tags are
// absent. Never put both tags on one field.
//
// # Tagged Unions
//
// A request or response union is a struct with one pointer field per
// variant, each tagged omitempty. Exactly one field is set on the
// wire. Decoders check that with a Variant-style helper on the type.
package codec
