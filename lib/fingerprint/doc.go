// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fingerprint computes schema fingerprints for services.
//
// A fingerprint is a hex BLAKE3-256 digest over the complete shape of a
// service's RPC surface: every request, every success and error
// response, every dictionary member and every event. A client sends the
// fingerprint it was built against in GetService; the daemon refuses
// the instance if its own fingerprint for that name differs. No request
// is ever issued against a mismatched schema.
//
// The digest depends only on the schema's content. Names are normalized
// to UpperCamelCase, interfaces, callbacks, dictionaries, methods,
// members and events are sorted by normalized name, and every hashed
// element is length-prefixed. Declaration order inside a file, map
// iteration, or naming style (get_all vs getAll) cannot change the
// result. Parameter and dictionary field order is significant because
// it is part of the encoded shape.
package fingerprint
