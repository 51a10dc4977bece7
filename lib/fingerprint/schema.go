// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fingerprint

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Schema is the RPC shape of one service.
type Schema struct {
	// Name is the service name advertised to clients.
	Name string

	// Interfaces are implemented by the daemon and called by clients.
	Interfaces []Interface

	// Callbacks are implemented by clients and called by the daemon
	// through proxies.
	Callbacks []Interface

	Dictionaries []Dictionary
}

// Interface groups methods, members and events.
type Interface struct {
	Name    string
	Methods []Method
	Members []Member
	Events  []Event
}

// Method is one callable operation. Returns and Error are type
// strings; empty means no value.
type Method struct {
	Name    string
	Params  []Param
	Returns string
	Error   string
}

// Param is a positional method parameter.
type Param struct {
	Name string
	Type string
}

// Member is an attribute with generated getter and, unless ReadOnly,
// setter.
type Member struct {
	Name     string
	Type     string
	ReadOnly bool
}

// Event is a notification sent from daemon to client.
type Event struct {
	Name string
	Type string
}

// Dictionary is a named record type.
type Dictionary struct {
	Name   string
	Fields []Field
}

// Field is a dictionary member.
type Field struct {
	Name string
	Type string
}

// primitives are type names kept lowercase.
var primitives = map[string]bool{
	"any":    true,
	"binary": true,
	"bool":   true,
	"date":   true,
	"float":  true,
	"int":    true,
	"json":   true,
	"str":    true,
	"url":    true,
	"void":   true,
}

// Normalize converts snake_case, kebab-case, dotted and lowerCamel
// identifiers to UpperCamelCase. Characters after the first of each
// word are kept as written.
func Normalize(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || unicode.IsSpace(r)
	})
	var builder strings.Builder
	for _, word := range words {
		first, size := utf8.DecodeRuneInString(word)
		builder.WriteRune(unicode.ToUpper(first))
		builder.WriteString(word[size:])
	}
	return builder.String()
}

var typeIdentifier = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// normalizeType normalizes every identifier in a type expression such
// as "[setting_info]" or "Setting?". Primitive names are lowercased.
func normalizeType(typeExpression string) string {
	if typeExpression == "" {
		return "void"
	}
	return typeIdentifier.ReplaceAllStringFunc(typeExpression, func(identifier string) string {
		if primitives[strings.ToLower(identifier)] {
			return strings.ToLower(identifier)
		}
		return Normalize(identifier)
	})
}
