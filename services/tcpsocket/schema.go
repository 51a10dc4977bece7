// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tcpsocket

import (
	"github.com/bureau-foundation/apidaemon/lib/fingerprint"
)

// ServiceName is the name clients ask for in GetService.
const ServiceName = "TCPSocketFactory"

// Permission is required to get an instance.
const Permission = "tcp-socket"

// Schema is the RPC surface of TCPSocketFactory.
var Schema = fingerprint.Schema{
	Name: ServiceName,
	Interfaces: []fingerprint.Interface{
		{
			Name: "tcp_socket_factory",
			Methods: []fingerprint.Method{
				{Name: "open", Params: []fingerprint.Param{{Name: "address", Type: "socket_address"}}, Returns: "tcp_socket", Error: "open_error"},
			},
		},
		{
			Name: "tcp_socket",
			Methods: []fingerprint.Method{
				{Name: "send", Params: []fingerprint.Param{{Name: "data", Type: "binary"}}, Returns: "bool"},
				{Name: "close"},
				{Name: "suspend"},
				{Name: "resume"},
			},
			Events: []fingerprint.Event{
				{Name: "close"},
				{Name: "data", Type: "binary"},
				{Name: "error", Type: "str"},
			},
		},
	},
	Dictionaries: []fingerprint.Dictionary{
		{Name: "socket_address", Fields: []fingerprint.Field{{Name: "host", Type: "str"}, {Name: "port", Type: "int"}}},
		{Name: "open_error", Fields: []fingerprint.Field{{Name: "reason", Type: "str"}}},
	},
}

// Fingerprint is the schema fingerprint of TCPSocketFactory.
var Fingerprint = fingerprint.Compute(Schema)

// Request is the content of a request. Open goes to object 0; the
// other variants go to a socket object.
type Request struct {
	Open    *OpenRequest  `cbor:"open,omitempty"`
	Send    *SendRequest  `cbor:"send,omitempty"`
	Close   *EmptyRequest `cbor:"close,omitempty"`
	Suspend *EmptyRequest `cbor:"suspend,omitempty"`
	Resume  *EmptyRequest `cbor:"resume,omitempty"`
}

type OpenRequest struct {
	Host string `cbor:"host"`
	Port int    `cbor:"port"`
}

type SendRequest struct {
	Data []byte `cbor:"data"`
}

type EmptyRequest struct{}

// Response mirrors the request variant. A failed Open sets OpenError.
type Response struct {
	Open      *OpenResult `cbor:"open,omitempty"`
	OpenError *OpenError  `cbor:"open_error,omitempty"`
	Send      *Result     `cbor:"send,omitempty"`
	Close     *Result     `cbor:"close,omitempty"`
	Suspend   *Result     `cbor:"suspend,omitempty"`
	Resume    *Result     `cbor:"resume,omitempty"`
}

// OpenResult carries the tracked object id of the new socket.
type OpenResult struct {
	Object uint32 `cbor:"object"`
}

type OpenError struct {
	Reason string `cbor:"reason"`
}

type Result struct {
	Success bool `cbor:"success"`
}

// Event is the content of an event from a socket object.
type Event struct {
	Close *CloseEvent `cbor:"close,omitempty"`
	Data  *DataEvent  `cbor:"data,omitempty"`
	Error *ErrorEvent `cbor:"error,omitempty"`
}

type CloseEvent struct{}

type DataEvent struct {
	Data []byte `cbor:"data"`
}

type ErrorEvent struct {
	Message string `cbor:"message"`
}

func (r *Request) variant() string {
	var name string
	count := 0
	for _, candidate := range []struct {
		name string
		set  bool
	}{
		{"open", r.Open != nil},
		{"send", r.Send != nil},
		{"close", r.Close != nil},
		{"suspend", r.Suspend != nil},
		{"resume", r.Resume != nil},
	} {
		if candidate.set {
			name = candidate.name
			count++
		}
	}
	if count != 1 {
		return ""
	}
	return name
}
