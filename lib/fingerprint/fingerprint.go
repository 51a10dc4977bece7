// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fingerprint

import (
	"encoding/binary"
	"encoding/hex"
	"slices"
	"strings"

	"github.com/zeebo/blake3"
)

// Compute returns the hex fingerprint of schema.
func Compute(schema Schema) string {
	shape := describe(schema)

	hasher := blake3.New()
	writeSection(hasher, "requests", shape.requests)
	writeSection(hasher, "responses", shape.responses)
	writeSection(hasher, "dictionaries", shape.dictionaries)
	writeSection(hasher, "events", shape.events)
	return hex.EncodeToString(hasher.Sum(nil))
}

// shape is the flattened, ordered list of hashed elements.
type shape struct {
	requests     []string
	responses    []string
	dictionaries []string
	events       []string
}

func describe(schema Schema) shape {
	var result shape

	for _, iface := range sortedInterfaces(schema.Interfaces) {
		requests, responses, events := describeInterface(iface)
		result.requests = append(result.requests, requests...)
		result.responses = append(result.responses, responses...)
		result.events = append(result.events, events...)
	}

	// The daemon sends callback requests and receives their responses,
	// so the two lists swap.
	for _, callback := range sortedInterfaces(schema.Callbacks) {
		requests, responses, events := describeInterface(callback)
		result.requests = append(result.requests, responses...)
		result.responses = append(result.responses, requests...)
		result.events = append(result.events, events...)
	}

	dictionaries := slices.Clone(schema.Dictionaries)
	slices.SortStableFunc(dictionaries, func(a, b Dictionary) int {
		return strings.Compare(Normalize(a.Name), Normalize(b.Name))
	})
	for _, dictionary := range dictionaries {
		name := Normalize(dictionary.Name)
		for _, field := range dictionary.Fields {
			result.dictionaries = append(result.dictionaries,
				name+"."+Normalize(field.Name)+":"+normalizeType(field.Type))
		}
	}

	return result
}

func describeInterface(iface Interface) (requests, responses, events []string) {
	name := Normalize(iface.Name)

	methods := slices.Clone(iface.Methods)
	slices.SortStableFunc(methods, func(a, b Method) int {
		return strings.Compare(Normalize(a.Name), Normalize(b.Name))
	})
	for _, method := range methods {
		prefix := name + Normalize(method.Name)
		params := make([]string, len(method.Params))
		for i, param := range method.Params {
			params[i] = Normalize(param.Name) + ":" + normalizeType(param.Type)
		}
		requests = append(requests, prefix+"("+strings.Join(params, ",")+")")
		responses = append(responses,
			prefix+"Success("+normalizeType(method.Returns)+")",
			prefix+"Error("+normalizeType(method.Error)+")",
		)
	}

	members := slices.Clone(iface.Members)
	slices.SortStableFunc(members, func(a, b Member) int {
		return strings.Compare(Normalize(a.Name), Normalize(b.Name))
	})
	for _, member := range members {
		memberName := Normalize(member.Name)
		memberType := normalizeType(member.Type)
		requests = append(requests, name+"Get"+memberName+"()")
		responses = append(responses,
			name+"Get"+memberName+"Success("+memberType+")",
			name+"Get"+memberName+"Error(void)",
		)
		if !member.ReadOnly {
			requests = append(requests, name+"Set"+memberName+"("+memberType+")")
			responses = append(responses,
				name+"Set"+memberName+"Success(void)",
				name+"Set"+memberName+"Error(void)",
			)
		}
	}

	eventList := slices.Clone(iface.Events)
	slices.SortStableFunc(eventList, func(a, b Event) int {
		return strings.Compare(Normalize(a.Name), Normalize(b.Name))
	})
	for _, event := range eventList {
		events = append(events, name+Normalize(event.Name)+"Event:"+normalizeType(event.Type))
	}
	return requests, responses, events
}

func sortedInterfaces(interfaces []Interface) []Interface {
	sorted := slices.Clone(interfaces)
	slices.SortStableFunc(sorted, func(a, b Interface) int {
		return strings.Compare(Normalize(a.Name), Normalize(b.Name))
	})
	return sorted
}

// writeSection hashes a section tag, the element count, and each
// element with a uvarint length prefix.
func writeSection(hasher *blake3.Hasher, tag string, elements []string) {
	var buffer []byte
	buffer = appendString(buffer, tag)
	buffer = binary.AppendUvarint(buffer, uint64(len(elements)))
	for _, element := range elements {
		buffer = appendString(buffer, element)
	}
	hasher.Write(buffer)
}

func appendString(buffer []byte, value string) []byte {
	buffer = binary.AppendUvarint(buffer, uint64(len(value)))
	return append(buffer, value...)
}
