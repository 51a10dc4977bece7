// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"fmt"
	"sync/atomic"
)

// IDFactory issues uint32 ids: first, first+stride, first+2*stride...
// It is safe for concurrent use.
type IDFactory struct {
	next   atomic.Uint32
	stride uint32
}

// NewIDFactory returns a factory whose first id is first.
func NewIDFactory(first, stride uint32) *IDFactory {
	if stride == 0 {
		panic("tracker.NewIDFactory: stride must be positive")
	}
	factory := &IDFactory{stride: stride}
	factory.next.Store(first)
	return factory
}

// Next returns the next id.
func (f *IDFactory) Next() uint32 {
	return f.next.Add(f.stride) - f.stride
}

// Sequence issues request sequence numbers for server-initiated calls.
type Sequence struct {
	next   atomic.Uint64
	stride uint64
}

// NewServerSequence returns the sequence used when the daemon calls
// into a client proxy: 2, 4, 6... Even numbers keep it apart from
// clients that number their own requests with odd values.
func NewServerSequence() *Sequence {
	sequence := &Sequence{stride: 2}
	sequence.next.Store(2)
	return sequence
}

// Next returns the next sequence number.
func (s *Sequence) Next() uint64 {
	return s.next.Add(s.stride) - s.stride
}

// SessionTrackerID identifies one service instance in the process:
// the session that owns it and its id within that session.
type SessionTrackerID struct {
	Session uint32 `cbor:"session"`
	Service uint32 `cbor:"service"`
}

func (id SessionTrackerID) String() string {
	return fmt.Sprintf("%d/%d", id.Session, id.Service)
}
