// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderLength is the size of the length prefix.
const HeaderLength = 4

// MaxFrameSize is the largest accepted payload. Frames above this are
// rejected before any allocation.
const MaxFrameSize = 16 * 1024 * 1024

var (
	// ErrTruncated reports a stream that ended in the middle of a
	// frame. The error chain also contains io.ErrUnexpectedEOF.
	ErrTruncated = errors.New("frame: truncated")

	// ErrFrameTooLarge reports a length prefix above MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame: payload exceeds maximum size")
)

// Write writes data as one frame. The header and payload are written
// in a single Write call so concurrent writers on an unbuffered stream
// can never interleave partial frames; callers still must serialize
// writes to preserve frame order.
func Write(w io.Writer, data []byte) error {
	if len(data) > MaxFrameSize {
		return fmt.Errorf("write frame of %d bytes: %w", len(data), ErrFrameTooLarge)
	}
	buffer := make([]byte, HeaderLength+len(data))
	binary.BigEndian.PutUint32(buffer[:HeaderLength], uint32(len(data)))
	copy(buffer[HeaderLength:], data)
	if _, err := w.Write(buffer); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Read reads one frame. It returns io.EOF (unwrapped) only when the
// stream ends cleanly on a frame boundary.
func Read(r io.Reader) ([]byte, error) {
	var header [HeaderLength]byte
	if n, err := io.ReadFull(r, header[:]); err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("read frame header (%d of %d bytes): %w: %w", n, HeaderLength, ErrTruncated, err)
		}
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("read frame: length %d: %w", length, ErrFrameTooLarge)
	}

	payload := make([]byte, length)
	if length == 0 {
		return payload, nil
	}
	if n, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("read frame payload (%d of %d bytes): %w: %w", n, length, ErrTruncated, io.ErrUnexpectedEOF)
		}
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, nil
}
