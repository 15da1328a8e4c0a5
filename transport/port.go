// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package transport defines the byte-stream contract every Modbus
// backend (serial or TCP) implements, plus the transport-independent
// reader that turns that contract into whole-frame reads using
// Modbus's inter-character timing rules.
package transport

import (
	"context"
	"time"
)

// DefaultAckTimeout is the default wait for the first byte of a
// response.
const DefaultAckTimeout = 300 * time.Millisecond

// DefaultByteTimeout is the default silence gap, derived from the
// classic 3.5-character gap at 9600 baud, that ends an RTU frame.
const DefaultByteTimeout = 32 * time.Millisecond

// Port is the byte-oriented contract a serial driver or TCP socket
// must satisfy. Read must be non-blocking: it returns (0, nil)
// immediately when no data is available rather than blocking for it.
// Any non-nil error is fatal to the connection.
type Port interface {
	// Open acquires the underlying handle. It must be idempotent:
	// calling Open on an already-open port succeeds without effect.
	Open(ctx context.Context) error
	// Close releases the underlying handle. Close on an already-closed
	// port succeeds without effect.
	Close() error
	// Read returns immediately with (0, nil) if no bytes are
	// currently available.
	Read(p []byte) (int, error)
	// Write may block briefly but should not wait for a response.
	Write(p []byte) (int, error)
	// Flush discards any bytes currently buffered for reading.
	Flush() error
}
