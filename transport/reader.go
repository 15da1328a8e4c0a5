// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout names the "no byte within ackTimeout" outcome. ReadFrame
// does not return it: it reports that outcome as (0, nil).
var ErrTimeout = errors.New("transport: no response within ack timeout")

// pollInterval is the yield quantum between non-blocking reads. It
// bounds CPU usage while keeping worst-case latency within one
// baud-tick for typical links.
const pollInterval = 2 * time.Millisecond

// nowFunc and sleepFunc are indirections used by tests to drive the
// dual-timer state machine without real wall-clock delays.
var (
	nowFunc   = time.Now
	sleepFunc = time.Sleep
)

// ReadFrame implements Modbus's two-timer frame-delimitation contract
// over any byte-stream Port: it waits up to ackTimeout for the first
// byte, then treats a silence longer than byteTimeout as the end of
// the frame. It returns the number of bytes accumulated in buf.
//
// A return of (0, nil) means no response arrived within ackTimeout —
// spec.md's "no response timeout", surfaced to master callers as a
// plain communication failure rather than an error, since a timeout is
// an expected outcome of talking to a slave that may be offline.
func ReadFrame(ctx context.Context, p Port, buf []byte, ackTimeout, byteTimeout time.Duration) (int, error) {
	pos := 0
	lastEvent := nowFunc()

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}

		n, err := p.Read(buf[pos:])
		if err != nil {
			return 0, err
		}
		if n > 0 {
			pos += n
			lastEvent = nowFunc()
			continue
		}

		elapsed := nowFunc().Sub(lastEvent)
		if pos == 0 {
			if elapsed > ackTimeout {
				return 0, nil
			}
		} else {
			if elapsed > byteTimeout {
				return pos, nil
			}
		}
		sleepFunc(pollInterval)
	}
}

// Flush drains p by reading and discarding bytes until a read returns
// no data.
func Flush(p Port) error {
	buf := make([]byte, 256)
	for {
		n, err := p.Read(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}
