// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"
	"testing"
	"time"
)

// fakePort feeds a scripted sequence of Read results. Together with
// withVirtualClock, which advances a virtual clock each time ReadFrame
// sleeps between polls, it drives the dual-timer state machine
// deterministically without real wall-clock delays.
type fakePort struct {
	chunks [][]byte
	idx    int
	clock  time.Time
	step   time.Duration
}

func (f *fakePort) Open(context.Context) error { return nil }
func (f *fakePort) Close() error                { return nil }
func (f *fakePort) Write(p []byte) (int, error) { return len(p), nil }
func (f *fakePort) Flush() error                { return nil }

func (f *fakePort) Read(p []byte) (int, error) {
	if f.idx < len(f.chunks) {
		n := copy(p, f.chunks[f.idx])
		f.idx++
		return n, nil
	}
	return 0, nil
}

func withVirtualClock(t *testing.T, start time.Time, step time.Duration) func() {
	t.Helper()
	clock := start
	origNow, origSleep := nowFunc, sleepFunc
	nowFunc = func() time.Time { return clock }
	sleepFunc = func(time.Duration) { clock = clock.Add(step) }
	return func() {
		nowFunc, sleepFunc = origNow, origSleep
	}
}

func TestReadFrameDeliversCompleteFrame(t *testing.T) {
	restore := withVirtualClock(t, time.Unix(0, 0), 5*time.Millisecond)
	defer restore()

	port := &fakePort{chunks: [][]byte{{0x01, 0x03}, {0x06, 0xAE, 0x41, 0x56}, {0x52, 0x43, 0x40, 0x49, 0xAD}}}
	buf := make([]byte, 32)
	n, err := ReadFrame(context.Background(), port, buf, DefaultAckTimeout, DefaultByteTimeout)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if n != 11 {
		t.Fatalf("expected 11 bytes accumulated, got %d", n)
	}
}

func TestReadFrameTimesOutWithNoData(t *testing.T) {
	restore := withVirtualClock(t, time.Unix(0, 0), 50*time.Millisecond)
	defer restore()

	port := &fakePort{}
	buf := make([]byte, 32)
	n, err := ReadFrame(context.Background(), port, buf, DefaultAckTimeout, DefaultByteTimeout)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 bytes on ack timeout, got %d", n)
	}
}

// TestReadFrameSeparatesTwoFramesBySilence is spec.md §8 scenario 6:
// a byte-timeout-length silence ends the first frame; more bytes after
// that silence start a fresh, independent frame.
func TestReadFrameSeparatesTwoFramesBySilence(t *testing.T) {
	restore := withVirtualClock(t, time.Unix(0, 0), 5*time.Millisecond)
	defer restore()

	first := &fakePort{chunks: [][]byte{{0x01, 0x03, 0x00, 0x6B, 0x00, 0x03, 0x74, 0x17}}}
	buf := make([]byte, 32)
	n, err := ReadFrame(context.Background(), first, buf, DefaultAckTimeout, DefaultByteTimeout)
	if err != nil {
		t.Fatalf("ReadFrame (first): %v", err)
	}
	if n != 8 {
		t.Fatalf("expected first frame of 8 bytes, got %d", n)
	}

	second := &fakePort{chunks: [][]byte{{0x02, 0x03, 0x00, 0x00, 0x00, 0x01, 0x84, 0x0A}}}
	n, err = ReadFrame(context.Background(), second, buf, DefaultAckTimeout, DefaultByteTimeout)
	if err != nil {
		t.Fatalf("ReadFrame (second): %v", err)
	}
	if n != 8 {
		t.Fatalf("expected second frame of 8 bytes, got %d", n)
	}
}

func TestReadFrameRespectsContextCancellation(t *testing.T) {
	restore := withVirtualClock(t, time.Unix(0, 0), time.Millisecond)
	defer restore()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	port := &fakePort{}
	buf := make([]byte, 32)
	if _, err := ReadFrame(ctx, port, buf, DefaultAckTimeout, DefaultByteTimeout); err == nil {
		t.Fatal("expected context cancellation error")
	}
}
