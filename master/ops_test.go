// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakePort is a transport.Port that records writes and replays a
// scripted response, one chunk per Read call, matching the shape a
// real non-blocking backend feeds to transport.ReadFrame.
type fakePort struct {
	writes  [][]byte
	chunks  [][]byte
	chunkAt int
}

func (f *fakePort) Open(context.Context) error { return nil }
func (f *fakePort) Close() error                { return nil }
func (f *fakePort) Flush() error                { return nil }

func (f *fakePort) Write(p []byte) (int, error) {
	cp := append([]byte(nil), p...)
	f.writes = append(f.writes, cp)
	return len(p), nil
}

func (f *fakePort) Read(buf []byte) (int, error) {
	if f.chunkAt < len(f.chunks) {
		n := copy(buf, f.chunks[f.chunkAt])
		f.chunkAt++
		return n, nil
	}
	return 0, nil
}

func TestReadRegsHappyPath(t *testing.T) {
	// Spec.md §8 scenario 1 response: 01 03 06 AE41 5652 4340 CRC.
	port := &fakePort{chunks: [][]byte{{0x01, 0x03, 0x06, 0xAE, 0x41, 0x56, 0x52, 0x43, 0x40, 0x84, 0x6D}}}
	c := New(port, WithSlaveAddress(1))

	regs := make([]uint16, 3)
	n, err := c.ReadRegs(context.Background(), 0x006B, 3, regs)
	if err != nil {
		t.Fatalf("ReadRegs: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 registers, got %d", n)
	}
	want := []uint16{0xAE41, 0x5652, 0x4340}
	for i, w := range want {
		if regs[i] != w {
			t.Fatalf("reg[%d] = 0x%04X, want 0x%04X", i, regs[i], w)
		}
	}
	if len(port.writes) != 1 {
		t.Fatalf("expected exactly one write, got %d", len(port.writes))
	}
	wantReq := []byte{0x01, 0x03, 0x00, 0x6B, 0x00, 0x03, 0x74, 0x17}
	for i, b := range wantReq {
		if port.writes[0][i] != b {
			t.Fatalf("request byte %d = %02X, want %02X", i, port.writes[0][i], b)
		}
	}
}

func TestReadRegsExceptionResponse(t *testing.T) {
	// Illegal function exception: 01 83 01 CRC.
	port := &fakePort{chunks: [][]byte{{0x01, 0x83, 0x01, 0x80, 0xF0}}}
	c := New(port, WithSlaveAddress(1))

	regs := make([]uint16, 3)
	n, err := c.ReadRegs(context.Background(), 0x006B, 3, regs)
	if n != 0 {
		t.Fatalf("expected 0 count on exception, got %d", n)
	}
	var exc *ExceptionError
	if !errors.As(err, &exc) {
		t.Fatalf("expected *ExceptionError, got %v", err)
	}
	if exc.Code != 0x01 {
		t.Fatalf("expected exception code 0x01, got 0x%02X", exc.Code)
	}
}

func TestReadRegsTimeoutIsPlainFailure(t *testing.T) {
	port := &fakePort{}
	c := New(port, WithSlaveAddress(1), WithTimeouts(5*time.Millisecond, 2*time.Millisecond))
	regs := make([]uint16, 3)
	n, err := c.ReadRegs(context.Background(), 0x006B, 3, regs)
	if err != nil {
		t.Fatalf("expected nil error on timeout, got %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 count on timeout, got %d", n)
	}
}

func TestWriteBitEncodesWireValue(t *testing.T) {
	port := &fakePort{chunks: [][]byte{{0x01, 0x05, 0x00, 0xAC, 0xFF, 0x00, 0x4C, 0x1B}}}
	c := New(port, WithSlaveAddress(1))
	n, err := c.WriteBit(context.Background(), 0x00AC, true)
	if err != nil {
		t.Fatalf("WriteBit: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1, got %d", n)
	}
	if port.writes[0][4] != 0xFF || port.writes[0][5] != 0x00 {
		t.Fatalf("expected wire value FF00, got % X", port.writes[0][4:6])
	}
}

func TestMaskWriteRegRoundTrip(t *testing.T) {
	port := &fakePort{chunks: [][]byte{{0x01, 0x16, 0x00, 0x04, 0x00, 0xF2, 0x02, 0x25, 0x66, 0x8E}}}
	c := New(port, WithSlaveAddress(1))
	n, err := c.MaskWriteReg(context.Background(), 0x0004, 0x00F2, 0x0225)
	if err != nil {
		t.Fatalf("MaskWriteReg: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1, got %d", n)
	}
}
