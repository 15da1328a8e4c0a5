// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package regfile

import (
	"path/filepath"
	"testing"
)

func TestReadWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regs.bin")
	rf, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rf.Close()

	if err := rf.WriteHolding(100, 0xBEEF); err != nil {
		t.Fatalf("WriteHolding: %v", err)
	}
	if got, err := rf.ReadHolding(100); err != nil || got != 0xBEEF {
		t.Fatalf("ReadHolding(100) = %#04x, %v; want 0xbeef, nil", got, err)
	}

	if err := rf.WriteCoil(42, 1); err != nil {
		t.Fatalf("WriteCoil: %v", err)
	}
	if got, err := rf.ReadCoil(42); err != nil || got != 1 {
		t.Fatalf("ReadCoil(42) = %d, %v; want 1, nil", got, err)
	}
	if got, _ := rf.ReadCoil(43); got != 0 {
		t.Fatalf("ReadCoil(43) = %d; want 0 (untouched)", got)
	}
}

func TestReopenSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regs.bin")

	rf, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := rf.WriteHolding(7, 42); err != nil {
		t.Fatalf("WriteHolding: %v", err)
	}
	if err := rf.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := rf.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rf2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer rf2.Close()
	if got, err := rf2.ReadHolding(7); err != nil || got != 42 {
		t.Fatalf("ReadHolding(7) after reopen = %d, %v; want 42, nil", got, err)
	}
}

func TestCallbacksWireIntoSlaveTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regs.bin")
	rf, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rf.Close()

	cb := rf.Callbacks()
	if err := cb.WriteHolding(1, 9); err != nil {
		t.Fatalf("WriteHolding via callback: %v", err)
	}
	got, err := cb.ReadHolding(1)
	if err != nil || got != 9 {
		t.Fatalf("ReadHolding via callback = %d, %v; want 9, nil", got, err)
	}
}
