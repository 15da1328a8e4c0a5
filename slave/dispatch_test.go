// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package slave

import (
	"testing"

	"github.com/lattice-io/modbus-engine/mbcore"
)

func TestDispatchMaskWriteRegister(t *testing.T) {
	regs := map[uint16]uint16{0x0004: 0x0012}
	cb := Callbacks{
		ReadHolding:  func(addr uint16) (uint16, error) { return regs[addr], nil },
		WriteHolding: func(addr uint16, v uint16) error { regs[addr] = v; return nil },
	}
	s := New(&fakePort{}, cb)

	req := mbcore.ProtocolDataUnit{FunctionCode: mbcore.FuncMaskWriteRegister, Data: make([]byte, 6)}
	mbcore.PutUint16(req.Data[0:2], 0x0004)
	mbcore.PutUint16(req.Data[2:4], 0x00F2)
	mbcore.PutUint16(req.Data[4:6], 0x0025)

	resp := s.dispatch(req)
	if resp.IsException() {
		t.Fatalf("unexpected exception: %+v", resp)
	}
	// (0x0012 & 0x00F2) | (0x0025 &^ 0x00F2) = 0x0012 | 0x0005 = 0x0017.
	if regs[0x0004] != 0x0017 {
		t.Fatalf("got register 0x%04X, want 0x0017", regs[0x0004])
	}
}

func TestDispatchMaskWriteRegisterKeepsOldValueOnReadFailure(t *testing.T) {
	cb := Callbacks{
		ReadHolding:  func(addr uint16) (uint16, error) { return 0, Fault(mbcore.ExcIllegalDataAddress) },
		WriteHolding: func(addr uint16, v uint16) error { t.Fatal("WriteHolding must not be called after ReadHolding fails"); return nil },
	}
	s := New(&fakePort{}, cb)

	req := mbcore.ProtocolDataUnit{FunctionCode: mbcore.FuncMaskWriteRegister, Data: make([]byte, 6)}
	resp := s.dispatch(req)
	if !resp.IsException() || resp.ExceptionCode() != mbcore.ExcIllegalDataAddress {
		t.Fatalf("expected illegal data address exception, got %+v", resp)
	}
}

func TestDispatchReadWriteMultipleWritesBeforeRead(t *testing.T) {
	regs := map[uint16]uint16{0x0000: 0, 0x0001: 0}
	cb := Callbacks{
		ReadHolding:  func(addr uint16) (uint16, error) { return regs[addr], nil },
		WriteHolding: func(addr uint16, v uint16) error { regs[addr] = v; return nil },
	}
	s := New(&fakePort{}, cb)

	req := mbcore.ProtocolDataUnit{FunctionCode: mbcore.FuncReadWriteMultipleRegisters, Data: make([]byte, 9+4)}
	mbcore.PutUint16(req.Data[0:2], 0x0000) // read addr
	mbcore.PutUint16(req.Data[2:4], 2)      // read qty
	mbcore.PutUint16(req.Data[4:6], 0x0000) // write addr
	mbcore.PutUint16(req.Data[6:8], 2)      // write qty
	req.Data[8] = 4
	mbcore.PutUint16(req.Data[9:11], 0xAAAA)
	mbcore.PutUint16(req.Data[11:13], 0xBBBB)

	resp := s.dispatch(req)
	if resp.IsException() {
		t.Fatalf("unexpected exception: %+v", resp)
	}
	if mbcore.GetUint16(resp.Data[1:3]) != 0xAAAA || mbcore.GetUint16(resp.Data[3:5]) != 0xBBBB {
		t.Fatalf("read did not observe the just-written values: % X", resp.Data)
	}
}

func TestDispatchWriteSingleCoilRejectsInvalidValue(t *testing.T) {
	cb := Callbacks{WriteCoil: func(addr uint16, bit int) error { return nil }}
	s := New(&fakePort{}, cb)

	req := mbcore.ProtocolDataUnit{FunctionCode: mbcore.FuncWriteSingleCoil, Data: make([]byte, 4)}
	mbcore.PutUint16(req.Data[0:2], 0x0000)
	mbcore.PutUint16(req.Data[2:4], 0x1234)

	resp := s.dispatch(req)
	if !resp.IsException() || resp.ExceptionCode() != mbcore.ExcIllegalDataValue {
		t.Fatalf("expected illegal data value exception, got %+v", resp)
	}
}

func TestDispatchMissingCallbackIsDeviceFailure(t *testing.T) {
	s := New(&fakePort{}, Callbacks{})
	req := mbcore.ProtocolDataUnit{FunctionCode: mbcore.FuncReadHoldingRegisters, Data: make([]byte, 4)}
	mbcore.PutUint16(req.Data[0:2], 0)
	mbcore.PutUint16(req.Data[2:4], 1)

	resp := s.dispatch(req)
	if !resp.IsException() || resp.ExceptionCode() != mbcore.ExcServerDeviceFailure {
		t.Fatalf("expected device failure exception, got %+v", resp)
	}
}
