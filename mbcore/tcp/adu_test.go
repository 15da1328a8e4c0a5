// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"bytes"
	"testing"

	"github.com/lattice-io/modbus-engine/mbcore"
)

func TestRoundTripReadHoldingRegisters(t *testing.T) {
	// Spec.md §8 scenario 4.
	reqPayload := make([]byte, 4)
	mbcore.PutUint16(reqPayload[0:2], 0x0000)
	mbcore.PutUint16(reqPayload[2:4], 2)

	adu := ADU{
		TransactionID: 1,
		UnitID:        17,
		PDU: mbcore.ProtocolDataUnit{
			FunctionCode: mbcore.FuncReadHoldingRegisters,
			Data:         reqPayload,
		},
	}
	raw, err := adu.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x11, 0x03, 0x00, 0x00, 0x00, 0x02}
	if !bytes.Equal(raw, want) {
		t.Fatalf("encode mismatch:\n got  % X\n want % X", raw, want)
	}

	decoded, err := Decode(raw, mbcore.Request, true)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.TransactionID != 1 || decoded.ProtocolID != 0 || decoded.UnitID != 17 {
		t.Fatalf("header mismatch: %+v", decoded)
	}
}

func TestRoundTripResponse(t *testing.T) {
	// Spec.md §8 scenario 4 response.
	want := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x07, 0x11, 0x03, 0x04, 0x12, 0x34, 0x56, 0x78}
	decoded, err := Decode(want, mbcore.Response, true)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	regs := decoded.PDU.Data[1:]
	if mbcore.GetUint16(regs[0:2]) != 0x1234 || mbcore.GetUint16(regs[2:4]) != 0x5678 {
		t.Fatalf("unexpected register values: % X", regs)
	}

	adu := ADU{TransactionID: decoded.TransactionID, UnitID: decoded.UnitID, PDU: decoded.PDU}
	raw, err := adu.Encode()
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(raw, want) {
		t.Fatalf("re-encode mismatch:\n got  % X\n want % X", raw, want)
	}
}

func TestStrictDecodeRejectsBadProtocolID(t *testing.T) {
	raw := []byte{0x00, 0x01, 0x00, 0x01, 0x00, 0x06, 0x11, 0x06, 0x00, 0x00, 0x00, 0x2A}
	if _, err := Decode(raw, mbcore.Request, true); err != ErrProtocolID {
		t.Fatalf("expected ErrProtocolID, got %v", err)
	}
	// Non-strict decode should still succeed at the framing level,
	// letting the slave core separately reject the PID.
	adu, err := Decode(raw, mbcore.Request, false)
	if err != nil || adu.ProtocolID != 1 {
		t.Fatalf("expected non-strict decode to succeed, got adu=%+v err=%v", adu, err)
	}
}

func TestStrictDecodeRejectsBadLength(t *testing.T) {
	raw := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x09, 0x11, 0x65}
	if _, err := Decode(raw, mbcore.Request, true); err != ErrLength {
		t.Fatalf("expected ErrLength, got %v", err)
	}
}

func TestDecodeRejectsShortFrame(t *testing.T) {
	if _, err := Decode([]byte{0x00, 0x01, 0x00, 0x00}, mbcore.Request, true); err != ErrShortFrame {
		t.Fatalf("expected ErrShortFrame, got %v", err)
	}
}
