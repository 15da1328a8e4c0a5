// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"bytes"
	"testing"

	"github.com/lattice-io/modbus-engine/mbcore"
)

func TestRoundTripReadHoldingRegistersRequest(t *testing.T) {
	// Spec.md §8 scenario 1.
	adu := ADU{
		Address: 1,
		PDU: mbcore.ProtocolDataUnit{
			FunctionCode: mbcore.FuncReadHoldingRegisters,
			Data:         encodeReadRequest(0x006B, 3),
		},
	}
	raw, err := adu.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []byte{0x01, 0x03, 0x00, 0x6B, 0x00, 0x03, 0x74, 0x17}
	if !bytes.Equal(raw, want) {
		t.Fatalf("encode mismatch:\n got  % X\n want % X", raw, want)
	}

	decoded, err := Decode(raw, mbcore.Request)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Address != adu.Address || decoded.PDU.FunctionCode != adu.PDU.FunctionCode {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestRoundTripReadHoldingRegistersResponse(t *testing.T) {
	// Spec.md §8 scenario 1 response.
	want := []byte{0x01, 0x03, 0x06, 0xAE, 0x41, 0x56, 0x52, 0x43, 0x40, 0x84, 0x6D}
	decoded, err := Decode(want, mbcore.Response)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	regs := decoded.PDU.Data[1:]
	if mbcore.GetUint16(regs[0:2]) != 0xAE41 || mbcore.GetUint16(regs[2:4]) != 0x5652 || mbcore.GetUint16(regs[4:6]) != 0x4340 {
		t.Fatalf("unexpected register values: % X", regs)
	}

	adu := ADU{Address: 1, PDU: decoded.PDU}
	raw, err := adu.Encode()
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(raw, want) {
		t.Fatalf("re-encode mismatch:\n got  % X\n want % X", raw, want)
	}
}

func TestIllegalFunctionException(t *testing.T) {
	// Spec.md §8 scenario 2: slave replies to fc 0x65 with
	// [id][0xE5][0x01][CRC].
	adu := ADU{Address: 1, PDU: mbcore.NewException(0x65, mbcore.ExcIllegalFunction)}
	raw, err := adu.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []byte{0x01, 0xE5, 0x01}
	if !bytes.Equal(raw[:3], want) {
		t.Fatalf("unexpected exception frame prefix: % X", raw)
	}

	decoded, err := Decode(raw, mbcore.Response)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.PDU.IsException() || decoded.PDU.ExceptionCode() != mbcore.ExcIllegalFunction {
		t.Fatalf("expected illegal-function exception, got %+v", decoded.PDU)
	}
}

func TestCRCMismatchIsDetected(t *testing.T) {
	adu := ADU{
		Address: 1,
		PDU: mbcore.ProtocolDataUnit{
			FunctionCode: mbcore.FuncReadHoldingRegisters,
			Data:         encodeReadRequest(0x006B, 3),
		},
	}
	raw, err := adu.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	for i := range raw {
		for bit := 0; bit < 8; bit++ {
			flipped := append([]byte(nil), raw...)
			flipped[i] ^= 1 << bit
			if _, err := Decode(flipped, mbcore.Request); err == nil {
				t.Fatalf("expected decode failure after flipping byte %d bit %d", i, bit)
			}
		}
	}
}

func TestDecodeRejectsShortFrame(t *testing.T) {
	if _, err := Decode([]byte{0x01, 0x03, 0x00}, mbcore.Request); err != ErrShortFrame {
		t.Fatalf("expected ErrShortFrame, got %v", err)
	}
}

func encodeReadRequest(addr, qty uint16) []byte {
	buf := make([]byte, 4)
	mbcore.PutUint16(buf[0:2], addr)
	mbcore.PutUint16(buf[2:4], qty)
	return buf
}
