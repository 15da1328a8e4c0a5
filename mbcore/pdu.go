// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package mbcore

import (
	"errors"
	"fmt"
)

// Function codes. Codes 0x07 and 0x11 are recognized but never
// dispatched by the slave core; they exist here only so a caller can
// name them explicitly when composing custom requests.
const (
	FuncReadCoils                  byte = 0x01
	FuncReadDiscreteInputs         byte = 0x02
	FuncReadHoldingRegisters       byte = 0x03
	FuncReadInputRegisters         byte = 0x04
	FuncWriteSingleCoil            byte = 0x05
	FuncWriteSingleRegister        byte = 0x06
	FuncReadExceptionStatus        byte = 0x07
	FuncWriteMultipleCoils         byte = 0x0F
	FuncWriteMultipleRegisters     byte = 0x10
	FuncReportSlaveID              byte = 0x11
	FuncMaskWriteRegister          byte = 0x16
	FuncReadWriteMultipleRegisters byte = 0x17

	// ExceptionBit marks a response as an exception when OR'd into the
	// request's function code.
	ExceptionBit byte = 0x80
)

// Exception codes.
const (
	ExcIllegalFunction    byte = 0x01
	ExcIllegalDataAddress byte = 0x02
	ExcIllegalDataValue   byte = 0x03
	ExcServerDeviceFailure byte = 0x04
)

// Direction selects which of the two shapes a function code parses as,
// since 0x03, 0x04, 0x10 and 0x17 have distinct request/response
// layouts.
type Direction int

const (
	Request Direction = iota
	Response
)

// Errors returned by Parse. ErrMalformed and ErrUnsupportedFunction are
// deliberately distinct: a master must be able to tell "the peer sent
// garbage" from "the peer doesn't support this function code", and a
// slave must be able to tell "drop silently" from "reply with an
// illegal-function exception".
var (
	ErrMalformed           = errors.New("mbcore: malformed pdu")
	ErrUnsupportedFunction = errors.New("mbcore: unsupported function code")
)

// ProtocolDataUnit is the function-code-plus-payload portion of a
// Modbus message, independent of transport framing.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// IsException reports whether pdu carries the high-bit-set exception
// shape.
func (pdu ProtocolDataUnit) IsException() bool {
	return pdu.FunctionCode&ExceptionBit != 0
}

// ExceptionCode returns the exception code carried by pdu. Callers
// must check IsException first.
func (pdu ProtocolDataUnit) ExceptionCode() byte {
	if len(pdu.Data) < 1 {
		return 0
	}
	return pdu.Data[0]
}

// RequestFunctionCode returns the function code an exception response
// was raised for, with the exception bit cleared.
func (pdu ProtocolDataUnit) RequestFunctionCode() byte {
	return pdu.FunctionCode &^ ExceptionBit
}

// NewException builds the two-byte exception PDU for function code fc.
func NewException(fc, code byte) ProtocolDataUnit {
	return ProtocolDataUnit{
		FunctionCode: fc | ExceptionBit,
		Data:         []byte{code},
	}
}

// ReadRequest describes the read-request shape shared by the bit reads
// (0x01, 0x02) and the register reads (0x03, 0x04); all four pack into
// the same five-byte wire layout.
type ReadRequest struct {
	Address  uint16
	Quantity uint16
}

// Encode packs a read request (0x01-0x04) into buf, returning the byte
// count written.
func (r ReadRequest) Encode(buf []byte, fc byte) int {
	buf[0] = fc
	PutUint16(buf[1:3], r.Address)
	PutUint16(buf[3:5], r.Quantity)
	return 5
}

// WriteSingle describes the 0x05/0x06 request and response, which are
// byte-identical.
type WriteSingle struct {
	Address uint16
	Value   uint16
}

func (w WriteSingle) Encode(buf []byte, fc byte) int {
	buf[0] = fc
	PutUint16(buf[1:3], w.Address)
	PutUint16(buf[3:5], w.Value)
	return 5
}

// WriteMultipleRequest describes the 0x0F/0x10 request shape.
type WriteMultipleRequest struct {
	Address  uint16
	Quantity uint16
	Payload  []byte
}

func (w WriteMultipleRequest) Encode(buf []byte, fc byte) int {
	buf[0] = fc
	PutUint16(buf[1:3], w.Address)
	PutUint16(buf[3:5], w.Quantity)
	buf[5] = byte(len(w.Payload))
	n := copy(buf[6:], w.Payload)
	return 6 + n
}

// WriteMultipleResponse describes the 0x0F/0x10 response shape.
type WriteMultipleResponse struct {
	Address  uint16
	Quantity uint16
}

func (w WriteMultipleResponse) Encode(buf []byte, fc byte) int {
	buf[0] = fc
	PutUint16(buf[1:3], w.Address)
	PutUint16(buf[3:5], w.Quantity)
	return 5
}

// MaskWrite describes the 0x16 request and response, which are
// byte-identical.
type MaskWrite struct {
	Address uint16
	AndMask uint16
	OrMask  uint16
}

func (m MaskWrite) Encode(buf []byte, fc byte) int {
	buf[0] = fc
	PutUint16(buf[1:3], m.Address)
	PutUint16(buf[3:5], m.AndMask)
	PutUint16(buf[5:7], m.OrMask)
	return 7
}

// ReadWriteRequest describes the 0x17 request shape: write executes
// before read on the slave side, per spec.
type ReadWriteRequest struct {
	ReadAddress   uint16
	ReadQuantity  uint16
	WriteAddress  uint16
	WriteQuantity uint16
	WritePayload  []byte
}

func (r ReadWriteRequest) Encode(buf []byte, fc byte) int {
	buf[0] = fc
	PutUint16(buf[1:3], r.ReadAddress)
	PutUint16(buf[3:5], r.ReadQuantity)
	PutUint16(buf[5:7], r.WriteAddress)
	PutUint16(buf[7:9], r.WriteQuantity)
	buf[9] = byte(len(r.WritePayload))
	n := copy(buf[10:], r.WritePayload)
	return 10 + n
}

// Make serializes pdu into buf and returns the number of bytes
// written. It performs no validation beyond what the caller already
// encoded into pdu.Data; validation of ranges and shapes happens in
// Parse and in the master/slave layers that build requests.
func Make(buf []byte, pdu ProtocolDataUnit) (int, error) {
	if len(buf) < 1+len(pdu.Data) {
		return 0, fmt.Errorf("mbcore: buffer too small for pdu")
	}
	buf[0] = pdu.FunctionCode
	n := copy(buf[1:], pdu.Data)
	return 1 + n, nil
}

// Parse decodes the function code and payload carried in raw (a
// pdu-shaped byte slice with fc in raw[0]) according to fc and dir,
// validating the shape implied by §4.3's layout table.
//
// It returns ErrMalformed for a structurally invalid frame and
// ErrUnsupportedFunction for a function code this codec does not
// implement — the two are kept distinct so a caller can synthesize an
// illegal-function exception only in the second case.
func Parse(raw []byte, dir Direction) (ProtocolDataUnit, error) {
	if len(raw) < 2 {
		return ProtocolDataUnit{}, ErrMalformed
	}
	fc := raw[0]
	data := raw[1:]

	if fc&ExceptionBit != 0 {
		if len(data) != 1 {
			return ProtocolDataUnit{}, ErrMalformed
		}
		return ProtocolDataUnit{FunctionCode: fc, Data: data}, nil
	}

	switch fc {
	case FuncReadCoils, FuncReadDiscreteInputs:
		return parseBitReadOrResponse(fc, data, dir, 2000)
	case FuncReadHoldingRegisters, FuncReadInputRegisters:
		return parseRegisterReadOrResponse(fc, data, dir)
	case FuncWriteSingleCoil, FuncWriteSingleRegister:
		if len(data) != 4 {
			return ProtocolDataUnit{}, ErrMalformed
		}
		return ProtocolDataUnit{FunctionCode: fc, Data: data}, nil
	case FuncWriteMultipleCoils:
		return parseWriteMultiple(fc, data, dir, 1968, false)
	case FuncWriteMultipleRegisters:
		return parseWriteMultiple(fc, data, dir, 123, true)
	case FuncMaskWriteRegister:
		if len(data) != 6 {
			return ProtocolDataUnit{}, ErrMalformed
		}
		return ProtocolDataUnit{FunctionCode: fc, Data: data}, nil
	case FuncReadWriteMultipleRegisters:
		return parseReadWrite(fc, data, dir)
	default:
		return ProtocolDataUnit{}, ErrUnsupportedFunction
	}
}

func parseBitReadOrResponse(fc byte, data []byte, dir Direction, maxQty int) (ProtocolDataUnit, error) {
	if dir == Request {
		if len(data) != 4 {
			return ProtocolDataUnit{}, ErrMalformed
		}
		qty := int(GetUint16(data[2:4]))
		if qty < 1 || qty > maxQty {
			return ProtocolDataUnit{}, ErrMalformed
		}
		return ProtocolDataUnit{FunctionCode: fc, Data: data}, nil
	}
	if len(data) < 1 {
		return ProtocolDataUnit{}, ErrMalformed
	}
	bc := int(data[0])
	if len(data) < 1+bc {
		return ProtocolDataUnit{}, ErrMalformed
	}
	return ProtocolDataUnit{FunctionCode: fc, Data: data[:1+bc]}, nil
}

func parseRegisterReadOrResponse(fc byte, data []byte, dir Direction) (ProtocolDataUnit, error) {
	if dir == Request {
		if len(data) != 4 {
			return ProtocolDataUnit{}, ErrMalformed
		}
		qty := int(GetUint16(data[2:4]))
		if qty < 1 || qty > 125 {
			return ProtocolDataUnit{}, ErrMalformed
		}
		return ProtocolDataUnit{FunctionCode: fc, Data: data}, nil
	}
	if len(data) < 1 {
		return ProtocolDataUnit{}, ErrMalformed
	}
	bc := int(data[0])
	if bc%2 != 0 || len(data) < 1+bc {
		return ProtocolDataUnit{}, ErrMalformed
	}
	return ProtocolDataUnit{FunctionCode: fc, Data: data[:1+bc]}, nil
}

func parseWriteMultiple(fc byte, data []byte, dir Direction, maxQty int, registers bool) (ProtocolDataUnit, error) {
	if dir == Response {
		if len(data) != 4 {
			return ProtocolDataUnit{}, ErrMalformed
		}
		return ProtocolDataUnit{FunctionCode: fc, Data: data}, nil
	}
	if len(data) < 5 {
		return ProtocolDataUnit{}, ErrMalformed
	}
	qty := int(GetUint16(data[2:4]))
	if qty < 1 || qty > maxQty {
		return ProtocolDataUnit{}, ErrMalformed
	}
	bc := int(data[4])
	want := bc
	if registers {
		if bc != 2*qty {
			return ProtocolDataUnit{}, ErrMalformed
		}
	} else {
		if bc != ByteCountForBits(qty) {
			return ProtocolDataUnit{}, ErrMalformed
		}
	}
	if len(data) < 5+want {
		return ProtocolDataUnit{}, ErrMalformed
	}
	return ProtocolDataUnit{FunctionCode: fc, Data: data[:5+want]}, nil
}

func parseReadWrite(fc byte, data []byte, dir Direction) (ProtocolDataUnit, error) {
	if dir == Response {
		return parseRegisterReadOrResponse(fc, data, Response)
	}
	if len(data) < 9 {
		return ProtocolDataUnit{}, ErrMalformed
	}
	readQty := int(GetUint16(data[2:4]))
	writeQty := int(GetUint16(data[6:8]))
	if readQty < 1 || readQty > 125 || writeQty < 1 || writeQty > 121 {
		return ProtocolDataUnit{}, ErrMalformed
	}
	bc := int(data[8])
	if bc != 2*writeQty || len(data) < 9+bc {
		return ProtocolDataUnit{}, ErrMalformed
	}
	return ProtocolDataUnit{FunctionCode: fc, Data: data[:9+bc]}, nil
}
