// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package slave

import "github.com/lattice-io/modbus-engine/mbcore"

// dispatch routes req to its per-function-code handler, per spec.md
// §4.9. It always returns a valid response PDU: on failure the
// response is the exception shape rather than an error, since a
// slave never propagates Go errors onto the wire.
func (s *Server) dispatch(req mbcore.ProtocolDataUnit) mbcore.ProtocolDataUnit {
	switch req.FunctionCode {
	case mbcore.FuncReadCoils:
		return s.handleReadBits(req, s.callbacks.ReadCoil)
	case mbcore.FuncReadDiscreteInputs:
		return s.handleReadBits(req, s.callbacks.ReadDiscrete)
	case mbcore.FuncReadHoldingRegisters:
		return s.handleReadRegs(req, s.callbacks.ReadHolding)
	case mbcore.FuncReadInputRegisters:
		return s.handleReadRegs(req, s.callbacks.ReadInput)
	case mbcore.FuncWriteSingleCoil:
		return s.handleWriteSingleCoil(req)
	case mbcore.FuncWriteSingleRegister:
		return s.handleWriteSingleRegister(req)
	case mbcore.FuncWriteMultipleCoils:
		return s.handleWriteMultipleCoils(req)
	case mbcore.FuncWriteMultipleRegisters:
		return s.handleWriteMultipleRegisters(req)
	case mbcore.FuncMaskWriteRegister:
		return s.handleMaskWriteRegister(req)
	case mbcore.FuncReadWriteMultipleRegisters:
		return s.handleReadWriteMultipleRegisters(req)
	default:
		return mbcore.NewException(req.FunctionCode, mbcore.ExcIllegalFunction)
	}
}

func (s *Server) handleReadBits(req mbcore.ProtocolDataUnit, read func(uint16) (int, error)) mbcore.ProtocolDataUnit {
	if read == nil {
		return mbcore.NewException(req.FunctionCode, mbcore.ExcServerDeviceFailure)
	}
	addr := mbcore.GetUint16(req.Data[0:2])
	qty := mbcore.GetUint16(req.Data[2:4])

	bc := mbcore.ByteCountForBits(int(qty))
	payload := make([]byte, bc)
	for i := 0; i < int(qty); i++ {
		bit, err := read(addr + uint16(i))
		if err != nil {
			return mbcore.NewException(req.FunctionCode, exceptionCode(err))
		}
		mbcore.SetBit(payload, i, bit)
	}

	respData := make([]byte, 1+bc)
	respData[0] = byte(bc)
	copy(respData[1:], payload)
	return mbcore.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: respData}
}

func (s *Server) handleReadRegs(req mbcore.ProtocolDataUnit, read func(uint16) (uint16, error)) mbcore.ProtocolDataUnit {
	if read == nil {
		return mbcore.NewException(req.FunctionCode, mbcore.ExcServerDeviceFailure)
	}
	addr := mbcore.GetUint16(req.Data[0:2])
	qty := mbcore.GetUint16(req.Data[2:4])

	respData := make([]byte, 1+2*int(qty))
	respData[0] = byte(2 * int(qty))
	for i := 0; i < int(qty); i++ {
		reg, err := read(addr + uint16(i))
		if err != nil {
			return mbcore.NewException(req.FunctionCode, exceptionCode(err))
		}
		mbcore.PutUint16(respData[1+2*i:3+2*i], reg)
	}
	return mbcore.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: respData}
}

func (s *Server) handleWriteSingleCoil(req mbcore.ProtocolDataUnit) mbcore.ProtocolDataUnit {
	if s.callbacks.WriteCoil == nil {
		return mbcore.NewException(req.FunctionCode, mbcore.ExcServerDeviceFailure)
	}
	addr := mbcore.GetUint16(req.Data[0:2])
	value := mbcore.GetUint16(req.Data[2:4])
	if value != 0x0000 && value != 0xFF00 {
		return mbcore.NewException(req.FunctionCode, mbcore.ExcIllegalDataValue)
	}
	bit := 0
	if value == 0xFF00 {
		bit = 1
	}
	if err := s.callbacks.WriteCoil(addr, bit); err != nil {
		return mbcore.NewException(req.FunctionCode, exceptionCode(err))
	}
	return mbcore.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: req.Data}
}

func (s *Server) handleWriteSingleRegister(req mbcore.ProtocolDataUnit) mbcore.ProtocolDataUnit {
	if s.callbacks.WriteHolding == nil {
		return mbcore.NewException(req.FunctionCode, mbcore.ExcServerDeviceFailure)
	}
	addr := mbcore.GetUint16(req.Data[0:2])
	value := mbcore.GetUint16(req.Data[2:4])
	if err := s.callbacks.WriteHolding(addr, value); err != nil {
		return mbcore.NewException(req.FunctionCode, exceptionCode(err))
	}
	return mbcore.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: req.Data}
}

func (s *Server) handleWriteMultipleCoils(req mbcore.ProtocolDataUnit) mbcore.ProtocolDataUnit {
	if s.callbacks.WriteCoil == nil {
		return mbcore.NewException(req.FunctionCode, mbcore.ExcServerDeviceFailure)
	}
	addr := mbcore.GetUint16(req.Data[0:2])
	qty := mbcore.GetUint16(req.Data[2:4])
	payload := req.Data[5:]

	for i := 0; i < int(qty); i++ {
		if err := s.callbacks.WriteCoil(addr+uint16(i), mbcore.GetBit(payload, i)); err != nil {
			return mbcore.NewException(req.FunctionCode, exceptionCode(err))
		}
	}
	respData := make([]byte, 4)
	mbcore.PutUint16(respData[0:2], addr)
	mbcore.PutUint16(respData[2:4], qty)
	return mbcore.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: respData}
}

func (s *Server) handleWriteMultipleRegisters(req mbcore.ProtocolDataUnit) mbcore.ProtocolDataUnit {
	if s.callbacks.WriteHolding == nil {
		return mbcore.NewException(req.FunctionCode, mbcore.ExcServerDeviceFailure)
	}
	addr := mbcore.GetUint16(req.Data[0:2])
	qty := mbcore.GetUint16(req.Data[2:4])
	payload := req.Data[5:]

	for i := 0; i < int(qty); i++ {
		reg := mbcore.GetUint16(payload[2*i : 2*i+2])
		if err := s.callbacks.WriteHolding(addr+uint16(i), reg); err != nil {
			return mbcore.NewException(req.FunctionCode, exceptionCode(err))
		}
	}
	respData := make([]byte, 4)
	mbcore.PutUint16(respData[0:2], addr)
	mbcore.PutUint16(respData[2:4], qty)
	return mbcore.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: respData}
}

// handleMaskWriteRegister implements the read-modify-write mask
// operation without retaining any partial state if either the read or
// the write fails: the new value is computed entirely in a local
// variable before WriteHolding is ever called.
func (s *Server) handleMaskWriteRegister(req mbcore.ProtocolDataUnit) mbcore.ProtocolDataUnit {
	if s.callbacks.ReadHolding == nil || s.callbacks.WriteHolding == nil {
		return mbcore.NewException(req.FunctionCode, mbcore.ExcServerDeviceFailure)
	}
	addr := mbcore.GetUint16(req.Data[0:2])
	andMask := mbcore.GetUint16(req.Data[2:4])
	orMask := mbcore.GetUint16(req.Data[4:6])

	current, err := s.callbacks.ReadHolding(addr)
	if err != nil {
		return mbcore.NewException(req.FunctionCode, exceptionCode(err))
	}
	newValue := (current & andMask) | (orMask &^ andMask)
	if err := s.callbacks.WriteHolding(addr, newValue); err != nil {
		return mbcore.NewException(req.FunctionCode, exceptionCode(err))
	}
	return mbcore.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: req.Data}
}

// handleReadWriteMultipleRegisters executes the write half first; a
// write failure aborts before any read is attempted, per spec.md
// §4.9's 0x17 ordering.
func (s *Server) handleReadWriteMultipleRegisters(req mbcore.ProtocolDataUnit) mbcore.ProtocolDataUnit {
	if s.callbacks.ReadHolding == nil || s.callbacks.WriteHolding == nil {
		return mbcore.NewException(req.FunctionCode, mbcore.ExcServerDeviceFailure)
	}
	readAddr := mbcore.GetUint16(req.Data[0:2])
	readQty := mbcore.GetUint16(req.Data[2:4])
	writeAddr := mbcore.GetUint16(req.Data[4:6])
	writeQty := mbcore.GetUint16(req.Data[6:8])
	writePayload := req.Data[9:]

	for i := 0; i < int(writeQty); i++ {
		reg := mbcore.GetUint16(writePayload[2*i : 2*i+2])
		if err := s.callbacks.WriteHolding(writeAddr+uint16(i), reg); err != nil {
			return mbcore.NewException(req.FunctionCode, exceptionCode(err))
		}
	}

	respData := make([]byte, 1+2*int(readQty))
	respData[0] = byte(2 * int(readQty))
	for i := 0; i < int(readQty); i++ {
		reg, err := s.callbacks.ReadHolding(readAddr + uint16(i))
		if err != nil {
			return mbcore.NewException(req.FunctionCode, exceptionCode(err))
		}
		mbcore.PutUint16(respData[1+2*i:3+2*i], reg)
	}
	return mbcore.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: respData}
}
