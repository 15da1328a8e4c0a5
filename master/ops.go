// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import (
	"context"
	"fmt"

	"github.com/lattice-io/modbus-engine/mbcore"
)

// ReadBits reads qty coils (fc 0x01) starting at addr, filling bits
// with 0/1 values and returning the number of bits actually decoded
// from the response (clamped to qty and to the bytes the slave
// actually sent, never more than len(bits)); on transport or framing
// failure it returns (0, nil); a slave exception is returned as
// (0, *ExceptionError).
func (c *Client) ReadBits(ctx context.Context, addr, qty uint16, bits []int) (int, error) {
	return c.readBits(ctx, mbcore.FuncReadCoils, addr, qty, bits)
}

// ReadInputBits reads qty discrete inputs (fc 0x02).
func (c *Client) ReadInputBits(ctx context.Context, addr, qty uint16, bits []int) (int, error) {
	return c.readBits(ctx, mbcore.FuncReadDiscreteInputs, addr, qty, bits)
}

func (c *Client) readBits(ctx context.Context, fc byte, addr, qty uint16, bits []int) (int, error) {
	req := mbcore.ReadRequest{Address: addr, Quantity: qty}
	n := req.Encode(c.payloadBuf[:], fc)
	resp, err := c.transact(ctx, mbcore.ProtocolDataUnit{FunctionCode: fc, Data: c.payloadBuf[1:n]})
	if err != nil {
		return 0, err
	}
	if len(resp.Data) < 1 {
		return 0, nil
	}
	payload := resp.Data[1:]
	count := int(qty)
	if avail := len(payload) * 8; avail < count {
		count = avail
	}
	if count > len(bits) {
		count = len(bits)
	}
	for i := 0; i < count; i++ {
		bits[i] = mbcore.GetBit(payload, i)
	}
	return count, nil
}

// ReadRegs reads qty holding registers (fc 0x03) into regs, decoded
// big-endian in host byte order.
func (c *Client) ReadRegs(ctx context.Context, addr, qty uint16, regs []uint16) (int, error) {
	return c.readRegs(ctx, mbcore.FuncReadHoldingRegisters, addr, qty, regs)
}

// ReadInputRegs reads qty input registers (fc 0x04).
func (c *Client) ReadInputRegs(ctx context.Context, addr, qty uint16, regs []uint16) (int, error) {
	return c.readRegs(ctx, mbcore.FuncReadInputRegisters, addr, qty, regs)
}

func (c *Client) readRegs(ctx context.Context, fc byte, addr, qty uint16, regs []uint16) (int, error) {
	req := mbcore.ReadRequest{Address: addr, Quantity: qty}
	n := req.Encode(c.payloadBuf[:], fc)
	resp, err := c.transact(ctx, mbcore.ProtocolDataUnit{FunctionCode: fc, Data: c.payloadBuf[1:n]})
	if err != nil {
		return 0, err
	}
	if len(resp.Data) < 1 {
		return 0, nil
	}
	payload := resp.Data[1:]
	count := len(payload) / 2
	for i := 0; i < count && i < len(regs); i++ {
		regs[i] = mbcore.GetUint16(payload[2*i : 2*i+2])
	}
	return count, nil
}

// WriteBit writes a single coil (fc 0x05). value is normalized to
// Modbus's 0x0000/0xFF00 wire encoding.
func (c *Client) WriteBit(ctx context.Context, addr uint16, value bool) (int, error) {
	wireValue := uint16(0x0000)
	if value {
		wireValue = 0xFF00
	}
	req := mbcore.WriteSingle{Address: addr, Value: wireValue}
	n := req.Encode(c.payloadBuf[:], mbcore.FuncWriteSingleCoil)
	resp, err := c.transact(ctx, mbcore.ProtocolDataUnit{FunctionCode: mbcore.FuncWriteSingleCoil, Data: c.payloadBuf[1:n]})
	if err != nil {
		return 0, err
	}
	if isCommFailure(resp) {
		return 0, nil
	}
	return 1, nil
}

// WriteReg writes a single holding register (fc 0x06).
func (c *Client) WriteReg(ctx context.Context, addr, value uint16) (int, error) {
	req := mbcore.WriteSingle{Address: addr, Value: value}
	n := req.Encode(c.payloadBuf[:], mbcore.FuncWriteSingleRegister)
	resp, err := c.transact(ctx, mbcore.ProtocolDataUnit{FunctionCode: mbcore.FuncWriteSingleRegister, Data: c.payloadBuf[1:n]})
	if err != nil {
		return 0, err
	}
	if isCommFailure(resp) {
		return 0, nil
	}
	return 1, nil
}

// WriteBits writes qty coils (fc 0x0F) from bits, one entry per coil.
func (c *Client) WriteBits(ctx context.Context, addr uint16, bits []int) (int, error) {
	qty := uint16(len(bits))
	bc := mbcore.ByteCountForBits(len(bits))
	payload := make([]byte, bc)
	for i, b := range bits {
		mbcore.SetBit(payload, i, b)
	}
	req := mbcore.WriteMultipleRequest{Address: addr, Quantity: qty, Payload: payload}
	n := req.Encode(c.payloadBuf[:], mbcore.FuncWriteMultipleCoils)
	resp, err := c.transact(ctx, mbcore.ProtocolDataUnit{FunctionCode: mbcore.FuncWriteMultipleCoils, Data: c.payloadBuf[1:n]})
	if err != nil {
		return 0, err
	}
	if isCommFailure(resp) {
		return 0, nil
	}
	return int(qty), nil
}

// WriteRegs writes len(regs) holding registers (fc 0x10) starting at
// addr.
func (c *Client) WriteRegs(ctx context.Context, addr uint16, regs []uint16) (int, error) {
	qty := uint16(len(regs))
	payload := make([]byte, 2*len(regs))
	for i, r := range regs {
		mbcore.PutUint16(payload[2*i:2*i+2], r)
	}
	req := mbcore.WriteMultipleRequest{Address: addr, Quantity: qty, Payload: payload}
	n := req.Encode(c.payloadBuf[:], mbcore.FuncWriteMultipleRegisters)
	resp, err := c.transact(ctx, mbcore.ProtocolDataUnit{FunctionCode: mbcore.FuncWriteMultipleRegisters, Data: c.payloadBuf[1:n]})
	if err != nil {
		return 0, err
	}
	if isCommFailure(resp) {
		return 0, nil
	}
	return int(qty), nil
}

// MaskWriteReg performs the read-modify-write mask operation (fc
// 0x16): new = (current AND andMask) OR (orMask AND NOT andMask).
func (c *Client) MaskWriteReg(ctx context.Context, addr, andMask, orMask uint16) (int, error) {
	req := mbcore.MaskWrite{Address: addr, AndMask: andMask, OrMask: orMask}
	n := req.Encode(c.payloadBuf[:], mbcore.FuncMaskWriteRegister)
	resp, err := c.transact(ctx, mbcore.ProtocolDataUnit{FunctionCode: mbcore.FuncMaskWriteRegister, Data: c.payloadBuf[1:n]})
	if err != nil {
		return 0, err
	}
	if isCommFailure(resp) {
		return 0, nil
	}
	return 1, nil
}

// WriteAndReadRegs performs fc 0x17: the slave applies writeRegs
// first, then returns readQty registers starting at readAddr, decoded
// into regs.
func (c *Client) WriteAndReadRegs(ctx context.Context, readAddr, readQty, writeAddr uint16, writeRegs []uint16, regs []uint16) (int, error) {
	payload := make([]byte, 2*len(writeRegs))
	for i, r := range writeRegs {
		mbcore.PutUint16(payload[2*i:2*i+2], r)
	}
	req := mbcore.ReadWriteRequest{
		ReadAddress:   readAddr,
		ReadQuantity:  readQty,
		WriteAddress:  writeAddr,
		WriteQuantity: uint16(len(writeRegs)),
		WritePayload:  payload,
	}
	if 10+len(payload) > len(c.payloadBuf) {
		return 0, fmt.Errorf("master: write payload too large for scratch buffer")
	}
	n := req.Encode(c.payloadBuf[:], mbcore.FuncReadWriteMultipleRegisters)
	resp, err := c.transact(ctx, mbcore.ProtocolDataUnit{FunctionCode: mbcore.FuncReadWriteMultipleRegisters, Data: c.payloadBuf[1:n]})
	if err != nil {
		return 0, err
	}
	if len(resp.Data) < 1 {
		return 0, nil
	}
	respPayload := resp.Data[1:]
	count := len(respPayload) / 2
	for i := 0; i < count && i < len(regs); i++ {
		regs[i] = mbcore.GetUint16(respPayload[2*i : 2*i+2])
	}
	return count, nil
}
