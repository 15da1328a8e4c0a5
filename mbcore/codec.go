// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package mbcore defines the wire-level building blocks shared by every
// Modbus transport: the byte and bitmap codecs, the protocol data unit
// (PDU) model, and the function/exception code tables. Nothing in this
// package depends on a transport, so it is safe to import from both
// master and slave code.
package mbcore

import "encoding/binary"

// PutUint16 writes v into buf big-endian, the byte order Modbus uses on
// the wire for every multi-byte field.
func PutUint16(buf []byte, v uint16) {
	binary.BigEndian.PutUint16(buf, v)
}

// GetUint16 reads a big-endian uint16 from the front of buf.
func GetUint16(buf []byte) uint16 {
	return binary.BigEndian.Uint16(buf)
}

// SetBit sets bit i (0-based) of buf to 0 or 1, addressing bits
// LSB-first within each byte, the Modbus convention for coil and
// discrete-input bitmaps.
func SetBit(buf []byte, i int, v int) {
	byteIdx, bitIdx := i/8, uint(i%8)
	if v != 0 {
		buf[byteIdx] |= 1 << bitIdx
	} else {
		buf[byteIdx] &^= 1 << bitIdx
	}
}

// GetBit returns bit i (0-based) of buf as 0 or 1.
func GetBit(buf []byte, i int) int {
	byteIdx, bitIdx := i/8, uint(i%8)
	return int((buf[byteIdx] >> bitIdx) & 1)
}

// ByteCountForBits returns the number of bytes needed to pack n bits,
// i.e. ceil(n/8).
func ByteCountForBits(n int) int {
	return (n + 7) / 8
}
