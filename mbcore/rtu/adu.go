// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtu implements the Modbus RTU application data unit: a
// one-byte slave address, a PDU, and a little-endian CRC-16/Modbus
// suffix.
package rtu

import (
	"errors"
	"fmt"

	"github.com/lattice-io/modbus-engine/mbcore"
	"github.com/lattice-io/modbus-engine/mbcore/crc"
)

// ErrShortFrame is returned by Decode when raw is shorter than MinSize.
var ErrShortFrame = errors.New("rtu: frame shorter than minimum size")

// ErrCRC is returned by Decode when the trailing CRC does not match
// the computed checksum of the frame body.
var ErrCRC = errors.New("rtu: crc mismatch")

// ADU is a Modbus RTU application data unit.
type ADU struct {
	Address byte
	PDU     mbcore.ProtocolDataUnit
}

// Encode writes [address][pdu][crc-lo][crc-hi] into a freshly allocated
// slice and returns it. It fails only if the resulting frame would
// exceed MaxSize.
func (a ADU) Encode() ([]byte, error) {
	pduBuf := make([]byte, MaxSize)
	n, err := mbcore.Make(pduBuf, a.PDU)
	if err != nil {
		return nil, err
	}
	total := 1 + n + 2
	if total > MaxSize {
		return nil, fmt.Errorf("rtu: encoded frame length %d exceeds maximum %d", total, MaxSize)
	}

	raw := make([]byte, total)
	raw[0] = a.Address
	copy(raw[1:1+n], pduBuf[:n])

	sum := crc.Checksum(raw[:total-2])
	raw[total-2] = byte(sum)
	raw[total-1] = byte(sum >> 8)
	return raw, nil
}

// Decode parses raw as an RTU frame, verifying its CRC before handing
// the interior bytes to the PDU codec. dir disambiguates the
// request/response shape of asymmetric function codes.
func Decode(raw []byte, dir mbcore.Direction) (*ADU, error) {
	if len(raw) < MinSize {
		return nil, ErrShortFrame
	}

	body := raw[:len(raw)-2]
	want := uint16(raw[len(raw)-2]) | uint16(raw[len(raw)-1])<<8
	if crc.Checksum(body) != want {
		return nil, ErrCRC
	}

	pdu, err := mbcore.Parse(body[1:], dir)
	if err != nil {
		return nil, err
	}
	return &ADU{Address: body[0], PDU: pdu}, nil
}
