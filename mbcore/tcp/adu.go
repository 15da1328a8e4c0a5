// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package tcp implements the Modbus TCP application data unit: the
// 7-byte MBAP header (transaction id, protocol id, length, unit id)
// wrapping a PDU.
package tcp

import (
	"errors"
	"fmt"

	"github.com/lattice-io/modbus-engine/mbcore"
)

const (
	// MinSize is the smallest legal TCP frame: MBAP header plus one
	// PDU byte (a bare function code).
	MinSize = 7 + 1
	// MaxSize is the largest legal TCP frame.
	MaxSize = 260
)

// ErrShortFrame is returned by Decode when raw is shorter than MinSize.
var ErrShortFrame = errors.New("tcp: frame shorter than minimum size")

// ErrProtocolID is returned by strict Decode when the protocol id
// field is not zero.
var ErrProtocolID = errors.New("tcp: non-zero protocol id")

// ErrLength is returned by strict Decode when the length field does
// not match the actual PDU length.
var ErrLength = errors.New("tcp: length field inconsistent with pdu")

// ADU is a Modbus TCP application data unit.
type ADU struct {
	TransactionID uint16
	ProtocolID    uint16
	UnitID        byte
	PDU           mbcore.ProtocolDataUnit
}

// Encode writes the MBAP header followed by the PDU, back-patching the
// length field to 1 (unit id) + len(pdu).
func (a ADU) Encode() ([]byte, error) {
	pduBuf := make([]byte, MaxSize)
	n, err := mbcore.Make(pduBuf, a.PDU)
	if err != nil {
		return nil, err
	}
	total := 7 + n
	if total > MaxSize {
		return nil, fmt.Errorf("tcp: encoded frame length %d exceeds maximum %d", total, MaxSize)
	}

	raw := make([]byte, total)
	mbcore.PutUint16(raw[0:2], a.TransactionID)
	mbcore.PutUint16(raw[2:4], a.ProtocolID)
	mbcore.PutUint16(raw[4:6], uint16(1+n))
	raw[6] = a.UnitID
	copy(raw[7:], pduBuf[:n])
	return raw, nil
}

// Decode parses raw as a TCP ADU. When strict is true it also
// validates the protocol id and length fields per §4.5/I4; the slave
// core decodes non-strict and re-checks protocol id separately so a
// PID mismatch can be handled as a silent drop rather than folded into
// a generic decode error.
func Decode(raw []byte, dir mbcore.Direction, strict bool) (*ADU, error) {
	if len(raw) < MinSize {
		return nil, ErrShortFrame
	}

	tid := mbcore.GetUint16(raw[0:2])
	pid := mbcore.GetUint16(raw[2:4])
	length := mbcore.GetUint16(raw[4:6])
	unitID := raw[6]
	pduBytes := raw[7:]

	if strict {
		if pid != 0 {
			return nil, ErrProtocolID
		}
		if int(length) != 1+len(pduBytes) {
			return nil, ErrLength
		}
	}

	pdu, err := mbcore.Parse(pduBytes, dir)
	if err != nil {
		return nil, err
	}
	return &ADU{TransactionID: tid, ProtocolID: pid, UnitID: unitID, PDU: pdu}, nil
}
