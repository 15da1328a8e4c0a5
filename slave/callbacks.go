// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package slave implements the Modbus slave (server) dispatch core:
// decode an incoming PDU, invoke user-supplied callbacks against
// whatever state they own, and frame the response.
package slave

import (
	"fmt"

	"github.com/lattice-io/modbus-engine/mbcore"
)

// Callbacks is the state-access table a Server delegates all data
// access to. A nil field is treated as "not implemented" and maps to
// ExcServerDeviceFailure for any request that would have used it.
type Callbacks struct {
	ReadDiscrete func(addr uint16) (bit int, err error)
	ReadCoil     func(addr uint16) (bit int, err error)
	WriteCoil    func(addr uint16, bit int) error
	ReadInput    func(addr uint16) (reg uint16, err error)
	ReadHolding  func(addr uint16) (reg uint16, err error)
	WriteHolding func(addr uint16, reg uint16) error
}

// ModbusFault carries an explicit Modbus exception code out of a
// callback, letting handler code distinguish "illegal address" from
// "illegal value" from "device failure" instead of collapsing every
// callback error to 0x04.
type ModbusFault struct {
	Code byte
}

func (f *ModbusFault) Error() string {
	return fmt.Sprintf("slave: exception 0x%02X", f.Code)
}

// Fault wraps code as a ModbusFault error.
func Fault(code byte) error {
	return &ModbusFault{Code: code}
}

// exceptionCode maps any error returned by a callback to a Modbus
// exception code: a *ModbusFault carries its code through unchanged,
// any other non-nil error is spec.md's blanket 0x04 device failure.
func exceptionCode(err error) byte {
	if fault, ok := err.(*ModbusFault); ok {
		return fault.Code
	}
	return mbcore.ExcServerDeviceFailure
}
