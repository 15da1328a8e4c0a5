// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package gateway

import (
	"context"

	"github.com/lattice-io/modbus-engine/mbcore"
	"github.com/lattice-io/modbus-engine/slave"
)

// LocalDownstream dispatches requests directly to an in-process
// slave.Server's callback table, without putting anything on a wire.
type LocalDownstream struct {
	Server *slave.Server
}

// Send dispatches pdu locally. slaveID is accepted to satisfy
// Downstream but ignored: a local downstream answers for whichever
// slave id(s) route to it. An exception response is returned like any
// other PDU, not as a Go error: it is a valid Modbus answer that the
// gateway forwards upstream unchanged.
func (d *LocalDownstream) Send(_ context.Context, _ byte, pdu mbcore.ProtocolDataUnit) (mbcore.ProtocolDataUnit, error) {
	return d.Server.Dispatch(pdu), nil
}

// Connect is a no-op: there is no backend to open.
func (d *LocalDownstream) Connect(context.Context) error { return nil }

// Close is a no-op: the caller owns the Server's lifecycle.
func (d *LocalDownstream) Close() error { return nil }
