// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package gateway

import (
	"context"
	"errors"

	"github.com/lattice-io/modbus-engine/master"
	"github.com/lattice-io/modbus-engine/mbcore"
)

// MasterDownstream adapts a master.Client into a Downstream, routing
// each request to the slave id carried by the incoming PDU rather than
// the Client's configured default address.
type MasterDownstream struct {
	Client *master.Client
}

// Send forwards pdu to slaveID over the wrapped Client. A Modbus
// exception from the real slave is not treated as a Go error here: the
// gateway forwards it upstream as an ordinary exception-shaped PDU,
// exactly as the real slave sent it. The backend is opened first if it
// is not open yet, so a downstream whose initial Connect failed is
// retried on each request.
func (d *MasterDownstream) Send(ctx context.Context, slaveID byte, pdu mbcore.ProtocolDataUnit) (mbcore.ProtocolDataUnit, error) {
	if err := d.Client.Connect(ctx); err != nil {
		return mbcore.ProtocolDataUnit{}, err
	}
	resp, err := d.Client.SendPDUTo(ctx, slaveID, pdu)
	var exc *master.ExceptionError
	if errors.As(err, &exc) {
		return mbcore.NewException(exc.FunctionCode, exc.Code), nil
	}
	return resp, err
}

// Connect opens the underlying backend.
func (d *MasterDownstream) Connect(ctx context.Context) error {
	return d.Client.Connect(ctx)
}

// Close closes the underlying backend.
func (d *MasterDownstream) Close() error {
	return d.Client.Close()
}
