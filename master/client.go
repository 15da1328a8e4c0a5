// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package master implements the Modbus master (client) transaction
// core: build a request PDU, frame it for the wire protocol in use,
// exchange it over a transport.Port, and decode the response.
package master

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lattice-io/modbus-engine/mbcore"
	"github.com/lattice-io/modbus-engine/mbcore/rtu"
	"github.com/lattice-io/modbus-engine/mbcore/tcp"
	"github.com/lattice-io/modbus-engine/transport"
)

// Protocol selects the wire framing a Client uses.
type Protocol int

const (
	// RTU frames requests with a 1-byte address and CRC-16.
	RTU Protocol = iota
	// TCP frames requests with an MBAP header.
	TCP
)

// ErrCommFailure is returned by SendPDU for any transport or framing
// failure (spec.md's plain "return 0" outcome): a write short-count, a
// read timeout, a CRC/MBAP mismatch, or a TID/address mismatch. The
// typed per-function operations below report the same outcome as a
// bare zero count with a nil error instead, matching spec.md's return
// convention more directly; SendPDU exists for callers (such as a
// protocol gateway) that need to forward an arbitrary PDU verbatim and
// so cannot rely on a typed zero-count sentinel.
var ErrCommFailure = errors.New("master: transport or framing failure")

// ExceptionError is returned when the slave responds with a Modbus
// exception PDU. Code is the raw exception code (not negated); Go
// error values carry sign-free data, unlike spec.md's C-style negated
// return convention.
type ExceptionError struct {
	FunctionCode byte
	Code         byte
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("master: slave returned exception 0x%02X for function 0x%02X", e.Code, e.FunctionCode)
}

// Client is a Modbus master instance bound to one transport backend.
// It is not safe for concurrent use: spec.md's single-caller contract
// is documented here rather than enforced with a mutex, matching the
// teacher's own assumption that a Client is driven by one goroutine.
type Client struct {
	backend  transport.Port
	protocol Protocol
	address  byte

	ackTimeout  time.Duration
	byteTimeout time.Duration

	txnID uint16

	frameBuf   [tcp.MaxSize]byte
	payloadBuf [252]byte
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithProtocol selects RTU or TCP framing. Default RTU.
func WithProtocol(p Protocol) Option {
	return func(c *Client) { c.protocol = p }
}

// WithSlaveAddress sets the unit/slave address used on every request.
// 0 means broadcast (RTU) or is otherwise reserved. Default 1.
func WithSlaveAddress(addr byte) Option {
	return func(c *Client) { c.address = addr }
}

// WithTimeouts overrides the ack/byte timeouts used by ReadFrame.
func WithTimeouts(ack, byteGap time.Duration) Option {
	return func(c *Client) { c.ackTimeout, c.byteTimeout = ack, byteGap }
}

// New creates a Client bound to backend. The backend is not opened
// until Connect is called.
func New(backend transport.Port, opts ...Option) *Client {
	c := &Client{
		backend:     backend,
		protocol:    RTU,
		address:     1,
		ackTimeout:  transport.DefaultAckTimeout,
		byteTimeout: transport.DefaultByteTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect ensures the backend is open. Idempotent.
func (c *Client) Connect(ctx context.Context) error {
	return c.backend.Open(ctx)
}

// Close releases the backend.
func (c *Client) Close() error {
	return c.backend.Close()
}

// transact runs steps 2-6 of spec.md §4.7 for a single request PDU,
// returning the response PDU. A (zero PDU, nil) result means a
// transport/framing failure (spec.md's plain "return 0"); an
// *ExceptionError means the slave answered with a Modbus exception.
func (c *Client) transact(ctx context.Context, req mbcore.ProtocolDataUnit) (mbcore.ProtocolDataUnit, error) {
	var sentTID uint16
	var frame []byte

	switch c.protocol {
	case TCP:
		c.txnID++
		sentTID = c.txnID
		adu := tcp.ADU{TransactionID: sentTID, UnitID: c.address, PDU: req}
		raw, err := adu.Encode()
		if err != nil {
			return mbcore.ProtocolDataUnit{}, nil
		}
		frame = raw
	default:
		adu := rtu.ADU{Address: c.address, PDU: req}
		raw, err := adu.Encode()
		if err != nil {
			return mbcore.ProtocolDataUnit{}, nil
		}
		frame = raw
	}

	n, err := c.backend.Write(frame)
	if err != nil || n != len(frame) {
		return mbcore.ProtocolDataUnit{}, nil
	}

	respLen, err := transport.ReadFrame(ctx, c.backend, c.frameBuf[:], c.ackTimeout, c.byteTimeout)
	if err != nil || respLen <= 0 {
		return mbcore.ProtocolDataUnit{}, nil
	}
	respRaw := c.frameBuf[:respLen]

	var respPDU mbcore.ProtocolDataUnit
	switch c.protocol {
	case TCP:
		adu, err := tcp.Decode(respRaw, mbcore.Response, true)
		if err != nil {
			return mbcore.ProtocolDataUnit{}, nil
		}
		if adu.TransactionID != sentTID {
			return mbcore.ProtocolDataUnit{}, nil
		}
		if c.address != 0xFF && adu.UnitID != c.address {
			return mbcore.ProtocolDataUnit{}, nil
		}
		respPDU = adu.PDU
	default:
		adu, err := rtu.Decode(respRaw, mbcore.Response)
		if err != nil {
			return mbcore.ProtocolDataUnit{}, nil
		}
		if adu.Address != c.address {
			return mbcore.ProtocolDataUnit{}, nil
		}
		respPDU = adu.PDU
	}

	if respPDU.IsException() {
		return mbcore.ProtocolDataUnit{}, &ExceptionError{
			FunctionCode: respPDU.RequestFunctionCode(),
			Code:         respPDU.ExceptionCode(),
		}
	}
	return respPDU, nil
}

// isCommFailure reports whether pdu is transact's zero-value sentinel
// for a transport or framing failure (a write short-count, a read
// timeout, a CRC/MBAP mismatch, or an unparseable echo), as opposed to
// a real, if empty, response.
func isCommFailure(pdu mbcore.ProtocolDataUnit) bool {
	return pdu.FunctionCode == 0 && len(pdu.Data) == 0
}

// SendPDU forwards req verbatim and returns the slave's response PDU
// verbatim, without decoding it into a typed result. It exists for
// callers that bridge between wire protocols without caring about the
// semantics of any particular function code.
func (c *Client) SendPDU(ctx context.Context, req mbcore.ProtocolDataUnit) (mbcore.ProtocolDataUnit, error) {
	resp, err := c.transact(ctx, req)
	if err != nil {
		return mbcore.ProtocolDataUnit{}, err
	}
	if isCommFailure(resp) {
		return mbcore.ProtocolDataUnit{}, ErrCommFailure
	}
	return resp, nil
}

// SendPDUTo is SendPDU against a slave address chosen per call rather
// than the Client's configured default, for callers (such as a
// protocol gateway) that share one backend across many downstream
// slave addresses. The Client is not goroutine-safe, so this
// temporarily mutates and restores the configured address; concurrent
// calls on the same Client must still be serialized by the caller.
func (c *Client) SendPDUTo(ctx context.Context, addr byte, req mbcore.ProtocolDataUnit) (mbcore.ProtocolDataUnit, error) {
	prev := c.address
	c.address = addr
	defer func() { c.address = prev }()
	return c.SendPDU(ctx, req)
}
