// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package slave

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lattice-io/modbus-engine/mbcore"
	"github.com/lattice-io/modbus-engine/mbcore/rtu"
	"github.com/lattice-io/modbus-engine/mbcore/tcp"
	"github.com/lattice-io/modbus-engine/transport"
)

// Protocol selects the wire framing a Server speaks.
type Protocol int

const (
	RTU Protocol = iota
	TCP
)

// reopenDelay is the sleep after a failed backend open, per spec.md
// §4.8 step 1.
const reopenDelay = 1000 * time.Millisecond

// Server is a Modbus slave instance bound to one transport backend and
// one callback table. Like master.Client, it runs its dispatch loop on
// a single goroutine; concurrent Servers on independent backends are
// fine, but one Server is not itself concurrency-safe.
type Server struct {
	backend   transport.Port
	protocol  Protocol
	address   byte
	callbacks Callbacks

	ackTimeout  time.Duration
	byteTimeout time.Duration

	frameBuf [tcp.MaxSize]byte
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithProtocol selects RTU or TCP framing. Default RTU.
func WithProtocol(p Protocol) Option {
	return func(s *Server) { s.protocol = p }
}

// WithSlaveAddress sets the unit/slave address this Server answers to.
// 0xFF means accept-any on a TCP server; RTU broadcasts (request
// address 0) are always processed without a reply regardless of this
// setting. Default 1.
func WithSlaveAddress(addr byte) Option {
	return func(s *Server) { s.address = addr }
}

// WithTimeouts overrides the ack/byte timeouts used by ReadFrame.
func WithTimeouts(ack, byteGap time.Duration) Option {
	return func(s *Server) { s.ackTimeout, s.byteTimeout = ack, byteGap }
}

// New creates a Server bound to backend and callbacks.
func New(backend transport.Port, callbacks Callbacks, opts ...Option) *Server {
	s := &Server{
		backend:     backend,
		protocol:    RTU,
		address:     1,
		callbacks:   callbacks,
		ackTimeout:  transport.DefaultAckTimeout,
		byteTimeout: transport.DefaultByteTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve runs Step in a loop until ctx is cancelled, returning the
// context's error. When Step reports a failure (a failed Open or a
// transport error), Serve closes the backend and waits reopenDelay
// before the next Step reopens it, matching spec.md's "sleep 1000ms and
// return; the outer loop re-enters" — here the loop is Serve itself
// instead of a caller.
func (s *Server) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := s.Step(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			slog.Warn("slave: step failed, backend will reopen on next iteration", "err", err)
			s.backend.Close()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(reopenDelay):
			}
		}
	}
}

// Step runs one iteration of spec.md §4.8's dispatch loop: open the
// backend if needed, read one frame, and either drop it, reply with an
// illegal-function exception, or dispatch it to the callback table.
// A nil return covers every "nothing to do this cycle" outcome
// (silent drop, no data yet); a non-nil return is a transport failure
// the caller should treat as fatal to this iteration's connection.
func (s *Server) Step(ctx context.Context) error {
	if err := s.backend.Open(ctx); err != nil {
		return err
	}

	n, err := transport.ReadFrame(ctx, s.backend, s.frameBuf[:], s.ackTimeout, s.byteTimeout)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	raw := s.frameBuf[:n]

	switch s.protocol {
	case TCP:
		return s.stepTCP(raw)
	default:
		return s.stepRTU(raw)
	}
}

// Dispatch runs req through the callback table and returns the
// response PDU, without any frame I/O. It is exported for in-process
// callers (such as a protocol gateway routing to a local slave) that
// already have a decoded PDU and no wire to put it on.
func (s *Server) Dispatch(req mbcore.ProtocolDataUnit) mbcore.ProtocolDataUnit {
	return s.dispatch(req)
}

func (s *Server) stepRTU(raw []byte) error {
	adu, err := rtu.Decode(raw, mbcore.Request)
	if err != nil {
		if errors.Is(err, mbcore.ErrUnsupportedFunction) {
			address := raw[0]
			if address == 0 {
				return nil
			}
			if s.address != 0xFF && address != s.address {
				return nil
			}
			return s.replyRTU(address, mbcore.NewException(unsupportedFuncFromRaw(raw[1:len(raw)-2]), mbcore.ExcIllegalFunction))
		}
		return nil
	}
	broadcast := adu.Address == 0
	if s.address != 0xFF && adu.Address != s.address && !broadcast {
		return nil
	}

	resp := s.dispatch(adu.PDU)
	if broadcast {
		return nil
	}
	return s.replyRTU(adu.Address, resp)
}

func (s *Server) stepTCP(raw []byte) error {
	if len(raw) < tcp.MinSize {
		return nil
	}
	adu, err := tcp.Decode(raw, mbcore.Request, false)
	if err != nil {
		if errors.Is(err, mbcore.ErrUnsupportedFunction) {
			tid := mbcore.GetUint16(raw[0:2])
			pid := mbcore.GetUint16(raw[2:4])
			unitID := raw[6]
			if pid != 0 || (s.address != 0xFF && unitID != s.address) {
				return nil
			}
			return s.replyTCP(tid, unitID, mbcore.NewException(unsupportedFuncFromRaw(raw[7:]), mbcore.ExcIllegalFunction))
		}
		return nil
	}
	if adu.ProtocolID != 0 {
		return nil
	}
	if s.address != 0xFF && adu.UnitID != s.address {
		return nil
	}

	resp := s.dispatch(adu.PDU)
	return s.replyTCP(adu.TransactionID, adu.UnitID, resp)
}

func (s *Server) replyRTU(address byte, pdu mbcore.ProtocolDataUnit) error {
	resp := rtu.ADU{Address: address, PDU: pdu}
	raw, err := resp.Encode()
	if err != nil {
		return nil
	}
	_, err = s.backend.Write(raw)
	return err
}

func (s *Server) replyTCP(tid uint16, unitID byte, pdu mbcore.ProtocolDataUnit) error {
	resp := tcp.ADU{TransactionID: tid, UnitID: unitID, PDU: pdu}
	raw, err := resp.Encode()
	if err != nil {
		return nil
	}
	_, err = s.backend.Write(raw)
	return err
}

// unsupportedFuncFromRaw recovers the request's function code from the
// raw PDU bytes when Decode has already failed with
// ErrUnsupportedFunction, so the exception response can echo it with
// the exception bit set.
func unsupportedFuncFromRaw(pduBytes []byte) byte {
	if len(pduBytes) == 0 {
		return 0
	}
	return pduBytes[0]
}
