// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/lattice-io/modbus-engine/mbcore"
	"github.com/lattice-io/modbus-engine/mbcore/rtu"
	"github.com/lattice-io/modbus-engine/mbcore/tcp"
	"github.com/lattice-io/modbus-engine/transport"
	"github.com/lattice-io/modbus-engine/transport/tcpsocket"
)

// RTUUpstream accepts requests from a master sharing an RTU serial
// bus, forwarding every frame regardless of the address it carries
// (routing is the Gateway's job, not the Upstream's).
type RTUUpstream struct {
	Port        transport.Port
	AckTimeout  time.Duration
	ByteTimeout time.Duration
}

func (u *RTUUpstream) timeouts() (time.Duration, time.Duration) {
	ack, byteGap := u.AckTimeout, u.ByteTimeout
	if ack == 0 {
		ack = transport.DefaultAckTimeout
	}
	if byteGap == 0 {
		byteGap = transport.DefaultByteTimeout
	}
	return ack, byteGap
}

// Start opens the serial port and loops until ctx is cancelled.
func (u *RTUUpstream) Start(ctx context.Context, handler Handler) error {
	if err := u.Port.Open(ctx); err != nil {
		return err
	}
	ack, byteGap := u.timeouts()
	buf := make([]byte, rtu.MaxSize)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := transport.ReadFrame(ctx, u.Port, buf, ack, byteGap)
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		raw := append([]byte(nil), buf[:n]...)

		adu, err := rtu.Decode(raw, mbcore.Request)
		if err != nil {
			if errors.Is(err, mbcore.ErrUnsupportedFunction) {
				exc := mbcore.NewException(raw[1], mbcore.ExcIllegalFunction)
				u.reply(raw[0], exc)
			}
			continue
		}

		resp, err := handler(ctx, adu.Address, adu.PDU)
		if err != nil {
			slog.Error("rtu upstream: handler failed", "err", err)
			continue
		}
		u.reply(adu.Address, resp)
	}
}

func (u *RTUUpstream) reply(address byte, pdu mbcore.ProtocolDataUnit) {
	raw, err := (rtu.ADU{Address: address, PDU: pdu}).Encode()
	if err != nil {
		slog.Error("rtu upstream: encode response failed", "err", err)
		return
	}
	if _, err := u.Port.Write(raw); err != nil {
		slog.Error("rtu upstream: write response failed", "err", err)
	}
}

// Close closes the underlying port.
func (u *RTUUpstream) Close() error {
	return u.Port.Close()
}

// TCPUpstream accepts Modbus TCP connections and forwards every
// decoded request to handler, matching each response's transaction id
// back to its request.
type TCPUpstream struct {
	Address     string
	AckTimeout  time.Duration
	ByteTimeout time.Duration

	listener net.Listener
}

// Start listens on Address and serves connections until ctx is
// cancelled.
func (u *TCPUpstream) Start(ctx context.Context, handler Handler) error {
	l, err := tcpsocket.Listen(u.Address)
	if err != nil {
		return err
	}
	u.listener = l
	slog.Info("tcp upstream: listening", "addr", u.Address)

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				slog.Error("tcp upstream: accept failed", "err", err)
				continue
			}
		}
		go u.serve(ctx, conn, handler)
	}
}

func (u *TCPUpstream) serve(ctx context.Context, conn net.Conn, handler Handler) {
	defer conn.Close()
	port := tcpsocket.Adopt(conn)
	ack, byteGap := u.AckTimeout, u.ByteTimeout
	if ack == 0 {
		ack = transport.DefaultAckTimeout
	}
	if byteGap == 0 {
		byteGap = transport.DefaultByteTimeout
	}
	buf := make([]byte, tcp.MaxSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := transport.ReadFrame(ctx, port, buf, ack, byteGap)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		raw := append([]byte(nil), buf[:n]...)

		adu, err := tcp.Decode(raw, mbcore.Request, true)
		if err != nil {
			if errors.Is(err, mbcore.ErrUnsupportedFunction) {
				tid := mbcore.GetUint16(raw[0:2])
				unitID := raw[6]
				exc := mbcore.NewException(raw[7], mbcore.ExcIllegalFunction)
				u.reply(port, tid, unitID, exc)
			}
			continue
		}

		resp, err := handler(ctx, adu.UnitID, adu.PDU)
		if err != nil {
			slog.Error("tcp upstream: handler failed", "err", err)
			continue
		}
		u.reply(port, adu.TransactionID, adu.UnitID, resp)
	}
}

func (u *TCPUpstream) reply(port transport.Port, tid uint16, unitID byte, pdu mbcore.ProtocolDataUnit) {
	raw, err := (tcp.ADU{TransactionID: tid, UnitID: unitID, PDU: pdu}).Encode()
	if err != nil {
		slog.Error("tcp upstream: encode response failed", "err", err)
		return
	}
	if _, err := port.Write(raw); err != nil {
		slog.Error("tcp upstream: write response failed", "err", err)
	}
}

// Close closes the listener.
func (u *TCPUpstream) Close() error {
	if u.listener != nil {
		return u.listener.Close()
	}
	return nil
}
