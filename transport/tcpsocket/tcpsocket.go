// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package tcpsocket adapts a net.Conn to transport.Port, for both the
// master side (dialing out to a slave) and the slave side (adopting an
// accepted connection). The core engine never owns an accept loop
// itself; that belongs to whatever ambient server wires slave.Server
// to incoming connections.
package tcpsocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// pollTimeout bounds each underlying blocking read so Port.Read can
// honor transport.Port's non-blocking contract.
const pollTimeout = 5 * time.Millisecond

// Port adapts a net.Conn to transport.Port.
type Port struct {
	conn    net.Conn
	dialer  func(ctx context.Context) (net.Conn, error)
	adopted bool
}

// Dial returns a Port that connects to addr lazily, on the first Open
// call, and redials on every subsequent Open after a Close — matching
// the teacher's per-request dial pattern generalized to a persistent
// connection reused across a Client's transactions.
func Dial(addr string, dialTimeout time.Duration) *Port {
	return &Port{
		dialer: func(ctx context.Context) (net.Conn, error) {
			d := net.Dialer{Timeout: dialTimeout}
			return d.DialContext(ctx, "tcp", addr)
		},
	}
}

// Adopt wraps an already-accepted connection, for the slave side of a
// TCP listener. Open is a no-op success; Close closes the connection.
func Adopt(conn net.Conn) *Port {
	return &Port{conn: conn, adopted: true}
}

// Listen is the ambient accept-loop helper: it starts a TCP listener
// and returns it for the caller to Accept on and wrap each connection
// with Adopt. The core slave package never calls this itself.
func Listen(addr string) (net.Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcpsocket: listen on %s: %w", addr, err)
	}
	return l, nil
}

// Open connects the underlying socket if it is not already connected.
func (p *Port) Open(ctx context.Context) error {
	if p.conn != nil {
		return nil
	}
	if p.adopted {
		return errors.New("tcpsocket: adopted connection was closed")
	}
	conn, err := p.dialer(ctx)
	if err != nil {
		return err
	}
	p.conn = conn
	return nil
}

// Close closes the socket. Idempotent.
func (p *Port) Close() error {
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

// Read satisfies transport.Port: a short read deadline turns the
// blocking net.Conn into a non-blocking one, reporting a timed-out
// read as (0, nil).
func (p *Port) Read(buf []byte) (int, error) {
	if p.conn == nil {
		return 0, errors.New("tcpsocket: not connected")
	}
	if err := p.conn.SetReadDeadline(time.Now().Add(pollTimeout)); err != nil {
		return 0, err
	}
	n, err := p.conn.Read(buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// Write writes buf to the socket.
func (p *Port) Write(buf []byte) (int, error) {
	if p.conn == nil {
		return 0, errors.New("tcpsocket: not connected")
	}
	return p.conn.Write(buf)
}

// Flush discards any bytes currently readable without blocking.
func (p *Port) Flush() error {
	if p.conn == nil {
		return nil
	}
	buf := make([]byte, 512)
	for {
		if err := p.conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
			return err
		}
		n, err := p.conn.Read(buf)
		if n == 0 || err != nil {
			return nil
		}
	}
}
