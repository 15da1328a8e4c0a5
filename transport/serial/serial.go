// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package serial implements transport.Port over an RS-232/RS-485
// serial line using github.com/grid-x/serial.
package serial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/grid-x/serial"
)

// pollTimeout bounds each underlying blocking read so Port.Read can
// honor the non-blocking contract required by transport.ReadFrame.
const pollTimeout = 5 * time.Millisecond

// RS485Config carries the direction-control lines an RS-485 transceiver
// needs around each transmission. It is optional: a zero value leaves
// the line in ordinary RS-232 half-duplex mode.
type RS485Config struct {
	Enabled            bool
	RtsHighDuringSend  bool
	RtsHighAfterSend   bool
	DelayRtsBeforeSend time.Duration
	DelayRtsAfterSend  time.Duration
	RxDuringTx         bool
}

// Config describes how to open a serial line.
type Config struct {
	Address     string
	BaudRate    int
	DataBits    int
	Parity      string
	StopBits    int
	RS485       RS485Config
	IdleTimeout time.Duration
}

// Port is a transport.Port backed by a physical or virtual serial
// line. It lazily opens the underlying handle on the first Open call
// and closes it after IdleTimeout of inactivity, mirroring the
// connection lifecycle of a Modbus RTU master that may sit idle
// between polling cycles.
type Port struct {
	cfg Config

	mu           sync.Mutex
	port         serial.Port
	lastActivity time.Time
	closeTimer   *time.Timer
}

// New returns a Port for cfg. The serial line is not opened until Open
// is called.
func New(cfg Config) *Port {
	return &Port{cfg: cfg}
}

func (p *Port) serialConfig() *serial.Config {
	c := &serial.Config{
		Address:  p.cfg.Address,
		BaudRate: p.cfg.BaudRate,
		DataBits: p.cfg.DataBits,
		StopBits: p.cfg.StopBits,
		Parity:   parity(p.cfg.Parity),
		Timeout:  pollTimeout,
	}
	if p.cfg.RS485.Enabled {
		c.RS485 = serial.RS485Config{
			Enabled:            true,
			RtsHighDuringSend:  p.cfg.RS485.RtsHighDuringSend,
			RtsHighAfterSend:   p.cfg.RS485.RtsHighAfterSend,
			DelayRtsBeforeSend: p.cfg.RS485.DelayRtsBeforeSend,
			DelayRtsAfterSend:  p.cfg.RS485.DelayRtsAfterSend,
			RxDuringTx:         p.cfg.RS485.RxDuringTx,
		}
	}
	return c
}

func parity(p string) string {
	switch p {
	case "E", "e":
		return "E"
	case "O", "o":
		return "O"
	default:
		return "N"
	}
}

// Open opens the serial line if it is not already open. Idempotent.
func (p *Port) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if p.port != nil {
		return nil
	}
	port, err := serial.Open(p.serialConfig())
	if err != nil {
		return fmt.Errorf("serial: open %s: %w", p.cfg.Address, err)
	}
	p.port = port
	p.lastActivity = time.Now()
	p.startCloseTimer()
	return nil
}

// Close closes the serial line if it is open. Idempotent.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.close()
}

func (p *Port) close() error {
	if p.closeTimer != nil {
		p.closeTimer.Stop()
	}
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	return err
}

// Read satisfies transport.Port: the driver's read timeout
// (pollTimeout, set when the line is opened) turns the underlying
// blocking driver into a non-blocking one, with a timed-out read
// reported as (0, nil) rather than an error.
func (p *Port) Read(buf []byte) (int, error) {
	p.mu.Lock()
	port := p.port
	p.mu.Unlock()
	if port == nil {
		return 0, errors.New("serial: port not open")
	}

	n, err := port.Read(buf)
	if err != nil {
		if isTimeout(err) {
			return 0, nil
		}
		return 0, err
	}
	if n > 0 {
		p.mu.Lock()
		p.lastActivity = time.Now()
		p.mu.Unlock()
	}
	return n, nil
}

// Write writes p to the line.
func (p *Port) Write(buf []byte) (int, error) {
	p.mu.Lock()
	port := p.port
	p.mu.Unlock()
	if port == nil {
		return 0, errors.New("serial: port not open")
	}
	n, err := port.Write(buf)
	if err == nil {
		p.mu.Lock()
		p.lastActivity = time.Now()
		p.mu.Unlock()
	}
	return n, err
}

// Flush discards any bytes currently buffered for reading.
func (p *Port) Flush() error {
	p.mu.Lock()
	port := p.port
	p.mu.Unlock()
	if port == nil {
		return nil
	}
	return port.Flush()
}

func (p *Port) startCloseTimer() {
	if p.cfg.IdleTimeout <= 0 {
		return
	}
	if p.closeTimer == nil {
		p.closeTimer = time.AfterFunc(p.cfg.IdleTimeout, p.closeIdle)
	} else {
		p.closeTimer.Reset(p.cfg.IdleTimeout)
	}
}

func (p *Port) closeIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port == nil || p.cfg.IdleTimeout <= 0 {
		return
	}
	if idle := time.Since(p.lastActivity); idle >= p.cfg.IdleTimeout {
		slog.Debug("serial: closing idle port", "address", p.cfg.Address, "idle", idle)
		p.close()
	}
}

func isTimeout(err error) bool {
	var pe *os.PathError
	if errors.As(err, &pe) {
		err = pe.Err
	}
	type timeout interface{ Timeout() bool }
	var t timeout
	return errors.As(err, &t) && t.Timeout()
}
