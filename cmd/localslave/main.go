// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Command localslave runs a standalone Modbus slave whose registers
// are backed by a memory-mapped file, demonstrating that the engine's
// core carries no persisted state of its own: whatever a Callbacks
// table is wired to is the slave's actual state.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/lattice-io/modbus-engine/internal/regfile"
	"github.com/lattice-io/modbus-engine/slave"
	"github.com/lattice-io/modbus-engine/transport"
	"github.com/lattice-io/modbus-engine/transport/serial"
	"github.com/lattice-io/modbus-engine/transport/tcpsocket"
)

func main() {
	protocol := pflag.String("protocol", "rtu", "wire protocol: rtu or tcp")
	device := pflag.String("device", "/dev/ttyUSB0", "serial device path (rtu only)")
	baud := pflag.Int("baud", 9600, "serial baud rate (rtu only)")
	tcpAddr := pflag.String("tcp-address", ":5020", "listen address (tcp only)")
	slaveAddr := pflag.IntP("slave-address", "a", 1, "Modbus slave/unit address")
	dataFile := pflag.StringP("data", "d", "localslave.bin", "path to the memory-mapped register file")
	pflag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	rf, err := regfile.Open(*dataFile)
	if err != nil {
		slog.Error("failed to open register file", "err", err)
		os.Exit(1)
	}
	defer rf.Close()

	var backend transport.Port
	var opts []slave.Option
	opts = append(opts, slave.WithSlaveAddress(byte(*slaveAddr)))

	switch *protocol {
	case "rtu":
		backend = serial.New(serial.Config{Address: *device, BaudRate: *baud, DataBits: 8, Parity: "N", StopBits: 1})
		opts = append(opts, slave.WithProtocol(slave.RTU))
	case "tcp":
		listener, err := tcpsocket.Listen(*tcpAddr)
		if err != nil {
			slog.Error("failed to listen", "err", err)
			os.Exit(1)
		}
		defer listener.Close()
		slog.Info("local slave listening", "address", *tcpAddr)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			for {
				conn, err := listener.Accept()
				if err != nil {
					return
				}
				server := slave.New(tcpsocket.Adopt(conn), rf.Callbacks(),
					append(opts, slave.WithProtocol(slave.TCP))...)
				go func() {
					defer conn.Close()
					if err := server.Serve(ctx); err != nil {
						slog.Warn("connection closed", "err", err)
					}
				}()
			}
		}()
		waitForSignal()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown protocol %q\n", *protocol)
		os.Exit(1)
	}

	server := slave.New(backend, rf.Callbacks(), opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := server.Serve(ctx); err != nil {
			slog.Error("slave stopped", "err", err)
		}
	}()

	waitForSignal()
	cancel()
}

func waitForSignal() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	slog.Info("shutting down")
}
