// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/lattice-io/modbus-engine/gateway"
	"github.com/lattice-io/modbus-engine/internal/config"
	"github.com/lattice-io/modbus-engine/internal/regfile"
	"github.com/lattice-io/modbus-engine/master"
	"github.com/lattice-io/modbus-engine/slave"
	"github.com/lattice-io/modbus-engine/transport"
	"github.com/lattice-io/modbus-engine/transport/serial"
	"github.com/lattice-io/modbus-engine/transport/tcpsocket"
)

func main() {
	configFile := pflag.StringP("config", "c", "", "Path to config file")
	pflag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	slog.Info("starting modbus gateway")

	var gateways []*gateway.Gateway
	for _, gwCfg := range cfg.Gateways {
		gw, err := buildGateway(gwCfg)
		if err != nil {
			slog.Error("skipping gateway", "name", gwCfg.Name, "err", err)
			continue
		}
		gateways = append(gateways, gw)
	}

	if len(gateways) == 0 {
		slog.Error("no valid gateways configured, exiting")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for _, gw := range gateways {
		wg.Add(1)
		go func(g *gateway.Gateway) {
			defer wg.Done()
			if err := g.Start(ctx); err != nil {
				slog.Error("gateway stopped with error", "name", g.Name, "err", err)
			}
		}(gw)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down")
	cancel()
	wg.Wait()
	slog.Info("goodbye")
}

// buildGateway wires one configured gateway's upstreams and downstream
// routes into live transport.Port instances and a gateway.Gateway.
func buildGateway(gwCfg config.GatewayConfig) (*gateway.Gateway, error) {
	routes := make(map[byte]gateway.Downstream)
	var defaultRoute gateway.Downstream

	for _, dsCfg := range gwCfg.Downstreams {
		ds, err := buildDownstream(dsCfg)
		if err != nil {
			return nil, fmt.Errorf("downstream %q: %w", dsCfg.Name, err)
		}

		if dsCfg.SlaveIDs == "" || dsCfg.SlaveIDs == "*" {
			defaultRoute = ds
			continue
		}
		ids, err := gateway.ParseSlaveIDs(dsCfg.SlaveIDs)
		if err != nil {
			return nil, fmt.Errorf("downstream %q: %w", dsCfg.Name, err)
		}
		for _, id := range ids {
			routes[id] = ds
		}
	}

	var upstreams []gateway.Upstream
	for _, usCfg := range gwCfg.Upstreams {
		us, err := buildUpstream(usCfg)
		if err != nil {
			return nil, fmt.Errorf("upstream: %w", err)
		}
		upstreams = append(upstreams, us)
	}
	if len(upstreams) == 0 {
		return nil, fmt.Errorf("no valid upstreams")
	}

	return gateway.New(gwCfg.Name, upstreams, routes, defaultRoute), nil
}

func buildUpstream(cfg config.UpstreamConfig) (gateway.Upstream, error) {
	ack := cfg.Timeouts.AckTimeout(transport.DefaultAckTimeout)
	byteGap := cfg.Timeouts.ByteTimeout(transport.DefaultByteTimeout)

	switch cfg.Type {
	case "tcp":
		return &gateway.TCPUpstream{Address: cfg.Tcp.Address, AckTimeout: ack, ByteTimeout: byteGap}, nil
	case "rtu":
		return &gateway.RTUUpstream{Port: serialPort(cfg.Serial), AckTimeout: ack, ByteTimeout: byteGap}, nil
	default:
		return nil, fmt.Errorf("unknown upstream type %q", cfg.Type)
	}
}

func buildDownstream(cfg config.DownstreamConfig) (gateway.Downstream, error) {
	ack := cfg.Timeouts.AckTimeout(transport.DefaultAckTimeout)
	byteGap := cfg.Timeouts.ByteTimeout(transport.DefaultByteTimeout)

	switch cfg.Type {
	case "tcp":
		client := master.New(tcpsocket.Dial(cfg.Tcp.Address, 5*time.Second),
			master.WithProtocol(master.TCP),
			master.WithTimeouts(ack, byteGap))
		return &gateway.MasterDownstream{Client: client}, nil
	case "rtu":
		client := master.New(serialPort(cfg.Serial),
			master.WithProtocol(master.RTU),
			master.WithTimeouts(ack, byteGap))
		return &gateway.MasterDownstream{Client: client}, nil
	case "local":
		return buildLocalDownstream(cfg.Local)
	default:
		return nil, fmt.Errorf("unknown downstream type %q", cfg.Type)
	}
}

func buildLocalDownstream(cfg config.LocalConfig) (gateway.Downstream, error) {
	if cfg.Persistence.Type != "mmap" {
		return nil, fmt.Errorf("unsupported local persistence type %q", cfg.Persistence.Type)
	}
	rf, err := regfile.Open(cfg.Persistence.Path)
	if err != nil {
		return nil, err
	}
	server := slave.New(nil, rf.Callbacks(), slave.WithSlaveAddress(0xFF))
	return &gateway.LocalDownstream{Server: server}, nil
}

func serialPort(cfg config.SerialConfig) transport.Port {
	return serial.New(serial.Config{
		Address:  cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		Parity:   cfg.Parity,
		StopBits: cfg.StopBits,
		RS485: serial.RS485Config{
			Enabled:            cfg.RS485,
			RtsHighDuringSend:  cfg.RtsHighDuringSend,
			RtsHighAfterSend:   cfg.RtsHighAfterSend,
			DelayRtsBeforeSend: cfg.DelayRtsBeforeSend,
			DelayRtsAfterSend:  cfg.DelayRtsAfterSend,
			RxDuringTx:         cfg.RxDuringTx,
		},
	})
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
