// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package gateway bridges one or more upstream masters to one or more
// downstream slaves, forwarding PDUs verbatim and routing by slave id.
// It is a supplemented feature built on top of master.Client and the
// mbcore frame codecs, not part of the core protocol engine.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lattice-io/modbus-engine/mbcore"
)

// Handler forwards a request PDU addressed to slaveID and returns the
// response PDU. It is the seam between an Upstream (request source)
// and whatever routes the request onward.
type Handler func(ctx context.Context, slaveID byte, pdu mbcore.ProtocolDataUnit) (mbcore.ProtocolDataUnit, error)

// Upstream is a source of requests: something acting as a slave toward
// an external master.
type Upstream interface {
	Start(ctx context.Context, handler Handler) error
	Close() error
}

// Downstream is a destination for requests: something acting as a
// master toward a real slave device.
type Downstream interface {
	Send(ctx context.Context, slaveID byte, pdu mbcore.ProtocolDataUnit) (mbcore.ProtocolDataUnit, error)
	Connect(ctx context.Context) error
	Close() error
}

// Gateway bridges Upstreams to Downstreams by slave-id routing.
type Gateway struct {
	Name         string
	Upstreams    []Upstream
	Routes       map[byte]Downstream
	DefaultRoute Downstream
}

// New creates a Gateway instance.
func New(name string, upstreams []Upstream, routes map[byte]Downstream, defaultRoute Downstream) *Gateway {
	return &Gateway{Name: name, Upstreams: upstreams, Routes: routes, DefaultRoute: defaultRoute}
}

// ParseSlaveIDs parses a routing spec like "1,2,5-10" into individual
// slave ids.
func ParseSlaveIDs(input string) ([]byte, error) {
	var ids []byte
	for _, part := range strings.Split(input, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "-") {
			bounds := strings.SplitN(part, "-", 2)
			start, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
			if err != nil {
				return nil, fmt.Errorf("gateway: invalid range start %q: %w", part, err)
			}
			end, err := strconv.Atoi(strings.TrimSpace(bounds[1]))
			if err != nil {
				return nil, fmt.Errorf("gateway: invalid range end %q: %w", part, err)
			}
			if start > end || start < 0 || end > 255 {
				return nil, fmt.Errorf("gateway: invalid range %q", part)
			}
			for i := start; i <= end; i++ {
				ids = append(ids, byte(i))
			}
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil || id < 0 || id > 255 {
			return nil, fmt.Errorf("gateway: invalid slave id %q", part)
		}
		ids = append(ids, byte(id))
	}
	return ids, nil
}

// Start connects every distinct Downstream, then runs every Upstream
// until ctx is cancelled.
func (g *Gateway) Start(ctx context.Context) error {
	unique := make(map[Downstream]struct{})
	for _, ds := range g.Routes {
		unique[ds] = struct{}{}
	}
	if g.DefaultRoute != nil {
		unique[g.DefaultRoute] = struct{}{}
	}
	for ds := range unique {
		if err := ds.Connect(ctx); err != nil {
			slog.Error("gateway: downstream connect failed, will retry lazily", "gateway", g.Name, "err", err)
		}
	}

	var wg sync.WaitGroup
	for i, us := range g.Upstreams {
		wg.Add(1)
		go func(ups Upstream, idx int) {
			defer wg.Done()
			slog.Info("gateway: starting upstream", "gateway", g.Name, "index", idx)
			if err := ups.Start(ctx, g.handleRequest); err != nil {
				slog.Error("gateway: upstream stopped", "gateway", g.Name, "index", idx, "err", err)
			}
		}(us, i)
	}

	<-ctx.Done()

	for _, us := range g.Upstreams {
		us.Close()
	}
	for ds := range unique {
		ds.Close()
	}
	wg.Wait()
	return nil
}

func (g *Gateway) handleRequest(ctx context.Context, slaveID byte, pdu mbcore.ProtocolDataUnit) (mbcore.ProtocolDataUnit, error) {
	target, ok := g.Routes[slaveID]
	if !ok {
		target = g.DefaultRoute
	}
	if target == nil {
		slog.Warn("gateway: no route for slave id", "gateway", g.Name, "slaveID", slaveID)
		return mbcore.ProtocolDataUnit{}, fmt.Errorf("gateway: no route for slave id %d", slaveID)
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	resp, err := target.Send(ctx, slaveID, pdu)
	if err != nil {
		slog.Error("gateway: downstream request failed", "gateway", g.Name, "slaveID", slaveID, "fc", pdu.FunctionCode, "err", err)
		return mbcore.ProtocolDataUnit{}, err
	}
	return resp, nil
}
