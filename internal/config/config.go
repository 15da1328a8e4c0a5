// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package config loads the gateway's YAML configuration with viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config defines the global configuration structure
type Config struct {
	Gateways []GatewayConfig `mapstructure:"gateways"`
	Log      LogConfig       `mapstructure:"log"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// GatewayConfig defines a single gateway instance
type GatewayConfig struct {
	Name        string             `mapstructure:"name"`
	Upstreams   []UpstreamConfig   `mapstructure:"upstreams"`
	Downstreams []DownstreamConfig `mapstructure:"downstreams"`
}

// UpstreamConfig defines a master connecting to the gateway
type UpstreamConfig struct {
	Type     string         `mapstructure:"type"` // "tcp", "rtu"
	Tcp      TcpConfig      `mapstructure:"tcp"`
	Serial   SerialConfig   `mapstructure:"serial"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts"`
}

// DownstreamConfig defines the slave the gateway connects to
type DownstreamConfig struct {
	Name     string         `mapstructure:"name"`      // Optional name for logging
	Type     string         `mapstructure:"type"`      // "tcp", "rtu", "local"
	SlaveIDs string         `mapstructure:"slave_ids"` // Routing rules: "1", "1,2", "1-10"
	Tcp      TcpConfig      `mapstructure:"tcp"`
	Serial   SerialConfig   `mapstructure:"serial"`
	Local    LocalConfig    `mapstructure:"local"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts"`
}

// TimeoutsConfig overrides the engine's ack/byte frame-delimitation
// defaults per upstream or downstream.
type TimeoutsConfig struct {
	AckMS  int `mapstructure:"ack_ms"`
	ByteMS int `mapstructure:"byte_ms"`
}

// LocalConfig defines settings for local modbus slave device
type LocalConfig struct {
	Device      string            `mapstructure:"device"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
}

// PersistenceConfig defines data storage settings for the example
// register file backing a "local" downstream.
type PersistenceConfig struct {
	Type string `mapstructure:"type"` // "mmap"
	Path string `mapstructure:"path"`
}

// TcpConfig defines TCP settings
type TcpConfig struct {
	Address string `mapstructure:"address"` // e.g. "0.0.0.0:502" or "192.168.1.100:502"
}

// SerialConfig defines RTU settings
type SerialConfig struct {
	Device   string `mapstructure:"device"`
	BaudRate int    `mapstructure:"baud_rate"`
	DataBits int    `mapstructure:"data_bits"`
	Parity   string `mapstructure:"parity"`
	StopBits int    `mapstructure:"stop_bits"`

	// RS485 specific
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// LoadConfig loads configuration from file, or from the conventional
// search path (/etc/modbusgw, $HOME/.modbusgw, .) when configFile is
// empty.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/modbusgw/")
		v.AddConfigPath("$HOME/.modbusgw")
		v.AddConfigPath(".")
	}

	// Set defaults
	v.SetDefault("log.level", "info")
	v.SetEnvPrefix("MODBUSGW")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate / Fixups
	for i := range config.Gateways {
		gw := &config.Gateways[i]

		for j := range gw.Downstreams {
			fixupSerial(&gw.Downstreams[j].Serial)
		}

		for j := range gw.Upstreams {
			fixupSerial(&gw.Upstreams[j].Serial)
		}
	}

	return &config, nil
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.Parity == "" {
		s.Parity = "N"
	}
	if s.BaudRate == 0 {
		s.BaudRate = 9600
	}
	if s.DataBits == 0 {
		s.DataBits = 8
	}
	if s.StopBits == 0 {
		s.StopBits = 1
	}
}

// AckTimeout returns the configured ack timeout, falling back to def
// (the engine's transport default) when unset.
func (t TimeoutsConfig) AckTimeout(def time.Duration) time.Duration {
	if t.AckMS <= 0 {
		return def
	}
	return time.Duration(t.AckMS) * time.Millisecond
}

// ByteTimeout returns the configured byte timeout, falling back to def
// when unset.
func (t TimeoutsConfig) ByteTimeout(def time.Duration) time.Duration {
	if t.ByteMS <= 0 {
		return def
	}
	return time.Duration(t.ByteMS) * time.Millisecond
}
