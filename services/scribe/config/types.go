// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the scribe service configuration from a YAML
// file. The loader writes a commented default file on first run; the
// loaded value is passed down to the packages that consume it, there
// is no package-global config state.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/ScribeFOSS/pkg/logging"
)

// Duration is a time.Duration that unmarshals from YAML in Go duration
// syntax ("500ms", "30s", "5m") as well as plain nanosecond integers.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration value at line %d", value.Line)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(n)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard library form.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	// Server configures the HTTP front end started by "scribe serve".
	Server ServerConfig `yaml:"server"`

	// Bridge selects and configures the editing backend.
	Bridge BridgeConfig `yaml:"bridge"`

	// Batch bounds how command batches are chunked.
	Batch BatchConfig `yaml:"batch"`

	// Retry governs re-attempts for transient session failures.
	Retry RetryConfig `yaml:"retry"`

	// Transaction governs rollback behavior and transaction lifetime.
	Transaction TransactionConfig `yaml:"transaction"`

	// Logging configures the process-wide structured logger.
	Logging LoggingConfig `yaml:"logging"`

	// Telemetry configures trace and metric export.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Host             string   `yaml:"host"`               // bind address, e.g. 0.0.0.0
	Port             int      `yaml:"port"`               // HTTP port
	MaxBatchCommands int      `yaml:"max_batch_commands"` // reject larger batches before execution
	ShutdownGrace    Duration `yaml:"shutdown_grace"`     // drain window on SIGINT/SIGTERM
}

type BridgeConfig struct {
	// Driver can be "memdoc" (in-process engine) or "websocket"
	// (remote editor adapter).
	Driver string `yaml:"driver"`

	// Endpoint is the adapter URL for the websocket driver.
	Endpoint string `yaml:"endpoint"`

	ConnectTimeout   Duration `yaml:"connect_timeout"`   // per connection attempt
	HandshakeTimeout Duration `yaml:"handshake_timeout"` // websocket dial ceiling
}

type BatchConfig struct {
	ChunkSize int `yaml:"chunk_size"` // units per session call for chunkable commands
}

type RetryConfig struct {
	MaxRetries  int      `yaml:"max_retries"`  // re-attempts after the first try
	Delay       Duration `yaml:"delay"`        // first backoff, doubles per retry
	MaxDelay    Duration `yaml:"max_delay"`    // backoff cap
	CallTimeout Duration `yaml:"call_timeout"` // per-attempt ceiling on one session call
	Jitter      bool     `yaml:"jitter"`       // randomize backoff delays
}

type TransactionConfig struct {
	TTL                 Duration `yaml:"ttl"`                  // open transactions past this roll back on commit
	CompensationTimeout Duration `yaml:"compensation_timeout"` // per-compensator ceiling during rollback
	RequireCompensators bool     `yaml:"require_compensators"` // reject batches containing irreversible commands
}

type LoggingConfig struct {
	Level  string `yaml:"level"`   // debug, info, warn, error
	LogDir string `yaml:"log_dir"` // when set, JSON file logs are written here
	JSON   bool   `yaml:"json"`    // JSON instead of text on stderr
	Quiet  bool   `yaml:"quiet"`   // suppress stderr output entirely
}

type TelemetryConfig struct {
	// Environment tags traces and metrics, e.g. "development".
	Environment string `yaml:"environment"`

	// TraceExporter can be "otlp", "jaeger", "stdout", or "none".
	TraceExporter string `yaml:"trace_exporter"`

	// MetricExporter can be "prometheus", "stdout", or "none".
	MetricExporter string `yaml:"metric_exporter"`

	// OTLPEndpoint is the collector address for the otlp exporter.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// DefaultConfig returns the configuration written on first run. The
// values mirror the defaults of the packages that consume them.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			MaxBatchCommands: 500,
			ShutdownGrace:    Duration(10 * time.Second),
		},
		Bridge: BridgeConfig{
			Driver:           "memdoc",
			Endpoint:         "ws://127.0.0.1:7700/bridge",
			ConnectTimeout:   Duration(30 * time.Second),
			HandshakeTimeout: Duration(15 * time.Second),
		},
		Batch: BatchConfig{
			ChunkSize: 100,
		},
		Retry: RetryConfig{
			MaxRetries:  3,
			Delay:       Duration(500 * time.Millisecond),
			MaxDelay:    Duration(10 * time.Second),
			CallTimeout: Duration(300 * time.Second),
			Jitter:      false,
		},
		Transaction: TransactionConfig{
			TTL:                 Duration(30 * time.Minute),
			CompensationTimeout: Duration(60 * time.Second),
			RequireCompensators: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			LogDir: "",
			JSON:   false,
			Quiet:  false,
		},
		Telemetry: TelemetryConfig{
			Environment:    "development",
			TraceExporter:  "otlp",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
		},
	}
}

// Validate checks the configuration for values no component can run
// with. Call after ApplyDefaults.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.New("server.port must be in 1..65535")
	}
	if c.Server.MaxBatchCommands < 1 {
		return errors.New("server.max_batch_commands must be >= 1")
	}
	if c.Server.ShutdownGrace < 0 {
		return errors.New("server.shutdown_grace must be >= 0")
	}
	switch c.Bridge.Driver {
	case "memdoc", "websocket":
	default:
		return fmt.Errorf("bridge.driver must be \"memdoc\" or \"websocket\", got %q", c.Bridge.Driver)
	}
	if c.Bridge.Driver == "websocket" && c.Bridge.Endpoint == "" {
		return errors.New("bridge.endpoint is required for the websocket driver")
	}
	if c.Bridge.ConnectTimeout < 0 {
		return errors.New("bridge.connect_timeout must be >= 0")
	}
	if c.Bridge.HandshakeTimeout < 0 {
		return errors.New("bridge.handshake_timeout must be >= 0")
	}
	if c.Batch.ChunkSize < 1 {
		return errors.New("batch.chunk_size must be >= 1")
	}
	if c.Retry.MaxRetries < 0 {
		return errors.New("retry.max_retries must be >= 0")
	}
	if c.Retry.Delay < 0 {
		return errors.New("retry.delay must be >= 0")
	}
	if c.Retry.MaxDelay < 0 {
		return errors.New("retry.max_delay must be >= 0")
	}
	if c.Retry.CallTimeout < 0 {
		return errors.New("retry.call_timeout must be >= 0")
	}
	if c.Transaction.TTL < 0 {
		return errors.New("transaction.ttl must be >= 0")
	}
	if c.Transaction.CompensationTimeout < 0 {
		return errors.New("transaction.compensation_timeout must be >= 0")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch c.Telemetry.TraceExporter {
	case "otlp", "jaeger", "stdout", "none", "":
	default:
		return fmt.Errorf("telemetry.trace_exporter must be otlp, jaeger, stdout, or none, got %q", c.Telemetry.TraceExporter)
	}
	switch c.Telemetry.MetricExporter {
	case "prometheus", "stdout", "none", "":
	default:
		return fmt.Errorf("telemetry.metric_exporter must be prometheus, stdout, or none, got %q", c.Telemetry.MetricExporter)
	}
	return nil
}

// ApplyDefaults fills in zero values with the DefaultConfig values.
// Booleans keep their zero value; false is always a meaningful setting.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Server.Host == "" {
		c.Server.Host = d.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Server.MaxBatchCommands == 0 {
		c.Server.MaxBatchCommands = d.Server.MaxBatchCommands
	}
	if c.Server.ShutdownGrace == 0 {
		c.Server.ShutdownGrace = d.Server.ShutdownGrace
	}
	if c.Bridge.Driver == "" {
		c.Bridge.Driver = d.Bridge.Driver
	}
	if c.Bridge.ConnectTimeout == 0 {
		c.Bridge.ConnectTimeout = d.Bridge.ConnectTimeout
	}
	if c.Bridge.HandshakeTimeout == 0 {
		c.Bridge.HandshakeTimeout = d.Bridge.HandshakeTimeout
	}
	if c.Batch.ChunkSize == 0 {
		c.Batch.ChunkSize = d.Batch.ChunkSize
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = d.Retry.MaxRetries
	}
	if c.Retry.Delay == 0 {
		c.Retry.Delay = d.Retry.Delay
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = d.Retry.MaxDelay
	}
	if c.Retry.CallTimeout == 0 {
		c.Retry.CallTimeout = d.Retry.CallTimeout
	}
	if c.Transaction.TTL == 0 {
		c.Transaction.TTL = d.Transaction.TTL
	}
	if c.Transaction.CompensationTimeout == 0 {
		c.Transaction.CompensationTimeout = d.Transaction.CompensationTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Telemetry.Environment == "" {
		c.Telemetry.Environment = d.Telemetry.Environment
	}
	if c.Telemetry.TraceExporter == "" {
		c.Telemetry.TraceExporter = d.Telemetry.TraceExporter
	}
	if c.Telemetry.MetricExporter == "" {
		c.Telemetry.MetricExporter = d.Telemetry.MetricExporter
	}
	if c.Telemetry.OTLPEndpoint == "" {
		c.Telemetry.OTLPEndpoint = d.Telemetry.OTLPEndpoint
	}
}
