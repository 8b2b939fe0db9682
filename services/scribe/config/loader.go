// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// defaultTemplate is the commented file written on first run. It must
// parse to exactly DefaultConfig(); config_test.go pins the two
// together.
const defaultTemplate = `# Scribe service configuration.
# Durations use Go syntax: 500ms, 30s, 5m, 1h.

server:
  host: 0.0.0.0             # bind address for scribe serve
  port: 8080                # HTTP port
  max_batch_commands: 500   # reject larger batches before execution
  shutdown_grace: 10s       # drain window on SIGINT/SIGTERM

bridge:
  driver: memdoc            # memdoc (in-process) or websocket (remote adapter)
  endpoint: ws://127.0.0.1:7700/bridge   # websocket driver only
  connect_timeout: 30s      # per connection attempt
  handshake_timeout: 15s    # websocket dial ceiling

batch:
  chunk_size: 100           # units per session call for chunkable commands

retry:
  max_retries: 3            # re-attempts after the first try
  delay: 500ms              # first backoff, doubles per retry
  max_delay: 10s            # backoff cap
  call_timeout: 5m0s        # per-attempt ceiling on one session call
  jitter: false             # randomize backoff delays

transaction:
  ttl: 30m0s                # open transactions past this roll back on commit
  compensation_timeout: 1m0s  # per-compensator ceiling during rollback
  require_compensators: false # reject batches containing irreversible commands

logging:
  level: info               # debug, info, warn, error
  log_dir: ""               # when set, JSON file logs are written here
  json: false               # JSON instead of text on stderr
  quiet: false              # suppress stderr output entirely

telemetry:
  environment: development
  trace_exporter: otlp      # otlp, jaeger, stdout, none
  metric_exporter: prometheus # prometheus, stdout, none
  otlp_endpoint: localhost:4317
`

// DefaultPath returns the per-user config location, ~/.scribe/scribe.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".scribe", "scribe.yaml"), nil
}

// Load reads, defaults, and validates the configuration at path,
// creating a commented default file on first run. An empty path
// resolves to DefaultPath().
//
// Outputs:
//
//	*Config - the loaded configuration, complete after ApplyDefaults.
//	error   - unreadable file, malformed YAML, or a Validate failure.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Printf("First run detected, creating the default config at %s\n", path)
		if err := createDefault(path); err != nil {
			return nil, err
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read the config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	return os.WriteFile(path, []byte(defaultTemplate), 0644)
}
