// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/ScribeFOSS/services/scribe/fault"
)

// ----------------------------------------------------------------------------
// Errors
// ----------------------------------------------------------------------------

var (
	// ErrNilDriver is returned when a Session is constructed without a driver.
	ErrNilDriver = errors.New("driver cannot be nil")

	// ErrNilContext is returned when a nil context is passed to a session
	// operation.
	ErrNilContext = errors.New("context cannot be nil")
)

// ----------------------------------------------------------------------------
// Configuration
// ----------------------------------------------------------------------------

// Config controls Session behavior.
type Config struct {
	// ID identifies the session in logs and API responses.
	// Default: a new UUID.
	ID string

	// ConnectTimeout bounds each connection attempt.
	// Must be > 0. Default: 30s.
	ConnectTimeout time.Duration

	// Logger receives session lifecycle and call events.
	// Default: slog.Default().
	Logger *slog.Logger
}

// applyDefaults fills unset fields in place.
func (c *Config) applyDefaults() {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ----------------------------------------------------------------------------
// Session
// ----------------------------------------------------------------------------

// Session serializes access to one editing resource.
//
// The resource accepts a single call at a time, so every operation below
// holds an internal mutex for its full duration. A caller invoking while
// another call is in flight blocks until that call returns.
//
// Session does not retry; callers wanting retry wrap Invoke with a retry
// policy.
//
// Thread Safety: all methods are safe for concurrent use.
type Session struct {
	id     string
	driver Driver
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	connected bool
}

// NewSession creates a Session over driver.
//
// The session starts disconnected; call Connect before Invoke.
//
// Inputs:
//   - driver: Transport adapter for the editing resource.
//   - cfg: Session configuration. Zero value gets defaults.
//
// Outputs:
//   - *Session: Ready to connect.
//   - error: ErrNilDriver if driver is nil.
func NewSession(driver Driver, cfg Config) (*Session, error) {
	if driver == nil {
		return nil, ErrNilDriver
	}
	cfg.applyDefaults()

	return &Session{
		id:     cfg.ID,
		driver: driver,
		cfg:    cfg,
		logger: cfg.Logger.With("session_id", cfg.ID),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Connect establishes the connection to the editing resource.
//
// Description:
//
//	Idempotent. Connecting an already-connected session is a no-op and
//	returns nil. The connection attempt is bounded by ConnectTimeout.
//
// Inputs:
//   - ctx: Bounds the attempt, in addition to ConnectTimeout.
//
// Outputs:
//   - error: fault.ConnectionError if the resource cannot be reached.
func (s *Session) Connect(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.connectLocked(ctx)
}

// connectLocked performs the connection with s.mu held.
func (s *Session) connectLocked(ctx context.Context) error {
	if s.connected {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	start := time.Now()
	if err := s.driver.Open(dialCtx); err != nil {
		s.logger.Error("session connect failed",
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return &fault.ConnectionError{
			Op:           "connect",
			CommandIndex: fault.NoIndex,
			ChunkIndex:   fault.NoIndex,
			Cause:        err,
		}
	}

	s.connected = true
	s.logger.Info("session connected",
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Invoke executes one operation against the editing resource.
//
// Description:
//
//	Holds the session lock for the full duration of the call, so at most
//	one operation is ever in flight. Invoking a disconnected session fails
//	immediately with a fault.ConnectionError rather than hanging.
//
//	A driver error that signals a dropped transport marks the session
//	disconnected; a later Reconnect restores it.
//
// Inputs:
//   - ctx: Bounds the call. Deadlines here implement per-attempt timeouts.
//   - op: Wire name of the operation.
//   - params: Operation parameters. May be nil.
//
// Outputs:
//   - map[string]any: Operation result.
//   - error: Driver error, or fault.ConnectionError when disconnected.
func (s *Session) Invoke(ctx context.Context, op string, params map[string]any) (map[string]any, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil, &fault.ConnectionError{
			Op:           op,
			CommandIndex: fault.NoIndex,
			ChunkIndex:   fault.NoIndex,
			Cause:        fault.ErrNotConnected,
		}
	}

	start := time.Now()
	out, err := s.driver.Call(ctx, op, params)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, fault.ErrConnectionLost) {
			s.connected = false
		}
		s.logger.Debug("session call failed",
			"op", op,
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
		return nil, err
	}

	s.logger.Debug("session call",
		"op", op,
		"duration_ms", elapsed.Milliseconds(),
	)
	return out, nil
}

// IsConnected reports whether the session currently holds a live connection.
//
// The answer can go stale the moment the lock is released; use it for
// health reporting, not as an Invoke guard.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Disconnect closes the connection to the editing resource.
//
// Description:
//
//	Safe to call repeatedly; disconnecting a disconnected session is a
//	no-op. The session is marked disconnected even when the driver's
//	close reports an error.
//
// Outputs:
//   - error: The driver's close error, if any.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}

	s.connected = false
	if err := s.driver.Close(); err != nil {
		s.logger.Warn("session disconnect reported error", "error", err)
		return err
	}

	s.logger.Info("session disconnected")
	return nil
}

// Reconnect force-cycles the connection.
//
// Description:
//
//	Closes any existing connection and opens a fresh one. Used by the
//	retry policy after a connection-class failure, and again as a last
//	act when the retry budget is exhausted so the session is usable for
//	whatever comes next.
//
// Inputs:
//   - ctx: Bounds the new connection attempt.
//
// Outputs:
//   - error: fault.ConnectionError if the new connection fails.
func (s *Session) Reconnect(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		s.connected = false
		if err := s.driver.Close(); err != nil {
			s.logger.Debug("reconnect: close of stale connection failed", "error", err)
		}
	}

	s.logger.Warn("session reconnecting")
	return s.connectLocked(ctx)
}
