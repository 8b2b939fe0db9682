// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retry bounds session calls with a per-attempt timeout and
// retries transient failures with exponential backoff.
//
// Classification decides everything: a permanent failure returns
// immediately with zero retries, a transient one gets the remaining
// budget. Connection-class and timeout failures additionally force a
// session reconnect before the next attempt, because the connection is
// in an unknown state after either.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/ScribeFOSS/services/scribe/fault"
)

// ErrNilCall is returned when Execute is given no call to run.
var ErrNilCall = errors.New("call cannot be nil")

// Reconnector re-establishes a session's connection between attempts.
// *bridge.Session satisfies it.
type Reconnector interface {
	Reconnect(ctx context.Context) error
}

// CallFunc performs one attempt. The context carries the per-attempt
// deadline.
type CallFunc func(ctx context.Context) error

// ----------------------------------------------------------------------------
// Policy
// ----------------------------------------------------------------------------

// Policy configures retry behavior. The zero value gets defaults from
// withDefaults; DefaultPolicy returns them explicitly.
type Policy struct {
	// MaxRetries is the number of re-attempts after the first try.
	// Default: 3.
	MaxRetries int

	// Delay is the wait before the first retry. Doubles per retry.
	// Default: 500ms.
	Delay time.Duration

	// MaxDelay caps the backoff. Default: 10s.
	MaxDelay time.Duration

	// Timeout bounds each attempt. Default: 300s.
	Timeout time.Duration

	// Jitter randomizes each delay over (0, delay] when set.
	Jitter bool

	// Classify decides whether an error is worth retrying.
	// Default: fault.IsTransient.
	Classify func(error) bool

	// Logger receives retry and reconnect events. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultPolicy returns the stock policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		Delay:      500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Timeout:    300 * time.Second,
		Classify:   fault.IsTransient,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.Delay <= 0 {
		p.Delay = d.Delay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.Timeout <= 0 {
		p.Timeout = d.Timeout
	}
	if p.Classify == nil {
		p.Classify = d.Classify
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return p
}

// Stats reports what one Execute run cost.
type Stats struct {
	// Attempts is the number of times the call ran, including the first.
	Attempts int

	// Retries is Attempts minus one when any attempt ran, else zero.
	Retries int

	// Reconnects counts session reconnects forced between attempts.
	Reconnects int
}

// ----------------------------------------------------------------------------
// Execution
// ----------------------------------------------------------------------------

// Execute runs call under the policy.
//
// Description:
//
//	Each attempt runs with its own deadline of p.Timeout. Permanent
//	failures and parent-context cancellation return immediately.
//	Transient failures wait with exponential backoff, reconnect the
//	session when the failure was connection-class or a timeout, and try
//	again. When the budget is exhausted the session is reconnected one
//	last time best-effort so the NEXT command starts from a live
//	connection, and the final error is wrapped in a
//	*fault.ConnectionError carrying the attempt count.
//
// Inputs:
//   - ctx: Bounds the whole run. A nil ctx is treated as Background.
//   - r: Session to reconnect between attempts. May be nil, which
//     disables reconnects.
//   - call: The attempt body.
//
// Outputs:
//   - Stats: Attempt accounting, also populated on failure.
//   - error: nil on success, the permanent error, ctx.Err() on
//     cancellation, or the exhaustion wrapper.
func (p Policy) Execute(ctx context.Context, r Reconnector, call CallFunc) (Stats, error) {
	if call == nil {
		return Stats{}, ErrNilCall
	}
	if ctx == nil {
		ctx = context.Background()
	}
	p = p.withDefaults()

	var stats Stats
	var lastErr error

	maxAttempts := 1 + p.MaxRetries
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
		err := call(attemptCtx)
		cancel()

		stats.Attempts = attempt
		stats.Retries = attempt - 1
		if err == nil {
			return stats, nil
		}
		lastErr = err

		// The attempt's own deadline reads as DeadlineExceeded; keep the
		// taxonomy name when the parent is still live.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			lastErr = fmt.Errorf("%w: %v", fault.ErrAttemptTimeout, err)
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return stats, ctxErr
		}
		if !p.Classify(lastErr) {
			return stats, lastErr
		}
		if attempt == maxAttempts {
			break
		}

		delay := backoffDelay(attempt, p.Delay, p.MaxDelay, p.Jitter)
		p.Logger.Warn("retrying after transient failure",
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"delay_ms", delay.Milliseconds(),
			"error", lastErr)
		if err := sleepCtx(ctx, delay); err != nil {
			return stats, err
		}

		if r != nil && (fault.IsConnection(lastErr) || fault.IsTimeout(lastErr)) {
			if rcErr := r.Reconnect(ctx); rcErr != nil {
				p.Logger.Warn("reconnect between attempts failed", "error", rcErr)
			} else {
				stats.Reconnects++
			}
		}
	}

	// Budget spent. Leave the session usable for whatever runs next.
	if r != nil {
		if rcErr := r.Reconnect(ctx); rcErr != nil {
			p.Logger.Warn("reconnect after exhausted retries failed", "error", rcErr)
		} else {
			stats.Reconnects++
		}
	}

	return stats, &fault.ConnectionError{
		Op:           "invoke",
		CommandIndex: fault.NoIndex,
		ChunkIndex:   fault.NoIndex,
		Attempts:     stats.Attempts,
		Cause:        lastErr,
	}
}
