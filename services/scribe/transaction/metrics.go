// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transaction

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for transaction metrics.
var meter = otel.Meter("scribe.transaction")

// Metric instruments for transaction operations.
var (
	beginTotal           metric.Int64Counter
	commitTotal          metric.Int64Counter
	rollbackTotal        metric.Int64Counter
	expiredTotal         metric.Int64Counter
	transactionDuration  metric.Float64Histogram
	stepsPerTransaction  metric.Int64Histogram
	activeGauge          metric.Int64UpDownCounter
	compensationDuration metric.Float64Histogram
	compensationErrors   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// metricsEnabled controls whether metrics are recorded.
// Set by the Manager on initialization.
//
// Thread Safety: Uses atomic operations for safe concurrent access.
var metricsEnabled atomic.Bool

func init() {
	metricsEnabled.Store(true)
}

// SetMetricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Safe for concurrent use.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

// initMetrics initializes all metric instruments.
// Safe to call multiple times; uses sync.Once internally.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		beginTotal, err = meter.Int64Counter(
			"transaction_begin_total",
			metric.WithDescription("Total number of transaction begin operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		commitTotal, err = meter.Int64Counter(
			"transaction_commit_total",
			metric.WithDescription("Total number of transaction commit operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rollbackTotal, err = meter.Int64Counter(
			"transaction_rollback_total",
			metric.WithDescription("Total number of transaction rollback operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		expiredTotal, err = meter.Int64Counter(
			"transaction_expired_total",
			metric.WithDescription("Total number of transactions that expired"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		transactionDuration, err = meter.Float64Histogram(
			"transaction_duration_seconds",
			metric.WithDescription("Duration of transactions in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		stepsPerTransaction, err = meter.Int64Histogram(
			"transaction_steps_applied",
			metric.WithDescription("Number of applied steps per transaction"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		activeGauge, err = meter.Int64UpDownCounter(
			"transaction_active",
			metric.WithDescription("Number of currently active transactions"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		compensationDuration, err = meter.Float64Histogram(
			"transaction_compensation_duration_seconds",
			metric.WithDescription("Duration of compensation calls in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		compensationErrors, err = meter.Int64Counter(
			"transaction_compensation_errors_total",
			metric.WithDescription("Total number of failed compensation calls"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordBegin records a transaction begin operation.
//
// # Inputs
//
//   - ctx: Context for metric recording.
//   - success: Whether the begin operation succeeded.
func recordBegin(ctx context.Context, success bool) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	status := "success"
	if !success {
		status = "error"
	}

	beginTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
}

// recordCommit records a transaction commit operation.
//
// # Inputs
//
//   - ctx: Context for metric recording.
//   - duration: How long the transaction was active.
//   - steps: Number of applied steps at commit.
//   - success: Whether the commit operation succeeded.
func recordCommit(ctx context.Context, duration time.Duration, steps int, success bool) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	status := "success"
	if !success {
		status = "error"
	}

	attrs := metric.WithAttributes(attribute.String("status", status))

	commitTotal.Add(ctx, 1, attrs)
	transactionDuration.Record(ctx, duration.Seconds(), attrs)
	stepsPerTransaction.Record(ctx, int64(steps), attrs)
}

// recordRollback records a transaction rollback operation.
//
// # Inputs
//
//   - ctx: Context for metric recording.
//   - duration: How long the transaction was active.
//   - steps: Number of steps that were on the stack.
//   - reason: Why the rollback occurred.
//   - complete: Whether every reversible step was undone.
func recordRollback(ctx context.Context, duration time.Duration, steps int, reason string, complete bool) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	// Normalize reason to bounded set
	normalizedReason := normalizeRollbackReason(reason)

	status := "rolled_back"
	if !complete {
		status = "rollback_failed"
	}

	attrs := metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("reason", normalizedReason),
	)

	rollbackTotal.Add(ctx, 1, attrs)
	transactionDuration.Record(ctx, duration.Seconds(), attrs)
	stepsPerTransaction.Record(ctx, int64(steps), attrs)
}

// normalizeRollbackReason normalizes rollback reasons to a bounded set.
func normalizeRollbackReason(reason string) string {
	switch {
	case reason == "transaction expired":
		return "expired"
	case reason == "manager closed":
		return "manager_close"
	case reason == "panic during execution":
		return "panic"
	case strings.HasPrefix(reason, "batch failed"):
		return "batch_failure"
	default:
		return "user"
	}
}

// recordExpired records a transaction expiration.
//
// # Inputs
//
//   - ctx: Context for metric recording.
func recordExpired(ctx context.Context) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	expiredTotal.Add(ctx, 1)
}

// recordCompensation records one compensation call.
//
// # Inputs
//
//   - ctx: Context for metric recording.
//   - kind: Wire name of the compensated command.
//   - duration: How long the compensation took.
//   - compErr: Error if the compensation failed (nil on success).
func recordCompensation(ctx context.Context, kind string, duration time.Duration, compErr error) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("kind", kind))

	compensationDuration.Record(ctx, duration.Seconds(), attrs)

	if compErr != nil {
		compensationErrors.Add(ctx, 1, attrs)
	}
}

// incActive increments the active transaction gauge.
//
// # Inputs
//
//   - ctx: Context for metric recording.
func incActive(ctx context.Context) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	activeGauge.Add(ctx, 1)
}

// decActive decrements the active transaction gauge.
//
// # Inputs
//
//   - ctx: Context for metric recording.
func decActive(ctx context.Context) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	activeGauge.Add(ctx, -1)
}
