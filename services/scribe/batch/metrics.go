// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for batch metrics.
var meter = otel.Meter("scribe.batch")

// Metric instruments for batch execution.
var (
	runsTotal     metric.Int64Counter
	commandsTotal metric.Int64Counter
	unitsApplied  metric.Int64Counter
	retriesTotal  metric.Int64Counter
	runDuration   metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// metricsEnabled controls whether metrics are recorded.
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

		runsTotal, err = meter.Int64Counter(
			"batch_runs_total",
			metric.WithDescription("Total number of batch runs"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		commandsTotal, err = meter.Int64Counter(
			"batch_commands_total",
			metric.WithDescription("Total number of commands executed"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		unitsApplied, err = meter.Int64Counter(
			"batch_units_applied_total",
			metric.WithDescription("Total number of units applied across batches"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		retriesTotal, err = meter.Int64Counter(
			"batch_retries_total",
			metric.WithDescription("Total number of retried session calls"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runDuration, err = meter.Float64Histogram(
			"batch_run_duration_seconds",
			metric.WithDescription("Duration of batch runs in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordRun records one finished batch run.
//
// # Inputs
//
//   - ctx: Context for metric recording.
//   - status: Final batch status.
//   - units: Units applied before the run ended.
//   - duration: How long the run took.
func recordRun(ctx context.Context, status string, units int, duration time.Duration) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("status", status))

	runsTotal.Add(ctx, 1, attrs)
	unitsApplied.Add(ctx, int64(units), attrs)
	runDuration.Record(ctx, duration.Seconds(), attrs)
}

// recordCommand records one executed command.
//
// # Inputs
//
//   - ctx: Context for metric recording.
//   - kind: Command kind.
//   - status: Final command status.
//   - retries: Retries the command needed.
func recordCommand(ctx context.Context, kind, status string, retries int) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	commandsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
	if retries > 0 {
		retriesTotal.Add(ctx, int64(retries), metric.WithAttributes(
			attribute.String("kind", kind),
		))
	}
}
