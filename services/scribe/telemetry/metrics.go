// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics contains pre-defined metrics for the Scribe service.
//
// Description:
//
//	Provides standard counters, histograms, and gauges for HTTP requests,
//	editing sessions, and document pipeline runs. All metrics use the
//	"scribe_" prefix for consistent naming. The batch and transaction
//	packages register their own instruments; these cover the service
//	surface above them.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// --- HTTP Metrics ---

	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal metric.Int64Counter

	// HTTPRequestDuration records HTTP request duration in seconds.
	HTTPRequestDuration metric.Float64Histogram

	// HTTPActiveRequests tracks currently active HTTP requests.
	HTTPActiveRequests metric.Int64UpDownCounter

	// --- Session Metrics ---

	// SessionsOpenedTotal counts sessions opened, by driver and status.
	SessionsOpenedTotal metric.Int64Counter

	// SessionsClosedTotal counts sessions closed, by reason.
	SessionsClosedTotal metric.Int64Counter

	// SessionsActive tracks currently open sessions via callback.
	// Registered separately through RegisterActiveSessions.
	SessionsActive metric.Int64ObservableGauge

	// --- Document Pipeline Metrics ---

	// DocumentsProcessedTotal counts documents completed by the multi-document
	// pipeline, by status.
	DocumentsProcessedTotal metric.Int64Counter

	// DocumentProcessDuration records per-document pipeline duration in seconds.
	DocumentProcessDuration metric.Float64Histogram

	// --- Error Metrics ---

	// ErrorsTotal counts total errors by kind and component.
	ErrorsTotal metric.Int64Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
//
// Description:
//
//	Registers all pre-defined metrics with the provided meter.
//	Returns an error if any metric registration fails.
//
// Inputs:
//
//	meter - The OTel meter to use for metric registration.
//
// Outputs:
//
//	*Metrics - The metrics instance with all counters and histograms initialized.
//	error - Non-nil if metric registration fails.
//
// Example:
//
//	meter := otel.Meter("scribe")
//	metrics, err := telemetry.NewMetrics(meter)
//	if err != nil {
//	    return fmt.Errorf("create metrics: %w", err)
//	}
//	metrics.HTTPRequestsTotal.Add(ctx, 1, ...)
//
// Thread Safety: Safe for concurrent use after creation.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	// --- HTTP Metrics ---
	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"scribe_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"scribe_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration: %w", err)
	}

	m.HTTPActiveRequests, err = meter.Int64UpDownCounter(
		"scribe_http_active_requests",
		metric.WithDescription("Currently active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_active_requests: %w", err)
	}

	// --- Session Metrics ---
	m.SessionsOpenedTotal, err = meter.Int64Counter(
		"scribe_sessions_opened_total",
		metric.WithDescription("Total editing sessions opened"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create sessions_opened_total: %w", err)
	}

	m.SessionsClosedTotal, err = meter.Int64Counter(
		"scribe_sessions_closed_total",
		metric.WithDescription("Total editing sessions closed"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create sessions_closed_total: %w", err)
	}

	// Note: SessionsActive requires a callback registration, handled separately

	// --- Document Pipeline Metrics ---
	m.DocumentsProcessedTotal, err = meter.Int64Counter(
		"scribe_documents_processed_total",
		metric.WithDescription("Total documents completed by the pipeline"),
		metric.WithUnit("{document}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create documents_processed_total: %w", err)
	}

	m.DocumentProcessDuration, err = meter.Float64Histogram(
		"scribe_document_process_duration_seconds",
		metric.WithDescription("Per-document pipeline duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, fmt.Errorf("create document_process_duration: %w", err)
	}

	// --- Error Metrics ---
	m.ErrorsTotal, err = meter.Int64Counter(
		"scribe_errors_total",
		metric.WithDescription("Total errors by kind and component"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create errors_total: %w", err)
	}

	return m, nil
}

// RegisterActiveSessions registers a callback for the active-sessions gauge.
//
// Description:
//
//	Sets up an observable gauge that reports the number of currently open
//	editing sessions. The callback is invoked each time metrics are scraped.
//
// Inputs:
//
//	meter - The OTel meter to use for registration.
//	countFunc - A function that returns the current open session count.
//
// Outputs:
//
//	metric.Registration - Registration handle for cleanup.
//	error - Non-nil if registration fails.
func (m *Metrics) RegisterActiveSessions(meter metric.Meter, countFunc func() int64) (metric.Registration, error) {
	var err error
	m.SessionsActive, err = meter.Int64ObservableGauge(
		"scribe_sessions_active",
		metric.WithDescription("Currently open editing sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create sessions_active: %w", err)
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(m.SessionsActive, countFunc())
		return nil
	}, m.SessionsActive)
}
