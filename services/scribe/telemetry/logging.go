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
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// LoggerWithTrace returns a logger with trace correlation fields.
//
// Description:
//
//	Adds trace_id and span_id fields from the active span so log entries
//	can be correlated with traces in Grafana/Loki. Returns the logger
//	unchanged when the context carries no valid span.
//
// Inputs:
//
//	ctx - Context potentially containing a span. May be nil.
//	logger - Base logger. A nil logger falls back to slog.Default().
//
// Outputs:
//
//	*slog.Logger - Logger with trace fields attached where available.
//
// Example:
//
//	logger := telemetry.LoggerWithTrace(ctx, s.logger)
//	logger.Info("batch accepted", "commands", len(req.Commands))
//
// Thread Safety: Safe for concurrent use.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if ctx == nil {
		return logger
	}

	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}

	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}

// LoggerWithSession returns a logger carrying the session identifier,
// on top of any trace correlation fields.
//
// Inputs:
//
//	ctx - Context potentially containing a span. May be nil.
//	logger - Base logger. A nil logger falls back to slog.Default().
//	sessionID - The editing session identifier.
//
// Outputs:
//
//	*slog.Logger - Logger with session_id (and trace fields) attached.
//
// Thread Safety: Safe for concurrent use.
func LoggerWithSession(ctx context.Context, logger *slog.Logger, sessionID string) *slog.Logger {
	return LoggerWithTrace(ctx, logger).With(slog.String("session_id", sessionID))
}
