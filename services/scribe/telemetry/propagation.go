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
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// ExtractContext extracts trace context from incoming HTTP headers.
//
// Description:
//
//	Uses the globally configured propagator (set in Init) to extract
//	W3C TraceContext and Baggage from HTTP headers. The returned context
//	contains the extracted trace information and can be used to create
//	child spans.
//
// Inputs:
//
//	ctx - Base context to extend with trace information.
//	headers - HTTP headers containing trace context (e.g., traceparent, tracestate).
//
// Outputs:
//
//	context.Context - Context with trace information attached.
//	               Returns the original context if no trace headers are present.
//
// Thread Safety: Safe for concurrent use.
func ExtractContext(ctx context.Context, headers http.Header) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(headers))
}

// InjectContext injects trace context into outgoing HTTP headers.
//
// Description:
//
//	Uses the globally configured propagator (set in Init) to inject
//	W3C TraceContext and Baggage into HTTP headers. Use this when
//	making outgoing connections to propagate trace context, for
//	example the websocket dial to a remote editing engine.
//
// Inputs:
//
//	ctx - Context containing active span information.
//	headers - HTTP headers to inject trace context into.
//
// Example:
//
//	headers := http.Header{}
//	telemetry.InjectContext(ctx, headers)
//	conn, _, err := dialer.DialContext(ctx, url, headers)
//
// Thread Safety: Safe for concurrent use.
func InjectContext(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
