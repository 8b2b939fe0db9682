// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bridge connects the command pipeline to an external document
// editing resource.
//
// The resource is a long-lived, effectively single-threaded program: it
// accepts one call at a time and carries document state between calls.
// Session wraps a Driver with the serialization and lifecycle guarantees
// the rest of the pipeline relies on:
//
//   - one in-flight call at a time, enforced with a mutex
//   - connect is idempotent, disconnect is safe to repeat
//   - calls against a disconnected session fail fast instead of hanging
//
// Two drivers ship with the module: memdoc (an in-process document engine,
// used for tests and dry runs) and wsbridge (a WebSocket client speaking to
// a remote editor adapter).
package bridge

import (
	"context"
)

// ----------------------------------------------------------------------------
// Driver Interface
// ----------------------------------------------------------------------------

// Driver is the transport-specific adapter for one editing resource.
//
// Implementations are not required to be thread-safe. Session guarantees
// calls arrive one at a time, in order, from a single goroutine's critical
// section.
//
// Call errors must use the fault package vocabulary where it applies:
// fault.ErrConnectionLost when the transport drops, fault.ErrResourceBusy
// when the resource refuses a call it could accept later, and typed
// fault errors for validation and state refusals.
type Driver interface {
	// Open establishes the connection to the editing resource.
	//
	// Inputs:
	//   - ctx: Bounds the connection attempt.
	//
	// Outputs:
	//   - error: Non-nil if the resource cannot be reached.
	Open(ctx context.Context) error

	// Call executes one operation against the resource.
	//
	// Inputs:
	//   - ctx: Bounds the call. Implementations must observe cancellation
	//     and deadlines where the transport allows it.
	//   - op: Wire name of the operation, for example "insert_text".
	//   - params: Operation parameters. May be nil.
	//
	// Outputs:
	//   - map[string]any: Operation result. May be nil on success.
	//   - error: Non-nil if the operation failed.
	Call(ctx context.Context, op string, params map[string]any) (map[string]any, error)

	// Close tears down the connection. Safe to call on a closed driver.
	Close() error
}
