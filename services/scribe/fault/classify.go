// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fault

import (
	"context"
	"errors"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrNotConnected is returned when a call reaches a session that has no
	// live connection to the editing resource.
	ErrNotConnected = errors.New("session not connected")

	// ErrConnectionLost is returned by drivers when an established connection
	// drops mid-call.
	ErrConnectionLost = errors.New("connection to editing resource lost")

	// ErrResourceBusy is returned by drivers when the editing resource rejects
	// a call because it is momentarily occupied.
	ErrResourceBusy = errors.New("editing resource busy")

	// ErrAttemptTimeout is returned when a single call exceeds its deadline
	// while the surrounding work is still live.
	ErrAttemptTimeout = errors.New("call attempt timed out")
)

// =============================================================================
// Classification
// =============================================================================

// IsTransient reports whether err is worth retrying.
//
// # Description
//
// Transient failures are connection loss, busy signals and per-attempt
// timeouts. Validation, state and cancellation failures are permanent.
// Errors the taxonomy cannot name are treated as transient so a flaky
// resource gets its retry budget before the failure is surfaced.
//
// # Inputs
//
//   - err: The error to classify. A nil error is not transient.
//
// # Outputs
//
//   - bool: true when a retry may succeed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsCancellation(err) {
		return false
	}

	var valErr *ValidationError
	var stateErr *StateError
	var rbErr *RollbackError
	var partErr *PartialError

	switch {
	case errors.As(err, &valErr):
		return false
	case errors.As(err, &stateErr):
		return false
	case errors.As(err, &rbErr):
		return false
	case errors.As(err, &partErr):
		// A partial failure inherits the retryability of its cause, but by
		// the time it is wrapped the retry budget has already been spent.
		return false
	default:
		return true
	}
}

// IsConnection reports whether err signals a lost or absent connection, as
// opposed to other transient conditions such as a busy resource. The retry
// policy forces a reconnect for these before the next attempt.
func IsConnection(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotConnected) || errors.Is(err, ErrConnectionLost) {
		return true
	}
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

// IsCancellation reports whether err stems from cooperative cancellation of
// the surrounding work rather than from the editing resource.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	var cancErr *CancelledError
	if errors.As(err, &cancErr) {
		return true
	}
	return errors.Is(err, context.Canceled)
}

// IsTimeout reports whether err stems from a per-attempt deadline.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrAttemptTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// =============================================================================
// Index Stamping
// =============================================================================

// Locate stamps batch coordinates onto the taxonomy error inside err.
//
// # Description
//
// The session and drivers produce taxonomy errors without knowing where in a
// batch the failing call sits. The batch executor knows, and calls Locate to
// fill in the command and chunk indices before the error propagates. Indices
// already set are left alone, so an error located deep in the pipeline keeps
// its original coordinates.
//
// Errors with no taxonomy type in their chain are returned unchanged; they
// are classified at the descriptor level by Describe.
//
// # Inputs
//
//   - err: The error to stamp. May be nil.
//   - commandIndex: Zero-based position of the command in the batch.
//   - chunkIndex: Zero-based chunk position, NoIndex for unchunked calls.
//
// # Outputs
//
//   - error: err itself, with coordinates filled in where they were unset.
func Locate(err error, commandIndex, chunkIndex int) error {
	if err == nil {
		return nil
	}

	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		if connErr.CommandIndex == NoIndex {
			connErr.CommandIndex = commandIndex
		}
		if connErr.ChunkIndex == NoIndex {
			connErr.ChunkIndex = chunkIndex
		}
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		if valErr.CommandIndex == NoIndex {
			valErr.CommandIndex = commandIndex
		}
	}

	var stateErr *StateError
	if errors.As(err, &stateErr) {
		if stateErr.CommandIndex == NoIndex {
			stateErr.CommandIndex = commandIndex
		}
	}

	return err
}
