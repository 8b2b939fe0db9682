// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fault defines the failure vocabulary shared by the batch pipeline.
//
// Every error that leaves the pipeline is one of the kinds below, carrying
// the index of the command that produced it and, for chunked commands, the
// index of the chunk. Callers diagnose failures from these fields alone,
// without inspecting pipeline internals.
//
// Classification drives retry behavior: connection loss, busy signals and
// attempt timeouts are transient and may be retried; validation and state
// errors are permanent and never retried.
package fault

import (
	"errors"
	"fmt"
)

// =============================================================================
// Failure Kinds
// =============================================================================

// Kind identifies a failure category.
type Kind int

const (
	// KindUnknown is the zero value and never produced by the pipeline.
	KindUnknown Kind = iota

	// KindConnection indicates the editing session is unavailable or was lost.
	KindConnection

	// KindValidation indicates a bad or unknown command, or bad parameters.
	// Validation failures are never retried.
	KindValidation

	// KindState indicates the resource precondition for a command was unmet,
	// for example a table-cell operation while no table exists.
	KindState

	// KindPartial indicates some chunks of a chunkable command committed
	// before a later chunk failed.
	KindPartial

	// KindRollback indicates a compensator itself failed during rollback.
	// Always secondary to the error that triggered the rollback.
	KindRollback

	// KindCancelled indicates cooperative cancellation observed between chunks.
	KindCancelled
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindPartial:
		return "partial_failure"
	case KindRollback:
		return "rollback_failure"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// NoIndex marks a command or chunk index that is not applicable.
const NoIndex = -1

// =============================================================================
// Error Types
// =============================================================================

// ConnectionError indicates the editing session is unavailable or was lost.
//
// Produced directly by the session when invoked while disconnected, and by
// the retry policy when transient failures exhaust the retry budget. In the
// second case Attempts carries the total number of attempts made.
type ConnectionError struct {
	// Op is the wire operation that failed, empty when not tied to one call.
	Op string

	// CommandIndex is the zero-based index of the failing command,
	// NoIndex when the error is not tied to a batch position.
	CommandIndex int

	// ChunkIndex is the zero-based chunk index, NoIndex for unchunked calls.
	ChunkIndex int

	// Attempts is the total number of attempts made, 0 when retry was not involved.
	Attempts int

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	msg := "session connection failure"
	if e.Op != "" {
		msg = fmt.Sprintf("session connection failure during %q", e.Op)
	}
	if e.Attempts > 0 {
		msg = fmt.Sprintf("%s after %d attempts", msg, e.Attempts)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error { return e.Cause }

// ValidationError indicates a bad or unknown command kind, or parameters
// that fail shape or range checks. Never retried.
type ValidationError struct {
	// Field names the offending parameter, empty for kind-level failures.
	Field string

	// CommandIndex is the zero-based index of the failing command,
	// NoIndex outside batch execution (registration, manifest checks).
	CommandIndex int

	// Message describes what was rejected.
	Message string

	// Cause is the underlying error, may be nil.
	Cause error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %q: %s", e.Field, e.Message)
	}
	return "validation failed: " + e.Message
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error { return e.Cause }

// StateError indicates the editing resource is not in the state a command
// requires. Never retried.
type StateError struct {
	// Requirement names the unmet precondition, for example "open document".
	Requirement string

	// CommandIndex is the zero-based index of the failing command,
	// NoIndex when not tied to a batch position.
	CommandIndex int

	// Message describes the mismatch.
	Message string
}

// Error implements the error interface.
func (e *StateError) Error() string {
	if e.Requirement != "" {
		return fmt.Sprintf("resource state precondition %q unmet: %s", e.Requirement, e.Message)
	}
	return "resource state precondition unmet: " + e.Message
}

// PartialError indicates a chunkable command failed after one or more of its
// chunks had already committed. The committed chunks remain applied.
type PartialError struct {
	// CommandIndex is the zero-based index of the chunkable command.
	CommandIndex int

	// ChunkIndex is the zero-based index of the chunk that failed.
	ChunkIndex int

	// CommittedUnits is the number of atomic units applied before the failure.
	CommittedUnits int

	// TotalUnits is the full payload size in atomic units.
	TotalUnits int

	// Cause is the error from the failing chunk.
	Cause error
}

// Error implements the error interface.
func (e *PartialError) Error() string {
	msg := fmt.Sprintf("chunk %d failed with %d/%d units committed",
		e.ChunkIndex, e.CommittedUnits, e.TotalUnits)
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the error from the failing chunk.
func (e *PartialError) Unwrap() error { return e.Cause }

// RollbackError indicates a compensator failed while rolling back an applied
// command. It is accumulated as secondary information and never replaces the
// error that triggered the rollback.
type RollbackError struct {
	// CommandIndex is the zero-based index of the command being compensated.
	CommandIndex int

	// ChunkIndex is the zero-based chunk index of the compensated step,
	// NoIndex for unchunked steps.
	ChunkIndex int

	// Op is the command's wire name.
	Op string

	// Cause is the compensator's error.
	Cause error
}

// Error implements the error interface.
func (e *RollbackError) Error() string {
	msg := fmt.Sprintf("compensator for command %d failed", e.CommandIndex)
	if e.Op != "" {
		msg = fmt.Sprintf("compensator for command %d (%s) failed", e.CommandIndex, e.Op)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the compensator's error.
func (e *RollbackError) Unwrap() error { return e.Cause }

// CancelledError indicates cooperative cancellation was observed at a chunk
// boundary. Chunks already committed stay applied; cancellation alone never
// triggers rollback.
type CancelledError struct {
	// CommandIndex is the zero-based index of the command that was interrupted.
	CommandIndex int

	// ChunkIndex is the zero-based index of the chunk that did not start,
	// NoIndex when cancellation was observed between commands.
	ChunkIndex int

	// CompletedUnits is the number of atomic units applied before cancellation.
	CompletedUnits int

	// Cause is the context error that signalled cancellation.
	Cause error
}

// Error implements the error interface.
func (e *CancelledError) Error() string {
	if e.ChunkIndex != NoIndex {
		return fmt.Sprintf("cancelled before chunk %d of command %d", e.ChunkIndex, e.CommandIndex)
	}
	return fmt.Sprintf("cancelled before command %d", e.CommandIndex)
}

// Unwrap returns the context error.
func (e *CancelledError) Unwrap() error { return e.Cause }

// =============================================================================
// Descriptor
// =============================================================================

// Descriptor is the flattened, serializable form of a taxonomy error.
//
// It is embedded in batch results so callers get the failure kind and the
// position inside the batch without type assertions.
type Descriptor struct {
	// Kind is the wire name of the failure category.
	Kind string `json:"kind" yaml:"kind"`

	// CommandIndex is the zero-based index of the failing command,
	// NoIndex when not applicable.
	CommandIndex int `json:"command_index" yaml:"command_index"`

	// ChunkIndex is the zero-based chunk index, NoIndex when not applicable.
	ChunkIndex int `json:"chunk_index,omitempty" yaml:"chunk_index,omitempty"`

	// Message is the human-readable error text.
	Message string `json:"message" yaml:"message"`
}

// Describe flattens err into a Descriptor.
//
// # Description
//
// Walks the error chain for the outermost taxonomy error and extracts its
// kind and indices. Errors outside the taxonomy produce a connection-kind
// descriptor with NoIndex positions, so a raw fault never reaches callers
// unclassified.
//
// # Inputs
//
//   - err: Any non-nil error.
//
// # Outputs
//
//   - Descriptor: Flattened failure description.
func Describe(err error) Descriptor {
	d := Descriptor{
		Kind:         KindOf(err).String(),
		CommandIndex: NoIndex,
		ChunkIndex:   NoIndex,
		Message:      "",
	}
	if err != nil {
		d.Message = err.Error()
	}

	var connErr *ConnectionError
	var valErr *ValidationError
	var stateErr *StateError
	var partErr *PartialError
	var rbErr *RollbackError
	var cancErr *CancelledError

	switch {
	case errors.As(err, &rbErr):
		d.CommandIndex = rbErr.CommandIndex
		d.ChunkIndex = rbErr.ChunkIndex
	case errors.As(err, &partErr):
		d.CommandIndex = partErr.CommandIndex
		d.ChunkIndex = partErr.ChunkIndex
	case errors.As(err, &cancErr):
		d.CommandIndex = cancErr.CommandIndex
		d.ChunkIndex = cancErr.ChunkIndex
	case errors.As(err, &connErr):
		d.CommandIndex = connErr.CommandIndex
		d.ChunkIndex = connErr.ChunkIndex
	case errors.As(err, &valErr):
		d.CommandIndex = valErr.CommandIndex
	case errors.As(err, &stateErr):
		d.CommandIndex = stateErr.CommandIndex
	}

	return d
}

// KindOf reports the taxonomy kind of err.
//
// A rollback failure outranks everything else in the chain: once an undo
// has failed the document may hold partial edits, and that is the fact the
// caller must see first. Unclassified errors report KindConnection: by the
// time an error surfaces from the pipeline it has passed through retry, and
// anything the retry policy could not name is treated as a lost session.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var connErr *ConnectionError
	var valErr *ValidationError
	var stateErr *StateError
	var partErr *PartialError
	var rbErr *RollbackError
	var cancErr *CancelledError

	switch {
	case errors.As(err, &rbErr):
		return KindRollback
	case errors.As(err, &partErr):
		return KindPartial
	case errors.As(err, &cancErr):
		return KindCancelled
	case errors.As(err, &valErr):
		return KindValidation
	case errors.As(err, &stateErr):
		return KindState
	case errors.As(err, &connErr):
		return KindConnection
	default:
		return KindConnection
	}
}
