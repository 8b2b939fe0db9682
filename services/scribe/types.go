// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scribe

import (
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/ScribeFOSS/services/scribe/command"
	"github.com/AleutianAI/ScribeFOSS/services/scribe/fault"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("commandkind", validateCommandKind)
	}
}

// validateCommandKind rejects request bodies naming commands the
// catalog does not carry, before any handler logic runs.
func validateCommandKind(fl validator.FieldLevel) bool {
	_, err := command.ParseKind(fl.Field().String())
	return err == nil
}

// CommandSpec is one command inside a batch request.
type CommandSpec struct {
	// Kind names the command, e.g. "insert_text". Required.
	Kind string `json:"kind" binding:"required,commandkind"`

	// Params carries the command's inputs. Optional for commands
	// without required fields.
	Params map[string]any `json:"params"`
}

// CreateSessionRequest is the request body for POST /v1/scribe/sessions.
type CreateSessionRequest struct {
	// Label is an optional human-readable tag echoed back in session
	// responses.
	Label string `json:"label"`
}

// SessionResponse describes one session.
type SessionResponse struct {
	// SessionID identifies the session in subsequent calls.
	SessionID string `json:"session_id"`

	// Label is the tag given at creation, if any.
	Label string `json:"label,omitempty"`

	// Connected reports whether the editing backend is reachable.
	Connected bool `json:"connected"`

	// Driver names the editing backend ("memdoc", "websocket").
	Driver string `json:"driver"`

	// Transaction is the state of the session's transaction manager.
	Transaction string `json:"transaction"`

	// CreatedAt is when the session was opened.
	CreatedAt time.Time `json:"created_at"`
}

// ListSessionsResponse is the response for GET /v1/scribe/sessions.
type ListSessionsResponse struct {
	// Sessions lists open sessions, oldest first.
	Sessions []SessionResponse `json:"sessions"`

	// Count is len(Sessions).
	Count int `json:"count"`
}

// RunBatchRequest is the request body for POST /v1/scribe/sessions/:id/batches.
type RunBatchRequest struct {
	// Commands is the batch, executed in order. Required.
	Commands []CommandSpec `json:"commands" binding:"required,min=1,dive"`

	// Transactional wraps the batch in a transaction: on failure every
	// applied command is compensated in reverse order. Default: true.
	Transactional *bool `json:"transactional"`

	// StopOnError stops at the first failed command. Forced true for
	// transactional batches. Default: true.
	StopOnError *bool `json:"stop_on_error"`
}

// CommandResult reports one command's execution on the wire.
type CommandResult struct {
	// Index is the command's position in the batch.
	Index int `json:"index"`

	// Kind is the command that ran.
	Kind string `json:"kind"`

	// Status is "succeeded", "partial", "failed", or "skipped".
	Status string `json:"status"`

	// Output is what the command produced, when it succeeded.
	Output map[string]any `json:"output,omitempty"`

	// Error describes the failure, when it failed.
	Error *fault.Descriptor `json:"error,omitempty"`

	// Retries is how many re-attempts the command needed.
	Retries int `json:"retries,omitempty"`
}

// RollbackReport summarizes a rollback on the wire.
type RollbackReport struct {
	// StepsTotal is how many applied steps were on the stack.
	StepsTotal int `json:"steps_total"`

	// StepsUndone is how many compensations succeeded.
	StepsUndone int `json:"steps_undone"`

	// StepsIrreversible is how many steps had no compensator.
	StepsIrreversible int `json:"steps_irreversible"`

	// Errors lists compensations that failed, in undo order.
	Errors []string `json:"errors,omitempty"`
}

// RunBatchResponse is the response for POST /v1/scribe/sessions/:id/batches.
//
// On failure the same shape comes back with a non-2xx status; Results
// and Rollback still describe everything that happened.
type RunBatchResponse struct {
	// SessionID is the session the batch ran on.
	SessionID string `json:"session_id"`

	// TransactionID is set for transactional batches.
	TransactionID string `json:"transaction_id,omitempty"`

	// Status is the overall outcome: "committed", "rolled_back",
	// "rollback_failed" for transactional batches; "succeeded",
	// "partial", "failed" otherwise.
	Status string `json:"status"`

	// Results reports each command, in batch order.
	Results []CommandResult `json:"results"`

	// CompletedUnits counts applied units across the batch.
	CompletedUnits int `json:"completed_units"`

	// TotalUnits counts planned units across the batch.
	TotalUnits int `json:"total_units"`

	// Rollback is set when a rollback ran.
	Rollback *RollbackReport `json:"rollback,omitempty"`

	// Error describes the first failure, when the batch did not fully
	// succeed.
	Error *fault.Descriptor `json:"error,omitempty"`

	// DurationMs is the wall time of the run in milliseconds.
	DurationMs int64 `json:"duration_ms"`
}

// ValidateBatchRequest is the request body for POST /v1/scribe/batches/validate.
//
// Unlike RunBatchRequest, the per-command checks are deliberately not
// enforced at bind time: unknown kinds and bad parameters come back as
// per-command findings instead of a rejected request.
type ValidateBatchRequest struct {
	// Commands is the batch to check. Required.
	Commands []CommandSpec `json:"commands" binding:"required,min=1"`
}

// CommandValidation reports one command's dry-run check.
type CommandValidation struct {
	// Index is the command's position in the batch.
	Index int `json:"index"`

	// Kind is the command that was checked.
	Kind string `json:"kind"`

	// Valid reports whether the parameters passed validation.
	Valid bool `json:"valid"`

	// Reversible reports whether the command has a compensator.
	Reversible bool `json:"reversible"`

	// Units is how many execution units the command plans to.
	Units int `json:"units"`

	// Error describes the validation failure, when invalid.
	Error *fault.Descriptor `json:"error,omitempty"`
}

// ValidateBatchResponse is the response for POST /v1/scribe/batches/validate.
type ValidateBatchResponse struct {
	// Valid reports whether every command passed.
	Valid bool `json:"valid"`

	// Reversible reports whether every command has a compensator,
	// i.e. the batch can run with require_compensators.
	Reversible bool `json:"reversible"`

	// TotalUnits is the planned unit count across the batch.
	TotalUnits int `json:"total_units"`

	// Commands reports each command, in batch order.
	Commands []CommandValidation `json:"commands"`
}

// DocumentJob is one document's work in a multi-document request.
type DocumentJob struct {
	// Document keys the job in the response. The commands themselves
	// decide what to open or create; typically the first command is
	// create_document or open_document. Required.
	Document string `json:"document" binding:"required"`

	// Commands is the batch to run for this document. Required.
	Commands []CommandSpec `json:"commands" binding:"required,min=1,dive"`
}

// ProcessDocumentsRequest is the request body for POST /v1/scribe/documents/batch.
type ProcessDocumentsRequest struct {
	// Documents lists independent jobs. Each runs on its own session
	// with its own transaction. Required.
	Documents []DocumentJob `json:"documents" binding:"required,min=1,dive"`

	// Transactional applies to every job. Default: true.
	Transactional *bool `json:"transactional"`

	// MaxConcurrent caps how many documents run at once. Default: 4.
	MaxConcurrent int `json:"max_concurrent"`
}

// DocumentOutcome reports one document job.
type DocumentOutcome struct {
	// Document is the job's key from the request.
	Document string `json:"document"`

	// Status mirrors RunBatchResponse.Status for the job.
	Status string `json:"status"`

	// Result is the full batch outcome for the job, when the job got
	// as far as running.
	Result *RunBatchResponse `json:"result,omitempty"`

	// Error describes a failure before or during the run.
	Error *fault.Descriptor `json:"error,omitempty"`
}

// ProcessDocumentsResponse is the response for POST /v1/scribe/documents/batch.
type ProcessDocumentsResponse struct {
	// Succeeded counts jobs that committed (or fully succeeded).
	Succeeded int `json:"succeeded"`

	// Failed counts jobs that did not.
	Failed int `json:"failed"`

	// Documents reports each job, in request order.
	Documents []DocumentOutcome `json:"documents"`
}

// CommandInfo describes one catalog entry for discovery.
type CommandInfo struct {
	// Kind is the command name used in batch requests.
	Kind string `json:"kind"`

	// Reversible reports whether the command can be rolled back.
	Reversible bool `json:"reversible"`

	// Chunkable reports whether the command splits into units.
	Chunkable bool `json:"chunkable"`
}

// ListCommandsResponse is the response for GET /v1/scribe/commands.
type ListCommandsResponse struct {
	// Commands lists every command the catalog carries.
	Commands []CommandInfo `json:"commands"`
}

// HealthResponse is the response for GET /v1/scribe/health.
type HealthResponse struct {
	// Status is "ok" while the service accepts work.
	Status string `json:"status"`

	// Version is the service version.
	Version string `json:"version"`

	// Driver names the configured editing backend.
	Driver string `json:"driver"`

	// Sessions is the number of open sessions.
	Sessions int `json:"sessions"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`
}
