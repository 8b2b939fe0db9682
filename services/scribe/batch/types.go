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
	"time"

	"github.com/AleutianAI/ScribeFOSS/services/scribe/command"
	"github.com/AleutianAI/ScribeFOSS/services/scribe/fault"
)

// Status summarizes how far a batch or a single command got.
type Status string

const (
	// StatusSucceeded means everything applied.
	StatusSucceeded Status = "succeeded"

	// StatusPartial means some units applied before execution stopped.
	StatusPartial Status = "partial"

	// StatusFailed means nothing applied.
	StatusFailed Status = "failed"

	// StatusSkipped marks commands never reached. Command-level only.
	StatusSkipped Status = "skipped"
)

// ExecutionResult reports one command's outcome.
type ExecutionResult struct {
	// Kind of the command.
	Kind command.Kind `json:"kind"`

	// Status of this command.
	Status Status `json:"status"`

	// Output of the forward execution. For chunked commands this is the
	// folded output across applied chunks.
	Output command.Output `json:"output,omitempty"`

	// Error describes the failure, if any.
	Error *fault.Descriptor `json:"error,omitempty"`

	// Attempts, Retries and Reconnects aggregate retry accounting
	// across the command's chunks.
	Attempts   int `json:"attempts"`
	Retries    int `json:"retries,omitempty"`
	Reconnects int `json:"reconnects,omitempty"`

	// CompletedUnits out of TotalUnits for this command. Unchunked
	// commands count as one unit.
	CompletedUnits int `json:"completed_units"`
	TotalUnits     int `json:"total_units"`

	// Duration covers the command including retries.
	Duration time.Duration `json:"duration"`
}

// Result reports a whole batch run.
type Result struct {
	// Status of the batch.
	Status Status `json:"status"`

	// Results holds one entry per submitted command, in order.
	Results []ExecutionResult `json:"results"`

	// CompletedUnits out of TotalUnits across the batch.
	CompletedUnits int `json:"completed_units"`
	TotalUnits     int `json:"total_units"`

	// FirstError describes the error that stopped the batch, if any.
	FirstError *fault.Descriptor `json:"first_error,omitempty"`

	// Duration of the whole run.
	Duration time.Duration `json:"duration"`
}

// AppliedStep records one applied unit of work with everything needed
// to undo it later. Chunked commands produce one step per chunk.
type AppliedStep struct {
	// CommandIndex is the command's zero-based position in the batch.
	CommandIndex int

	// ChunkIndex is the chunk's zero-based position within the command,
	// fault.NoIndex for unchunked commands.
	ChunkIndex int

	// Kind of the command.
	Kind command.Kind

	// Params actually sent: the chunk window for chunked commands, the
	// original parameters otherwise.
	Params command.Params

	// Output the forward execution returned for this step.
	Output command.Output

	// Compensator undoes the step. Nil marks the step irreversible.
	Compensator command.Compensator
}

// Reversible reports whether the step can be undone.
func (s AppliedStep) Reversible() bool { return s.Compensator != nil }

// Hooks lets callers observe execution as it happens. Both hooks are
// optional and are called from the executing goroutine.
type Hooks struct {
	// Progress runs after every applied step with cumulative batch
	// units and the index of the command that just advanced.
	Progress func(completedUnits, totalUnits, commandIndex int)

	// OnApplied runs after every applied step, before Progress. The
	// transaction manager uses it to grow the rollback stack.
	OnApplied func(step AppliedStep)
}
