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
	"time"

	"github.com/AleutianAI/ScribeFOSS/services/scribe/batch"
	"github.com/AleutianAI/ScribeFOSS/services/scribe/command"
)

// Status represents the lifecycle state of a transaction.
type Status string

const (
	// StatusIdle means no transaction is in progress.
	StatusIdle Status = "idle"

	// StatusActive means a transaction is open and accumulating steps.
	StatusActive Status = "active"

	// StatusCommitted means the transaction finished and its work stays.
	StatusCommitted Status = "committed"

	// StatusRolledBack means every reversible step was undone.
	StatusRolledBack Status = "rolled_back"

	// StatusRollbackFailed means at least one compensation failed and
	// the document may hold partial edits. Manual inspection required.
	StatusRollbackFailed Status = "rollback_failed"
)

// IsTerminal reports whether a transaction in this state is finished.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCommitted, StatusRolledBack, StatusRollbackFailed:
		return true
	default:
		return false
	}
}

// Transaction tracks one batch's applied steps and their undo order.
//
// The Steps slice is the executed stack: steps are appended as they
// apply and drained from the top during rollback, so the last edit is
// always the first one undone.
type Transaction struct {
	// ID uniquely identifies the transaction.
	ID string `json:"id"`

	// SessionID names the session the transaction runs on.
	SessionID string `json:"session_id"`

	// StartedAt is when Begin was called.
	StartedAt time.Time `json:"started_at"`

	// ExpiresAt is when the transaction becomes too old to commit.
	ExpiresAt time.Time `json:"expires_at"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// Steps is the executed stack, oldest first.
	Steps []batch.AppliedStep `json:"-"`

	// RollbackReason records why the transaction rolled back, if it did.
	RollbackReason string `json:"rollback_reason,omitempty"`

	// Error holds the failure message for a failed rollback.
	Error string `json:"error,omitempty"`
}

// IsExpired reports whether the transaction outlived its TTL.
func (tx *Transaction) IsExpired() bool {
	return !tx.ExpiresAt.IsZero() && time.Now().After(tx.ExpiresAt)
}

// Duration reports how long the transaction has been running.
func (tx *Transaction) Duration() time.Duration {
	return time.Since(tx.StartedAt)
}

// StepCount reports how many steps are on the stack.
func (tx *Transaction) StepCount() int { return len(tx.Steps) }

// ReversibleCount reports how many stacked steps carry a compensator.
func (tx *Transaction) ReversibleCount() int {
	n := 0
	for _, step := range tx.Steps {
		if step.Reversible() {
			n++
		}
	}
	return n
}

// Result reports a committed transaction.
type Result struct {
	// TransactionID identifies the transaction.
	TransactionID string `json:"transaction_id"`

	// Status after commit.
	Status Status `json:"status"`

	// Duration from Begin to commit.
	Duration time.Duration `json:"duration"`

	// StepsApplied is how many steps the stack held at commit.
	StepsApplied int `json:"steps_applied"`
}

// SecondaryError records one compensation failure during rollback.
// The primary error that triggered the rollback is reported separately
// and is never masked by these.
type SecondaryError struct {
	// CommandIndex and ChunkIndex locate the step whose undo failed.
	CommandIndex int `json:"command_index"`
	ChunkIndex   int `json:"chunk_index"`

	// Kind of the command the step belongs to.
	Kind command.Kind `json:"kind"`

	// Message is the compensation failure.
	Message string `json:"message"`
}

// Report describes a rollback.
type Report struct {
	// TransactionID identifies the transaction.
	TransactionID string `json:"transaction_id"`

	// Status after rollback: StatusRolledBack when every reversible
	// step was undone, StatusRollbackFailed otherwise.
	Status Status `json:"status"`

	// Reason the rollback ran.
	Reason string `json:"reason"`

	// StepsTotal is how many steps were on the stack.
	StepsTotal int `json:"steps_total"`

	// StepsUndone is how many compensations succeeded.
	StepsUndone int `json:"steps_undone"`

	// StepsIrreversible is how many steps had no compensator and were
	// skipped.
	StepsIrreversible int `json:"steps_irreversible"`

	// SecondaryErrors lists failed compensations, in undo order.
	SecondaryErrors []SecondaryError `json:"secondary_errors,omitempty"`

	// Duration of the rollback itself.
	Duration time.Duration `json:"duration"`
}

// Outcome is the full story of one transactional batch execution.
type Outcome struct {
	// TransactionID identifies the transaction.
	TransactionID string `json:"transaction_id"`

	// Status is the transaction's final state.
	Status Status `json:"status"`

	// Batch reports per-command execution.
	Batch *batch.Result `json:"batch"`

	// Commit is set when the transaction committed, including the
	// commit-partial path after cancellation.
	Commit *Result `json:"commit,omitempty"`

	// Rollback is set when the transaction rolled back.
	Rollback *Report `json:"rollback,omitempty"`
}
