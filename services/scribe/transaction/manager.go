// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transaction wraps batch execution in compensating
// transactions.
//
// The document engine has no native undo the pipeline can trust, so
// atomicity is approximated the saga way: every applied step is pushed
// onto an executed stack, and on failure the stack is drained newest
// first, invoking each step's compensator. A committed transaction
// discards the stack and keeps the work.
package transaction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/ScribeFOSS/services/scribe/batch"
	"github.com/AleutianAI/ScribeFOSS/services/scribe/command"
	"github.com/AleutianAI/ScribeFOSS/services/scribe/fault"
)

// Config controls manager behavior.
type Config struct {
	// TransactionTTL bounds how long a transaction may stay open before
	// commit. Expired transactions roll back instead of committing.
	// Default: 30 minutes.
	TransactionTTL time.Duration

	// CompensationTimeout bounds each individual compensation call
	// during rollback. Default: 60 seconds.
	CompensationTimeout time.Duration

	// RequireCompensators rejects batches containing irreversible
	// commands before anything executes.
	RequireCompensators bool

	// MetricsEnabled controls metric recording.
	MetricsEnabled bool

	// TracingEnabled controls span creation.
	TracingEnabled bool
}

// DefaultConfig returns a production-ready configuration.
func DefaultConfig() Config {
	return Config{
		TransactionTTL:      30 * time.Minute,
		CompensationTimeout: 60 * time.Second,
		MetricsEnabled:      true,
		TracingEnabled:      true,
	}
}

// Manager coordinates transactional batch execution over one session.
//
// # Description
//
// The manager owns the executed stack for the session's active
// transaction. Steps are recorded as the batch executor applies them;
// commit discards the stack, rollback drains it newest first through
// each step's compensator.
//
// # Thread Safety
//
// All public methods are safe for concurrent use.
// Only one transaction may be active at a time.
//
// # Nested Transactions
//
// Nested transactions are NOT supported. Calling Begin() while a
// transaction is active returns ErrTransactionActive.
type Manager struct {
	config            Config
	executor          *batch.Executor
	activeTransaction *Transaction
	mu                sync.Mutex
	logger            *slog.Logger
	tracer            *Tracer
}

// NewManager creates a new transaction manager.
//
// # Description
//
// Creates a manager bound to a batch executor. The executor supplies
// both the command registry for reversibility checks and the session
// that compensators run against.
//
// # Inputs
//
//   - executor: Runs the batches. Required.
//   - config: Manager configuration. Use DefaultConfig() for defaults.
//
// # Outputs
//
//   - *Manager: Ready-to-use transaction manager.
//   - error: Non-nil if setup fails.
//
// # Example
//
//	manager, err := transaction.NewManager(executor, transaction.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer manager.Close()
func NewManager(executor *batch.Executor, config Config) (*Manager, error) {
	if executor == nil {
		return nil, ErrNilExecutor
	}

	// Apply defaults
	if config.TransactionTTL == 0 {
		config.TransactionTTL = 30 * time.Minute
	}
	if config.CompensationTimeout == 0 {
		config.CompensationTimeout = 60 * time.Second
	}

	logger := slog.Default().With("component", "transaction.Manager")

	// Initialize observability
	SetMetricsEnabled(config.MetricsEnabled)
	tracer := NewTracer(logger, config.TracingEnabled)

	return &Manager{
		config:   config,
		executor: executor,
		logger:   logger,
		tracer:   tracer,
	}, nil
}

// Execute runs a batch inside a fresh transaction.
//
// # Description
//
// Begins a transaction, runs the batch, and resolves the transaction by
// outcome: commit on success, commit-partial on cancellation (applied
// chunks stay, nothing is undone), rollback on any other failure. The
// error that stopped the batch is always returned; a rollback failure
// is wrapped around it, never in place of it.
//
// # Inputs
//
//   - ctx: Bounds the batch run. Compensations ignore its cancellation.
//   - sessionID: Identifier of the session, for correlation.
//   - commands: The batch, executed in order.
//   - hooks: Optional observation callbacks, forwarded to the executor.
//
// # Outputs
//
//   - *Outcome: Batch result plus commit or rollback details. Nil only
//     when the transaction could not start.
//   - error: ErrTransactionActive, ErrIrreversibleCommand, the batch
//     failure, or that failure wrapped in a rollback failure.
//
// # Example
//
//	outcome, err := manager.Execute(ctx, session.ID(), commands, batch.Hooks{})
//	if err != nil {
//	    // outcome.Rollback says what was undone
//	    return err
//	}
func (m *Manager) Execute(ctx context.Context, sessionID string, commands []command.Command, hooks batch.Hooks) (outcome *Outcome, err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if m.config.RequireCompensators {
		if err := m.checkReversible(commands); err != nil {
			return nil, err
		}
	}

	tx, err := m.Begin(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// A panic in a forward call or hook must not leave applied edits
	// behind.
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic during transactional execution",
				"tx_id", tx.ID,
				"panic", r)
			report, _ := m.Rollback(ctx, "panic during execution")
			status := StatusRolledBack
			if report != nil {
				status = report.Status
			}
			outcome = &Outcome{TransactionID: tx.ID, Status: status, Rollback: report}
			err = fmt.Errorf("panic in Execute: %v", r)
		}
	}()

	wrapped := batch.Hooks{
		Progress: hooks.Progress,
		OnApplied: func(step batch.AppliedStep) {
			m.RecordStep(step)
			if hooks.OnApplied != nil {
				hooks.OnApplied(step)
			}
		},
	}

	result, runErr := m.executor.Run(ctx, commands, wrapped)

	switch {
	case runErr == nil:
		res, cerr := m.Commit(ctx)
		if cerr != nil {
			return &Outcome{TransactionID: tx.ID, Status: tx.Status, Batch: result}, cerr
		}
		return &Outcome{TransactionID: tx.ID, Status: StatusCommitted, Batch: result, Commit: res}, nil

	case fault.IsCancellation(runErr):
		// Cancellation commits partial work. Applied chunks stay and
		// the stack is discarded without compensation.
		res, cerr := m.Commit(ctx)
		if cerr != nil {
			return &Outcome{TransactionID: tx.ID, Status: tx.Status, Batch: result}, cerr
		}
		return &Outcome{TransactionID: tx.ID, Status: StatusCommitted, Batch: result, Commit: res}, runErr

	default:
		reason := "batch failed: " + fault.KindOf(runErr).String()
		report, rbErr := m.Rollback(ctx, reason)
		status := StatusRolledBack
		if report != nil {
			status = report.Status
		}
		outcome = &Outcome{TransactionID: tx.ID, Status: status, Batch: result, Rollback: report}
		if rbErr != nil {
			return outcome, fmt.Errorf("%w; %w", runErr, rbErr)
		}
		return outcome, runErr
	}
}

// checkReversible rejects batches carrying irreversible commands.
// Unknown kinds are left for batch planning, which reports them with
// full coordinates.
func (m *Manager) checkReversible(commands []command.Command) error {
	reg := m.executor.Registry()
	for i, cmd := range commands {
		b, err := reg.Resolve(cmd.Kind)
		if err != nil {
			continue
		}
		if !b.Reversible() {
			return fmt.Errorf("%w: command %d (%s)", ErrIrreversibleCommand, i, cmd.Kind)
		}
	}
	return nil
}

// Begin starts a new transaction.
//
// # Description
//
// Opens an empty executed stack for the session. All steps recorded
// afterwards can be rolled back until Commit. Only one transaction may
// be active at a time.
//
// # Inputs
//
//   - ctx: Context for tracing.
//   - sessionID: Identifier of the session, for correlation.
//
// # Outputs
//
//   - *Transaction: The active transaction.
//   - error: ErrTransactionActive if a transaction is already in progress.
func (m *Manager) Begin(ctx context.Context, sessionID string) (tx *Transaction, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Start tracing span
	ctx, span := m.tracer.StartBegin(ctx, sessionID)
	defer func() { m.tracer.EndBegin(span, tx, err) }()

	// Use logger with trace context
	logger := LoggerWithTrace(ctx, m.logger)

	// Panic recovery
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in Begin: %v", r)
			logger.Error("panic in Begin",
				"panic", r,
				"session_id", sessionID)
		}
	}()

	// Record metrics on exit
	defer func() {
		recordBegin(ctx, err == nil)
		if err == nil {
			incActive(ctx)
		}
	}()

	// Check for existing transaction
	if m.activeTransaction != nil {
		return nil, ErrTransactionActive
	}

	now := time.Now()
	tx = &Transaction{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		StartedAt: now,
		ExpiresAt: now.Add(m.config.TransactionTTL),
		Status:    StatusActive,
	}

	m.activeTransaction = tx
	m.tracer.RecordStateTransition(ctx, tx.ID, StatusIdle, StatusActive, 0)
	logger.Info("transaction started",
		"tx_id", tx.ID,
		"session_id", sessionID,
		"expires_at", tx.ExpiresAt.Format(time.RFC3339))

	return tx, nil
}

// Commit finalizes the transaction and keeps the applied work.
//
// # Description
//
// Discards the executed stack, making all applied steps permanent.
// After commit, no rollback is possible. An expired transaction is
// rolled back instead and ErrTransactionExpired returned.
//
// # Inputs
//
//   - ctx: Context for tracing.
//
// # Outputs
//
//   - *Result: Information about the committed transaction.
//   - error: ErrNoTransaction if no transaction is active,
//     ErrTransactionExpired if the TTL ran out.
func (m *Manager) Commit(ctx context.Context) (result *Result, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeTransaction == nil {
		return nil, ErrNoTransaction
	}

	tx := m.activeTransaction

	// Start tracing span
	ctx, span := m.tracer.StartCommit(ctx, tx)
	defer func() { m.tracer.EndCommit(span, result, err) }()

	// Use logger with trace context
	logger := LoggerWithTrace(ctx, m.logger)

	// Panic recovery
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in Commit: %v", r)
			logger.Error("panic in Commit", "panic", r)
		}
	}()

	// Record metrics on exit
	defer func() {
		if err == nil && result != nil {
			recordCommit(ctx, result.Duration, result.StepsApplied, true)
		} else {
			recordCommit(ctx, tx.Duration(), tx.StepCount(), false)
		}
		decActive(ctx)
	}()

	// Check for expiration
	if tx.IsExpired() {
		logger.Warn("transaction expired, rolling back",
			"tx_id", tx.ID,
			"started_at", tx.StartedAt.Format(time.RFC3339))
		m.tracer.RecordExpiration(ctx, tx.ID)
		recordExpired(ctx)
		// Background context so the rollback outlives a cancelled caller
		_, _ = m.rollbackInternal(context.Background(), tx, "transaction expired")
		m.activeTransaction = nil
		return nil, ErrTransactionExpired
	}

	steps := tx.StepCount()
	m.tracer.RecordStateTransition(ctx, tx.ID, StatusActive, StatusCommitted, time.Since(tx.StartedAt))
	tx.Status = StatusCommitted
	result = &Result{
		TransactionID: tx.ID,
		Status:        StatusCommitted,
		Duration:      tx.Duration(),
		StepsApplied:  steps,
	}
	tx.Steps = nil

	m.activeTransaction = nil
	logger.Info("transaction committed",
		"tx_id", tx.ID,
		"duration", result.Duration,
		"steps_applied", steps)

	return result, nil
}

// Rollback undoes every reversible applied step, newest first.
//
// # Description
//
// Drains the executed stack through each step's compensator. Note:
// compensations run under a background context so they complete even
// if ctx is cancelled. Each compensator is invoked exactly once; a
// failed compensation is recorded and the drain continues.
//
// # Inputs
//
//   - ctx: Context for tracing.
//   - reason: Human-readable reason for the rollback (for logging).
//
// # Outputs
//
//   - *Report: Per-step rollback outcomes. Non-nil even on failure.
//   - error: ErrNoTransaction if no transaction is active,
//     ErrRollbackFailed if any compensation failed.
func (m *Manager) Rollback(ctx context.Context, reason string) (report *Report, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeTransaction == nil {
		return nil, ErrNoTransaction
	}

	tx := m.activeTransaction

	// Start tracing span (use original context for parent link)
	ctx, span := m.tracer.StartRollback(ctx, tx, reason)
	defer func() { m.tracer.EndRollback(span, report, err) }()

	// Record metrics on exit
	defer func() {
		if report != nil {
			recordRollback(ctx, tx.Duration(), report.StepsTotal, reason, err == nil)
		}
		decActive(ctx)
	}()

	// Use background context for compensations to ensure they complete
	// even if the original context is cancelled
	bgCtx := context.Background()

	report, err = m.rollbackInternal(bgCtx, tx, reason)

	m.activeTransaction = nil
	return report, err
}

// rollbackInternal drains the executed stack (must be called with lock held).
//
// Compensators run newest first, each exactly once under its own
// timeout. A failed compensation is recorded and the drain continues;
// retrying an undo against an engine in an unknown state compounds the
// damage.
func (m *Manager) rollbackInternal(ctx context.Context, tx *Transaction, reason string) (report *Report, err error) {
	// Use logger with trace context if available
	logger := LoggerWithTrace(ctx, m.logger)

	// Panic recovery for critical rollback
	defer func() {
		if r := recover(); r != nil {
			logger.Error("CRITICAL: panic during rollback",
				"panic", r,
				"tx_id", tx.ID)
			err = fmt.Errorf("%w: panic: %v", ErrRollbackFailed, r)
		}
	}()

	prevStatus := tx.Status
	tx.RollbackReason = reason

	logger.Warn("rolling back transaction",
		"tx_id", tx.ID,
		"reason", reason,
		"steps", tx.StepCount())

	report = &Report{
		TransactionID: tx.ID,
		Reason:        reason,
		StepsTotal:    tx.StepCount(),
	}
	start := time.Now()
	session := m.executor.Session()

	var firstFailure *fault.RollbackError
	for i := len(tx.Steps) - 1; i >= 0; i-- {
		step := tx.Steps[i]
		if !step.Reversible() {
			report.StepsIrreversible++
			logger.Debug("skipping irreversible step",
				"kind", step.Kind,
				"command_index", step.CommandIndex)
			continue
		}

		compCtx, compSpan := m.tracer.StartCompensation(ctx, step)
		compStart := time.Now()
		cerr := m.compensate(compCtx, session, step)
		recordCompensation(ctx, string(step.Kind), time.Since(compStart), cerr)
		m.tracer.EndCompensation(compSpan, cerr)

		if cerr != nil {
			if firstFailure == nil {
				firstFailure = &fault.RollbackError{
					CommandIndex: step.CommandIndex,
					ChunkIndex:   step.ChunkIndex,
					Op:           string(step.Kind),
					Cause:        cerr,
				}
			}
			report.SecondaryErrors = append(report.SecondaryErrors, SecondaryError{
				CommandIndex: step.CommandIndex,
				ChunkIndex:   step.ChunkIndex,
				Kind:         step.Kind,
				Message:      cerr.Error(),
			})
			logger.Error("compensation failed",
				"kind", step.Kind,
				"command_index", step.CommandIndex,
				"chunk_index", step.ChunkIndex,
				"error", cerr)
			continue
		}
		report.StepsUndone++
	}

	tx.Steps = nil
	report.Duration = time.Since(start)

	if firstFailure != nil {
		tx.Status = StatusRollbackFailed
		tx.Error = firstFailure.Error()
		report.Status = StatusRollbackFailed
		m.tracer.RecordStateTransition(ctx, tx.ID, prevStatus, StatusRollbackFailed, time.Since(tx.StartedAt))
		logger.Error("CRITICAL: rollback incomplete",
			"tx_id", tx.ID,
			"steps_undone", report.StepsUndone,
			"failed_compensations", len(report.SecondaryErrors))
		return report, fmt.Errorf("%w: %w", ErrRollbackFailed, firstFailure)
	}

	tx.Status = StatusRolledBack
	report.Status = StatusRolledBack
	m.tracer.RecordStateTransition(ctx, tx.ID, prevStatus, StatusRolledBack, time.Since(tx.StartedAt))
	logger.Info("transaction rolled back",
		"tx_id", tx.ID,
		"reason", reason,
		"steps_undone", report.StepsUndone,
		"duration", report.Duration)

	return report, nil
}

// compensate runs one compensator, bounded and exactly once.
func (m *Manager) compensate(ctx context.Context, session batch.Session, step batch.AppliedStep) (err error) {
	// A panicking compensator must not end the drain
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in compensator: %v", r)
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, m.config.CompensationTimeout)
	defer cancel()

	return step.Compensator(callCtx, session, step.Params, step.Output)
}

// RecordStep pushes an applied step onto the executed stack.
//
// # Description
//
// Steps are recorded in application order; rollback drains them newest
// first. Recording with no active transaction is silently ignored.
//
// # Inputs
//
//   - step: The applied step, as delivered by the executor's OnApplied hook.
func (m *Manager) RecordStep(step batch.AppliedStep) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeTransaction == nil {
		return
	}

	m.activeTransaction.Steps = append(m.activeTransaction.Steps, step)
}

// Active returns the currently active transaction, or nil if none.
//
// # Description
//
// Returns a copy of the active transaction for inspection.
// The returned Transaction should not be modified.
//
// # Outputs
//
//   - *Transaction: Copy of active transaction, or nil.
func (m *Manager) Active() *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeTransaction == nil {
		return nil
	}

	// Return a copy
	tx := *m.activeTransaction
	tx.Steps = make([]batch.AppliedStep, len(m.activeTransaction.Steps))
	copy(tx.Steps, m.activeTransaction.Steps)
	return &tx
}

// IsActive returns true if a transaction is currently active.
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeTransaction != nil
}

// State reports the manager's lifecycle state: the active transaction's
// status when one is open, StatusIdle otherwise.
func (m *Manager) State() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeTransaction != nil {
		return m.activeTransaction.Status
	}
	return StatusIdle
}

// Close cleans up the manager.
//
// # Description
//
// If a transaction is active, it is rolled back. Resources are released.
//
// # Outputs
//
//   - error: Non-nil if rollback fails.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeTransaction != nil {
		m.logger.Warn("closing manager with active transaction, rolling back",
			"tx_id", m.activeTransaction.ID)
		_, err := m.rollbackInternal(context.Background(), m.activeTransaction, "manager closed")
		m.activeTransaction = nil
		decActive(context.Background())
		return err
	}

	return nil
}
