// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package batch runs ordered command lists against one session.
//
// Execution is strictly sequential. Every command is resolved and
// validated before the first one touches the session, so a batch with a
// typo in command 40 applies nothing. Chunkable commands are split into
// windows of at most ChunkSize units; cancellation is observed between
// windows and between commands, never inside an applied step.
package batch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/AleutianAI/ScribeFOSS/services/scribe/command"
	"github.com/AleutianAI/ScribeFOSS/services/scribe/fault"
	"github.com/AleutianAI/ScribeFOSS/services/scribe/retry"
)

// DefaultChunkSize is the unit budget per session call for chunkable
// commands.
const DefaultChunkSize = 100

var (
	// ErrNilRegistry is returned when an Executor is built without a
	// command registry.
	ErrNilRegistry = errors.New("registry cannot be nil")

	// ErrNilSession is returned when an Executor is built without a
	// session.
	ErrNilSession = errors.New("session cannot be nil")
)

// Session is what the executor needs from a bridge session:
// serialized calls and the ability to reconnect between retries.
// *bridge.Session satisfies it.
type Session interface {
	command.Invoker
	retry.Reconnector
}

// Config assembles an Executor.
type Config struct {
	// Registry resolves command kinds. Required.
	Registry *command.Registry

	// Session receives the calls. Required.
	Session Session

	// Policy bounds and retries each session call. Zero value gets
	// retry defaults.
	Policy retry.Policy

	// ChunkSize caps units per session call for chunkable commands.
	// Default: DefaultChunkSize.
	ChunkSize int

	// ContinueOnError records a failed command and moves on to the
	// next one instead of stopping the batch. Planning failures and
	// cancellation still stop the run. Only meaningful for
	// non-transactional batches; rollback needs the failure point.
	ContinueOnError bool

	// Logger receives execution events. Default: slog.Default().
	Logger *slog.Logger
}

// Executor runs batches. Safe for sequential reuse; a single Executor
// must not run two batches concurrently because the underlying session
// serializes anyway.
type Executor struct {
	registry        *command.Registry
	session         Session
	policy          retry.Policy
	chunkSize       int
	continueOnError bool
	logger          *slog.Logger
}

// New builds an Executor.
func New(cfg Config) (*Executor, error) {
	if cfg.Registry == nil {
		return nil, ErrNilRegistry
	}
	if cfg.Session == nil {
		return nil, ErrNilSession
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Executor{
		registry:        cfg.Registry,
		session:         cfg.Session,
		policy:          cfg.Policy,
		chunkSize:       cfg.ChunkSize,
		continueOnError: cfg.ContinueOnError,
		logger:          cfg.Logger,
	}, nil
}

// Registry returns the command registry the executor resolves against.
func (e *Executor) Registry() *command.Registry { return e.registry }

// Session returns the session the executor runs against.
func (e *Executor) Session() Session { return e.session }

// plannedCommand is a command after resolution, ready to run.
type plannedCommand struct {
	binding command.Binding
	units   int
	chunked bool
}

// Run executes commands in order.
//
// Description:
//
//	All commands are resolved and validated up front; a validation
//	failure anywhere rejects the batch before any session traffic.
//	Execution stops at the first failure. When at least one unit
//	already applied, the returned error is a *fault.PartialError
//	wrapping the command's own failure; otherwise the failure itself
//	is returned.
//
//	With ContinueOnError set, a failed command is recorded in its
//	result entry and the run moves on; the returned error is the
//	first failure, and FirstError matches it.
//
//	Cancellation is checked between commands and between chunks. The
//	step in flight finishes first, including its retry budget, so an
//	applied unit is never observed half-done. A cancelled run reports
//	*fault.CancelledError and keeps everything already applied.
//
// Inputs:
//   - ctx: Bounds the run. A nil ctx is treated as Background.
//   - commands: The batch, executed in slice order.
//   - hooks: Optional observation callbacks.
//
// Outputs:
//   - *Result: Always non-nil, one entry per command.
//   - error: nil only when every command applied.
func (e *Executor) Run(ctx context.Context, commands []command.Command, hooks Hooks) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	if len(commands) == 0 {
		return &Result{Status: StatusSucceeded, Results: []ExecutionResult{}}, nil
	}

	plan, totalUnits, failIdx, planErr := e.plan(commands)
	if planErr != nil {
		result := e.rejected(commands, failIdx, planErr)
		result.Duration = time.Since(start)
		e.logger.Error("batch rejected before execution",
			"commands", len(commands),
			"command_index", failIdx,
			"error", planErr)
		recordRun(ctx, string(StatusFailed), 0, result.Duration)
		return result, planErr
	}

	result := &Result{
		Results:    make([]ExecutionResult, len(commands)),
		TotalUnits: totalUnits,
	}
	for i, cmd := range commands {
		result.Results[i] = ExecutionResult{
			Kind:       cmd.Kind,
			Status:     StatusSkipped,
			TotalUnits: plan[i].units,
		}
	}

	e.logger.Debug("batch run started",
		"commands", len(commands), "total_units", totalUnits)

	completed := 0
	var runErr error
	for i, cmd := range commands {
		if cerr := ctx.Err(); cerr != nil {
			if runErr == nil {
				runErr = &fault.CancelledError{
					CommandIndex:   i,
					ChunkIndex:     fault.NoIndex,
					CompletedUnits: completed,
					Cause:          cerr,
				}
			}
			break
		}

		res := &result.Results[i]
		cmdStart := time.Now()
		var cmdErr error
		if plan[i].chunked {
			cmdErr = e.runChunked(ctx, i, cmd, plan[i], res, totalUnits, &completed, hooks)
		} else {
			cmdErr = e.runAtomic(ctx, i, cmd, plan[i], res, totalUnits, &completed, hooks)
		}
		res.Duration = time.Since(cmdStart)
		recordCommand(ctx, string(cmd.Kind), string(res.Status), res.Retries)
		if cmdErr == nil {
			continue
		}
		if runErr == nil {
			runErr = cmdErr
		}
		if !e.continueOnError || fault.IsCancellation(cmdErr) {
			break
		}
		e.logger.Warn("command failed, continuing",
			"command_index", i, "kind", cmd.Kind, "error", cmdErr)
	}

	result.CompletedUnits = completed
	result.Duration = time.Since(start)
	switch {
	case runErr == nil:
		result.Status = StatusSucceeded
	case completed > 0:
		result.Status = StatusPartial
	default:
		result.Status = StatusFailed
	}
	if runErr != nil {
		desc := fault.Describe(runErr)
		result.FirstError = &desc
		e.logger.Error("batch run stopped",
			"status", result.Status,
			"completed_units", completed,
			"total_units", totalUnits,
			"duration_ms", result.Duration.Milliseconds(),
			"error", runErr)
	} else {
		e.logger.Info("batch run succeeded",
			"commands", len(commands),
			"units", totalUnits,
			"duration_ms", result.Duration.Milliseconds())
	}
	recordRun(ctx, string(result.Status), completed, result.Duration)

	return result, runErr
}

// plan resolves and validates every command before execution starts.
func (e *Executor) plan(commands []command.Command) ([]plannedCommand, int, int, error) {
	plan := make([]plannedCommand, len(commands))
	total := 0
	for i, cmd := range commands {
		b, err := e.registry.Resolve(cmd.Kind)
		if err != nil {
			return nil, 0, i, fault.Locate(err, i, fault.NoIndex)
		}
		if b.Validate != nil {
			if err := b.Validate(cmd.Params); err != nil {
				return nil, 0, i, fault.Locate(err, i, fault.NoIndex)
			}
		}

		pc := plannedCommand{binding: b, units: 1}
		if b.Chunk != nil {
			if n := b.Chunk.Units(cmd.Params); n > 0 {
				pc.units = n
				pc.chunked = true
			}
		}
		plan[i] = pc
		total += pc.units
	}
	return plan, total, -1, nil
}

// rejected builds the result for a batch that failed planning.
func (e *Executor) rejected(commands []command.Command, failIdx int, err error) *Result {
	result := &Result{
		Status:  StatusFailed,
		Results: make([]ExecutionResult, len(commands)),
	}
	desc := fault.Describe(err)
	result.FirstError = &desc
	for i, cmd := range commands {
		result.Results[i] = ExecutionResult{Kind: cmd.Kind, Status: StatusSkipped}
	}
	if failIdx >= 0 && failIdx < len(commands) {
		result.Results[failIdx].Status = StatusFailed
		result.Results[failIdx].Error = &desc
	}
	return result
}

func (e *Executor) runAtomic(ctx context.Context, idx int, cmd command.Command, pc plannedCommand, res *ExecutionResult, totalUnits int, completed *int, hooks Hooks) error {
	out, stats, err := e.apply(ctx, pc.binding, cmd.Params)
	res.Attempts += stats.Attempts
	res.Retries += stats.Retries
	res.Reconnects += stats.Reconnects
	if err != nil {
		return e.failCommand(res, idx, fault.NoIndex, *completed, totalUnits, err)
	}

	res.Status = StatusSucceeded
	res.Output = out
	res.CompletedUnits = 1
	*completed++

	if hooks.OnApplied != nil {
		hooks.OnApplied(AppliedStep{
			CommandIndex: idx,
			ChunkIndex:   fault.NoIndex,
			Kind:         cmd.Kind,
			Params:       cmd.Params,
			Output:       out,
			Compensator:  pc.binding.Compensator,
		})
	}
	if hooks.Progress != nil {
		hooks.Progress(*completed, totalUnits, idx)
	}
	return nil
}

func (e *Executor) runChunked(ctx context.Context, idx int, cmd command.Command, pc plannedCommand, res *ExecutionResult, totalUnits int, completed *int, hooks Hooks) error {
	spec := pc.binding.Chunk

	chunkIdx := 0
	for offset := 0; offset < pc.units; offset += e.chunkSize {
		if chunkIdx > 0 {
			if cerr := ctx.Err(); cerr != nil {
				res.Status = StatusPartial
				cancErr := &fault.CancelledError{
					CommandIndex:   idx,
					ChunkIndex:     chunkIdx,
					CompletedUnits: *completed,
					Cause:          cerr,
				}
				desc := fault.Describe(cancErr)
				res.Error = &desc
				return cancErr
			}
		}

		count := pc.units - offset
		if count > e.chunkSize {
			count = e.chunkSize
		}
		window := spec.Window(cmd.Params, offset, count)

		out, stats, err := e.apply(ctx, pc.binding, window)
		res.Attempts += stats.Attempts
		res.Retries += stats.Retries
		res.Reconnects += stats.Reconnects
		if err != nil {
			return e.failCommand(res, idx, chunkIdx, *completed, totalUnits, err)
		}

		res.CompletedUnits += count
		*completed += count
		if spec.Fold != nil {
			res.Output = spec.Fold(res.Output, out)
		} else {
			res.Output = out
		}

		if hooks.OnApplied != nil {
			hooks.OnApplied(AppliedStep{
				CommandIndex: idx,
				ChunkIndex:   chunkIdx,
				Kind:         cmd.Kind,
				Params:       window,
				Output:       out,
				Compensator:  pc.binding.Compensator,
			})
		}
		if hooks.Progress != nil {
			hooks.Progress(*completed, totalUnits, idx)
		}
		chunkIdx++
	}

	res.Status = StatusSucceeded
	return nil
}

// apply runs one forward execution under the retry policy. The call is
// shielded from caller cancellation so an applied step is never left
// half-observed; Run checks the context between steps instead.
func (e *Executor) apply(ctx context.Context, b command.Binding, p command.Params) (command.Output, retry.Stats, error) {
	callCtx := context.WithoutCancel(ctx)
	var out command.Output
	stats, err := e.policy.Execute(callCtx, e.session, func(attemptCtx context.Context) error {
		o, ferr := b.Forward(attemptCtx, e.session, p)
		if ferr == nil {
			out = o
		}
		return ferr
	})
	return out, stats, err
}

// failCommand finalizes a command result and composes the batch error.
// When earlier units already applied, the command's failure is wrapped
// in a *fault.PartialError carrying batch-level progress.
func (e *Executor) failCommand(res *ExecutionResult, idx, chunkIdx, batchCompleted, batchTotal int, err error) error {
	err = fault.Locate(err, idx, chunkIdx)

	if res.CompletedUnits > 0 {
		res.Status = StatusPartial
	} else {
		res.Status = StatusFailed
	}
	desc := fault.Describe(err)
	res.Error = &desc

	if batchCompleted > 0 {
		return &fault.PartialError{
			CommandIndex:   idx,
			ChunkIndex:     chunkIdx,
			CommittedUnits: batchCompleted,
			TotalUnits:     batchTotal,
			Cause:          err,
		}
	}
	return err
}
