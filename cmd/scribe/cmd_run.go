// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/ScribeFOSS/pkg/logging"
	"github.com/AleutianAI/ScribeFOSS/services/scribe/batch"
	"github.com/AleutianAI/ScribeFOSS/services/scribe/bridge"
	"github.com/AleutianAI/ScribeFOSS/services/scribe/bridge/memdoc"
	"github.com/AleutianAI/ScribeFOSS/services/scribe/bridge/wsbridge"
	"github.com/AleutianAI/ScribeFOSS/services/scribe/command"
	"github.com/AleutianAI/ScribeFOSS/services/scribe/config"
	"github.com/AleutianAI/ScribeFOSS/services/scribe/retry"
	"github.com/AleutianAI/ScribeFOSS/services/scribe/transaction"
)

// runOptions is the effective execution mode after manifest settings
// and flags are merged.
type runOptions struct {
	DryRun        bool
	Transactional bool
	StopOnError   bool
}

// jobOutcome captures one executed job. Exactly one of Outcome or
// Result is set depending on the transactional mode; Err is the run
// error, nil on success.
type jobOutcome struct {
	Document string
	Outcome  *transaction.Outcome
	Result   *batch.Result
	Err      error
	Duration time.Duration
}

// batch returns the underlying batch result for either mode.
func (j jobOutcome) batch() *batch.Result {
	if j.Outcome != nil && j.Outcome.Batch != nil {
		return j.Outcome.Batch
	}
	return j.Result
}

func (j jobOutcome) status() string {
	switch {
	case j.Outcome != nil:
		return string(j.Outcome.Status)
	case j.Result != nil:
		return string(j.Result.Status)
	case j.Err != nil:
		return "failed"
	}
	return "unknown"
}

// runManifestCommand executes a manifest. Jobs run sequentially, each
// on its own fresh session; SIGINT cancels the context and, for
// transactional runs, rolls back the in-flight job.
func runManifestCommand(cmd *cobra.Command, args []string) {
	manifest, err := LoadManifest(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	transactional := manifest.IsTransactional(runNoTransaction, runContinueOnError)
	opts := runOptions{
		DryRun:        runDryRun,
		Transactional: transactional,
		// A transactional run always stops at the first failure;
		// continuing would only grow the rollback.
		StopOnError: transactional || manifest.StopsOnError(runContinueOnError),
	}

	interactive := !runPlain && isatty.IsTerminal(os.Stdout.Fd())

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level %q: %v\n", cfg.Logging.Level, err)
		os.Exit(1)
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.LogDir,
		Service: "runner",
		JSON:    cfg.Logging.JSON,
		// The progress display owns the terminal; log lines would
		// tear it. File logging still applies when configured.
		Quiet: cfg.Logging.Quiet || interactive,
	})
	defer logger.Close()
	slogger := logger.Slog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var outcomes []jobOutcome
	if interactive {
		outcomes = runInteractive(ctx, stop, cfg, manifest, opts, slogger)
	} else {
		outcomes = executeJobs(ctx, cfg, manifest, opts, plainReporter(os.Stdout), slogger)
	}

	if code := printRunSummary(os.Stdout, outcomes); code != 0 {
		os.Exit(code)
	}
}

// runInteractive drives the jobs under a bubbletea progress display.
// The display renders on stderr so stdout stays clean for the summary.
func runInteractive(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, m *Manifest, opts runOptions, logger *slog.Logger) []jobOutcome {
	model := newRunModel(m.Label, len(m.Jobs()), cancel)
	program := tea.NewProgram(model, tea.WithOutput(os.Stderr))

	done := make(chan []jobOutcome, 1)
	go func() {
		outcomes := executeJobs(ctx, cfg, m, opts, program.Send, logger)
		program.Send(runDoneMsg{})
		done <- outcomes
	}()

	if _, err := program.Run(); err != nil {
		// The display died; cancel so the runner unwinds, then wait
		// for it below as usual.
		logger.Warn("Progress display failed", "error", err)
		cancel()
	}
	return <-done
}

// executeJobs runs every job in order, reporting progress through
// send. A cancelled context marks the remaining jobs failed without
// opening sessions for them.
func executeJobs(ctx context.Context, cfg *config.Config, m *Manifest, opts runOptions, send func(tea.Msg), logger *slog.Logger) []jobOutcome {
	jobs := m.Jobs()
	outcomes := make([]jobOutcome, 0, len(jobs))
	for i, job := range jobs {
		if err := ctx.Err(); err != nil {
			outcomes = append(outcomes, jobOutcome{Document: job.Document, Err: err})
			continue
		}

		send(jobStartMsg{Index: i, Count: len(jobs), Document: job.Document, Commands: len(job.Commands)})

		specs := job.Commands
		hooks := batch.Hooks{
			Progress: func(completed, total, commandIndex int) {
				kind := ""
				if commandIndex >= 0 && commandIndex < len(specs) {
					kind = specs[commandIndex].Kind
				}
				send(unitProgressMsg{
					Completed:    completed,
					Total:        total,
					CommandIndex: commandIndex,
					Kind:         kind,
				})
			},
		}

		outcome := executeJob(ctx, cfg, job, opts, hooks, logger)
		outcomes = append(outcomes, outcome)
		send(jobDoneMsg{Index: i, Document: job.Document, Status: outcome.status(), Err: outcome.Err})
	}
	return outcomes
}

// executeJob runs one job on a fresh session and tears it down after.
func executeJob(ctx context.Context, cfg *config.Config, job ManifestJob, opts runOptions, hooks batch.Hooks, logger *slog.Logger) jobOutcome {
	start := time.Now()
	out := jobOutcome{Document: job.Document}
	fail := func(err error) jobOutcome {
		out.Err = err
		out.Duration = time.Since(start)
		return out
	}

	newDriver, _ := driverFactory(cfg, opts.DryRun, logger)
	driver, err := newDriver()
	if err != nil {
		return fail(fmt.Errorf("create driver: %w", err))
	}

	sess, err := bridge.NewSession(driver, bridge.Config{
		ConnectTimeout: cfg.Bridge.ConnectTimeout.Std(),
		Logger:         logger,
	})
	if err != nil {
		return fail(err)
	}
	if err := sess.Connect(ctx); err != nil {
		return fail(err)
	}
	defer func() { _ = sess.Disconnect() }()

	exec, err := batch.New(batch.Config{
		Registry:        command.NewCatalog(),
		Session:         sess,
		Policy:          policyFromConfig(cfg),
		ChunkSize:       cfg.Batch.ChunkSize,
		ContinueOnError: !opts.StopOnError,
		Logger:          logger,
	})
	if err != nil {
		return fail(err)
	}

	cmds := toCommands(job.Commands)
	if opts.Transactional {
		mgr, err := transaction.NewManager(exec, transactionConfigFromConfig(cfg))
		if err != nil {
			return fail(err)
		}
		outcome, runErr := mgr.Execute(ctx, sess.ID(), cmds, hooks)
		out.Outcome = outcome
		out.Err = runErr
	} else {
		result, runErr := exec.Run(ctx, cmds, hooks)
		out.Result = result
		out.Err = runErr
	}
	out.Duration = time.Since(start)
	return out
}

// printRunSummary writes the final report and returns the exit code.
func printRunSummary(out io.Writer, outcomes []jobOutcome) int {
	code := 0
	fmt.Fprintln(out)
	for _, o := range outcomes {
		if o.Err != nil {
			code = 1
		}

		name := o.Document
		if name == "" {
			name = "batch"
		}
		status := o.status()
		styled := runOkStyle.Render(status)
		if o.Err != nil {
			styled = runFailStyle.Render(status)
		}

		if b := o.batch(); b != nil {
			fmt.Fprintf(out, "%-24s %-14s %d/%d units  %s\n",
				name, styled, b.CompletedUnits, b.TotalUnits, o.Duration.Round(time.Millisecond))
		} else {
			fmt.Fprintf(out, "%-24s %-14s %s\n", name, styled, o.Duration.Round(time.Millisecond))
		}

		if o.Err != nil {
			fmt.Fprintf(out, "  error: %v\n", o.Err)
		}
		if o.Outcome != nil && o.Outcome.Rollback != nil {
			rb := o.Outcome.Rollback
			fmt.Fprintf(out, "  rollback: %d/%d steps undone, %d irreversible\n",
				rb.StepsUndone, rb.StepsTotal, rb.StepsIrreversible)
			for _, se := range rb.SecondaryErrors {
				fmt.Fprintf(out, "    command %d (%s): %s\n", se.CommandIndex, se.Kind, se.Message)
			}
		}
	}

	succeeded := 0
	for _, o := range outcomes {
		if o.Err == nil {
			succeeded++
		}
	}
	if len(outcomes) > 1 {
		fmt.Fprintf(out, "\n%d jobs: %d succeeded, %d failed\n",
			len(outcomes), succeeded, len(outcomes)-succeeded)
	}
	return code
}

// driverFactory returns a constructor for the configured driver and
// the name session listings report. Dry runs always get the in-memory
// engine so a manifest can be rehearsed without an adapter.
func driverFactory(cfg *config.Config, dryRun bool, logger *slog.Logger) (func() (bridge.Driver, error), string) {
	if !dryRun && cfg.Bridge.Driver == "websocket" {
		endpoint := cfg.Bridge.Endpoint
		handshake := cfg.Bridge.HandshakeTimeout.Std()
		return func() (bridge.Driver, error) {
			return wsbridge.New(wsbridge.Config{
				URL:              endpoint,
				HandshakeTimeout: handshake,
				Logger:           logger,
			})
		}, "websocket"
	}
	return func() (bridge.Driver, error) {
		return memdoc.New(memdoc.Config{}), nil
	}, "memdoc"
}

func policyFromConfig(cfg *config.Config) retry.Policy {
	return retry.Policy{
		MaxRetries: cfg.Retry.MaxRetries,
		Delay:      cfg.Retry.Delay.Std(),
		MaxDelay:   cfg.Retry.MaxDelay.Std(),
		Timeout:    cfg.Retry.CallTimeout.Std(),
		Jitter:     cfg.Retry.Jitter,
	}
}

func transactionConfigFromConfig(cfg *config.Config) transaction.Config {
	return transaction.Config{
		TransactionTTL:      cfg.Transaction.TTL.Std(),
		CompensationTimeout: cfg.Transaction.CompensationTimeout.Std(),
		RequireCompensators: cfg.Transaction.RequireCompensators,
		MetricsEnabled:      true,
		TracingEnabled:      true,
	}
}
