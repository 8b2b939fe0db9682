// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scribe is the dispatch front end: session lifecycle, batch
// execution, validate-only checks, and multi-document fan-out, exposed
// over HTTP by the handlers in this package.
package scribe

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/ScribeFOSS/pkg/validation"
	"github.com/AleutianAI/ScribeFOSS/services/scribe/batch"
	"github.com/AleutianAI/ScribeFOSS/services/scribe/bridge"
	"github.com/AleutianAI/ScribeFOSS/services/scribe/bridge/memdoc"
	"github.com/AleutianAI/ScribeFOSS/services/scribe/command"
	"github.com/AleutianAI/ScribeFOSS/services/scribe/fault"
	"github.com/AleutianAI/ScribeFOSS/services/scribe/retry"
	"github.com/AleutianAI/ScribeFOSS/services/scribe/telemetry"
	"github.com/AleutianAI/ScribeFOSS/services/scribe/transaction"
)

// tracerName is the instrumentation scope for service spans.
const tracerName = "scribe.service"

// ServiceConfig assembles a Service.
type ServiceConfig struct {
	// NewDriver creates the editing backend for each session.
	// Default: an in-process memdoc engine per session.
	NewDriver func() (bridge.Driver, error)

	// DriverName labels sessions in responses ("memdoc", "websocket").
	DriverName string

	// Registry resolves command kinds. Default: the builtin catalog.
	Registry *command.Registry

	// ConnectTimeout bounds each session connection attempt.
	// Default: 30s.
	ConnectTimeout time.Duration

	// Policy bounds and retries each session call.
	Policy retry.Policy

	// ChunkSize caps units per session call for chunkable commands.
	// Default: batch.DefaultChunkSize.
	ChunkSize int

	// MaxBatchCommands rejects larger batches before execution.
	// Default: 500.
	MaxBatchCommands int

	// MaxSessions caps concurrently open sessions. Default: 32.
	MaxSessions int

	// Transaction configures each session's transaction manager.
	Transaction transaction.Config

	// Metrics receives service-level measurements. Optional.
	Metrics *telemetry.Metrics

	// Logger receives service events. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultServiceConfig returns a configuration backed by the in-process
// document engine.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		NewDriver:        func() (bridge.Driver, error) { return memdoc.New(memdoc.Config{}), nil },
		DriverName:       "memdoc",
		ConnectTimeout:   30 * time.Second,
		Policy:           retry.DefaultPolicy(),
		ChunkSize:        batch.DefaultChunkSize,
		MaxBatchCommands: 500,
		MaxSessions:      32,
		Transaction:      transaction.DefaultConfig(),
	}
}

// sessionEntry bundles everything one session needs. The mutex
// serializes batch runs; the session itself would serialize the calls
// anyway, but rejecting a second batch up front beats interleaving two
// batches' commands.
type sessionEntry struct {
	session   *bridge.Session
	executor  *batch.Executor
	manager   *transaction.Manager
	label     string
	createdAt time.Time
	mu        sync.Mutex
}

// Service owns the sessions and runs batches against them.
//
// Thread Safety:
//
//	Service is safe for concurrent use. Batches on the same session
//	are rejected while one is running; batches on different sessions
//	run independently.
type Service struct {
	config   ServiceConfig
	registry *command.Registry
	logger   *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*sessionEntry
	closed   bool
}

// NewService builds a Service, filling unset config fields with
// DefaultServiceConfig values.
func NewService(cfg ServiceConfig) *Service {
	d := DefaultServiceConfig()
	if cfg.NewDriver == nil {
		cfg.NewDriver = d.NewDriver
		if cfg.DriverName == "" {
			cfg.DriverName = d.DriverName
		}
	}
	if cfg.DriverName == "" {
		cfg.DriverName = "custom"
	}
	if cfg.Registry == nil {
		cfg.Registry = command.NewCatalog()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = d.ConnectTimeout
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = d.ChunkSize
	}
	if cfg.MaxBatchCommands <= 0 {
		cfg.MaxBatchCommands = d.MaxBatchCommands
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = d.MaxSessions
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Service{
		config:   cfg,
		registry: cfg.Registry,
		logger:   cfg.Logger.With("component", "scribe.Service"),
		sessions: make(map[string]*sessionEntry),
	}
}

// CreateSession opens a new session against a fresh driver instance.
//
// Description:
//
//	Creates the driver, connects it, and wires an executor and a
//	transaction manager to it. The session only becomes visible once
//	the connection succeeded; a backend that cannot be reached never
//	registers.
//
// Outputs:
//
//	*SessionResponse - the new session, including its ID.
//	error - ErrServiceClosed, ErrTooManySessions, or a connection
//	failure from the driver.
func (s *Service) CreateSession(ctx context.Context, label string) (*SessionResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "CreateSession")
	defer span.End()

	s.mu.RLock()
	closed, count := s.closed, len(s.sessions)
	s.mu.RUnlock()
	if closed {
		return nil, ErrServiceClosed
	}
	if count >= s.config.MaxSessions {
		return nil, fmt.Errorf("%w: %d open", ErrTooManySessions, count)
	}

	if label != "" {
		clean, err := validation.SanitizeSessionName(label)
		if err != nil {
			return nil, &fault.ValidationError{
				Field:        "label",
				CommandIndex: fault.NoIndex,
				Message:      err.Error(),
			}
		}
		label = clean
	}

	driver, err := s.config.NewDriver()
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("create driver: %w", err)
	}
	sess, err := bridge.NewSession(driver, bridge.Config{
		ConnectTimeout: s.config.ConnectTimeout,
		Logger:         s.config.Logger,
	})
	if err != nil {
		return nil, err
	}
	if err := sess.Connect(ctx); err != nil {
		telemetry.RecordError(span, err)
		s.recordError(ctx, err)
		return nil, err
	}

	executor, err := batch.New(batch.Config{
		Registry:  s.registry,
		Session:   sess,
		Policy:    s.config.Policy,
		ChunkSize: s.config.ChunkSize,
		Logger:    s.config.Logger,
	})
	if err != nil {
		_ = sess.Disconnect()
		return nil, err
	}
	manager, err := transaction.NewManager(executor, s.config.Transaction)
	if err != nil {
		_ = sess.Disconnect()
		return nil, err
	}

	entry := &sessionEntry{
		session:   sess,
		executor:  executor,
		manager:   manager,
		label:     label,
		createdAt: time.Now(),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = sess.Disconnect()
		return nil, ErrServiceClosed
	}
	if len(s.sessions) >= s.config.MaxSessions {
		s.mu.Unlock()
		_ = sess.Disconnect()
		return nil, fmt.Errorf("%w: %d open", ErrTooManySessions, len(s.sessions))
	}
	s.sessions[sess.ID()] = entry
	s.mu.Unlock()

	if m := s.config.Metrics; m != nil {
		m.SessionsOpenedTotal.Add(ctx, 1)
	}
	span.SetAttributes(attribute.String("session_id", sess.ID()))
	telemetry.SetSpanOK(span)
	s.logger.Info("session created", "session_id", sess.ID(), "driver", s.config.DriverName, "label", label)

	return s.describe(sess.ID(), entry), nil
}

// GetSession returns one session's description.
func (s *Service) GetSession(id string) (*SessionResponse, error) {
	entry, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.describe(id, entry), nil
}

// ListSessions returns every open session, oldest first.
func (s *Service) ListSessions() *ListSessionsResponse {
	s.mu.RLock()
	responses := make([]SessionResponse, 0, len(s.sessions))
	for id, entry := range s.sessions {
		responses = append(responses, *s.describe(id, entry))
	}
	s.mu.RUnlock()

	sort.Slice(responses, func(i, j int) bool {
		return responses[i].CreatedAt.Before(responses[j].CreatedAt)
	})
	return &ListSessionsResponse{Sessions: responses, Count: len(responses)}
}

// SessionCount returns the number of open sessions.
func (s *Service) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// CloseSession rolls back any active transaction and disconnects the
// session. The ID is released immediately.
func (s *Service) CloseSession(ctx context.Context, id string) error {
	s.mu.Lock()
	entry, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	mgrErr := entry.manager.Close()
	discErr := entry.session.Disconnect()
	if m := s.config.Metrics; m != nil {
		m.SessionsClosedTotal.Add(ctx, 1)
	}
	s.logger.Info("session closed", "session_id", id)
	if mgrErr != nil {
		return mgrErr
	}
	return discErr
}

// RunBatch executes one batch on the named session.
//
// Description:
//
//	Transactional batches (the default) run under the session's
//	transaction manager: on failure every applied command is
//	compensated newest-first, and the response carries the rollback
//	report. Non-transactional batches run bare; with StopOnError
//	false the run records failures and keeps going.
//
//	The response is non-nil whenever the batch got as far as running,
//	even when err is non-nil; it then describes exactly what applied
//	and what was undone.
//
// Outputs:
//
//	*RunBatchResponse - the outcome, nil only for pre-run rejections.
//	error - nil only when every command applied and, for
//	transactional batches, the transaction committed clean.
func (s *Service) RunBatch(ctx context.Context, sessionID string, req RunBatchRequest) (*RunBatchResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "RunBatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.Int("commands", len(req.Commands)),
	)

	entry, err := s.lookup(sessionID)
	if err != nil {
		s.recordError(ctx, err)
		return nil, err
	}
	if len(req.Commands) > s.config.MaxBatchCommands {
		err := fmt.Errorf("%w: %d commands, limit %d",
			ErrBatchTooLarge, len(req.Commands), s.config.MaxBatchCommands)
		s.recordError(ctx, err)
		return nil, err
	}
	if !entry.mu.TryLock() {
		s.recordError(ctx, ErrSessionBusy)
		return nil, fmt.Errorf("%w: %s", ErrSessionBusy, sessionID)
	}
	defer entry.mu.Unlock()

	commands := toCommands(req.Commands)
	transactional := req.Transactional == nil || *req.Transactional
	stopOnError := transactional || req.StopOnError == nil || *req.StopOnError

	start := time.Now()
	var resp *RunBatchResponse
	var runErr error
	if transactional {
		outcome, execErr := entry.manager.Execute(ctx, sessionID, commands, batch.Hooks{})
		resp = transactionalResponse(sessionID, outcome, execErr)
		runErr = execErr
	} else {
		executor := entry.executor
		if !stopOnError {
			executor, err = batch.New(batch.Config{
				Registry:        s.registry,
				Session:         entry.session,
				Policy:          s.config.Policy,
				ChunkSize:       s.config.ChunkSize,
				ContinueOnError: true,
				Logger:          s.config.Logger,
			})
			if err != nil {
				return nil, err
			}
		}
		result, execErr := executor.Run(ctx, commands, batch.Hooks{})
		resp = plainResponse(sessionID, result)
		runErr = execErr
	}
	if resp != nil {
		resp.DurationMs = time.Since(start).Milliseconds()
	}

	if runErr != nil {
		telemetry.RecordError(span, runErr)
		s.recordError(ctx, runErr)
		return resp, runErr
	}
	telemetry.SetSpanOK(span)
	return resp, nil
}

// ValidateBatch dry-runs the catalog checks for a batch: kind
// resolution, parameter validation, reversibility, and unit counts.
// No session is touched.
func (s *Service) ValidateBatch(req ValidateBatchRequest) *ValidateBatchResponse {
	resp := &ValidateBatchResponse{
		Valid:      true,
		Reversible: true,
		Commands:   make([]CommandValidation, len(req.Commands)),
	}
	for i, spec := range req.Commands {
		cv := CommandValidation{Index: i, Kind: spec.Kind, Valid: true}

		kind, err := command.ParseKind(spec.Kind)
		if err == nil {
			var b command.Binding
			b, err = s.registry.Resolve(kind)
			if err == nil {
				cv.Reversible = b.Reversible()
				cv.Units = 1
				if b.Chunk != nil {
					if n := b.Chunk.Units(command.Params(spec.Params)); n > 0 {
						cv.Units = n
					}
				}
				if b.Validate != nil {
					err = b.Validate(command.Params(spec.Params))
				}
			}
		}
		if err != nil {
			desc := fault.Describe(fault.Locate(err, i, fault.NoIndex))
			cv.Error = &desc
			cv.Valid = false
			resp.Valid = false
		}

		if !cv.Reversible {
			resp.Reversible = false
		}
		resp.TotalUnits += cv.Units
		resp.Commands[i] = cv
	}
	return resp
}

// ProcessDocuments runs independent jobs, one session each.
//
// Description:
//
//	Fans out up to MaxConcurrent jobs at a time. Each job gets a
//	fresh driver, session, and (when transactional) transaction
//	manager; the sessions are ephemeral and never appear in
//	ListSessions. A failed job does not stop the others.
func (s *Service) ProcessDocuments(ctx context.Context, req ProcessDocumentsRequest) (*ProcessDocumentsResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "ProcessDocuments")
	defer span.End()
	span.SetAttributes(attribute.Int("documents", len(req.Documents)))

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrServiceClosed
	}

	maxConcurrent := req.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	transactional := req.Transactional == nil || *req.Transactional

	outcomes := make([]DocumentOutcome, len(req.Documents))
	var g errgroup.Group
	g.SetLimit(maxConcurrent)
	for i, job := range req.Documents {
		g.Go(func() error {
			outcomes[i] = s.processDocument(ctx, job, transactional)
			return nil
		})
	}
	_ = g.Wait()

	resp := &ProcessDocumentsResponse{Documents: outcomes}
	for _, o := range outcomes {
		if o.Error == nil {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	s.logger.Info("documents processed",
		"total", len(outcomes), "succeeded", resp.Succeeded, "failed", resp.Failed)
	return resp, nil
}

// processDocument runs one job on an ephemeral session.
func (s *Service) processDocument(ctx context.Context, job DocumentJob, transactional bool) DocumentOutcome {
	start := time.Now()
	outcome := DocumentOutcome{Document: job.Document}

	fail := func(err error) DocumentOutcome {
		desc := fault.Describe(err)
		outcome.Status = string(batch.StatusFailed)
		outcome.Error = &desc
		s.recordDocument(ctx, outcome.Status, time.Since(start))
		s.recordError(ctx, err)
		return outcome
	}

	driver, err := s.config.NewDriver()
	if err != nil {
		return fail(fmt.Errorf("create driver: %w", err))
	}
	sess, err := bridge.NewSession(driver, bridge.Config{
		ConnectTimeout: s.config.ConnectTimeout,
		Logger:         s.config.Logger,
	})
	if err != nil {
		return fail(err)
	}
	if err := sess.Connect(ctx); err != nil {
		return fail(err)
	}
	defer func() { _ = sess.Disconnect() }()

	executor, err := batch.New(batch.Config{
		Registry:  s.registry,
		Session:   sess,
		Policy:    s.config.Policy,
		ChunkSize: s.config.ChunkSize,
		Logger:    s.config.Logger,
	})
	if err != nil {
		return fail(err)
	}

	commands := toCommands(job.Commands)
	var resp *RunBatchResponse
	var runErr error
	if transactional {
		manager, merr := transaction.NewManager(executor, s.config.Transaction)
		if merr != nil {
			return fail(merr)
		}
		out, execErr := manager.Execute(ctx, sess.ID(), commands, batch.Hooks{})
		resp = transactionalResponse(sess.ID(), out, execErr)
		runErr = execErr
	} else {
		result, execErr := executor.Run(ctx, commands, batch.Hooks{})
		resp = plainResponse(sess.ID(), result)
		runErr = execErr
	}

	if resp == nil {
		return fail(runErr)
	}
	resp.DurationMs = time.Since(start).Milliseconds()
	outcome.Status = resp.Status
	outcome.Result = resp
	if runErr != nil {
		desc := fault.Describe(runErr)
		outcome.Error = &desc
		s.recordError(ctx, runErr)
	}
	s.recordDocument(ctx, outcome.Status, time.Since(start))
	return outcome
}

// ListCommands returns the catalog for discovery.
func (s *Service) ListCommands() *ListCommandsResponse {
	kinds := s.registry.RegisteredKinds()
	resp := &ListCommandsResponse{Commands: make([]CommandInfo, 0, len(kinds))}
	for _, k := range kinds {
		b, err := s.registry.Resolve(k)
		if err != nil {
			continue
		}
		resp.Commands = append(resp.Commands, CommandInfo{
			Kind:       string(k),
			Reversible: b.Reversible(),
			Chunkable:  b.Chunk != nil,
		})
	}
	return resp
}

// Health reports liveness.
func (s *Service) Health() *HealthResponse {
	return &HealthResponse{
		Status:   "ok",
		Version:  ServiceVersion,
		Driver:   s.config.DriverName,
		Sessions: s.SessionCount(),
	}
}

// Close disconnects every session. Active transactions roll back.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	entries := s.sessions
	s.sessions = make(map[string]*sessionEntry)
	s.mu.Unlock()

	var firstErr error
	for id, entry := range entries {
		if err := entry.manager.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := entry.session.Disconnect(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.logger.Info("session closed on shutdown", "session_id", id)
	}
	return firstErr
}

// lookup resolves a session entry.
func (s *Service) lookup(id string) (*sessionEntry, error) {
	s.mu.RLock()
	entry, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return entry, nil
}

// describe builds the wire view of one session.
func (s *Service) describe(id string, entry *sessionEntry) *SessionResponse {
	return &SessionResponse{
		SessionID:   id,
		Label:       entry.label,
		Connected:   entry.session.IsConnected(),
		Driver:      s.config.DriverName,
		Transaction: string(entry.manager.State()),
		CreatedAt:   entry.createdAt,
	}
}

func (s *Service) recordError(ctx context.Context, err error) {
	m := s.config.Metrics
	if m == nil || err == nil {
		return
	}
	_, code := statusForError(err)
	m.ErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}

func (s *Service) recordDocument(ctx context.Context, status string, d time.Duration) {
	m := s.config.Metrics
	if m == nil {
		return
	}
	m.DocumentsProcessedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.DocumentProcessDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}

// toCommands converts wire specs to catalog commands.
func toCommands(specs []CommandSpec) []command.Command {
	commands := make([]command.Command, len(specs))
	for i, spec := range specs {
		commands[i] = command.Command{
			Kind:   command.Kind(spec.Kind),
			Params: command.Params(spec.Params),
		}
	}
	return commands
}

// toCommandResults converts a batch result to wire entries.
func toCommandResults(result *batch.Result) []CommandResult {
	if result == nil {
		return []CommandResult{}
	}
	out := make([]CommandResult, len(result.Results))
	for i, r := range result.Results {
		out[i] = CommandResult{
			Index:   i,
			Kind:    string(r.Kind),
			Status:  string(r.Status),
			Output:  r.Output,
			Error:   r.Error,
			Retries: r.Retries,
		}
	}
	return out
}

// transactionalResponse builds the wire outcome of a managed run. A
// nil outcome (pre-run rejection) yields nil; the caller surfaces the
// error alone.
func transactionalResponse(sessionID string, outcome *transaction.Outcome, runErr error) *RunBatchResponse {
	if outcome == nil {
		return nil
	}
	resp := &RunBatchResponse{
		SessionID:     sessionID,
		TransactionID: outcome.TransactionID,
		Status:        string(outcome.Status),
		Results:       toCommandResults(outcome.Batch),
	}
	if outcome.Batch != nil {
		resp.CompletedUnits = outcome.Batch.CompletedUnits
		resp.TotalUnits = outcome.Batch.TotalUnits
	}
	if outcome.Rollback != nil {
		report := &RollbackReport{
			StepsTotal:        outcome.Rollback.StepsTotal,
			StepsUndone:       outcome.Rollback.StepsUndone,
			StepsIrreversible: outcome.Rollback.StepsIrreversible,
		}
		for _, se := range outcome.Rollback.SecondaryErrors {
			report.Errors = append(report.Errors,
				fmt.Sprintf("command %d (%s): %s", se.CommandIndex, se.Kind, se.Message))
		}
		resp.Rollback = report
	}
	if runErr != nil {
		desc := fault.Describe(runErr)
		resp.Error = &desc
	}
	return resp
}

// plainResponse builds the wire outcome of a bare executor run.
// FirstError already mirrors the run's returned error.
func plainResponse(sessionID string, result *batch.Result) *RunBatchResponse {
	if result == nil {
		return nil
	}
	return &RunBatchResponse{
		SessionID:      sessionID,
		Status:         string(result.Status),
		Results:        toCommandResults(result),
		CompletedUnits: result.CompletedUnits,
		TotalUnits:     result.TotalUnits,
		Error:          result.FirstError,
	}
}
