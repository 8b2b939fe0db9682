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
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/AleutianAI/ScribeFOSS/services/scribe/command"
	"github.com/AleutianAI/ScribeFOSS/services/scribe/fault"
	"github.com/AleutianAI/ScribeFOSS/services/scribe/retry"
)

// fakeSession records calls and fails the Nth call with a scripted
// error. Outputs are synthesized per op so catalog folds work.
type fakeSession struct {
	calls      int
	ops        []string
	params     []map[string]any
	failOn     map[int]error
	reconnects int
}

func (f *fakeSession) Invoke(_ context.Context, op string, params map[string]any) (map[string]any, error) {
	f.calls++
	f.ops = append(f.ops, op)
	f.params = append(f.params, params)
	if err, ok := f.failOn[f.calls]; ok {
		return nil, err
	}

	switch op {
	case "create_table":
		return map[string]any{"table_index": 0}, nil
	case "fill_table":
		rows, _ := params["rows"].([][]string)
		return map[string]any{
			"snapshot_id":  fmt.Sprintf("snap-%d", f.calls),
			"rows_written": len(rows),
		}, nil
	case "insert_text":
		return map[string]any{"paragraph": 0, "offset": 0, "length": 1, "created_paragraph": true}, nil
	case "create_document":
		return map[string]any{"doc_id": "doc-1", "previous_doc_id": ""}, nil
	default:
		return map[string]any{}, nil
	}
}

func (f *fakeSession) Reconnect(context.Context) error {
	f.reconnects++
	return nil
}

func fastRetry() retry.Policy {
	return retry.Policy{
		MaxRetries: 2,
		Delay:      time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
		Timeout:    time.Second,
	}
}

func newExecutor(t *testing.T, s Session, chunkSize int) *Executor {
	t.Helper()
	e, err := New(Config{
		Registry:  command.NewCatalog(),
		Session:   s,
		Policy:    fastRetry(),
		ChunkSize: chunkSize,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return e
}

func fillRows(n int) [][]string {
	rows := make([][]string, n)
	for i := range rows {
		rows[i] = []string{fmt.Sprintf("r%d", i)}
	}
	return rows
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{Session: &fakeSession{}}); !errors.Is(err, ErrNilRegistry) {
		t.Errorf("error = %v, want ErrNilRegistry", err)
	}
	if _, err := New(Config{Registry: command.NewCatalog()}); !errors.Is(err, ErrNilSession) {
		t.Errorf("error = %v, want ErrNilSession", err)
	}
}

func TestRunEmptyBatch(t *testing.T) {
	e := newExecutor(t, &fakeSession{}, 0)
	result, err := e.Run(context.Background(), nil, Hooks{})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if result.Status != StatusSucceeded || len(result.Results) != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestRunAllSucceed(t *testing.T) {
	s := &fakeSession{}
	e := newExecutor(t, s, 0)

	cmds := []command.Command{
		{Kind: command.KindCreateDocument},
		{Kind: command.KindInsertText, Params: command.Params{"text": "hello"}},
		{Kind: command.KindCreateTable, Params: command.Params{"rows": 2, "cols": 2}},
	}
	result, err := e.Run(context.Background(), cmds, Hooks{})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if result.Status != StatusSucceeded {
		t.Errorf("Status = %s", result.Status)
	}
	if result.CompletedUnits != 3 || result.TotalUnits != 3 {
		t.Errorf("units = %d/%d, want 3/3", result.CompletedUnits, result.TotalUnits)
	}
	wantOps := []string{"create_document", "insert_text", "create_table"}
	if len(s.ops) != 3 {
		t.Fatalf("ops = %v", s.ops)
	}
	for i, op := range wantOps {
		if s.ops[i] != op {
			t.Errorf("ops[%d] = %s, want %s", i, s.ops[i], op)
		}
	}
	for i, r := range result.Results {
		if r.Status != StatusSucceeded || r.CompletedUnits != 1 {
			t.Errorf("Results[%d] = %+v", i, r)
		}
	}
}

func TestRunUnknownKindRejectsWholeBatch(t *testing.T) {
	s := &fakeSession{}
	e := newExecutor(t, s, 0)

	cmds := []command.Command{
		{Kind: command.KindCreateDocument},
		{Kind: command.Kind("rotate_text")},
	}
	result, err := e.Run(context.Background(), cmds, Hooks{})

	var valErr *fault.ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("error = %v, want *fault.ValidationError", err)
	}
	if valErr.CommandIndex != 1 {
		t.Errorf("CommandIndex = %d, want 1", valErr.CommandIndex)
	}
	if s.calls != 0 {
		t.Errorf("session saw %d calls, a rejected batch must not execute", s.calls)
	}
	if result.Status != StatusFailed {
		t.Errorf("Status = %s", result.Status)
	}
	if result.Results[0].Status != StatusSkipped || result.Results[1].Status != StatusFailed {
		t.Errorf("Results = %+v", result.Results)
	}
	if result.FirstError == nil || result.FirstError.Kind != "validation" {
		t.Errorf("FirstError = %+v", result.FirstError)
	}
}

func TestRunValidationErrorRejectsWholeBatch(t *testing.T) {
	s := &fakeSession{}
	e := newExecutor(t, s, 0)

	cmds := []command.Command{
		{Kind: command.KindCreateDocument},
		{Kind: command.KindCreateTable, Params: command.Params{"rows": 0, "cols": 3}},
		{Kind: command.KindInsertText, Params: command.Params{"text": "x"}},
	}
	_, err := e.Run(context.Background(), cmds, Hooks{})

	var valErr *fault.ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("error = %v, want *fault.ValidationError", err)
	}
	if valErr.CommandIndex != 1 || valErr.Field != "rows" {
		t.Errorf("located at command %d field %q", valErr.CommandIndex, valErr.Field)
	}
	if s.calls != 0 {
		t.Errorf("session saw %d calls, want 0", s.calls)
	}
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	stateErr := &fault.StateError{
		Requirement:  "row width inside table",
		CommandIndex: fault.NoIndex,
		Message:      "row 0 has 5 cells",
	}
	s := &fakeSession{failOn: map[int]error{2: stateErr}}
	e := newExecutor(t, s, 0)

	cmds := []command.Command{
		{Kind: command.KindCreateTable, Params: command.Params{"rows": 50, "cols": 3}},
		{Kind: command.KindFillTableCell, Params: command.Params{"table_index": 0, "row": 0, "col": 0, "text": "x"}},
		{Kind: command.KindInsertText, Params: command.Params{"text": "never runs"}},
	}
	result, err := e.Run(context.Background(), cmds, Hooks{})

	var partErr *fault.PartialError
	if !errors.As(err, &partErr) {
		t.Fatalf("error = %v, want *fault.PartialError", err)
	}
	if partErr.CommandIndex != 1 {
		t.Errorf("CommandIndex = %d, want 1", partErr.CommandIndex)
	}
	if partErr.CommittedUnits != 1 || partErr.TotalUnits != 3 {
		t.Errorf("units = %d/%d, want 1/3", partErr.CommittedUnits, partErr.TotalUnits)
	}
	if !errors.Is(err, stateErr) {
		t.Error("cause must stay in the chain")
	}

	if result.Status != StatusPartial {
		t.Errorf("Status = %s", result.Status)
	}
	if result.FirstError.Kind != "partial_failure" || result.FirstError.CommandIndex != 1 {
		t.Errorf("FirstError = %+v", result.FirstError)
	}
	statuses := []Status{StatusSucceeded, StatusFailed, StatusSkipped}
	for i, want := range statuses {
		if result.Results[i].Status != want {
			t.Errorf("Results[%d].Status = %s, want %s", i, result.Results[i].Status, want)
		}
	}
	// The failing command's own error keeps its taxonomy kind.
	if result.Results[1].Error == nil || result.Results[1].Error.Kind != "state" {
		t.Errorf("Results[1].Error = %+v", result.Results[1].Error)
	}
	if s.calls != 2 {
		t.Errorf("session calls = %d, want 2", s.calls)
	}
}

func TestRunFirstCommandFailureIsNotPartial(t *testing.T) {
	stateErr := &fault.StateError{Requirement: "open document", CommandIndex: fault.NoIndex}
	s := &fakeSession{failOn: map[int]error{1: stateErr}}
	e := newExecutor(t, s, 0)

	cmds := []command.Command{
		{Kind: command.KindInsertText, Params: command.Params{"text": "x"}},
	}
	result, err := e.Run(context.Background(), cmds, Hooks{})

	var partErr *fault.PartialError
	if errors.As(err, &partErr) {
		t.Error("nothing applied, error must not be partial")
	}
	var got *fault.StateError
	if !errors.As(err, &got) {
		t.Fatalf("error = %v, want *fault.StateError", err)
	}
	if got.CommandIndex != 0 {
		t.Errorf("CommandIndex = %d, want 0", got.CommandIndex)
	}
	if result.Status != StatusFailed {
		t.Errorf("Status = %s", result.Status)
	}
}

func TestRunChunkedFillTable(t *testing.T) {
	s := &fakeSession{}
	e := newExecutor(t, s, 2)

	var progress [][3]int
	var steps []AppliedStep
	hooks := Hooks{
		Progress: func(done, total, idx int) {
			progress = append(progress, [3]int{done, total, idx})
		},
		OnApplied: func(step AppliedStep) { steps = append(steps, step) },
	}

	cmds := []command.Command{
		{Kind: command.KindFillTable, Params: command.Params{
			"table_index": 0, "start_row": 0, "rows": fillRows(5),
		}},
	}
	result, err := e.Run(context.Background(), cmds, hooks)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if s.calls != 3 {
		t.Fatalf("session calls = %d, want windows [2 2 1]", s.calls)
	}
	wantStarts := []int{0, 2, 4}
	wantCounts := []int{2, 2, 1}
	for i := range wantStarts {
		rows, _ := s.params[i]["rows"].([][]string)
		if s.params[i]["start_row"] != wantStarts[i] || len(rows) != wantCounts[i] {
			t.Errorf("window %d: start_row=%v rows=%d, want %d/%d",
				i, s.params[i]["start_row"], len(rows), wantStarts[i], wantCounts[i])
		}
	}

	wantProgress := [][3]int{{2, 5, 0}, {4, 5, 0}, {5, 5, 0}}
	if len(progress) != len(wantProgress) {
		t.Fatalf("progress = %v", progress)
	}
	for i, want := range wantProgress {
		if progress[i] != want {
			t.Errorf("progress[%d] = %v, want %v", i, progress[i], want)
		}
	}

	if len(steps) != 3 {
		t.Fatalf("applied steps = %d, want 3", len(steps))
	}
	for i, step := range steps {
		if step.ChunkIndex != i || step.CommandIndex != 0 {
			t.Errorf("steps[%d] coordinates = (%d, %d)", i, step.CommandIndex, step.ChunkIndex)
		}
		if step.Compensator == nil {
			t.Errorf("steps[%d] lost its compensator", i)
		}
	}

	out := result.Results[0].Output
	if out["rows_written"] != 5 {
		t.Errorf("folded rows_written = %v, want 5", out["rows_written"])
	}
	ids, _ := out["snapshot_ids"].([]string)
	if len(ids) != 3 {
		t.Errorf("folded snapshot_ids = %v, want 3 entries", ids)
	}
}

func TestRunChunkFailureMidway(t *testing.T) {
	stateErr := &fault.StateError{Requirement: "rows inside table", CommandIndex: fault.NoIndex}
	s := &fakeSession{failOn: map[int]error{2: stateErr}}
	e := newExecutor(t, s, 2)

	var steps []AppliedStep
	cmds := []command.Command{
		{Kind: command.KindFillTable, Params: command.Params{
			"table_index": 0, "rows": fillRows(5),
		}},
	}
	result, err := e.Run(context.Background(), cmds, Hooks{
		OnApplied: func(step AppliedStep) { steps = append(steps, step) },
	})

	var partErr *fault.PartialError
	if !errors.As(err, &partErr) {
		t.Fatalf("error = %v, want *fault.PartialError", err)
	}
	if partErr.CommandIndex != 0 || partErr.ChunkIndex != 1 {
		t.Errorf("coordinates = (%d, %d), want (0, 1)", partErr.CommandIndex, partErr.ChunkIndex)
	}
	if partErr.CommittedUnits != 2 || partErr.TotalUnits != 5 {
		t.Errorf("units = %d/%d, want 2/5", partErr.CommittedUnits, partErr.TotalUnits)
	}

	if result.Results[0].Status != StatusPartial {
		t.Errorf("Results[0].Status = %s", result.Results[0].Status)
	}
	if result.Results[0].CompletedUnits != 2 {
		t.Errorf("CompletedUnits = %d, want 2", result.Results[0].CompletedUnits)
	}
	if len(steps) != 1 {
		t.Errorf("applied steps = %d, only the first chunk applied", len(steps))
	}
}

func TestRunCancelledBetweenChunks(t *testing.T) {
	s := &fakeSession{}
	e := newExecutor(t, s, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmds := []command.Command{
		{Kind: command.KindFillTable, Params: command.Params{
			"table_index": 0, "rows": fillRows(6),
		}},
	}
	result, err := e.Run(ctx, cmds, Hooks{
		Progress: func(done, total, idx int) {
			if done == 2 {
				cancel()
			}
		},
	})

	var cancErr *fault.CancelledError
	if !errors.As(err, &cancErr) {
		t.Fatalf("error = %v, want *fault.CancelledError", err)
	}
	if cancErr.CommandIndex != 0 || cancErr.ChunkIndex != 1 {
		t.Errorf("coordinates = (%d, %d), want (0, 1)", cancErr.CommandIndex, cancErr.ChunkIndex)
	}
	if cancErr.CompletedUnits != 2 {
		t.Errorf("CompletedUnits = %d, want 2", cancErr.CompletedUnits)
	}
	if s.calls != 1 {
		t.Errorf("session calls = %d, the second chunk must not start", s.calls)
	}
	if result.Status != StatusPartial {
		t.Errorf("Status = %s, applied chunks stay applied", result.Status)
	}
	if result.FirstError.Kind != "cancelled" {
		t.Errorf("FirstError.Kind = %s", result.FirstError.Kind)
	}
}

func TestRunCancelledBetweenCommands(t *testing.T) {
	s := &fakeSession{}
	e := newExecutor(t, s, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmds := []command.Command{
		{Kind: command.KindCreateDocument},
		{Kind: command.KindInsertText, Params: command.Params{"text": "x"}},
	}
	result, err := e.Run(ctx, cmds, Hooks{
		Progress: func(done, total, idx int) {
			if idx == 0 {
				cancel()
			}
		},
	})

	var cancErr *fault.CancelledError
	if !errors.As(err, &cancErr) {
		t.Fatalf("error = %v, want *fault.CancelledError", err)
	}
	if cancErr.CommandIndex != 1 || cancErr.ChunkIndex != fault.NoIndex {
		t.Errorf("coordinates = (%d, %d), want (1, NoIndex)", cancErr.CommandIndex, cancErr.ChunkIndex)
	}
	if s.calls != 1 {
		t.Errorf("session calls = %d, want 1", s.calls)
	}
	if result.Results[1].Status != StatusSkipped {
		t.Errorf("Results[1].Status = %s, want skipped", result.Results[1].Status)
	}
}

func TestRunRetriesTransient(t *testing.T) {
	s := &fakeSession{failOn: map[int]error{1: fault.ErrResourceBusy}}
	e := newExecutor(t, s, 0)

	cmds := []command.Command{{Kind: command.KindCreateDocument}}
	result, err := e.Run(context.Background(), cmds, Hooks{})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if result.Results[0].Attempts != 2 || result.Results[0].Retries != 1 {
		t.Errorf("retry accounting = %+v", result.Results[0])
	}
	if s.calls != 2 {
		t.Errorf("session calls = %d, want 2", s.calls)
	}
}

func TestRunReconnectsMidBatchAndResumes(t *testing.T) {
	// The connection drops on the third command's first attempt. The
	// batch must reconnect, replay that attempt, and finish the rest.
	s := &fakeSession{failOn: map[int]error{3: fault.ErrConnectionLost}}
	e := newExecutor(t, s, 0)

	cmds := []command.Command{
		{Kind: command.KindCreateDocument},
		{Kind: command.KindInsertText, Params: command.Params{"text": "a"}},
		{Kind: command.KindInsertParagraph},
		{Kind: command.KindInsertText, Params: command.Params{"text": "b"}},
	}
	result, err := e.Run(context.Background(), cmds, Hooks{})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if result.Status != StatusSucceeded {
		t.Errorf("Status = %q, want succeeded", result.Status)
	}
	for i, r := range result.Results {
		if r.Status != StatusSucceeded {
			t.Errorf("Results[%d].Status = %q, want succeeded", i, r.Status)
		}
	}
	if r := result.Results[2]; r.Retries != 1 || r.Reconnects != 1 {
		t.Errorf("third command accounting = %+v, want 1 retry and 1 reconnect", r)
	}
	if s.reconnects != 1 {
		t.Errorf("session reconnects = %d, want 1", s.reconnects)
	}

	wantOps := []string{"create_document", "insert_text", "insert_paragraph", "insert_paragraph", "insert_text"}
	if len(s.ops) != len(wantOps) {
		t.Fatalf("ops = %v", s.ops)
	}
	for i, op := range wantOps {
		if s.ops[i] != op {
			t.Errorf("ops[%d] = %q, want %q", i, s.ops[i], op)
		}
	}
}

func TestRunMixedChunkedAndAtomicUnits(t *testing.T) {
	s := &fakeSession{}
	e := newExecutor(t, s, 2)

	var progress [][3]int
	cmds := []command.Command{
		{Kind: command.KindCreateTable, Params: command.Params{"rows": 4, "cols": 1}},
		{Kind: command.KindFillTable, Params: command.Params{
			"table_index": 0, "rows": fillRows(4),
		}},
	}
	result, err := e.Run(context.Background(), cmds, Hooks{
		Progress: func(done, total, idx int) {
			progress = append(progress, [3]int{done, total, idx})
		},
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if result.TotalUnits != 5 {
		t.Errorf("TotalUnits = %d, want 1 + 4", result.TotalUnits)
	}
	want := [][3]int{{1, 5, 0}, {3, 5, 1}, {5, 5, 1}}
	if len(progress) != len(want) {
		t.Fatalf("progress = %v", progress)
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Errorf("progress[%d] = %v, want %v", i, progress[i], want[i])
		}
	}
}

func TestRunCancelledBeforeFirstCommand(t *testing.T) {
	s := &fakeSession{}
	e := newExecutor(t, s, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cmds := []command.Command{{Kind: command.KindCreateDocument}}
	result, err := e.Run(ctx, cmds, Hooks{})

	var cancErr *fault.CancelledError
	if !errors.As(err, &cancErr) {
		t.Fatalf("error = %v, want *fault.CancelledError", err)
	}
	if s.calls != 0 {
		t.Errorf("session calls = %d, want 0", s.calls)
	}
	if result.Status != StatusFailed {
		t.Errorf("Status = %s, nothing applied", result.Status)
	}
}

func TestRunContinueOnErrorRunsPastFailure(t *testing.T) {
	stateErr := &fault.StateError{
		Requirement:  "table exists",
		CommandIndex: fault.NoIndex,
		Message:      "no table at index 3",
	}
	s := &fakeSession{failOn: map[int]error{2: stateErr}}
	e, err := New(Config{
		Registry:        command.NewCatalog(),
		Session:         s,
		Policy:          fastRetry(),
		ContinueOnError: true,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	cmds := []command.Command{
		{Kind: command.KindCreateDocument},
		{Kind: command.KindFillTableCell, Params: command.Params{"table_index": 3, "row": 0, "col": 0, "text": "x"}},
		{Kind: command.KindInsertText, Params: command.Params{"text": "still runs"}},
	}
	result, runErr := e.Run(context.Background(), cmds, Hooks{})

	if runErr == nil {
		t.Fatal("expected the first failure back")
	}
	if !errors.Is(runErr, stateErr) {
		t.Errorf("error = %v, want the command failure in the chain", runErr)
	}
	if s.calls != 3 {
		t.Errorf("session calls = %d, the batch must run past the failure", s.calls)
	}
	if result.Status != StatusPartial {
		t.Errorf("Status = %s, want partial", result.Status)
	}
	if result.CompletedUnits != 2 {
		t.Errorf("CompletedUnits = %d, want 2", result.CompletedUnits)
	}
	statuses := []Status{StatusSucceeded, StatusFailed, StatusSucceeded}
	for i, want := range statuses {
		if result.Results[i].Status != want {
			t.Errorf("Results[%d].Status = %s, want %s", i, result.Results[i].Status, want)
		}
	}
	if result.Results[1].Error == nil || result.Results[1].Error.Kind != "state" {
		t.Errorf("Results[1].Error = %+v", result.Results[1].Error)
	}
	if result.FirstError == nil || result.FirstError.CommandIndex != 1 {
		t.Errorf("FirstError = %+v", result.FirstError)
	}
}

func TestRunContinueOnErrorAllFail(t *testing.T) {
	boom := func(msg string) error {
		return &fault.StateError{Requirement: "open document", CommandIndex: fault.NoIndex, Message: msg}
	}
	first := boom("first")
	s := &fakeSession{failOn: map[int]error{1: first, 2: boom("second")}}
	e, err := New(Config{
		Registry:        command.NewCatalog(),
		Session:         s,
		Policy:          fastRetry(),
		ContinueOnError: true,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	cmds := []command.Command{
		{Kind: command.KindInsertText, Params: command.Params{"text": "a"}},
		{Kind: command.KindInsertText, Params: command.Params{"text": "b"}},
	}
	result, runErr := e.Run(context.Background(), cmds, Hooks{})

	if !errors.Is(runErr, first) {
		t.Errorf("error = %v, want the first failure", runErr)
	}
	if result.Status != StatusFailed {
		t.Errorf("Status = %s, want failed when nothing applied", result.Status)
	}
	for i, r := range result.Results {
		if r.Status != StatusFailed {
			t.Errorf("Results[%d].Status = %s", i, r.Status)
		}
	}
	if s.calls != 2 {
		t.Errorf("session calls = %d, want 2", s.calls)
	}
}
