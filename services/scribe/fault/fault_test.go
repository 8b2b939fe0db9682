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
	"fmt"
	"strings"
	"testing"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindConnection, "connection"},
		{KindValidation, "validation"},
		{KindState, "state"},
		{KindPartial, "partial_failure"},
		{KindRollback, "rollback_failure"},
		{KindCancelled, "cancelled"},
		{KindUnknown, "unknown"},
		{Kind(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.want {
				t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection lost sentinel", ErrConnectionLost, true},
		{"busy sentinel", ErrResourceBusy, true},
		{"attempt timeout sentinel", ErrAttemptTimeout, true},
		{"wrapped busy", fmt.Errorf("call failed: %w", ErrResourceBusy), true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"context cancelled", context.Canceled, false},
		{"connection error type", &ConnectionError{Cause: ErrNotConnected, CommandIndex: NoIndex, ChunkIndex: NoIndex}, true},
		{"validation error", &ValidationError{Message: "bad kind", CommandIndex: NoIndex}, false},
		{"state error", &StateError{Requirement: "open document", Message: "none open", CommandIndex: NoIndex}, false},
		{"cancelled error", &CancelledError{CommandIndex: 2, ChunkIndex: 1}, false},
		{"rollback error", &RollbackError{CommandIndex: 0, Cause: errors.New("boom")}, false},
		{"partial error", &PartialError{CommandIndex: 1, ChunkIndex: 2, Cause: ErrConnectionLost}, false},
		{"unclassified", errors.New("something odd"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsConnection(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"not connected", ErrNotConnected, true},
		{"connection lost wrapped", fmt.Errorf("invoke: %w", ErrConnectionLost), true},
		{"connection error type", &ConnectionError{CommandIndex: NoIndex, ChunkIndex: NoIndex}, true},
		{"busy is not connection", ErrResourceBusy, false},
		{"validation is not connection", &ValidationError{Message: "x", CommandIndex: NoIndex}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConnection(tt.err); got != tt.want {
				t.Errorf("IsConnection(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"validation", &ValidationError{Message: "x", CommandIndex: NoIndex}, KindValidation},
		{"state", &StateError{Message: "x", CommandIndex: NoIndex}, KindState},
		{"connection", &ConnectionError{CommandIndex: NoIndex, ChunkIndex: NoIndex}, KindConnection},
		{"cancelled", &CancelledError{CommandIndex: 0, ChunkIndex: NoIndex}, KindCancelled},
		{"rollback", &RollbackError{CommandIndex: 0}, KindRollback},
		{"unclassified maps to connection", errors.New("mystery"), KindConnection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestKindOfPartialWrappingConnection(t *testing.T) {
	// A partial failure wrapping a connection cause must classify as
	// partial, not as the inner connection kind.
	err := &PartialError{
		CommandIndex:   3,
		ChunkIndex:     1,
		CommittedUnits: 100,
		TotalUnits:     250,
		Cause:          &ConnectionError{Cause: ErrConnectionLost, CommandIndex: NoIndex, ChunkIndex: NoIndex},
	}

	if got := KindOf(err); got != KindPartial {
		t.Errorf("KindOf = %v, want KindPartial", got)
	}
	if !IsConnection(err) {
		t.Error("IsConnection should still see the wrapped connection cause")
	}
}

func TestKindOfRollbackOutranksPartial(t *testing.T) {
	// A failed undo wrapping the partial failure that triggered it must
	// classify as rollback, whatever the primary was.
	primary := &PartialError{
		CommandIndex:   2,
		ChunkIndex:     0,
		CommittedUnits: 10,
		TotalUnits:     40,
		Cause:          &StateError{Message: "no table at cursor", CommandIndex: NoIndex},
	}
	err := &RollbackError{
		CommandIndex: 1,
		ChunkIndex:   NoIndex,
		Op:           "create_table",
		Cause:        primary,
	}

	if got := KindOf(err); got != KindRollback {
		t.Errorf("KindOf = %v, want KindRollback", got)
	}
	d := Describe(err)
	if d.CommandIndex != 1 {
		t.Errorf("CommandIndex = %d, want the compensated step's 1", d.CommandIndex)
	}
}

func TestDescribe(t *testing.T) {
	err := &PartialError{
		CommandIndex:   4,
		ChunkIndex:     2,
		CommittedUnits: 200,
		TotalUnits:     500,
		Cause:          ErrConnectionLost,
	}

	d := Describe(err)
	if d.Kind != "partial_failure" {
		t.Errorf("Kind = %q, want partial_failure", d.Kind)
	}
	if d.CommandIndex != 4 {
		t.Errorf("CommandIndex = %d, want 4", d.CommandIndex)
	}
	if d.ChunkIndex != 2 {
		t.Errorf("ChunkIndex = %d, want 2", d.ChunkIndex)
	}
	if !strings.Contains(d.Message, "200/500") {
		t.Errorf("Message = %q, want committed units mentioned", d.Message)
	}
}

func TestDescribeUnclassified(t *testing.T) {
	d := Describe(errors.New("driver went sideways"))
	if d.Kind != "connection" {
		t.Errorf("Kind = %q, want connection", d.Kind)
	}
	if d.CommandIndex != NoIndex || d.ChunkIndex != NoIndex {
		t.Errorf("indices = (%d, %d), want (%d, %d)", d.CommandIndex, d.ChunkIndex, NoIndex, NoIndex)
	}
}

func TestLocateStampsUnsetIndices(t *testing.T) {
	err := fmt.Errorf("invoke: %w", &ConnectionError{
		Op:           "insert_text",
		CommandIndex: NoIndex,
		ChunkIndex:   NoIndex,
		Cause:        ErrConnectionLost,
	})

	located := Locate(err, 5, 1)

	var connErr *ConnectionError
	if !errors.As(located, &connErr) {
		t.Fatal("connection error lost from chain")
	}
	if connErr.CommandIndex != 5 {
		t.Errorf("CommandIndex = %d, want 5", connErr.CommandIndex)
	}
	if connErr.ChunkIndex != 1 {
		t.Errorf("ChunkIndex = %d, want 1", connErr.ChunkIndex)
	}
}

func TestLocatePreservesExistingIndices(t *testing.T) {
	err := &ValidationError{Field: "rows", Message: "too many", CommandIndex: 2}

	Locate(err, 7, 0)

	if err.CommandIndex != 2 {
		t.Errorf("CommandIndex = %d, want original 2", err.CommandIndex)
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want []string
	}{
		{
			"connection with op and attempts",
			&ConnectionError{Op: "fill_table", Attempts: 4, Cause: ErrConnectionLost, CommandIndex: NoIndex, ChunkIndex: NoIndex},
			[]string{"fill_table", "4 attempts", "connection to editing resource lost"},
		},
		{
			"validation with field",
			&ValidationError{Field: "size", Message: "must be between 1 and 409", CommandIndex: NoIndex},
			[]string{`"size"`, "between 1 and 409"},
		},
		{
			"state with requirement",
			&StateError{Requirement: "table selected", Message: "no table at cursor", CommandIndex: NoIndex},
			[]string{"table selected", "no table at cursor"},
		},
		{
			"rollback with op",
			&RollbackError{CommandIndex: 3, Op: "create_table", Cause: errors.New("drop refused")},
			[]string{"command 3", "create_table", "drop refused"},
		},
		{
			"cancelled at chunk boundary",
			&CancelledError{CommandIndex: 2, ChunkIndex: 2, Cause: context.Canceled},
			[]string{"chunk 2", "command 2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, frag := range tt.want {
				if !strings.Contains(msg, frag) {
					t.Errorf("Error() = %q, missing %q", msg, frag)
				}
			}
		})
	}
}

func TestUnwrapChains(t *testing.T) {
	root := errors.New("socket closed")
	err := &ConnectionError{Cause: fmt.Errorf("read frame: %w", root), CommandIndex: NoIndex, ChunkIndex: NoIndex}

	if !errors.Is(err, root) {
		t.Error("errors.Is should reach the root cause through Unwrap")
	}
}
