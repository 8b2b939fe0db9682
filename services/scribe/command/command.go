// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package command defines the editing commands the processor can run and
// the registry that binds each command kind to its forward executor and,
// where one exists, its compensator.
//
// A command is data: a kind plus a parameter map. The binding resolved
// from the registry is behavior: how to run the command against a
// session, how to validate its parameters before any session traffic,
// and how to undo it during rollback.
package command

import (
	"context"
	"fmt"

	"github.com/AleutianAI/ScribeFOSS/services/scribe/fault"
)

// ----------------------------------------------------------------------------
// Kinds
// ----------------------------------------------------------------------------

// Kind names a command type. The value doubles as the wire operation
// name sent to the editing engine.
type Kind string

const (
	KindCreateDocument  Kind = "create_document"
	KindOpenDocument    Kind = "open_document"
	KindSaveDocument    Kind = "save_document"
	KindInsertText      Kind = "insert_text"
	KindInsertParagraph Kind = "insert_paragraph"
	KindSetFontStyle    Kind = "set_font_style"
	KindCreateTable     Kind = "create_table"
	KindFillTableCell   Kind = "fill_table_cell"
	KindFillTable       Kind = "fill_table"
	KindInsertImage     Kind = "insert_image"
	KindFindReplace     Kind = "find_replace"
	KindSetPageLayout   Kind = "set_page_layout"
)

// Kinds returns every kind the catalog knows, in catalog order.
func Kinds() []Kind {
	return []Kind{
		KindCreateDocument,
		KindOpenDocument,
		KindSaveDocument,
		KindInsertText,
		KindInsertParagraph,
		KindSetFontStyle,
		KindCreateTable,
		KindFillTableCell,
		KindFillTable,
		KindInsertImage,
		KindFindReplace,
		KindSetPageLayout,
	}
}

// ParseKind validates a wire name.
//
// Outputs:
//   - Kind: The matching kind.
//   - error: *fault.ValidationError when s names no known command.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", &fault.ValidationError{
		Field:        "kind",
		CommandIndex: fault.NoIndex,
		Message:      fmt.Sprintf("unknown command kind %q", s),
	}
}

func (k Kind) String() string { return string(k) }

// ----------------------------------------------------------------------------
// Commands and bindings
// ----------------------------------------------------------------------------

// Params carries a command's input fields. Values follow JSON decoding
// conventions: numbers may arrive as float64.
type Params map[string]any

// Output carries what a forward execution produced. Compensators read
// their inverse parameters from here.
type Output map[string]any

// Invoker is the slice of a session the command layer needs.
// *bridge.Session satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, op string, params map[string]any) (map[string]any, error)
}

// Forward runs a command against the session and returns its output.
type Forward func(ctx context.Context, s Invoker, p Params) (Output, error)

// Compensator undoes a previously applied command. It receives the
// original parameters and the output the forward execution returned.
type Compensator func(ctx context.Context, s Invoker, p Params, applied Output) error

// ValidateFunc checks parameters without touching the session.
type ValidateFunc func(p Params) error

// ChunkSpec describes how a command's work splits into units that can be
// applied in separate session calls. Commands without a ChunkSpec are
// atomic: one unit, one call.
type ChunkSpec struct {
	// Units reports how many units p carries.
	Units func(p Params) int

	// Window returns a derived parameter map covering units
	// [start, start+count). The original map is not modified.
	Window func(p Params, start, count int) Params

	// Fold merges one window's output into the running total for
	// reporting. total is nil on the first call.
	Fold func(total, window Output) Output
}

// Binding ties a kind to its behavior.
type Binding struct {
	Kind        Kind
	Forward     Forward
	Compensator Compensator // nil marks the command irreversible
	Validate    ValidateFunc
	Chunk       *ChunkSpec
}

// Reversible reports whether the binding can be undone after it applied.
func (b Binding) Reversible() bool { return b.Compensator != nil }

// Command is one unit of a batch: what to do and with which inputs.
type Command struct {
	Kind   Kind   `json:"kind" yaml:"kind"`
	Params Params `json:"params,omitempty" yaml:"params,omitempty"`
}
