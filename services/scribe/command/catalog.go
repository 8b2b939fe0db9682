// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package command

import (
	"context"
	"fmt"

	"github.com/AleutianAI/ScribeFOSS/pkg/validation"
)

const (
	// MaxTableDim caps table rows and columns. Engines enforce the same
	// bound; checking here keeps a bad batch from reaching the session.
	MaxTableDim = 100

	// maxFontPt is the largest point size the engines accept.
	maxFontPt = 409
)

// NewCatalog builds a registry with every built-in command bound.
//
// Panics when a built-in binding fails registration, which can only
// happen through a programming error in this file.
func NewCatalog() *Registry {
	r := NewRegistry()
	for _, b := range builtins() {
		if err := r.Register(b); err != nil {
			panic(fmt.Sprintf("command catalog: %v", err))
		}
	}
	return r
}

func builtins() []Binding {
	return []Binding{
		{
			Kind:        KindCreateDocument,
			Forward:     passthrough(KindCreateDocument),
			Compensator: discardDocument,
		},
		{
			Kind:        KindOpenDocument,
			Forward:     passthrough(KindOpenDocument),
			Compensator: discardDocument,
			Validate:    validateOpenDocument,
		},
		{
			// Saving writes the file; there is nothing safe to undo.
			Kind:     KindSaveDocument,
			Forward:  passthrough(KindSaveDocument),
			Validate: validateSaveDocument,
		},
		{
			Kind:        KindInsertText,
			Forward:     passthrough(KindInsertText),
			Compensator: deleteInsertedRange,
			Validate:    validateInsertText,
		},
		{
			Kind:        KindInsertParagraph,
			Forward:     passthrough(KindInsertParagraph),
			Compensator: deleteParagraph,
		},
		{
			Kind:        KindSetFontStyle,
			Forward:     passthrough(KindSetFontStyle),
			Compensator: restoreSnapshot,
			Validate:    validateSetFontStyle,
		},
		{
			Kind:        KindCreateTable,
			Forward:     passthrough(KindCreateTable),
			Compensator: dropTable,
			Validate:    validateCreateTable,
		},
		{
			Kind:        KindFillTableCell,
			Forward:     passthrough(KindFillTableCell),
			Compensator: restoreSnapshot,
			Validate:    validateFillTableCell,
		},
		{
			Kind:        KindFillTable,
			Forward:     passthrough(KindFillTable),
			Compensator: restoreSnapshot,
			Validate:    validateFillTable,
			Chunk:       fillTableChunks(),
		},
		{
			Kind:        KindInsertImage,
			Forward:     passthrough(KindInsertImage),
			Compensator: removeImage,
			Validate:    validateInsertImage,
		},
		{
			Kind:        KindFindReplace,
			Forward:     passthrough(KindFindReplace),
			Compensator: restoreSnapshot,
			Validate:    validateFindReplace,
		},
		{
			// Layout has no snapshot on any engine; treat as irreversible.
			Kind:     KindSetPageLayout,
			Forward:  passthrough(KindSetPageLayout),
			Validate: validateSetPageLayout,
		},
	}
}

// ----------------------------------------------------------------------------
// Forward executors
// ----------------------------------------------------------------------------

// passthrough forwards the parameter map unchanged; the kind doubles as
// the wire operation name.
func passthrough(k Kind) Forward {
	return func(ctx context.Context, s Invoker, p Params) (Output, error) {
		out, err := s.Invoke(ctx, string(k), p)
		if err != nil {
			return nil, err
		}
		return Output(out), nil
	}
}

// ----------------------------------------------------------------------------
// Compensators
// ----------------------------------------------------------------------------

func discardDocument(ctx context.Context, s Invoker, _ Params, applied Output) error {
	_, err := s.Invoke(ctx, "close_document_discard", map[string]any{
		"doc_id":          applied["doc_id"],
		"previous_doc_id": applied["previous_doc_id"],
	})
	return err
}

func deleteInsertedRange(ctx context.Context, s Invoker, _ Params, applied Output) error {
	_, err := s.Invoke(ctx, "delete_inserted_range", map[string]any{
		"paragraph":         applied["paragraph"],
		"offset":            applied["offset"],
		"length":            applied["length"],
		"created_paragraph": applied["created_paragraph"],
	})
	return err
}

func deleteParagraph(ctx context.Context, s Invoker, _ Params, applied Output) error {
	_, err := s.Invoke(ctx, "delete_paragraph", map[string]any{
		"paragraph": applied["paragraph"],
	})
	return err
}

func restoreSnapshot(ctx context.Context, s Invoker, _ Params, applied Output) error {
	_, err := s.Invoke(ctx, "restore_snapshot", map[string]any{
		"snapshot_id": applied["snapshot_id"],
	})
	return err
}

func dropTable(ctx context.Context, s Invoker, _ Params, applied Output) error {
	_, err := s.Invoke(ctx, "drop_table", map[string]any{
		"table_index": applied["table_index"],
	})
	return err
}

func removeImage(ctx context.Context, s Invoker, _ Params, applied Output) error {
	_, err := s.Invoke(ctx, "remove_image", map[string]any{
		"image_index": applied["image_index"],
	})
	return err
}

// ----------------------------------------------------------------------------
// Validators
// ----------------------------------------------------------------------------

func validateOpenDocument(p Params) error {
	path, err := stringField(p, "path", false)
	if err != nil {
		return err
	}
	if err := validation.ValidateDocumentPath(path); err != nil {
		return fieldErr("path", err.Error())
	}
	return nil
}

func validateSaveDocument(p Params) error {
	path, err := optionalString(p, "path")
	if err != nil {
		return err
	}
	if path == "" {
		return nil
	}
	if err := validation.ValidateDocumentPath(path); err != nil {
		return fieldErr("path", err.Error())
	}
	return nil
}

func validateInsertText(p Params) error {
	_, err := stringField(p, "text", true)
	return err
}

func validateSetFontStyle(p Params) error {
	if size, ok, err := optionalInt(p, "size"); err != nil {
		return err
	} else if ok && (size < 1 || size > maxFontPt) {
		return fieldErr("size", fmt.Sprintf("must be between 1 and %d points", maxFontPt))
	}
	for _, key := range []string{"bold", "italic", "underline"} {
		if _, err := optionalBool(p, key); err != nil {
			return err
		}
	}
	_, err := optionalString(p, "name")
	return err
}

func validateCreateTable(p Params) error {
	rows, err := intField(p, "rows")
	if err != nil {
		return err
	}
	cols, err := intField(p, "cols")
	if err != nil {
		return err
	}
	if rows < 1 || rows > MaxTableDim {
		return fieldErr("rows", fmt.Sprintf("must be between 1 and %d", MaxTableDim))
	}
	if cols < 1 || cols > MaxTableDim {
		return fieldErr("cols", fmt.Sprintf("must be between 1 and %d", MaxTableDim))
	}
	return nil
}

func validateFillTableCell(p Params) error {
	for _, key := range []string{"table_index", "row", "col"} {
		n, err := intField(p, key)
		if err != nil {
			return err
		}
		if n < 0 {
			return fieldErr(key, "must not be negative")
		}
	}
	_, err := stringField(p, "text", true)
	return err
}

func validateFillTable(p Params) error {
	tableIndex, err := intField(p, "table_index")
	if err != nil {
		return err
	}
	if tableIndex < 0 {
		return fieldErr("table_index", "must not be negative")
	}
	if startRow, ok, err := optionalInt(p, "start_row"); err != nil {
		return err
	} else if ok && startRow < 0 {
		return fieldErr("start_row", "must not be negative")
	}
	rows, err := rowsField(p, "rows")
	if err != nil {
		return err
	}
	for i, row := range rows {
		if len(row) == 0 {
			return fieldErr("rows", fmt.Sprintf("row %d is empty", i))
		}
		if len(row) > MaxTableDim {
			return fieldErr("rows", fmt.Sprintf("row %d exceeds %d cells", i, MaxTableDim))
		}
	}
	return nil
}

func validateInsertImage(p Params) error {
	path, err := stringField(p, "path", false)
	if err != nil {
		return err
	}
	if err := validation.ValidateImagePath(path); err != nil {
		return fieldErr("path", err.Error())
	}
	for _, key := range []string{"width", "height"} {
		if n, ok, err := optionalInt(p, key); err != nil {
			return err
		} else if ok && n < 1 {
			return fieldErr(key, "must be positive")
		}
	}
	return nil
}

func validateFindReplace(p Params) error {
	if _, err := stringField(p, "find", false); err != nil {
		return err
	}
	if _, err := stringField(p, "replace", true); err != nil {
		return err
	}
	_, err := optionalBool(p, "match_case")
	return err
}

func validateSetPageLayout(p Params) error {
	orientation, err := optionalString(p, "orientation")
	if err != nil {
		return err
	}
	if orientation != "" && orientation != "portrait" && orientation != "landscape" {
		return fieldErr("orientation", `must be "portrait" or "landscape"`)
	}
	for _, key := range []string{"margin_top_mm", "margin_bottom_mm", "margin_left_mm", "margin_right_mm"} {
		if n, ok, err := optionalInt(p, key); err != nil {
			return err
		} else if ok && n < 0 {
			return fieldErr(key, "must not be negative")
		}
	}
	return nil
}

// ----------------------------------------------------------------------------
// Chunking
// ----------------------------------------------------------------------------

// fillTableChunks splits a region fill by rows. Each window is applied
// and compensated independently; Fold only aggregates the reported
// output.
func fillTableChunks() *ChunkSpec {
	return &ChunkSpec{
		Units: func(p Params) int {
			rows, err := rowsField(p, "rows")
			if err != nil {
				return 0
			}
			return len(rows)
		},
		Window: func(p Params, start, count int) Params {
			rows, err := rowsField(p, "rows")
			if err != nil {
				return p
			}
			base, _, _ := optionalInt(p, "start_row")

			w := make(Params, len(p))
			for k, v := range p {
				w[k] = v
			}
			w["rows"] = rows[start : start+count]
			w["start_row"] = base + start
			return w
		},
		Fold: func(total, window Output) Output {
			if total == nil {
				total = Output{"rows_written": 0, "snapshot_ids": []string{}}
			}
			if n, ok, err := optionalInt(Params(window), "rows_written"); ok && err == nil {
				prev, _, _ := optionalInt(Params(total), "rows_written")
				total["rows_written"] = prev + n
			}
			if id, ok := window["snapshot_id"].(string); ok {
				ids, _ := total["snapshot_ids"].([]string)
				total["snapshot_ids"] = append(ids, id)
			}
			return total
		},
	}
}
