// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memdoc is an in-process document engine implementing the bridge
// Driver interface.
//
// It models the external editor faithfully enough to exercise the whole
// pipeline without one: documents with paragraphs, tables, images, font and
// page state; precondition refusals as typed state faults; and one-shot
// snapshots that back the restore operations compensators rely on.
//
// Document state survives Close/Open cycles, matching a real editor whose
// process outlives the control connection. Only the connection flag cycles.
//
// memdoc backs unit and integration tests, `scribe run --dry-run`, and any
// deployment that wants batch semantics without a live editor.
package memdoc

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/AleutianAI/ScribeFOSS/services/scribe/fault"
)

// MaxTableDim is the largest row or column count the engine accepts for a
// single table.
const MaxTableDim = 100

// Config controls engine behavior.
type Config struct {
	// Latency is an artificial per-call delay, useful for exercising
	// timeout and cancellation paths in tests. Default: 0.
	Latency time.Duration
}

// Driver is the in-process editing engine.
//
// Thread Safety: all methods are safe for concurrent use. The session layer
// serializes Call anyway; the internal lock additionally protects the
// inspection methods used by tests while calls are in flight.
type Driver struct {
	mu        sync.Mutex
	open      bool
	latency   time.Duration
	docs      map[string]*document
	activeID  string
	docSeq    int
	snapSeq   int
	snapshots map[string]*snapshot
}

// New creates an engine with no open documents.
func New(cfg Config) *Driver {
	return &Driver{
		latency:   cfg.Latency,
		docs:      make(map[string]*document),
		snapshots: make(map[string]*snapshot),
	}
}

// Open marks the control connection live. Document state is retained from
// any previous connection.
func (d *Driver) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = true
	return nil
}

// Close drops the control connection, keeping document state.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	return nil
}

// Call dispatches one wire operation.
func (d *Driver) Call(ctx context.Context, op string, params map[string]any) (map[string]any, error) {
	if d.latency > 0 {
		timer := time.NewTimer(d.latency)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return nil, fault.ErrConnectionLost
	}

	switch op {
	case "create_document":
		return d.createDocument()
	case "open_document":
		return d.openDocument(params)
	case "save_document":
		return d.saveDocument(params)
	case "insert_text":
		return d.insertText(params)
	case "insert_paragraph":
		return d.insertParagraph()
	case "set_font_style":
		return d.setFontStyle(params)
	case "create_table":
		return d.createTable(params)
	case "fill_table_cell":
		return d.fillTableCell(params)
	case "fill_table":
		return d.fillTable(params)
	case "insert_image":
		return d.insertImage(params)
	case "find_replace":
		return d.findReplace(params)
	case "set_page_layout":
		return d.setPageLayout(params)
	case "close_document_discard":
		return d.closeDocumentDiscard(params)
	case "delete_inserted_range":
		return d.deleteInsertedRange(params)
	case "delete_paragraph":
		return d.deleteParagraph(params)
	case "drop_table":
		return d.dropTable(params)
	case "remove_image":
		return d.removeImage(params)
	case "restore_snapshot":
		return d.restoreSnapshot(params)
	default:
		return nil, &fault.ValidationError{
			CommandIndex: fault.NoIndex,
			Message:      fmt.Sprintf("engine does not implement operation %q", op),
		}
	}
}

// active returns the active document or a state fault when none is open.
func (d *Driver) active() (*document, error) {
	if d.activeID == "" {
		return nil, &fault.StateError{
			Requirement:  "open document",
			CommandIndex: fault.NoIndex,
			Message:      "no document is open",
		}
	}
	doc, ok := d.docs[d.activeID]
	if !ok {
		return nil, &fault.StateError{
			Requirement:  "open document",
			CommandIndex: fault.NoIndex,
			Message:      fmt.Sprintf("active document %q no longer exists", d.activeID),
		}
	}
	return doc, nil
}

func (d *Driver) takeSnapshot(s *snapshot) string {
	d.snapSeq++
	s.id = fmt.Sprintf("snap-%d", d.snapSeq)
	d.snapshots[s.id] = s
	return s.id
}

// =============================================================================
// Forward Operations
// =============================================================================

func (d *Driver) createDocument() (map[string]any, error) {
	prev := d.activeID
	d.docSeq++
	id := fmt.Sprintf("doc-%d", d.docSeq)
	d.docs[id] = newDocument(id)
	d.activeID = id
	return map[string]any{"doc_id": id, "previous_doc_id": prev}, nil
}

func (d *Driver) openDocument(params map[string]any) (map[string]any, error) {
	path, err := strParam(params, "path")
	if err != nil {
		return nil, err
	}
	prev := d.activeID
	d.docSeq++
	id := fmt.Sprintf("doc-%d", d.docSeq)
	doc := newDocument(id)
	doc.path = path
	doc.saved = true
	d.docs[id] = doc
	d.activeID = id
	return map[string]any{"doc_id": id, "previous_doc_id": prev, "path": path}, nil
}

func (d *Driver) saveDocument(params map[string]any) (map[string]any, error) {
	doc, err := d.active()
	if err != nil {
		return nil, err
	}
	if path := optStrParam(params, "path"); path != "" {
		doc.path = path
	}
	if doc.path == "" {
		return nil, &fault.StateError{
			Requirement:  "document path",
			CommandIndex: fault.NoIndex,
			Message:      "document has never been saved and no path was given",
		}
	}
	doc.saved = true
	return map[string]any{"path": doc.path}, nil
}

func (d *Driver) insertText(params map[string]any) (map[string]any, error) {
	doc, err := d.active()
	if err != nil {
		return nil, err
	}
	text, err := strAllowEmptyParam(params, "text")
	if err != nil {
		return nil, err
	}

	created := false
	if len(doc.paras) == 0 {
		doc.paras = append(doc.paras, "")
		created = true
	}
	para := len(doc.paras) - 1
	offset := len(doc.paras[para])
	doc.paras[para] += text

	return map[string]any{
		"paragraph":         para,
		"offset":            offset,
		"length":            len(text),
		"created_paragraph": created,
	}, nil
}

func (d *Driver) insertParagraph() (map[string]any, error) {
	doc, err := d.active()
	if err != nil {
		return nil, err
	}
	doc.paras = append(doc.paras, "")
	return map[string]any{"paragraph": len(doc.paras) - 1}, nil
}

func (d *Driver) setFontStyle(params map[string]any) (map[string]any, error) {
	doc, err := d.active()
	if err != nil {
		return nil, err
	}

	next := doc.font
	if name := optStrParam(params, "name"); name != "" {
		next.name = name
	}
	if size, ok, err := optIntParam(params, "size"); err != nil {
		return nil, err
	} else if ok {
		if size < 1 || size > 409 {
			return nil, &fault.ValidationError{
				Field:        "size",
				CommandIndex: fault.NoIndex,
				Message:      fmt.Sprintf("font size %d outside 1..409", size),
			}
		}
		next.size = size
	}
	if v, ok := params["bold"].(bool); ok {
		next.bold = v
	}
	if v, ok := params["italic"].(bool); ok {
		next.italic = v
	}
	if v, ok := params["underline"].(bool); ok {
		next.underline = v
	}

	snapID := d.takeSnapshot(&snapshot{docID: doc.id, kind: snapFont, font: doc.font})
	doc.font = next
	return map[string]any{"snapshot_id": snapID}, nil
}

func (d *Driver) createTable(params map[string]any) (map[string]any, error) {
	doc, err := d.active()
	if err != nil {
		return nil, err
	}
	rows, err := intParam(params, "rows")
	if err != nil {
		return nil, err
	}
	cols, err := intParam(params, "cols")
	if err != nil {
		return nil, err
	}
	if rows < 1 || rows > MaxTableDim || cols < 1 || cols > MaxTableDim {
		return nil, &fault.ValidationError{
			Field:        "rows",
			CommandIndex: fault.NoIndex,
			Message:      fmt.Sprintf("table geometry %dx%d outside 1..%d", rows, cols, MaxTableDim),
		}
	}

	doc.tables = append(doc.tables, newTable(rows, cols))
	return map[string]any{"table_index": len(doc.tables) - 1}, nil
}

func (d *Driver) fillTableCell(params map[string]any) (map[string]any, error) {
	doc, err := d.active()
	if err != nil {
		return nil, err
	}
	tableIndex, err := intParam(params, "table_index")
	if err != nil {
		return nil, err
	}
	row, err := intParam(params, "row")
	if err != nil {
		return nil, err
	}
	col, err := intParam(params, "col")
	if err != nil {
		return nil, err
	}
	text, err := strAllowEmptyParam(params, "text")
	if err != nil {
		return nil, err
	}

	t, err := doc.table(tableIndex)
	if err != nil {
		return nil, err
	}
	c, err := t.cell(row, col)
	if err != nil {
		return nil, err
	}

	snapID := d.takeSnapshot(&snapshot{
		docID:      doc.id,
		kind:       snapCell,
		tableIndex: tableIndex,
		row:        row,
		col:        col,
		cellValue:  *c,
	})
	*c = text
	return map[string]any{"snapshot_id": snapID}, nil
}

func (d *Driver) fillTable(params map[string]any) (map[string]any, error) {
	doc, err := d.active()
	if err != nil {
		return nil, err
	}
	tableIndex, err := intParam(params, "table_index")
	if err != nil {
		return nil, err
	}
	startRow, err := intParam(params, "start_row")
	if err != nil {
		return nil, err
	}
	rows, err := rowsParam(params, "rows")
	if err != nil {
		return nil, err
	}

	t, err := doc.table(tableIndex)
	if err != nil {
		return nil, err
	}
	if startRow < 0 || startRow+len(rows) > t.rows {
		return nil, &fault.StateError{
			Requirement:  "rows inside table",
			CommandIndex: fault.NoIndex,
			Message: fmt.Sprintf("rows %d..%d outside table with %d rows",
				startRow, startRow+len(rows)-1, t.rows),
		}
	}
	for i, row := range rows {
		if len(row) > t.cols {
			return nil, &fault.StateError{
				Requirement:  "row width inside table",
				CommandIndex: fault.NoIndex,
				Message:      fmt.Sprintf("row %d has %d cells, table has %d columns", startRow+i, len(row), t.cols),
			}
		}
	}

	// Capture the full prior region before writing anything.
	prior := make([][]string, len(rows))
	for i := range rows {
		prior[i] = append([]string(nil), t.cells[startRow+i]...)
	}
	snapID := d.takeSnapshot(&snapshot{
		docID:      doc.id,
		kind:       snapRegion,
		tableIndex: tableIndex,
		startRow:   startRow,
		rowData:    prior,
	})

	for i, row := range rows {
		copy(t.cells[startRow+i], row)
	}
	return map[string]any{"snapshot_id": snapID, "rows_written": len(rows)}, nil
}

func (d *Driver) insertImage(params map[string]any) (map[string]any, error) {
	doc, err := d.active()
	if err != nil {
		return nil, err
	}
	path, err := strParam(params, "path")
	if err != nil {
		return nil, err
	}
	width, _, err := optIntParam(params, "width")
	if err != nil {
		return nil, err
	}
	height, _, err := optIntParam(params, "height")
	if err != nil {
		return nil, err
	}

	doc.images = append(doc.images, image{path: path, width: width, height: height})
	return map[string]any{"image_index": len(doc.images) - 1}, nil
}

func (d *Driver) findReplace(params map[string]any) (map[string]any, error) {
	doc, err := d.active()
	if err != nil {
		return nil, err
	}
	find, err := strParam(params, "find")
	if err != nil {
		return nil, err
	}
	replace, err := strAllowEmptyParam(params, "replace")
	if err != nil {
		return nil, err
	}
	matchCase, _ := params["match_case"].(bool)

	snapID := d.takeSnapshot(&snapshot{
		docID: doc.id,
		kind:  snapReplace,
		paras: append([]string(nil), doc.paras...),
	})

	replaced := 0
	for i, para := range doc.paras {
		var next string
		var n int
		if matchCase {
			n = strings.Count(para, find)
			next = strings.ReplaceAll(para, find, replace)
		} else {
			next, n = replaceFold(para, find, replace)
		}
		doc.paras[i] = next
		replaced += n
	}

	return map[string]any{"replaced": replaced, "snapshot_id": snapID}, nil
}

func (d *Driver) setPageLayout(params map[string]any) (map[string]any, error) {
	doc, err := d.active()
	if err != nil {
		return nil, err
	}

	if orientation := optStrParam(params, "orientation"); orientation != "" {
		if orientation != "portrait" && orientation != "landscape" {
			return nil, &fault.ValidationError{
				Field:        "orientation",
				CommandIndex: fault.NoIndex,
				Message:      fmt.Sprintf("orientation %q must be portrait or landscape", orientation),
			}
		}
		doc.layout.orientation = orientation
	}
	for key, target := range map[string]*int{
		"margin_top_mm":    &doc.layout.topMM,
		"margin_bottom_mm": &doc.layout.bottomMM,
		"margin_left_mm":   &doc.layout.leftMM,
		"margin_right_mm":  &doc.layout.rightMM,
	} {
		if v, ok, err := optIntParam(params, key); err != nil {
			return nil, err
		} else if ok {
			*target = v
		}
	}
	return map[string]any{}, nil
}

// =============================================================================
// Inverse Operations
// =============================================================================

func (d *Driver) closeDocumentDiscard(params map[string]any) (map[string]any, error) {
	docID, err := strParam(params, "doc_id")
	if err != nil {
		return nil, err
	}
	prevID := optStrParam(params, "previous_doc_id")

	delete(d.docs, docID)
	if d.activeID == docID {
		d.activeID = prevID
	}
	return map[string]any{}, nil
}

func (d *Driver) deleteInsertedRange(params map[string]any) (map[string]any, error) {
	doc, err := d.active()
	if err != nil {
		return nil, err
	}
	para, err := intParam(params, "paragraph")
	if err != nil {
		return nil, err
	}
	offset, err := intParam(params, "offset")
	if err != nil {
		return nil, err
	}
	length, err := intParam(params, "length")
	if err != nil {
		return nil, err
	}
	createdParagraph, _ := params["created_paragraph"].(bool)

	if para < 0 || para >= len(doc.paras) {
		return nil, &fault.StateError{
			Requirement:  "existing paragraph",
			CommandIndex: fault.NoIndex,
			Message:      fmt.Sprintf("paragraph %d out of range", para),
		}
	}
	text := doc.paras[para]
	if offset < 0 || offset+length > len(text) {
		return nil, &fault.StateError{
			Requirement:  "inserted range intact",
			CommandIndex: fault.NoIndex,
			Message:      fmt.Sprintf("range %d..%d outside paragraph of length %d", offset, offset+length, len(text)),
		}
	}

	doc.paras[para] = text[:offset] + text[offset+length:]
	if createdParagraph && doc.paras[para] == "" && para == len(doc.paras)-1 {
		doc.paras = doc.paras[:para]
	}
	return map[string]any{}, nil
}

func (d *Driver) deleteParagraph(params map[string]any) (map[string]any, error) {
	doc, err := d.active()
	if err != nil {
		return nil, err
	}
	para, err := intParam(params, "paragraph")
	if err != nil {
		return nil, err
	}
	if para < 0 || para >= len(doc.paras) {
		return nil, &fault.StateError{
			Requirement:  "existing paragraph",
			CommandIndex: fault.NoIndex,
			Message:      fmt.Sprintf("paragraph %d out of range", para),
		}
	}
	doc.paras = append(doc.paras[:para], doc.paras[para+1:]...)
	return map[string]any{}, nil
}

func (d *Driver) dropTable(params map[string]any) (map[string]any, error) {
	doc, err := d.active()
	if err != nil {
		return nil, err
	}
	tableIndex, err := intParam(params, "table_index")
	if err != nil {
		return nil, err
	}
	if _, err := doc.table(tableIndex); err != nil {
		return nil, err
	}
	doc.tables = append(doc.tables[:tableIndex], doc.tables[tableIndex+1:]...)
	return map[string]any{}, nil
}

func (d *Driver) removeImage(params map[string]any) (map[string]any, error) {
	doc, err := d.active()
	if err != nil {
		return nil, err
	}
	imageIndex, err := intParam(params, "image_index")
	if err != nil {
		return nil, err
	}
	if imageIndex < 0 || imageIndex >= len(doc.images) {
		return nil, &fault.StateError{
			Requirement:  "existing image",
			CommandIndex: fault.NoIndex,
			Message:      fmt.Sprintf("image index %d out of range", imageIndex),
		}
	}
	doc.images = append(doc.images[:imageIndex], doc.images[imageIndex+1:]...)
	return map[string]any{}, nil
}

func (d *Driver) restoreSnapshot(params map[string]any) (map[string]any, error) {
	snapID, err := strParam(params, "snapshot_id")
	if err != nil {
		return nil, err
	}
	s, ok := d.snapshots[snapID]
	if !ok {
		return nil, &fault.StateError{
			Requirement:  "existing snapshot",
			CommandIndex: fault.NoIndex,
			Message:      fmt.Sprintf("snapshot %q unknown or already restored", snapID),
		}
	}
	doc, ok := d.docs[s.docID]
	if !ok {
		return nil, &fault.StateError{
			Requirement:  "snapshot document",
			CommandIndex: fault.NoIndex,
			Message:      fmt.Sprintf("document %q for snapshot %q no longer exists", s.docID, snapID),
		}
	}
	if err := s.restore(doc); err != nil {
		return nil, err
	}
	delete(d.snapshots, snapID)
	return map[string]any{}, nil
}

// =============================================================================
// Inspection
// =============================================================================

// DocumentView is a deep copy of the active document for assertions.
type DocumentView struct {
	Exists     bool
	Path       string
	Saved      bool
	Paragraphs []string
	Tables     []TableView
	Images     []ImageView
	Font       FontView
	Layout     LayoutView
}

// TableView is a copy of one table.
type TableView struct {
	Rows  int
	Cols  int
	Cells [][]string
}

// ImageView is a copy of one image reference.
type ImageView struct {
	Path   string
	Width  int
	Height int
}

// FontView is a copy of the current font state.
type FontView struct {
	Name      string
	Size      int
	Bold      bool
	Italic    bool
	Underline bool
}

// LayoutView is a copy of the current page layout.
type LayoutView struct {
	Orientation string
	TopMM       int
	BottomMM    int
	LeftMM      int
	RightMM     int
}

// Inspect returns a deep copy of the active document's state.
func (d *Driver) Inspect() DocumentView {
	d.mu.Lock()
	defer d.mu.Unlock()

	doc, ok := d.docs[d.activeID]
	if d.activeID == "" || !ok {
		return DocumentView{}
	}

	view := DocumentView{
		Exists:     true,
		Path:       doc.path,
		Saved:      doc.saved,
		Paragraphs: append([]string(nil), doc.paras...),
		Font: FontView{
			Name:      doc.font.name,
			Size:      doc.font.size,
			Bold:      doc.font.bold,
			Italic:    doc.font.italic,
			Underline: doc.font.underline,
		},
		Layout: LayoutView{
			Orientation: doc.layout.orientation,
			TopMM:       doc.layout.topMM,
			BottomMM:    doc.layout.bottomMM,
			LeftMM:      doc.layout.leftMM,
			RightMM:     doc.layout.rightMM,
		},
	}
	for _, t := range doc.tables {
		cells := make([][]string, t.rows)
		for i := range t.cells {
			cells[i] = append([]string(nil), t.cells[i]...)
		}
		view.Tables = append(view.Tables, TableView{Rows: t.rows, Cols: t.cols, Cells: cells})
	}
	for _, img := range doc.images {
		view.Images = append(view.Images, ImageView{Path: img.path, Width: img.width, Height: img.height})
	}
	return view
}

// DocumentCount returns the number of documents the engine holds.
func (d *Driver) DocumentCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.docs)
}

// SnapshotCount returns the number of unconsumed snapshots.
func (d *Driver) SnapshotCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.snapshots)
}

// =============================================================================
// Parameter Readers
// =============================================================================

func strParam(params map[string]any, key string) (string, error) {
	s, err := strAllowEmptyParam(params, key)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", &fault.ValidationError{
			Field:        key,
			CommandIndex: fault.NoIndex,
			Message:      "must not be empty",
		}
	}
	return s, nil
}

func strAllowEmptyParam(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", &fault.ValidationError{
			Field:        key,
			CommandIndex: fault.NoIndex,
			Message:      "required parameter missing",
		}
	}
	s, ok := v.(string)
	if !ok {
		return "", &fault.ValidationError{
			Field:        key,
			CommandIndex: fault.NoIndex,
			Message:      fmt.Sprintf("expected string, got %T", v),
		}
	}
	return s, nil
}

func optStrParam(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

func intParam(params map[string]any, key string) (int, error) {
	n, ok, err := optIntParam(params, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, &fault.ValidationError{
			Field:        key,
			CommandIndex: fault.NoIndex,
			Message:      "required parameter missing",
		}
	}
	return n, nil
}

// optIntParam accepts int, int64 and float64 so parameters survive JSON and
// YAML decoding, which produce different numeric types.
func optIntParam(params map[string]any, key string) (int, bool, error) {
	v, ok := params[key]
	if !ok {
		return 0, false, nil
	}
	switch n := v.(type) {
	case int:
		return n, true, nil
	case int64:
		return int(n), true, nil
	case float64:
		if n != float64(int(n)) {
			return 0, false, &fault.ValidationError{
				Field:        key,
				CommandIndex: fault.NoIndex,
				Message:      fmt.Sprintf("expected integer, got %v", n),
			}
		}
		return int(n), true, nil
	default:
		return 0, false, &fault.ValidationError{
			Field:        key,
			CommandIndex: fault.NoIndex,
			Message:      fmt.Sprintf("expected integer, got %T", v),
		}
	}
}

// rowsParam accepts [][]string directly or the []any shape produced by
// JSON and YAML decoders.
func rowsParam(params map[string]any, key string) ([][]string, error) {
	v, ok := params[key]
	if !ok {
		return nil, &fault.ValidationError{
			Field:        key,
			CommandIndex: fault.NoIndex,
			Message:      "required parameter missing",
		}
	}

	switch rows := v.(type) {
	case [][]string:
		return rows, nil
	case []any:
		out := make([][]string, 0, len(rows))
		for i, rowAny := range rows {
			switch row := rowAny.(type) {
			case []string:
				out = append(out, row)
			case []any:
				converted := make([]string, 0, len(row))
				for j, cellAny := range row {
					cell, ok := cellAny.(string)
					if !ok {
						return nil, &fault.ValidationError{
							Field:        key,
							CommandIndex: fault.NoIndex,
							Message:      fmt.Sprintf("cell (%d,%d) expected string, got %T", i, j, cellAny),
						}
					}
					converted = append(converted, cell)
				}
				out = append(out, converted)
			default:
				return nil, &fault.ValidationError{
					Field:        key,
					CommandIndex: fault.NoIndex,
					Message:      fmt.Sprintf("row %d expected list, got %T", i, rowAny),
				}
			}
		}
		return out, nil
	default:
		return nil, &fault.ValidationError{
			Field:        key,
			CommandIndex: fault.NoIndex,
			Message:      fmt.Sprintf("expected list of rows, got %T", v),
		}
	}
}

// replaceFold is case-insensitive ReplaceAll, returning the result and the
// number of replacements. Matches are byte windows of s compared with
// EqualFold, so multi-byte text never corrupts offsets.
func replaceFold(s, find, replace string) (string, int) {
	if find == "" {
		return s, 0
	}
	var b strings.Builder
	count := 0
	i := 0
	for i <= len(s)-len(find) {
		if strings.EqualFold(s[i:i+len(find)], find) {
			b.WriteString(replace)
			i += len(find)
			count++
			continue
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		b.WriteString(s[i : i+size])
		i += size
	}
	b.WriteString(s[i:])
	return b.String(), count
}
