// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memdoc

import (
	"fmt"

	"github.com/AleutianAI/ScribeFOSS/services/scribe/fault"
)

// document is the in-memory model of one open document.
//
// The model mirrors what the pipeline edits through the wire operations:
// body paragraphs, tables, images, the current font and the page layout.
// The implicit cursor sits at the end of the last paragraph.
type document struct {
	id     string
	path   string
	saved  bool
	paras  []string
	tables []*table
	images []image
	font   fontStyle
	layout pageLayout
}

type table struct {
	rows  int
	cols  int
	cells [][]string
}

type image struct {
	path   string
	width  int
	height int
}

type fontStyle struct {
	name      string
	size      int
	bold      bool
	italic    bool
	underline bool
}

type pageLayout struct {
	orientation string
	topMM       int
	bottomMM    int
	leftMM      int
	rightMM     int
}

func newDocument(id string) *document {
	return &document{
		id:     id,
		font:   fontStyle{name: "Batang", size: 10},
		layout: pageLayout{orientation: "portrait", topMM: 20, bottomMM: 15, leftMM: 30, rightMM: 30},
	}
}

func newTable(rows, cols int) *table {
	cells := make([][]string, rows)
	for i := range cells {
		cells[i] = make([]string, cols)
	}
	return &table{rows: rows, cols: cols, cells: cells}
}

// table returns the table at index or a state fault when absent.
func (d *document) table(index int) (*table, error) {
	if index < 0 || index >= len(d.tables) {
		return nil, &fault.StateError{
			Requirement:  "existing table",
			CommandIndex: fault.NoIndex,
			Message:      fmt.Sprintf("table index %d out of range, document has %d tables", index, len(d.tables)),
		}
	}
	return d.tables[index], nil
}

// cell returns a pointer to the addressed cell or a state fault when the
// coordinates fall outside the table.
func (t *table) cell(row, col int) (*string, error) {
	if row < 0 || row >= t.rows || col < 0 || col >= t.cols {
		return nil, &fault.StateError{
			Requirement:  "cell inside table",
			CommandIndex: fault.NoIndex,
			Message:      fmt.Sprintf("cell (%d,%d) outside %dx%d table", row, col, t.rows, t.cols),
		}
	}
	return &t.cells[row][col], nil
}

// =============================================================================
// Snapshots
// =============================================================================

// Snapshot kinds. Each snapshot is one-shot: restoring consumes it.
const (
	snapCell    = "cell"
	snapRegion  = "region"
	snapFont    = "font"
	snapReplace = "replace"
)

// snapshot captures the state a later restore_snapshot call puts back.
type snapshot struct {
	id    string
	docID string
	kind  string

	// cell payload
	tableIndex int
	row        int
	col        int
	cellValue  string

	// region payload
	startRow int
	rowData  [][]string

	// font payload
	font fontStyle

	// replace payload
	paras []string
}

// restore writes the captured state back into doc.
func (s *snapshot) restore(doc *document) error {
	switch s.kind {
	case snapCell:
		t, err := doc.table(s.tableIndex)
		if err != nil {
			return err
		}
		c, err := t.cell(s.row, s.col)
		if err != nil {
			return err
		}
		*c = s.cellValue
		return nil

	case snapRegion:
		t, err := doc.table(s.tableIndex)
		if err != nil {
			return err
		}
		for i, row := range s.rowData {
			for j, val := range row {
				c, err := t.cell(s.startRow+i, j)
				if err != nil {
					return err
				}
				*c = val
			}
		}
		return nil

	case snapFont:
		doc.font = s.font
		return nil

	case snapReplace:
		doc.paras = append([]string(nil), s.paras...)
		return nil

	default:
		return fmt.Errorf("unknown snapshot kind %q", s.kind)
	}
}
