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
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t, `
label: weekly report
commands:
  - kind: create_document
  - kind: insert_text
    params:
      text: "Q3 summary"
  - kind: fill_table
    params:
      table_index: 0
      rows:
        - ["a", "b"]
        - ["c", "d"]
`)

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m.Label != "weekly report" {
		t.Errorf("label = %q, want %q", m.Label, "weekly report")
	}
	if len(m.Commands) != 3 {
		t.Fatalf("expected 3 commands, got %d", len(m.Commands))
	}
	if got := m.Commands[1].Params["text"]; got != "Q3 summary" {
		t.Errorf("text param = %v", got)
	}

	cmds := toCommands(m.Commands)
	if string(cmds[0].Kind) != "create_document" {
		t.Errorf("kind = %s", cmds[0].Kind)
	}
	rows, ok := cmds[2].Params["rows"].([]any)
	if !ok || len(rows) != 2 {
		t.Errorf("rows did not survive conversion: %#v", cmds[2].Params["rows"])
	}

	jobs := m.Jobs()
	if len(jobs) != 1 || jobs[0].Document != "" {
		t.Errorf("session manifest should flatten to one unnamed job, got %#v", jobs)
	}
}

func TestLoadManifest_Documents(t *testing.T) {
	path := writeManifest(t, `
documents:
  - document: report.hwp
    commands:
      - kind: create_document
  - document: letter.hwp
    commands:
      - kind: create_document
      - kind: insert_paragraph
`)

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	jobs := m.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].Document != "report.hwp" || jobs[1].Document != "letter.hwp" {
		t.Errorf("job order wrong: %q, %q", jobs[0].Document, jobs[1].Document)
	}
	if len(jobs[1].Commands) != 2 {
		t.Errorf("expected 2 commands in second job, got %d", len(jobs[1].Commands))
	}
}

func TestLoadManifest_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "no work",
			content: "label: empty\n",
			want:    "names no work",
		},
		{
			name: "mixed modes",
			content: "commands:\n  - kind: create_document\n" +
				"documents:\n  - document: d\n    commands:\n      - kind: create_document\n",
			want: "mixes",
		},
		{
			name:    "unnamed document",
			content: "documents:\n  - commands:\n      - kind: create_document\n",
			want:    "document name is required",
		},
		{
			name:    "document without commands",
			content: "documents:\n  - document: d.hwp\n",
			want:    "no commands",
		},
		{
			name:    "bad yaml",
			content: "commands: [\n",
			want:    "parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadManifest(writeManifest(t, tt.content))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadManifest_MissingFile(t *testing.T) {
	if _, err := LoadManifest(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestManifest_ModeFlags(t *testing.T) {
	truev, falsev := true, false
	tests := []struct {
		name            string
		manifest        Manifest
		noTransaction   bool
		continueOnError bool
		wantTxn         bool
		wantStop        bool
	}{
		{"defaults", Manifest{}, false, false, true, true},
		{"manifest opts out", Manifest{Transactional: &falsev}, false, false, false, true},
		{"flag overrides manifest", Manifest{Transactional: &truev}, true, false, false, true},
		{"continue implies non-transactional", Manifest{}, false, true, false, false},
		{"manifest stop_on_error false", Manifest{Transactional: &falsev, StopOnError: &falsev}, false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.manifest.IsTransactional(tt.noTransaction, tt.continueOnError); got != tt.wantTxn {
				t.Errorf("IsTransactional = %v, want %v", got, tt.wantTxn)
			}
			if got := tt.manifest.StopsOnError(tt.continueOnError); got != tt.wantStop {
				t.Errorf("StopsOnError = %v, want %v", got, tt.wantStop)
			}
		})
	}
}

func TestCommandSpecs(t *testing.T) {
	specs := commandSpecs([]ManifestCommand{
		{Kind: "insert_text", Params: map[string]any{"text": "hi"}},
		{Kind: "save_document"},
	})
	if len(specs) != 2 {
		t.Fatalf("expected 2 specs, got %d", len(specs))
	}
	if specs[0].Kind != "insert_text" || specs[0].Params["text"] != "hi" {
		t.Errorf("spec conversion lost data: %#v", specs[0])
	}
	if specs[1].Params != nil {
		t.Errorf("empty params should stay nil, got %#v", specs[1].Params)
	}
}
