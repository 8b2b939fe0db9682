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
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// === Messages ===

// jobStartMsg announces the job about to execute.
type jobStartMsg struct {
	Index    int
	Count    int
	Document string
	Commands int
}

// unitProgressMsg reports executor progress inside the current job.
// Completed and Total count units, not commands; a chunked fill_table
// advances several times under one command index.
type unitProgressMsg struct {
	Completed    int
	Total        int
	CommandIndex int
	Kind         string
}

// jobDoneMsg reports one finished job.
type jobDoneMsg struct {
	Index    int
	Document string
	Status   string
	Err      error
}

// runDoneMsg ends the program; the summary is printed afterwards.
type runDoneMsg struct{}

// === Styles ===

var (
	runTitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	runLabelStyle  = lipgloss.NewStyle().Bold(true)
	runSubtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	runOkStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	runFailStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	runCancelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// === Model ===

// runModel renders one progress bar per run, updated from the
// executor's unit callbacks. Ctrl+C cancels the run context; the
// runner then unwinds (rolling back if transactional) and sends
// runDoneMsg, so the model never quits on its own.
type runModel struct {
	label  string
	bar    progress.Model
	cancel context.CancelFunc

	jobIndex     int
	jobCount     int
	document     string
	commandCount int

	completed    int
	total        int
	commandIndex int
	kind         string

	cancelled bool
	finished  bool
}

func newRunModel(label string, jobCount int, cancel context.CancelFunc) runModel {
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 40
	return runModel{
		label:    label,
		bar:      bar,
		cancel:   cancel,
		jobCount: jobCount,
	}
}

func (m runModel) Init() tea.Cmd {
	return nil
}

func (m runModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if !m.cancelled {
				m.cancelled = true
				m.cancel()
			}
		}
		return m, nil

	case jobStartMsg:
		m.jobIndex = msg.Index
		m.document = msg.Document
		m.commandCount = msg.Commands
		m.completed = 0
		m.total = 0
		m.commandIndex = 0
		m.kind = ""
		return m, nil

	case unitProgressMsg:
		m.completed = msg.Completed
		m.total = msg.Total
		m.commandIndex = msg.CommandIndex
		m.kind = msg.Kind
		return m, nil

	case jobDoneMsg:
		return m, nil

	case runDoneMsg:
		m.finished = true
		return m, tea.Quit
	}
	return m, nil
}

func (m runModel) View() string {
	if m.finished {
		return ""
	}

	var b strings.Builder
	title := m.label
	if title == "" {
		title = "scribe run"
	}
	b.WriteString(runTitleStyle.Render(title))
	if m.jobCount > 1 {
		b.WriteString(" " + runSubtleStyle.Render(fmt.Sprintf("(job %d/%d)", m.jobIndex+1, m.jobCount)))
	}
	b.WriteString("\n\n")

	if m.document != "" {
		fmt.Fprintf(&b, "%s %s\n", runLabelStyle.Render("Document:"), m.document)
	}

	var pct float64
	if m.total > 0 {
		pct = float64(m.completed) / float64(m.total)
	}
	fmt.Fprintf(&b, "%s %d/%d units\n", m.bar.ViewAs(pct), m.completed, m.total)

	if m.kind != "" {
		fmt.Fprintf(&b, "%s %s %s\n",
			runLabelStyle.Render("Command:"),
			m.kind,
			runSubtleStyle.Render(fmt.Sprintf("(%d of %d)", m.commandIndex+1, m.commandCount)))
	}

	b.WriteString("\n")
	if m.cancelled {
		b.WriteString(runCancelStyle.Render("Cancelling, unwinding completed steps...") + "\n")
	} else {
		b.WriteString(runSubtleStyle.Render("Press q or ctrl+c to cancel") + "\n")
	}
	return b.String()
}

// plainReporter consumes the same messages as the TUI and prints
// line-based progress for pipes, CI, and --plain.
func plainReporter(out io.Writer) func(tea.Msg) {
	lastCommand := -1
	commandCount := 0
	return func(msg tea.Msg) {
		switch msg := msg.(type) {
		case jobStartMsg:
			lastCommand = -1
			commandCount = msg.Commands
			if msg.Document != "" {
				fmt.Fprintf(out, "[%d/%d] %s\n", msg.Index+1, msg.Count, msg.Document)
			}
		case unitProgressMsg:
			if msg.CommandIndex != lastCommand {
				lastCommand = msg.CommandIndex
				fmt.Fprintf(out, "  [%d/%d] %s\n", msg.CommandIndex+1, commandCount, msg.Kind)
			}
		case jobDoneMsg:
			if msg.Err != nil {
				fmt.Fprintf(out, "  %s: %v\n", msg.Status, msg.Err)
			} else {
				fmt.Fprintf(out, "  %s\n", msg.Status)
			}
		}
	}
}
