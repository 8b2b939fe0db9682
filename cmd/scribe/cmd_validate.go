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
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ScribeFOSS/services/scribe"
)

// runValidateCommand checks every command in a manifest against the
// registry: known kinds, usable parameters, reversibility, and unit
// counts. No session is opened.
func runValidateCommand(cmd *cobra.Command, args []string) {
	manifest, err := LoadManifest(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	// Validation is registry-only, so the service never needs a
	// working driver here.
	svc := scribe.NewService(scribe.ServiceConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	defer func() { _ = svc.Close() }()

	invalid := false
	for _, job := range manifest.Jobs() {
		resp := svc.ValidateBatch(scribe.ValidateBatchRequest{Commands: commandSpecs(job.Commands)})
		printFindings(os.Stdout, job.Document, resp)
		if !resp.Valid {
			invalid = true
		}
	}
	if invalid {
		os.Exit(1)
	}
}

// printFindings writes one job's validation report.
func printFindings(out io.Writer, document string, resp *scribe.ValidateBatchResponse) {
	if document != "" {
		fmt.Fprintln(out, runLabelStyle.Render(document))
	}

	for _, cv := range resp.Commands {
		mark := runOkStyle.Render("ok")
		detail := ""
		if cv.Error != nil {
			mark = runFailStyle.Render("invalid")
			detail = "  " + cv.Error.Message
		}
		units := ""
		if cv.Units > 1 {
			units = fmt.Sprintf("  %d units", cv.Units)
		}
		irreversible := ""
		if cv.Valid && !cv.Reversible {
			irreversible = "  " + runCancelStyle.Render("irreversible")
		}
		fmt.Fprintf(out, "  %2d  %-18s %s%s%s%s\n", cv.Index, cv.Kind, mark, units, irreversible, detail)
	}

	summary := fmt.Sprintf("%d commands, %d units", len(resp.Commands), resp.TotalUnits)
	if !resp.Reversible {
		summary += ", contains irreversible commands"
	}
	verdict := runOkStyle.Render("valid")
	if !resp.Valid {
		verdict = runFailStyle.Render("invalid")
	}
	fmt.Fprintf(out, "%s (%s)\n", verdict, summary)
}
