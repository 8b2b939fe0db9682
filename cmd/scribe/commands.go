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
	"github.com/spf13/cobra"

	"github.com/AleutianAI/ScribeFOSS/services/scribe"
)

// --- Global Command Variables ---
var (
	configPath string // --config override for every command

	// serve flags
	serveHost  string
	servePort  int
	serveDebug bool

	// run flags
	runDryRun          bool
	runNoTransaction   bool
	runContinueOnError bool
	runPlain           bool

	// watch flags
	watchDoneDir   string
	watchFailedDir string
	watchSettle    string

	rootCmd = &cobra.Command{
		Use:     "scribe",
		Short:   "A cli to run transactional batch edits against a document session",
		Version: scribe.ServiceVersion,
		Long: `Scribe sequences batches of document-editing commands against a
single long-lived editing session, with retries, chunking, and
rollback. It ships an in-memory engine for testing and a WebSocket
bridge for a real editor adapter.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the scribe HTTP API server",
		Run:   runServe, // Defined in cmd_serve.go
	}

	runCmd = &cobra.Command{
		Use:   "run [manifest]",
		Short: "Execute a batch manifest against an editing session",
		Long: `run loads a YAML manifest and executes its commands in order.
Transactional by default: any failure rolls back every completed step.
With --dry-run the batch runs against the in-memory engine regardless
of the configured driver, so a manifest can be rehearsed safely.`,
		Args: cobra.ExactArgs(1),
		Run:  runManifestCommand, // Defined in cmd_run.go
	}

	validateCmd = &cobra.Command{
		Use:   "validate [manifest]",
		Short: "Check a manifest without touching a session",
		Long: `validate parses a manifest and reports, per command, whether the
kind is known, the parameters are usable, whether it can be undone,
and how many units of work it represents. No session is opened and
no document is modified.`,
		Args: cobra.ExactArgs(1),
		Run:  runValidateCommand, // Defined in cmd_validate.go
	}

	watchCmd = &cobra.Command{
		Use:   "watch [spool_dir]",
		Short: "Watch a spool directory and execute manifests as they arrive",
		Long: `watch runs every *.yaml or *.yml file dropped into the spool
directory, waiting for writes to settle first. Finished manifests are
moved to a done/ subdirectory, failed ones to failed/, so the spool
only ever holds pending work.`,
		Args: cobra.ExactArgs(1),
		Run:  runWatchCommand, // Defined in cmd_watch.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to the scribe config file (default ~/.scribe/scribe.yaml)")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Bind address (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP port (overrides config)")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable Gin debug mode and request logging")

	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Execute against the in-memory engine instead of the configured driver")
	runCmd.Flags().BoolVar(&runNoTransaction, "no-transaction", false, "Run without rollback; completed steps stay applied on failure")
	runCmd.Flags().BoolVar(&runContinueOnError, "continue-on-error", false, "Keep executing after a failed command (implies --no-transaction)")
	runCmd.Flags().BoolVar(&runPlain, "plain", false, "Line-based progress output instead of the interactive display")

	rootCmd.AddCommand(validateCmd)

	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchDoneDir, "done-dir", "", "Where finished manifests are moved (default <spool>/done)")
	watchCmd.Flags().StringVar(&watchFailedDir, "failed-dir", "", "Where failed manifests are moved (default <spool>/failed)")
	watchCmd.Flags().StringVar(&watchSettle, "settle", "500ms", "How long a file must be quiet before it is picked up")
}
