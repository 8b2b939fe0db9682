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
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/ScribeFOSS/pkg/logging"
	"github.com/AleutianAI/ScribeFOSS/services/scribe/config"
)

// spoolDirs holds the directories one watcher works with. Done and
// Failed live under the spool by default, which keeps a drop
// directory self-contained.
type spoolDirs struct {
	Spool  string
	Done   string
	Failed string
}

// runWatchCommand watches a spool directory and executes each manifest
// dropped into it, filing the manifest under done/ or failed/ after.
func runWatchCommand(cmd *cobra.Command, args []string) {
	settle, err := time.ParseDuration(watchSettle)
	if err != nil || settle <= 0 {
		fmt.Fprintf(os.Stderr, "Invalid settle window %q: must be a positive duration\n", watchSettle)
		os.Exit(1)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level %q: %v\n", cfg.Logging.Level, err)
		os.Exit(1)
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.LogDir,
		Service: "watch",
		JSON:    cfg.Logging.JSON,
		Quiet:   cfg.Logging.Quiet,
	})
	defer logger.Close()
	slogger := logger.Slog()

	dirs := spoolDirs{Spool: args[0], Done: watchDoneDir, Failed: watchFailedDir}
	if dirs.Done == "" {
		dirs.Done = filepath.Join(dirs.Spool, "done")
	}
	if dirs.Failed == "" {
		dirs.Failed = filepath.Join(dirs.Spool, "failed")
	}
	for _, dir := range []string{dirs.Spool, dirs.Done, dirs.Failed} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create %s: %v\n", dir, err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create watcher: %v\n", err)
		os.Exit(1)
	}
	defer watcher.Close()
	if err := watcher.Add(dirs.Spool); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to watch %s: %v\n", dirs.Spool, err)
		os.Exit(1)
	}

	slogger.Info("Watching spool directory",
		slog.String("spool", dirs.Spool),
		slog.String("done", dirs.Done),
		slog.String("failed", dirs.Failed))

	// Run anything already waiting before the first event arrives.
	if entries, err := os.ReadDir(dirs.Spool); err == nil {
		for _, entry := range entries {
			if entry.IsDir() || !isManifestName(entry.Name()) {
				continue
			}
			processSpoolFile(ctx, cfg, dirs, filepath.Join(dirs.Spool, entry.Name()), slogger)
		}
	}

	watchSpool(ctx, watcher, cfg, dirs, settle, slogger)
}

// watchSpool loops until the context is cancelled. A file is picked up
// once no event has touched it for the settle window, so a writer that
// is still copying never gets half a manifest executed.
func watchSpool(ctx context.Context, watcher *fsnotify.Watcher, cfg *config.Config, dirs spoolDirs, settle time.Duration, logger *slog.Logger) {
	pending := make(map[string]time.Time)

	tick := settle / 2
	if tick < 50*time.Millisecond {
		tick = 50 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping spool watcher")
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isManifestName(filepath.Base(event.Name)) {
				continue
			}
			pending[event.Name] = time.Now()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Error("Watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			for path, last := range pending {
				if time.Since(last) < settle {
					continue
				}
				delete(pending, path)
				processSpoolFile(ctx, cfg, dirs, path, logger)
			}
		}
	}
}

// processSpoolFile executes one manifest and files it afterwards. A
// manifest that fails to parse goes straight to failed/.
func processSpoolFile(ctx context.Context, cfg *config.Config, dirs spoolDirs, path string, logger *slog.Logger) {
	logger.Info("Picked up manifest", slog.String("path", path))

	manifest, err := LoadManifest(path)
	if err != nil {
		logger.Error("Rejected manifest", slog.String("path", path), slog.String("error", err.Error()))
		moveSpoolFile(path, dirs.Failed, logger)
		return
	}

	transactional := manifest.IsTransactional(false, false)
	opts := runOptions{
		Transactional: transactional,
		StopOnError:   transactional || manifest.StopsOnError(false),
	}
	outcomes := executeJobs(ctx, cfg, manifest, opts, func(tea.Msg) {}, logger)

	failed := false
	for _, o := range outcomes {
		if o.Err != nil {
			failed = true
			logger.Error("Job failed",
				slog.String("manifest", filepath.Base(path)),
				slog.String("document", o.Document),
				slog.String("status", o.status()),
				slog.String("error", o.Err.Error()))
		} else {
			logger.Info("Job finished",
				slog.String("manifest", filepath.Base(path)),
				slog.String("document", o.Document),
				slog.String("status", o.status()))
		}
	}

	if failed {
		moveSpoolFile(path, dirs.Failed, logger)
		return
	}
	moveSpoolFile(path, dirs.Done, logger)
}

// moveSpoolFile renames into dir with a timestamp prefix so the same
// file name can be dropped again later without colliding.
func moveSpoolFile(path, dir string, logger *slog.Logger) {
	target := filepath.Join(dir, time.Now().UTC().Format("20060102T150405")+"_"+filepath.Base(path))
	if err := os.Rename(path, target); err != nil {
		logger.Error("Failed to move manifest",
			slog.String("path", path),
			slog.String("target", target),
			slog.String("error", err.Error()))
	}
}

func isManifestName(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
