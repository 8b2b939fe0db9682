// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging provides structured logging for Scribe components.
//
// The package wraps Go's standard slog with a small amount of plumbing
// shared by the server and the CLI runner:
//
//   - stderr output by default, following Unix CLI conventions
//   - optional JSON file logging with automatic directory creation
//   - an optional LogExporter hook for shipping entries to external systems
//
// # Basic Usage
//
// For CLI-style usage with stderr output:
//
//	logger := logging.Default()
//	logger.Info("session connected", "session_id", sessionID)
//	logger.Error("batch failed", "batch_id", batchID, "error", err)
//
// # File Logging
//
// To also write machine-readable logs to disk:
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    LogDir:  "~/.scribe/logs", // ~ expands to the home directory
//	    Service: "serve",
//	})
//	defer logger.Close() // flushes and closes the file
//
// Files are named `{service}_{date}.log` and always JSON, regardless of
// the stderr format.
//
// # Export
//
// Deployments that aggregate logs centrally implement LogExporter and set
// it on the Config. Entries are handed to the exporter asynchronously so
// a slow sink never stalls command execution.
//
// # Log Levels
//
// Four levels, ordered debug < info < warn < error. Retry attempts and
// degraded-mode fallbacks log at warn; failed commands log at error.
//
// # Thread Safety
//
// Logger is safe for concurrent use. The underlying slog.Logger is
// thread-safe and mutable state is mutex-protected.
//
// # Security Considerations
//
// Nothing is redacted automatically. Callers must keep document contents,
// auth tokens and file contents out of log attributes:
//
//	// BAD: logs document text
//	logger.Info("inserting", "text", text)
//
//	// GOOD: log metadata only
//	logger.Info("inserting", "text_len", len(text))
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Log Levels
// =============================================================================

// Level represents log severity.
//
// Levels follow the slog convention and are ordered by severity:
// Debug < Info < Warn < Error. Setting a minimum level discards
// everything below it.
type Level int

const (
	// LevelDebug is for development troubleshooting, for example per-call
	// session traffic and chunk boundaries.
	LevelDebug Level = iota

	// LevelInfo is for normal operational events: session connected,
	// batch started, transaction committed.
	LevelInfo

	// LevelWarn is for recoverable trouble: retry attempts, reconnects,
	// compensator gaps.
	LevelWarn

	// LevelError is for failed operations. The process continues but the
	// specific operation did not succeed.
	LevelError
)

// String returns the human-readable name of the level.
//
// Returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a config-file string to a Level.
//
// Accepts "debug", "info", "warn", "warning", "error" in any case.
//
// Parameters:
//   - s: The level name to parse.
//
// Returns:
//   - Level: The parsed level.
//   - error: Non-nil if s names no known level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// toSlogLevel bridges Level to the standard library's slog.Level.
func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures Logger behavior.
//
// A zero-value Config produces a logger that writes Info+ text to stderr,
// which is the right default for interactive CLI use.
//
// Server deployment:
//
//	Config{
//	    Level:   LevelInfo,
//	    LogDir:  "/var/log/scribe",
//	    Service: "serve",
//	    JSON:    true,
//	}
type Config struct {
	// Level sets the minimum log level. Messages below it are discarded.
	// Default: LevelInfo (the zero value is LevelDebug; set explicitly).
	Level Level

	// LogDir enables file logging in the given directory.
	//
	// When set, a file named "{Service}_{YYYY-MM-DD}.log" is appended to
	// in JSON format alongside the stderr output. The directory is
	// created with 0750 permissions if missing. Supports ~ expansion:
	// "~/.scribe/logs" resolves under the user's home directory.
	//
	// Default: "" (no file logging)
	LogDir string

	// Service identifies the component generating logs and is attached to
	// every entry as the "service" attribute.
	//
	// Recommended values: "serve", "runner", "scribe".
	// Default: "" (no service attribute)
	Service string

	// JSON switches stderr output from human-readable text to JSON.
	// File logs are always JSON regardless of this setting.
	// Default: false
	JSON bool

	// Quiet disables stderr output, leaving only the file and exporter
	// destinations. Used by the TUI runner so progress rendering and log
	// lines do not interleave on the terminal.
	// Default: false
	Quiet bool

	// Exporter, when set, receives every entry at or above Level
	// asynchronously. Export failures are dropped rather than allowed to
	// disturb the logging call path.
	// Default: nil (no export)
	Exporter LogExporter
}

// =============================================================================
// Export Interface
// =============================================================================

// LogExporter ships log entries to an external system.
//
// Implementations forward to aggregation backends (Loki, Datadog, object
// storage) or custom sinks. Requirements:
//
//  1. Export must not block for long; buffer internally and upload in
//     batches. It is called with a 1-second timeout context.
//
//  2. Flush must send everything buffered before returning. It is called
//     during shutdown with a 5-second timeout context.
//
//  3. Close releases connections and files, and is called after Flush.
type LogExporter interface {
	// Export sends one entry to the external system.
	//
	// Parameters:
	//   - ctx: Context carrying the per-entry timeout.
	//   - entry: The entry to export.
	//
	// Returns:
	//   - error: Non-nil if export failed. Logged nowhere; never propagated.
	Export(ctx context.Context, entry LogEntry) error

	// Flush sends all buffered entries, blocking until done or ctx expires.
	Flush(ctx context.Context) error

	// Close releases resources held by the exporter.
	Close() error
}

// LogEntry is the structured form of one log line handed to exporters.
type LogEntry struct {
	// Timestamp when the entry was generated (local time).
	Timestamp time.Time

	// Level of the entry.
	Level Level

	// Message is the primary log message.
	Message string

	// Service identifies the component (from Config.Service).
	Service string

	// Attrs holds the key-value attributes of the entry.
	Attrs map[string]any
}

// =============================================================================
// Logger
// =============================================================================

// Logger provides structured logging with multi-destination output.
//
// It wraps slog.Logger with simultaneous stderr, file and exporter
// destinations, and cleanup via Close.
//
// Use With to derive a logger carrying request-scoped attributes:
//
//	batchLogger := logger.With("batch_id", batchID, "session_id", sessionID)
//	batchLogger.Info("batch started")
type Logger struct {
	// slog is the underlying structured logger.
	slog *slog.Logger

	// config stores the configuration for reference.
	config Config

	// file is the log file handle, nil when file logging is disabled.
	file *os.File

	// exporter is the optional export hook.
	exporter LogExporter

	// mu protects file and exporter during Close.
	mu sync.Mutex
}

// New creates a Logger from config.
//
// Destinations are assembled from the config: stderr unless Quiet, a JSON
// file when LogDir is set, and the exporter when provided. Failure to
// create the log directory or file silently disables file logging; the
// logger still works on its remaining destinations.
//
// The returned Logger must be closed with Close to release resources.
//
// Parameters:
//   - config: Logger configuration.
//
// Returns:
//   - *Logger: Configured logger ready for use.
func New(config Config) *Logger {
	var handlers []slog.Handler

	opts := &slog.HandlerOptions{
		Level: config.Level.toSlogLevel(),
	}

	if !config.Quiet {
		var stderrHandler slog.Handler
		if config.JSON {
			stderrHandler = slog.NewJSONHandler(os.Stderr, opts)
		} else {
			stderrHandler = slog.NewTextHandler(os.Stderr, opts)
		}
		handlers = append(handlers, stderrHandler)
	}

	logger := &Logger{
		config:   config,
		exporter: config.Exporter,
	}

	if config.LogDir != "" {
		logDir := expandPath(config.LogDir)
		if err := os.MkdirAll(logDir, 0750); err == nil {
			serviceName := config.Service
			if serviceName == "" {
				serviceName = "scribe"
			}
			filename := fmt.Sprintf("%s_%s.log", serviceName, time.Now().Format("2006-01-02"))
			logPath := filepath.Join(logDir, filename)

			file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
			if err == nil {
				logger.file = file
				// File logs are always JSON for machine processing.
				handlers = append(handlers, slog.NewJSONHandler(file, opts))
			}
		}
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		// Everything disabled; fall back to stderr rather than losing logs.
		handler = slog.NewTextHandler(os.Stderr, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}

	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{
			slog.String("service", config.Service),
		})
	}

	logger.slog = slog.New(handler)
	return logger
}

// Default returns a logger with default settings: Info level, text format,
// stderr only, service "scribe".
func Default() *Logger {
	return New(Config{
		Level:   LevelInfo,
		Service: "scribe",
	})
}

// Debug logs a message at Debug level.
//
// Parameters:
//   - msg: The log message.
//   - args: Key-value attribute pairs, e.g. "chunk_index", 2.
func (l *Logger) Debug(msg string, args ...any) {
	l.log(LevelDebug, msg, args...)
}

// Info logs a message at Info level.
//
// Parameters:
//   - msg: The log message.
//   - args: Key-value attribute pairs.
//
// Example:
//
//	logger.Info("batch completed",
//	    "batch_id", batchID,
//	    "commands", len(batch.Commands),
//	    "duration_ms", elapsed.Milliseconds(),
//	)
func (l *Logger) Info(msg string, args ...any) {
	l.log(LevelInfo, msg, args...)
}

// Warn logs a message at Warn level.
//
// Parameters:
//   - msg: The log message.
//   - args: Key-value attribute pairs.
//
// Example:
//
//	logger.Warn("retrying command",
//	    "attempt", 2,
//	    "max_attempts", 4,
//	    "error", err.Error(),
//	)
func (l *Logger) Warn(msg string, args ...any) {
	l.log(LevelWarn, msg, args...)
}

// Error logs a message at Error level.
//
// For fatal conditions that must terminate the process, log here first
// and then exit at the call site; the logger never exits on its own.
//
// Parameters:
//   - msg: The log message.
//   - args: Key-value attribute pairs.
func (l *Logger) Error(msg string, args ...any) {
	l.log(LevelError, msg, args...)
}

// With returns a new Logger carrying additional attributes.
//
// The child shares the parent's file handle and exporter; closing either
// closes the shared resources, so close only the root logger.
//
// Parameters:
//   - args: Key-value attribute pairs to add.
//
// Returns:
//   - *Logger: New logger; the parent is unmodified.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slog:     l.slog.With(args...),
		config:   l.config,
		file:     l.file,
		exporter: l.exporter,
	}
}

// Slog returns the underlying slog.Logger for callers that need direct
// slog features such as LogAttrs or handler access.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close flushes the exporter, closes it, syncs the log file and closes it.
//
// Always pair New with a deferred Close when file logging or an exporter
// is configured.
//
// Returns:
//   - error: First error encountered during cleanup.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error

	if l.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.exporter.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush exporter: %w", err))
		}
		if err := l.exporter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close exporter: %w", err))
		}
	}

	if l.file != nil {
		if err := l.file.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync log file: %w", err))
		}
		if err := l.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log file: %w", err))
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// log writes to slog and hands the entry to the exporter when configured.
func (l *Logger) log(level Level, msg string, args ...any) {
	switch level {
	case LevelDebug:
		l.slog.Debug(msg, args...)
	case LevelInfo:
		l.slog.Info(msg, args...)
	case LevelWarn:
		l.slog.Warn(msg, args...)
	case LevelError:
		l.slog.Error(msg, args...)
	}

	if l.exporter != nil && level >= l.config.Level {
		entry := LogEntry{
			Timestamp: time.Now(),
			Level:     level,
			Message:   msg,
			Service:   l.config.Service,
			Attrs:     argsToMap(args),
		}
		// Async so a slow sink never stalls the caller.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = l.exporter.Export(ctx, entry)
		}()
	}
}

// =============================================================================
// Multi-Handler (Internal)
// =============================================================================

// multiHandler fans out records to multiple slog handlers, enabling
// simultaneous stderr and file output with different formats.
type multiHandler struct {
	handlers []slog.Handler
}

// Enabled returns true if any handler is enabled for the level.
func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle sends the record to all enabled handlers.
func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

// WithAttrs returns a new handler with additional attributes.
func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

// WithGroup returns a new handler with a group name.
func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// =============================================================================
// Helper Functions
// =============================================================================

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// argsToMap converts slog-style key-value args to a map for LogEntry.Attrs.
// Non-string keys and a trailing odd value are skipped.
func argsToMap(args []any) map[string]any {
	result := make(map[string]any)
	for i := 0; i < len(args)-1; i += 2 {
		if key, ok := args[i].(string); ok {
			result[key] = args[i+1]
		}
	}
	return result
}

// =============================================================================
// Built-in Exporters
// =============================================================================

// NopExporter discards all entries. Useful in tests and when export is
// configured off.
type NopExporter struct{}

// Export discards the entry.
func (e *NopExporter) Export(ctx context.Context, entry LogEntry) error { return nil }

// Flush is a no-op.
func (e *NopExporter) Flush(ctx context.Context) error { return nil }

// Close is a no-op.
func (e *NopExporter) Close() error { return nil }

var _ LogExporter = (*NopExporter)(nil)

// BufferedExporter collects entries in memory so tests can assert on what
// was logged:
//
//	exporter := logging.NewBufferedExporter()
//	logger := logging.New(logging.Config{Exporter: exporter, Quiet: true})
//	logger.Info("rollback started", "commands", 3)
//	entries := exporter.Entries()
type BufferedExporter struct {
	mu      sync.Mutex
	entries []LogEntry
}

// NewBufferedExporter creates an empty BufferedExporter.
func NewBufferedExporter() *BufferedExporter {
	return &BufferedExporter{
		entries: make([]LogEntry, 0, 100),
	}
}

// Export appends the entry to the buffer.
func (e *BufferedExporter) Export(ctx context.Context, entry LogEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, entry)
	return nil
}

// Flush is a no-op; entries are already in memory.
func (e *BufferedExporter) Flush(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (e *BufferedExporter) Close() error {
	return nil
}

// Entries returns a copy of all collected entries.
func (e *BufferedExporter) Entries() []LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	result := make([]LogEntry, len(e.entries))
	copy(result, e.entries)
	return result
}

// WriterExporter writes entries to an io.Writer, one line per entry.
type WriterExporter struct {
	w  io.Writer
	mu sync.Mutex
}

// NewWriterExporter creates a WriterExporter around w.
func NewWriterExporter(w io.Writer) *WriterExporter {
	return &WriterExporter{w: w}
}

// Export writes the entry to the writer.
func (e *WriterExporter) Export(ctx context.Context, entry LogEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := fmt.Fprintf(e.w, "[%s] %s: %s %v\n",
		entry.Timestamp.Format(time.RFC3339),
		entry.Level,
		entry.Message,
		entry.Attrs,
	)
	return err
}

// Flush is a no-op; writes are immediate.
func (e *WriterExporter) Flush(ctx context.Context) error { return nil }

// Close is a no-op; the exporter does not own the writer.
func (e *WriterExporter) Close() error { return nil }
