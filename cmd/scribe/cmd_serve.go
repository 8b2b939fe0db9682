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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/ScribeFOSS/pkg/logging"
	"github.com/AleutianAI/ScribeFOSS/services/scribe"
	"github.com/AleutianAI/ScribeFOSS/services/scribe/config"
	"github.com/AleutianAI/ScribeFOSS/services/scribe/telemetry"
)

// runServe starts the HTTP API and blocks until SIGINT or SIGTERM,
// then drains in-flight requests for the configured grace period.
func runServe(cmd *cobra.Command, args []string) {
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
		Service: "serve",
		JSON:    cfg.Logging.JSON,
		Quiet:   cfg.Logging.Quiet,
	})
	defer logger.Close()
	slogger := logger.Slog()
	// Handlers log through the default logger; route it to ours.
	slog.SetDefault(slogger)

	if serveDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceName = "scribe"
	tcfg.ServiceVersion = scribe.ServiceVersion
	if cfg.Telemetry.Environment != "" {
		tcfg.Environment = cfg.Telemetry.Environment
	}
	if cfg.Telemetry.TraceExporter != "" {
		tcfg.TraceExporter = cfg.Telemetry.TraceExporter
	}
	if cfg.Telemetry.MetricExporter != "" {
		tcfg.MetricExporter = cfg.Telemetry.MetricExporter
	}
	if cfg.Telemetry.OTLPEndpoint != "" {
		tcfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	shutdownTelemetry, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize telemetry: %v\n", err)
		os.Exit(1)
	}

	meter := otel.Meter("scribe")
	metrics, err := telemetry.NewMetrics(meter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create metrics: %v\n", err)
		os.Exit(1)
	}

	svc := scribe.NewService(buildServiceConfig(cfg, metrics, slogger))
	if _, err := metrics.RegisterActiveSessions(meter, func() int64 {
		return int64(svc.SessionCount())
	}); err != nil {
		slogger.Warn("Failed to register session gauge", "error", err)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if serveDebug {
		router.Use(gin.Logger())
	}
	v1 := router.Group("/v1")
	scribe.RegisterRoutes(v1, scribe.NewHandlers(svc))
	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	host := cfg.Server.Host
	if serveHost != "" {
		host = serveHost
	}
	port := cfg.Server.Port
	if servePort != 0 {
		port = servePort
	}
	addr := fmt.Sprintf("%s:%d", host, port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           telemetry.CombinedMiddleware("scribe.http", metrics)(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Print startup banner
	printBanner(port, cfg.Bridge.Driver)

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slogger.Info("Starting scribe server", slog.String("address", addr), slog.String("driver", cfg.Bridge.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogger.Error("Server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	<-quit
	slogger.Info("Shutting down scribe server")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownGrace.Std())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slogger.Error("Graceful shutdown failed", slog.String("error", err.Error()))
	}
	if err := svc.Close(); err != nil {
		slogger.Error("Session cleanup failed", slog.String("error", err.Error()))
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slogger.Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
	}
}

// buildServiceConfig maps the file config onto the service. MaxSessions
// and the registry keep their built-in defaults.
func buildServiceConfig(cfg *config.Config, metrics *telemetry.Metrics, logger *slog.Logger) scribe.ServiceConfig {
	newDriver, driverName := driverFactory(cfg, false, logger)
	return scribe.ServiceConfig{
		NewDriver:        newDriver,
		DriverName:       driverName,
		ConnectTimeout:   cfg.Bridge.ConnectTimeout.Std(),
		Policy:           policyFromConfig(cfg),
		ChunkSize:        cfg.Batch.ChunkSize,
		MaxBatchCommands: cfg.Server.MaxBatchCommands,
		Transaction:      transactionConfigFromConfig(cfg),
		Metrics:          metrics,
		Logger:           logger,
	}
}

func printBanner(port int, driver string) {
	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                          SCRIBE SERVER                            ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  Transactional batch edits for long-lived document sessions.      ║
║  Driver: %-56s ║
║                                                                   ║
║  Quick Start:                                                     ║
║  ┌─────────────────────────────────────────────────────────────┐  ║
║  │ # Health check                                              │  ║
║  │ curl http://localhost:%d/v1/scribe/health                 │  ║
║  │                                                             │  ║
║  │ # Open a session and run a batch                            │  ║
║  │ curl -X POST http://localhost:%d/v1/scribe/sessions       │  ║
║  └─────────────────────────────────────────────────────────────┘  ║
║                                                                   ║
║  Metrics:  http://localhost:%d/metrics                          ║
║  Press Ctrl+C to stop                                             ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, driver, port, port, port)
}
