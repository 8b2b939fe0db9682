// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build integration

package integration

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/ScribeFOSS/services/scribe"
	"github.com/AleutianAI/ScribeFOSS/services/scribe/bridge"
	"github.com/AleutianAI/ScribeFOSS/services/scribe/bridge/memdoc"
	"github.com/AleutianAI/ScribeFOSS/services/scribe/retry"
)

// driverTap hands fresh in-memory engines to the service and keeps a
// reference to each, so tests can inspect document state after runs.
type driverTap struct {
	mu      sync.Mutex
	drivers []*memdoc.Driver
}

func (tap *driverTap) factory() (bridge.Driver, error) {
	d := memdoc.New(memdoc.Config{})
	tap.mu.Lock()
	tap.drivers = append(tap.drivers, d)
	tap.mu.Unlock()
	return d, nil
}

// last returns the most recently created engine.
func (tap *driverTap) last() *memdoc.Driver {
	tap.mu.Lock()
	defer tap.mu.Unlock()
	if len(tap.drivers) == 0 {
		return nil
	}
	return tap.drivers[len(tap.drivers)-1]
}

func (tap *driverTap) all() []*memdoc.Driver {
	tap.mu.Lock()
	defer tap.mu.Unlock()
	return append([]*memdoc.Driver(nil), tap.drivers...)
}

// newService builds a service over tapped in-memory engines with a
// fast retry policy. mutate may adjust the config before construction.
func newService(t *testing.T, mutate func(*scribe.ServiceConfig)) (*scribe.Service, *driverTap) {
	t.Helper()

	tap := &driverTap{}
	cfg := scribe.DefaultServiceConfig()
	cfg.NewDriver = tap.factory
	cfg.DriverName = "memdoc"
	cfg.Policy = retry.Policy{
		MaxRetries: 1,
		Delay:      time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
		Timeout:    time.Second,
	}
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	if mutate != nil {
		mutate(&cfg)
	}

	svc := scribe.NewService(cfg)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, tap
}

func cmd(kind string, params map[string]any) scribe.CommandSpec {
	return scribe.CommandSpec{Kind: kind, Params: params}
}

func boolPtr(b bool) *bool { return &b }
