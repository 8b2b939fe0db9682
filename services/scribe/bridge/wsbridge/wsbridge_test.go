// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package wsbridge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AleutianAI/ScribeFOSS/services/scribe/fault"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newAdapter starts a fake adapter that hands each upgraded connection to
// serve. It returns a ws:// URL for the driver.
func newAdapter(t *testing.T, serve func(ws *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer ws.Close()
		serve(ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// echoAdapter answers every frame with ok plus the op echoed back.
func echoAdapter(ws *websocket.Conn) {
	for {
		var req request
		if err := ws.ReadJSON(&req); err != nil {
			return
		}
		_ = ws.WriteJSON(response{
			ID:     req.ID,
			OK:     true,
			Result: map[string]any{"op": req.Op},
		})
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrMissingURL) {
		t.Errorf("New without URL error = %v, want ErrMissingURL", err)
	}
	if _, err := New(Config{URL: "http://example.com"}); !errors.Is(err, ErrBadScheme) {
		t.Errorf("New with http scheme error = %v, want ErrBadScheme", err)
	}
	if _, err := New(Config{URL: "ws://example.com/bridge"}); err != nil {
		t.Errorf("New with ws scheme error = %v", err)
	}
}

func TestCallBeforeOpen(t *testing.T) {
	d, err := New(Config{URL: "ws://127.0.0.1:1/bridge"})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	_, err = d.Call(context.Background(), "create_document", nil)
	if !errors.Is(err, fault.ErrNotConnected) {
		t.Errorf("Call before Open error = %v, want ErrNotConnected", err)
	}
}

func TestOpenDialFailure(t *testing.T) {
	// Nothing listens on this port.
	d, err := New(Config{URL: "ws://127.0.0.1:1/bridge", HandshakeTimeout: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := d.Open(context.Background()); err == nil {
		t.Error("Open() expected dial error")
	}
}

func TestCallRoundTrip(t *testing.T) {
	var gotOp string
	var gotText any
	url := newAdapter(t, func(ws *websocket.Conn) {
		var req request
		if err := ws.ReadJSON(&req); err != nil {
			return
		}
		gotOp = req.Op
		gotText = req.Params["text"]
		_ = ws.WriteJSON(response{
			ID:     req.ID,
			OK:     true,
			Result: map[string]any{"paragraph": float64(0), "length": float64(2)},
		})
	})

	d, err := New(Config{URL: url})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := d.Open(context.Background()); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer d.Close()

	out, err := d.Call(context.Background(), "insert_text", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if gotOp != "insert_text" || gotText != "hi" {
		t.Errorf("adapter saw op=%q text=%v", gotOp, gotText)
	}
	if out["length"] != float64(2) {
		t.Errorf("result = %v", out)
	}
}

func TestErrorEnvelopeMapping(t *testing.T) {
	tests := []struct {
		name  string
		wire  wireError
		check func(t *testing.T, err error)
	}{
		{
			name: "busy",
			wire: wireError{Code: "busy", Message: "dialog open"},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, fault.ErrResourceBusy) {
					t.Errorf("err = %v, want ErrResourceBusy", err)
				}
				if !fault.IsTransient(err) {
					t.Error("busy should classify transient")
				}
			},
		},
		{
			name: "connection lost",
			wire: wireError{Code: "connection_lost", Message: "engine exited"},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, fault.ErrConnectionLost) {
					t.Errorf("err = %v, want ErrConnectionLost", err)
				}
			},
		},
		{
			name: "timeout",
			wire: wireError{Code: "timeout", Message: "engine stalled"},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, fault.ErrAttemptTimeout) {
					t.Errorf("err = %v, want ErrAttemptTimeout", err)
				}
			},
		},
		{
			name: "validation",
			wire: wireError{Code: "validation", Field: "rows", Message: "must be positive"},
			check: func(t *testing.T, err error) {
				var valErr *fault.ValidationError
				if !errors.As(err, &valErr) {
					t.Fatalf("err = %v, want *fault.ValidationError", err)
				}
				if valErr.Field != "rows" {
					t.Errorf("Field = %q", valErr.Field)
				}
				if fault.IsTransient(err) {
					t.Error("validation should classify permanent")
				}
			},
		},
		{
			name: "state",
			wire: wireError{Code: "state", Requirement: "open document", Message: "no document"},
			check: func(t *testing.T, err error) {
				var stateErr *fault.StateError
				if !errors.As(err, &stateErr) {
					t.Fatalf("err = %v, want *fault.StateError", err)
				}
				if stateErr.Requirement != "open document" {
					t.Errorf("Requirement = %q", stateErr.Requirement)
				}
			},
		},
		{
			name: "unknown code stays transient",
			wire: wireError{Code: "glitch", Message: "transient weirdness"},
			check: func(t *testing.T, err error) {
				if !fault.IsTransient(err) {
					t.Error("unclassified adapter error should classify transient")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := newAdapter(t, func(ws *websocket.Conn) {
				var req request
				if err := ws.ReadJSON(&req); err != nil {
					return
				}
				we := tt.wire
				_ = ws.WriteJSON(response{ID: req.ID, OK: false, Error: &we})
			})

			d, err := New(Config{URL: url})
			if err != nil {
				t.Fatalf("New() error: %v", err)
			}
			if err := d.Open(context.Background()); err != nil {
				t.Fatalf("Open() error: %v", err)
			}
			defer d.Close()

			_, err = d.Call(context.Background(), "any_op", nil)
			if err == nil {
				t.Fatal("Call() expected error")
			}
			tt.check(t, err)
		})
	}
}

func TestStaleFrameSkipped(t *testing.T) {
	url := newAdapter(t, func(ws *websocket.Conn) {
		var req request
		if err := ws.ReadJSON(&req); err != nil {
			return
		}
		// A leftover reply from a previous, timed-out call arrives first.
		_ = ws.WriteJSON(response{ID: "0", OK: true, Result: map[string]any{"stale": true}})
		_ = ws.WriteJSON(response{ID: req.ID, OK: true, Result: map[string]any{"stale": false}})
	})

	d, err := New(Config{URL: url})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := d.Open(context.Background()); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer d.Close()

	out, err := d.Call(context.Background(), "save_document", nil)
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if out["stale"] != false {
		t.Errorf("result = %v, want the matching frame", out)
	}
}

func TestServerDropMapsToConnectionLost(t *testing.T) {
	url := newAdapter(t, func(ws *websocket.Conn) {
		var req request
		if err := ws.ReadJSON(&req); err != nil {
			return
		}
		// Drop without replying.
		_ = ws.Close()
	})

	d, err := New(Config{URL: url})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := d.Open(context.Background()); err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	_, err = d.Call(context.Background(), "insert_text", map[string]any{"text": "x"})
	if !errors.Is(err, fault.ErrConnectionLost) {
		t.Errorf("Call() error = %v, want ErrConnectionLost", err)
	}
}

func TestCancellationUnblocksRead(t *testing.T) {
	url := newAdapter(t, func(ws *websocket.Conn) {
		var req request
		if err := ws.ReadJSON(&req); err != nil {
			return
		}
		// Never reply; the client must give up via its context. The next
		// read returns once the client hangs up.
		_ = ws.ReadJSON(&req)
	})

	d, err := New(Config{URL: url})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := d.Open(context.Background()); err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = d.Call(ctx, "insert_text", map[string]any{"text": "x"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Call() error = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Call took %v, cancellation should unblock promptly", elapsed)
	}
}

func TestReopenAfterClose(t *testing.T) {
	url := newAdapter(t, echoAdapter)

	d, err := New(Config{URL: url})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := d.Open(context.Background()); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}

	if err := d.Open(context.Background()); err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer d.Close()

	out, err := d.Call(context.Background(), "create_document", nil)
	if err != nil {
		t.Fatalf("Call() after reopen error: %v", err)
	}
	if out["op"] != "create_document" {
		t.Errorf("result = %v", out)
	}
}
