// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package wsbridge implements a bridge.Driver that talks to a remote
// editing-engine adapter over a WebSocket connection.
//
// The adapter runs next to the editing application and exposes one JSON
// frame per call:
//
//	-> {"id": "41", "op": "insert_text", "params": {"text": "hi"}}
//	<- {"id": "41", "ok": true, "result": {"paragraph": 0, ...}}
//	<- {"id": "41", "ok": false, "error": {"code": "busy", "message": "..."}}
//
// Error codes map onto the fault taxonomy so that retry classification
// works identically for local and remote engines.
package wsbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AleutianAI/ScribeFOSS/services/scribe/fault"
)

// ----------------------------------------------------------------------------
// Errors
// ----------------------------------------------------------------------------

var (
	// ErrMissingURL is returned when a Driver is constructed without an
	// endpoint URL.
	ErrMissingURL = errors.New("adapter URL cannot be empty")

	// ErrBadScheme is returned when the endpoint URL is not ws:// or wss://.
	ErrBadScheme = errors.New("adapter URL scheme must be ws or wss")
)

// ----------------------------------------------------------------------------
// Wire frames
// ----------------------------------------------------------------------------

type request struct {
	ID     string         `json:"id"`
	Op     string         `json:"op"`
	Params map[string]any `json:"params,omitempty"`
}

type response struct {
	ID     string         `json:"id"`
	OK     bool           `json:"ok"`
	Result map[string]any `json:"result,omitempty"`
	Error  *wireError     `json:"error,omitempty"`
}

// wireError is the adapter's error envelope. Code selects the fault class;
// the remaining fields fill in the typed fault.
type wireError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Field       string `json:"field,omitempty"`
	Requirement string `json:"requirement,omitempty"`
}

// Adapter error codes.
const (
	codeBusy           = "busy"
	codeConnectionLost = "connection_lost"
	codeTimeout        = "timeout"
	codeValidation     = "validation"
	codeState          = "state"
)

// ----------------------------------------------------------------------------
// Configuration
// ----------------------------------------------------------------------------

// Config controls the WebSocket driver.
type Config struct {
	// URL is the adapter endpoint, e.g. "ws://127.0.0.1:7700/bridge".
	// Required.
	URL string

	// Header is sent with the handshake request. Optional; used for
	// auth tokens.
	Header http.Header

	// HandshakeTimeout bounds the dial. Default: 15s.
	HandshakeTimeout time.Duration

	// ReadLimit caps a single frame. Default: 10MB.
	ReadLimit int64

	// Logger receives frame-level debug events. Default: slog.Default().
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 15 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 10 * 1024 * 1024
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ----------------------------------------------------------------------------
// Driver
// ----------------------------------------------------------------------------

// Driver is a bridge.Driver over a WebSocket connection.
//
// Driver relies on bridge.Session for serialization and is NOT safe for
// concurrent use on its own.
type Driver struct {
	cfg    Config
	logger *slog.Logger

	conn *websocket.Conn
	seq  atomic.Uint64
}

// New creates a Driver for the adapter at cfg.URL.
//
// The driver starts disconnected; Open dials the adapter.
//
// Outputs:
//   - *Driver: Ready to open.
//   - error: ErrMissingURL or ErrBadScheme when the endpoint is unusable.
func New(cfg Config) (*Driver, error) {
	if cfg.URL == "" {
		return nil, ErrMissingURL
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse adapter URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("%w: got %q", ErrBadScheme, u.Scheme)
	}
	cfg.applyDefaults()

	return &Driver{
		cfg:    cfg,
		logger: cfg.Logger.With("adapter_url", cfg.URL),
	}, nil
}

// Open dials the adapter. A previous connection, if any, is dropped first.
func (d *Driver) Open(ctx context.Context) error {
	if d.conn != nil {
		d.closeConn()
	}

	dialer := websocket.Dialer{HandshakeTimeout: d.cfg.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, d.cfg.URL, d.cfg.Header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial adapter: %w (status %s)", err, resp.Status)
		}
		return fmt.Errorf("dial adapter: %w", err)
	}
	conn.SetReadLimit(d.cfg.ReadLimit)
	d.conn = conn
	d.logger.Debug("adapter connected")
	return nil
}

// Call sends one frame and waits for the matching reply.
//
// Description:
//
//	The frame id is a process-local sequence number. Replies carrying a
//	different id (left over from an earlier call that timed out) are
//	skipped with a warning. Context cancellation unblocks a pending read
//	immediately.
//
// Outputs:
//   - map[string]any: The adapter's result object.
//   - error: fault.ErrConnectionLost when the socket breaks, ctx.Err()
//     when the context ends, or a typed fault decoded from the adapter's
//     error envelope.
func (d *Driver) Call(ctx context.Context, op string, params map[string]any) (map[string]any, error) {
	if d.conn == nil {
		return nil, fault.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := request{
		ID:     strconv.FormatUint(d.seq.Add(1), 10),
		Op:     op,
		Params: params,
	}

	// Unblock the pending read if the context ends mid-call.
	conn := d.conn
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.SetReadDeadline(time.Now())
		case <-watchDone:
		}
	}()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
		_ = conn.SetReadDeadline(time.Time{})
	}

	if err := conn.WriteJSON(req); err != nil {
		d.closeConn()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: write frame: %v", fault.ErrConnectionLost, err)
	}

	for {
		var resp response
		if err := conn.ReadJSON(&resp); err != nil {
			d.closeConn()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: read frame: %v", fault.ErrConnectionLost, err)
		}
		if resp.ID != req.ID {
			d.logger.Warn("skipping stale adapter frame",
				"got_id", resp.ID, "want_id", req.ID)
			continue
		}
		if !resp.OK {
			return nil, decodeError(op, resp.Error)
		}
		return resp.Result, nil
	}
}

// Close shuts the connection down, sending a close frame best-effort.
func (d *Driver) Close() error {
	if d.conn == nil {
		return nil
	}
	d.closeConn()
	d.logger.Debug("adapter disconnected")
	return nil
}

func (d *Driver) closeConn() {
	_ = d.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = d.conn.Close()
	d.conn = nil
}

// decodeError turns the adapter's error envelope into a typed fault.
// Unknown codes stay unclassified, which the retry layer treats as
// transient.
func decodeError(op string, we *wireError) error {
	if we == nil {
		return fmt.Errorf("adapter rejected %s without an error envelope", op)
	}
	switch we.Code {
	case codeBusy:
		return fmt.Errorf("%w: %s", fault.ErrResourceBusy, we.Message)
	case codeConnectionLost:
		return fmt.Errorf("%w: %s", fault.ErrConnectionLost, we.Message)
	case codeTimeout:
		return fmt.Errorf("%w: %s", fault.ErrAttemptTimeout, we.Message)
	case codeValidation:
		return &fault.ValidationError{
			Field:        we.Field,
			CommandIndex: fault.NoIndex,
			Message:      we.Message,
		}
	case codeState:
		return &fault.StateError{
			Requirement:  we.Requirement,
			CommandIndex: fault.NoIndex,
			Message:      we.Message,
		}
	default:
		return fmt.Errorf("adapter error for %s (code %q): %s", op, we.Code, we.Message)
	}
}
