// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scribe

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	// Set Gin to test mode to reduce noise
	gin.SetMode(gin.TestMode)
}

func setupTestRouter(svc *Service) *gin.Engine {
	router := gin.New()
	handlers := NewHandlers(svc)
	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)
	return router
}

// createSessionHTTP opens a session through the API and returns its ID.
func createSessionHTTP(t *testing.T, router *gin.Engine) string {
	t.Helper()
	req, _ := http.NewRequest("POST", "/v1/scribe/sessions", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}
	var resp SessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.SessionID == "" {
		t.Fatal("expected a session ID")
	}
	return resp.SessionID
}

func TestHandlers_HandleHealth(t *testing.T) {
	svc := newTestService(t, nil)
	router := setupTestRouter(svc)

	req, _ := http.NewRequest("GET", "/v1/scribe/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if resp.Status != "ok" {
		t.Errorf("expected status 'ok', got %q", resp.Status)
	}
	if resp.Version != ServiceVersion {
		t.Errorf("expected version %q, got %q", ServiceVersion, resp.Version)
	}
	if resp.Driver != "memdoc" {
		t.Errorf("expected driver memdoc, got %q", resp.Driver)
	}
}

func TestHandlers_SessionLifecycle(t *testing.T) {
	svc := newTestService(t, nil)
	router := setupTestRouter(svc)

	body := bytes.NewBufferString(`{"label": "demo"}`)
	req, _ := http.NewRequest("POST", "/v1/scribe/sessions", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}
	var created SessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if created.Label != "demo" {
		t.Errorf("expected label 'demo', got %q", created.Label)
	}

	req, _ = http.NewRequest("GET", "/v1/scribe/sessions", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	var list ListSessionsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if list.Count != 1 {
		t.Errorf("expected 1 session, got %d", list.Count)
	}

	req, _ = http.NewRequest("GET", "/v1/scribe/sessions/"+created.SessionID, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	req, _ = http.NewRequest("DELETE", "/v1/scribe/sessions/"+created.SessionID, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("expected status %d, got %d", http.StatusNoContent, w.Code)
	}

	req, _ = http.NewRequest("GET", "/v1/scribe/sessions/"+created.SessionID, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if errResp.Code != "SESSION_NOT_FOUND" {
		t.Errorf("expected code SESSION_NOT_FOUND, got %q", errResp.Code)
	}
}

func TestHandlers_HandleRunBatch(t *testing.T) {
	svc := newTestService(t, nil)
	router := setupTestRouter(svc)
	sessionID := createSessionHTTP(t, router)

	body := bytes.NewBufferString(`{
		"commands": [
			{"kind": "create_document"},
			{"kind": "insert_text", "params": {"text": "Annual summary"}},
			{"kind": "create_table", "params": {"rows": 2, "cols": 2}},
			{"kind": "fill_table_cell", "params": {"table_index": 0, "row": 0, "col": 0, "text": "Total"}}
		]
	}`)
	req, _ := http.NewRequest("POST", "/v1/scribe/sessions/"+sessionID+"/batches", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	var resp RunBatchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Status != "committed" {
		t.Errorf("expected status committed, got %q", resp.Status)
	}
	if resp.TransactionID == "" {
		t.Error("expected a transaction ID")
	}
	if len(resp.Results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(resp.Results))
	}
	if resp.CompletedUnits != 4 {
		t.Errorf("expected 4 completed units, got %d", resp.CompletedUnits)
	}
}

func TestHandlers_HandleRunBatch_InvalidRequest(t *testing.T) {
	svc := newTestService(t, nil)
	router := setupTestRouter(svc)
	sessionID := createSessionHTTP(t, router)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "empty body",
			body:       "{}",
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "empty command list",
			body:       `{"commands": []}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "unknown command kind",
			body:       `{"commands": [{"kind": "engrave_stone"}]}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("POST", "/v1/scribe/sessions/"+sessionID+"/batches",
				bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}

			var errResp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if errResp.Code != tt.wantCode {
				t.Errorf("expected code %q, got %q", tt.wantCode, errResp.Code)
			}
		})
	}
}

func TestHandlers_HandleRunBatch_UnknownSession(t *testing.T) {
	svc := newTestService(t, nil)
	router := setupTestRouter(svc)

	body := bytes.NewBufferString(`{"commands": [{"kind": "create_document"}]}`)
	req, _ := http.NewRequest("POST", "/v1/scribe/sessions/ghost/batches", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if errResp.Code != "SESSION_NOT_FOUND" {
		t.Errorf("expected code SESSION_NOT_FOUND, got %q", errResp.Code)
	}
}

func TestHandlers_HandleRunBatch_RollbackBody(t *testing.T) {
	svc := newTestService(t, nil)
	router := setupTestRouter(svc)
	sessionID := createSessionHTTP(t, router)

	// fill_table_cell addresses a table that does not exist, so the run
	// rolls back. The handler must still return the full outcome.
	body := bytes.NewBufferString(`{
		"commands": [
			{"kind": "create_document"},
			{"kind": "insert_text", "params": {"text": "alpha"}},
			{"kind": "fill_table_cell", "params": {"table_index": 0, "row": 0, "col": 0, "text": "x"}}
		]
	}`)
	req, _ := http.NewRequest("POST", "/v1/scribe/sessions/"+sessionID+"/batches", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d: %s", http.StatusConflict, w.Code, w.Body.String())
	}
	var resp RunBatchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Status != "rolled_back" {
		t.Errorf("expected status rolled_back, got %q", resp.Status)
	}
	if resp.Rollback == nil {
		t.Fatal("expected a rollback report")
	}
	if resp.Rollback.StepsUndone != 2 {
		t.Errorf("expected 2 steps undone, got %d", resp.Rollback.StepsUndone)
	}
	if resp.Error == nil || resp.Error.Kind != "state" {
		t.Errorf("expected a state error descriptor, got %+v", resp.Error)
	}
}

func TestHandlers_HandleValidateBatch(t *testing.T) {
	svc := newTestService(t, nil)
	router := setupTestRouter(svc)

	// Unknown kinds are findings, not request errors.
	body := bytes.NewBufferString(`{
		"commands": [
			{"kind": "insert_text", "params": {"text": "hello"}},
			{"kind": "engrave_stone"}
		]
	}`)
	req, _ := http.NewRequest("POST", "/v1/scribe/batches/validate", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	var resp ValidateBatchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Valid {
		t.Error("expected the batch to be invalid")
	}
	if len(resp.Commands) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(resp.Commands))
	}
	if !resp.Commands[0].Valid {
		t.Errorf("entry 0: expected valid, got %+v", resp.Commands[0])
	}
	if resp.Commands[1].Valid || resp.Commands[1].Error == nil {
		t.Errorf("entry 1: expected invalid with error, got %+v", resp.Commands[1])
	}
}

func TestHandlers_HandleProcessDocuments(t *testing.T) {
	svc := newTestService(t, nil)
	router := setupTestRouter(svc)

	body := bytes.NewBufferString(`{
		"documents": [
			{"document": "q1.hwp", "commands": [
				{"kind": "create_document"},
				{"kind": "insert_text", "params": {"text": "Q1"}}
			]},
			{"document": "q2.hwp", "commands": [
				{"kind": "create_document"},
				{"kind": "insert_text", "params": {"text": "Q2"}}
			]}
		]
	}`)
	req, _ := http.NewRequest("POST", "/v1/scribe/documents/batch", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	var resp ProcessDocumentsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Succeeded != 2 || resp.Failed != 0 {
		t.Errorf("expected 2/0, got %d/%d", resp.Succeeded, resp.Failed)
	}
}

func TestHandlers_HandleListCommands(t *testing.T) {
	svc := newTestService(t, nil)
	router := setupTestRouter(svc)

	req, _ := http.NewRequest("GET", "/v1/scribe/commands", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	var resp ListCommandsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if len(resp.Commands) != 12 {
		t.Errorf("expected 12 commands, got %d", len(resp.Commands))
	}
}

func TestHandlers_RequestIDEcho(t *testing.T) {
	svc := newTestService(t, nil)
	router := setupTestRouter(svc)

	req, _ := http.NewRequest("GET", "/v1/scribe/sessions", nil)
	req.Header.Set("X-Request-ID", "trace-me-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "trace-me-123" {
		t.Errorf("expected the request ID echoed, got %q", got)
	}

	req, _ = http.NewRequest("GET", "/v1/scribe/sessions", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got == "" {
		t.Error("expected a generated request ID")
	}
}
