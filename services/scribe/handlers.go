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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "0.1.0"

// Handlers contains the HTTP handlers for the scribe service.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// HandleCreateSession handles POST /v1/scribe/sessions.
//
// Description:
//
//	Opens a new editing session: creates a backend driver, connects
//	it, and registers the session under a fresh ID. An empty request
//	body is accepted; the label is optional.
//
// Request Body:
//
//	CreateSessionRequest (optional)
//
// Response:
//
//	201 Created: SessionResponse
//	400 Bad Request: Validation error
//	429 Too Many Requests: Session limit reached
//	502 Bad Gateway: Backend connection failure
func (h *Handlers) HandleCreateSession(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleCreateSession")

	var req CreateSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			logger.Warn("Invalid request body", "error", err)
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "Invalid request body",
				Code:  "INVALID_REQUEST",
			})
			return
		}
	}

	resp, err := h.svc.CreateSession(c.Request.Context(), req.Label)
	if err != nil {
		statusCode, errCode := statusForError(err)
		logger.Error("Session creation failed", "error", err)
		c.JSON(statusCode, ErrorResponse{
			Error: err.Error(),
			Code:  errCode,
		})
		return
	}

	logger.Info("Session created", "session_id", resp.SessionID, "driver", resp.Driver)
	c.JSON(http.StatusCreated, resp)
}

// HandleListSessions handles GET /v1/scribe/sessions.
//
// Description:
//
//	Lists every open session, oldest first.
//
// Response:
//
//	200 OK: ListSessionsResponse
func (h *Handlers) HandleListSessions(c *gin.Context) {
	getOrCreateRequestID(c)
	c.JSON(http.StatusOK, h.svc.ListSessions())
}

// HandleGetSession handles GET /v1/scribe/sessions/:id.
//
// Description:
//
//	Returns one session's state, including its connection and
//	transaction status.
//
// Response:
//
//	200 OK: SessionResponse
//	404 Not Found: Unknown session ID
func (h *Handlers) HandleGetSession(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGetSession")

	resp, err := h.svc.GetSession(c.Param("id"))
	if err != nil {
		statusCode, errCode := statusForError(err)
		logger.Warn("Session lookup failed", "session_id", c.Param("id"), "error", err)
		c.JSON(statusCode, ErrorResponse{
			Error: err.Error(),
			Code:  errCode,
		})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleCloseSession handles DELETE /v1/scribe/sessions/:id.
//
// Description:
//
//	Rolls back any active transaction on the session and disconnects
//	it. The ID is released even when the disconnect fails.
//
// Response:
//
//	204 No Content: Session closed
//	404 Not Found: Unknown session ID
//	500 Internal Server Error: Rollback or disconnect failure
func (h *Handlers) HandleCloseSession(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleCloseSession")
	sessionID := c.Param("id")

	if err := h.svc.CloseSession(c.Request.Context(), sessionID); err != nil {
		statusCode, errCode := statusForError(err)
		logger.Error("Session close failed", "session_id", sessionID, "error", err)
		c.JSON(statusCode, ErrorResponse{
			Error: err.Error(),
			Code:  errCode,
		})
		return
	}

	logger.Info("Session closed", "session_id", sessionID)
	c.Status(http.StatusNoContent)
}

// HandleRunBatch handles POST /v1/scribe/sessions/:id/batches.
//
// Description:
//
//	Executes a batch of commands on the session, transactionally by
//	default. When the batch got as far as running, a failure still
//	returns the full RunBatchResponse so the caller can see what
//	applied and what was rolled back; the HTTP status reflects the
//	first failure.
//
// Request Body:
//
//	RunBatchRequest
//
// Response:
//
//	200 OK: RunBatchResponse (committed or succeeded)
//	400 Bad Request: Validation failure
//	404 Not Found: Unknown session ID
//	409 Conflict: Session busy, or a state error from the backend
//	500 Internal Server Error: Partial or rollback failure
//	502 Bad Gateway: Backend connection failure
func (h *Handlers) HandleRunBatch(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleRunBatch")
	sessionID := c.Param("id")

	var req RunBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	logger.Info("Executing batch", "session_id", sessionID, "commands", len(req.Commands))

	resp, err := h.svc.RunBatch(c.Request.Context(), sessionID, req)
	if err != nil {
		statusCode, errCode := statusForError(err)
		logger.Error("Batch failed", "session_id", sessionID, "code", errCode, "error", err)
		if resp != nil {
			c.JSON(statusCode, resp)
			return
		}
		c.JSON(statusCode, ErrorResponse{
			Error: err.Error(),
			Code:  errCode,
		})
		return
	}

	logger.Info("Batch complete",
		"session_id", sessionID,
		"status", resp.Status,
		"completed_units", resp.CompletedUnits,
		"duration_ms", resp.DurationMs)
	c.JSON(http.StatusOK, resp)
}

// HandleValidateBatch handles POST /v1/scribe/batches/validate.
//
// Description:
//
//	Dry-runs the catalog checks for a batch without touching any
//	session: kind resolution, parameter validation, reversibility,
//	and unit counts. Always returns 200; per-command problems are in
//	the body.
//
// Request Body:
//
//	ValidateBatchRequest
//
// Response:
//
//	200 OK: ValidateBatchResponse
//	400 Bad Request: Malformed request body
func (h *Handlers) HandleValidateBatch(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleValidateBatch")

	var req ValidateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	resp := h.svc.ValidateBatch(req)
	logger.Info("Batch validated", "commands", len(req.Commands), "valid", resp.Valid)
	c.JSON(http.StatusOK, resp)
}

// HandleProcessDocuments handles POST /v1/scribe/documents/batch.
//
// Description:
//
//	Runs independent per-document jobs concurrently, each on its own
//	ephemeral session. Per-document failures are reported in the
//	body; the request itself succeeds unless the service is shutting
//	down.
//
// Request Body:
//
//	ProcessDocumentsRequest
//
// Response:
//
//	200 OK: ProcessDocumentsResponse
//	400 Bad Request: Validation error
//	503 Service Unavailable: Service is closed
func (h *Handlers) HandleProcessDocuments(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleProcessDocuments")

	var req ProcessDocumentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	logger.Info("Processing documents", "documents", len(req.Documents))

	resp, err := h.svc.ProcessDocuments(c.Request.Context(), req)
	if err != nil {
		statusCode, errCode := statusForError(err)
		logger.Error("Document processing failed", "error", err)
		c.JSON(statusCode, ErrorResponse{
			Error: err.Error(),
			Code:  errCode,
		})
		return
	}

	logger.Info("Documents processed", "succeeded", resp.Succeeded, "failed", resp.Failed)
	c.JSON(http.StatusOK, resp)
}

// HandleListCommands handles GET /v1/scribe/commands.
//
// Description:
//
//	Lists the command catalog with reversibility and chunkability
//	flags, for client-side discovery.
//
// Response:
//
//	200 OK: ListCommandsResponse
func (h *Handlers) HandleListCommands(c *gin.Context) {
	getOrCreateRequestID(c)
	c.JSON(http.StatusOK, h.svc.ListCommands())
}

// HandleHealth handles GET /v1/scribe/health.
//
// Description:
//
//	Returns service liveness, the configured driver, and the open
//	session count.
//
// Response:
//
//	200 OK: HealthResponse
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Health())
}

// getOrCreateRequestID returns the request ID from the X-Request-ID
// header, generating one when absent. The ID is echoed on the response
// for correlation.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
