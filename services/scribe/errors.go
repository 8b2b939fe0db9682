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
	"errors"
	"net/http"

	"github.com/AleutianAI/ScribeFOSS/services/scribe/fault"
	"github.com/AleutianAI/ScribeFOSS/services/scribe/transaction"
)

// Sentinel errors for the scribe service.
var (
	// ErrSessionNotFound indicates no session exists with the given ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionBusy indicates a batch is already running on the session.
	ErrSessionBusy = errors.New("session is busy running a batch")

	// ErrBatchTooLarge indicates the batch exceeds the command cap.
	ErrBatchTooLarge = errors.New("batch exceeds the command limit")

	// ErrTooManySessions indicates the session cap is reached.
	ErrTooManySessions = errors.New("session limit reached")

	// ErrServiceClosed indicates the service is shutting down.
	ErrServiceClosed = errors.New("service is closed")
)

// StatusClientClosedRequest is the non-standard status used when the
// client abandoned the request before the batch finished.
const StatusClientClosedRequest = 499

// statusForError maps a service error to an HTTP status and a stable
// error code. Service sentinels are checked first, then transaction
// sentinels, then the failure taxonomy.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound, "SESSION_NOT_FOUND"
	case errors.Is(err, ErrSessionBusy):
		return http.StatusConflict, "SESSION_BUSY"
	case errors.Is(err, ErrBatchTooLarge):
		return http.StatusBadRequest, "BATCH_TOO_LARGE"
	case errors.Is(err, ErrTooManySessions):
		return http.StatusTooManyRequests, "TOO_MANY_SESSIONS"
	case errors.Is(err, ErrServiceClosed):
		return http.StatusServiceUnavailable, "SERVICE_CLOSED"
	case errors.Is(err, transaction.ErrTransactionActive):
		return http.StatusConflict, "TRANSACTION_ACTIVE"
	case errors.Is(err, transaction.ErrNoTransaction):
		return http.StatusConflict, "NO_TRANSACTION"
	case errors.Is(err, transaction.ErrTransactionExpired):
		return http.StatusConflict, "TRANSACTION_EXPIRED"
	case errors.Is(err, transaction.ErrIrreversibleCommand):
		return http.StatusBadRequest, "IRREVERSIBLE_COMMAND"
	case errors.Is(err, transaction.ErrRollbackFailed):
		return http.StatusInternalServerError, "ROLLBACK_FAILED"
	}

	switch fault.KindOf(err) {
	case fault.KindValidation:
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case fault.KindState:
		return http.StatusConflict, "STATE_ERROR"
	case fault.KindCancelled:
		return StatusClientClosedRequest, "CANCELLED"
	case fault.KindRollback:
		return http.StatusInternalServerError, "ROLLBACK_FAILURE"
	case fault.KindPartial:
		return http.StatusInternalServerError, "PARTIAL_FAILURE"
	case fault.KindConnection:
		return http.StatusBadGateway, "CONNECTION_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}
