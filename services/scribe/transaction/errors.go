// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transaction

import "errors"

// Sentinel errors for the transaction package.
var (
	// ErrTransactionActive indicates a transaction is already in progress.
	// One session runs one transaction at a time.
	ErrTransactionActive = errors.New("transaction already active")

	// ErrNoTransaction indicates no transaction is active.
	ErrNoTransaction = errors.New("no active transaction")

	// ErrTransactionExpired indicates the transaction outlived its TTL
	// before commit. The manager rolls it back.
	ErrTransactionExpired = errors.New("transaction expired")

	// ErrRollbackFailed indicates at least one compensation failed and
	// the document may hold partial edits.
	ErrRollbackFailed = errors.New("rollback failed")

	// ErrIrreversibleCommand indicates the batch contains a command
	// with no compensator while the manager requires full rollback
	// coverage.
	ErrIrreversibleCommand = errors.New("batch contains an irreversible command")

	// ErrNilExecutor indicates the manager was built without an executor.
	ErrNilExecutor = errors.New("executor must not be nil")
)
