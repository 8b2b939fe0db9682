// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retry

import (
	"context"
	"math/rand"
	"time"
)

// backoffDelay computes the wait before retry number retryNum (1-based).
// Growth is exponential from base, capped at max. With jitter the delay
// is drawn uniformly from (0, capped] so simultaneous batches spread out.
func backoffDelay(retryNum int, base, max time.Duration, jitter bool) time.Duration {
	if base <= 0 {
		return 0
	}

	d := base
	for i := 1; i < retryNum; i++ {
		d *= 2
		if d >= max || d <= 0 {
			d = max
			break
		}
	}
	if d > max {
		d = max
	}

	if jitter && d > 0 {
		d = time.Duration(rand.Int63n(int64(d))) + 1
	}
	return d
}

// sleepCtx waits for d or until ctx ends, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
