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
	"errors"
	"testing"
	"time"

	"github.com/AleutianAI/ScribeFOSS/services/scribe/fault"
)

// fastPolicy keeps test backoff near-instant.
func fastPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		Delay:      time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Timeout:    time.Second,
	}
}

type fakeReconnector struct {
	calls int
	err   error
}

func (f *fakeReconnector) Reconnect(context.Context) error {
	f.calls++
	return f.err
}

// script returns a CallFunc that fails with each error in errs in turn,
// then succeeds.
func script(errs ...error) (CallFunc, *int) {
	calls := new(int)
	return func(context.Context) error {
		*calls++
		if *calls <= len(errs) {
			return errs[*calls-1]
		}
		return nil
	}, calls
}

func TestExecuteNilCall(t *testing.T) {
	_, err := fastPolicy().Execute(context.Background(), nil, nil)
	if !errors.Is(err, ErrNilCall) {
		t.Errorf("error = %v, want ErrNilCall", err)
	}
}

func TestExecuteFirstTrySuccess(t *testing.T) {
	call, calls := script()
	stats, err := fastPolicy().Execute(context.Background(), nil, call)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if *calls != 1 || stats.Attempts != 1 || stats.Retries != 0 {
		t.Errorf("calls=%d stats=%+v, want one clean attempt", *calls, stats)
	}
}

func TestExecuteRetriesTransient(t *testing.T) {
	call, calls := script(fault.ErrResourceBusy, fault.ErrResourceBusy)
	stats, err := fastPolicy().Execute(context.Background(), nil, call)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if *calls != 3 || stats.Attempts != 3 || stats.Retries != 2 {
		t.Errorf("calls=%d stats=%+v, want success on third attempt", *calls, stats)
	}
}

func TestExecutePermanentFailsFast(t *testing.T) {
	valErr := &fault.ValidationError{Field: "rows", CommandIndex: fault.NoIndex, Message: "bad"}
	call, calls := script(valErr, nil, nil, nil)

	stats, err := fastPolicy().Execute(context.Background(), nil, call)
	var got *fault.ValidationError
	if !errors.As(err, &got) {
		t.Fatalf("error = %v, want the validation error back", err)
	}
	if *calls != 1 || stats.Retries != 0 {
		t.Errorf("calls=%d retries=%d, permanent errors must not be retried", *calls, stats.Retries)
	}
}

func TestExecuteStateErrorFailsFast(t *testing.T) {
	stErr := &fault.StateError{Requirement: "open document", CommandIndex: fault.NoIndex}
	call, calls := script(stErr)

	_, err := fastPolicy().Execute(context.Background(), nil, call)
	var got *fault.StateError
	if !errors.As(err, &got) {
		t.Fatalf("error = %v, want the state error back", err)
	}
	if *calls != 1 {
		t.Errorf("calls = %d, want 1", *calls)
	}
}

func TestExecuteReconnectsOnConnectionLoss(t *testing.T) {
	rc := &fakeReconnector{}
	call, _ := script(fault.ErrConnectionLost)

	stats, err := fastPolicy().Execute(context.Background(), rc, call)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if rc.calls != 1 || stats.Reconnects != 1 {
		t.Errorf("reconnects = %d (stats %d), want 1 before the second attempt", rc.calls, stats.Reconnects)
	}
}

func TestExecuteNoReconnectForBusy(t *testing.T) {
	rc := &fakeReconnector{}
	call, _ := script(fault.ErrResourceBusy)

	_, err := fastPolicy().Execute(context.Background(), rc, call)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if rc.calls != 0 {
		t.Errorf("reconnects = %d, busy must not drop the connection", rc.calls)
	}
}

func TestExecuteAttemptTimeoutReconnectsAndResumes(t *testing.T) {
	rc := &fakeReconnector{}
	calls := 0
	call := func(ctx context.Context) error {
		calls++
		if calls == 1 {
			// Stall past the attempt deadline.
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}

	p := fastPolicy()
	p.Timeout = 20 * time.Millisecond
	stats, err := p.Execute(context.Background(), rc, call)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want resume on second attempt", calls)
	}
	if rc.calls != 1 {
		t.Errorf("reconnects = %d, timeout must force a reconnect", rc.calls)
	}
	if stats.Attempts != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestExecuteExhaustionWrapsConnectionError(t *testing.T) {
	rc := &fakeReconnector{}
	call, calls := script(
		fault.ErrConnectionLost,
		fault.ErrConnectionLost,
		fault.ErrConnectionLost,
		fault.ErrConnectionLost,
		fault.ErrConnectionLost,
	)

	stats, err := fastPolicy().Execute(context.Background(), rc, call)
	var connErr *fault.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("error = %v, want *fault.ConnectionError", err)
	}
	if connErr.Attempts != 4 {
		t.Errorf("Attempts = %d, want 1 + 3 retries", connErr.Attempts)
	}
	if !errors.Is(err, fault.ErrConnectionLost) {
		t.Error("exhaustion wrapper should keep the cause in the chain")
	}
	if *calls != 4 || stats.Attempts != 4 {
		t.Errorf("calls=%d stats=%+v", *calls, stats)
	}
	// Three between attempts plus the final forced one.
	if rc.calls != 4 {
		t.Errorf("reconnects = %d, want 4 including the post-exhaustion one", rc.calls)
	}
}

func TestExecuteExhaustionWithoutReconnector(t *testing.T) {
	call, _ := script(fault.ErrResourceBusy, fault.ErrResourceBusy, fault.ErrResourceBusy, fault.ErrResourceBusy)

	_, err := fastPolicy().Execute(context.Background(), nil, call)
	var connErr *fault.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("error = %v, want exhaustion wrapper", err)
	}
	if !errors.Is(err, fault.ErrResourceBusy) {
		t.Error("cause should stay in the chain")
	}
}

func TestExecuteParentCancellationStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	call := func(context.Context) error {
		calls++
		cancel()
		return fault.ErrResourceBusy
	}

	_, err := fastPolicy().Execute(ctx, nil, call)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, cancellation must stop the loop", calls)
	}
}

func TestExecuteCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := fastPolicy().Execute(ctx, nil, func(context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}

func TestExecuteZeroRetriesPolicy(t *testing.T) {
	p := fastPolicy()
	p.MaxRetries = 0
	call, calls := script(fault.ErrResourceBusy)

	_, err := p.Execute(context.Background(), nil, call)
	if err == nil {
		t.Fatal("expected failure with no retry budget")
	}
	if *calls != 1 {
		t.Errorf("calls = %d, want 1", *calls)
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", p.MaxRetries)
	}
	if p.Timeout != 300*time.Second {
		t.Errorf("Timeout = %v, want 300s", p.Timeout)
	}
	if p.Classify == nil {
		t.Error("Classify should default to the taxonomy classifier")
	}
}

func TestBackoffDelay(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second

	tests := []struct {
		retryNum int
		want     time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{20, time.Second},
	}
	for _, tt := range tests {
		if got := backoffDelay(tt.retryNum, base, max, false); got != tt.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tt.retryNum, got, tt.want)
		}
	}
}

func TestBackoffDelayJitterBounds(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		d := backoffDelay(3, base, time.Second, true)
		if d <= 0 || d > 400*time.Millisecond {
			t.Fatalf("jittered delay %v outside (0, 400ms]", d)
		}
	}
}

func TestSleepCtxCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := sleepCtx(ctx, 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("sleepCtx should return as soon as the context ends")
	}
}
