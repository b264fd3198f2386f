// Copyright (c) mongotap contributors
// SPDX-License-Identifier: Apache-2.0

package breaker

import (
	"errors"
	"testing"
	"time"
)

var errDial = errors.New("connection refused")

func failN(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		cb.Call(func() error { return errDial })
	}
}

func TestOpensAfterMaxFailures(t *testing.T) {
	cb := New(Config{MaxFailures: 3, ResetTimeout: time.Minute})

	failN(cb, 2)
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after 2 failures, got %s", cb.State())
	}

	failN(cb, 1)
	if cb.State() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %s", cb.State())
	}

	if err := cb.Call(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := New(Config{MaxFailures: 3})

	failN(cb, 2)
	cb.Call(func() error { return nil })
	failN(cb, 2)

	if cb.State() != StateClosed {
		t.Errorf("expected closed, got %s", cb.State())
	}
}

func TestHalfOpenProbeAndRecovery(t *testing.T) {
	cb := New(Config{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond, SuccessThreshold: 2})

	failN(cb, 1)
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	time.Sleep(20 * time.Millisecond)

	// First probe transitions to half-open.
	if err := cb.Call(func() error { return nil }); err != nil {
		t.Fatalf("expected probe to pass, got %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half_open, got %s", cb.State())
	}

	if err := cb.Call(func() error { return nil }); err != nil {
		t.Fatalf("expected second probe to pass, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("expected closed after success threshold, got %s", cb.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := New(Config{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond})

	failN(cb, 1)
	time.Sleep(20 * time.Millisecond)

	cb.Call(func() error { return errDial })
	if cb.State() != StateOpen {
		t.Errorf("expected reopened circuit, got %s", cb.State())
	}
}

func TestStateChangeCallback(t *testing.T) {
	cb := New(Config{MaxFailures: 1, ResetTimeout: time.Minute})

	transitions := make(chan State, 4)
	cb.OnStateChange(func(from, to State) { transitions <- to })

	failN(cb, 1)

	select {
	case to := <-transitions:
		if to != StateOpen {
			t.Errorf("expected transition to open, got %s", to)
		}
	case <-time.After(time.Second):
		t.Error("expected state change callback")
	}
}
