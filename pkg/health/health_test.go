// Copyright (c) mongotap contributors
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCheckerHealthy(t *testing.T) {
	c := NewChecker(time.Minute)
	c.Register("ok", func(ctx context.Context) error { return nil })

	status, checks := c.Health(context.Background())
	if status != StatusHealthy {
		t.Errorf("expected healthy, got %s", status)
	}
	if len(checks) != 1 || checks[0].Status != StatusHealthy {
		t.Errorf("unexpected checks: %+v", checks)
	}
}

func TestCheckerDegraded(t *testing.T) {
	c := NewChecker(time.Minute)
	c.Register("ok", func(ctx context.Context) error { return nil })
	c.Register("bad", func(ctx context.Context) error { return errors.New("boom") })

	status, _ := c.Health(context.Background())
	if status != StatusDegraded {
		t.Errorf("expected degraded, got %s", status)
	}
}

func TestCheckerCachesResults(t *testing.T) {
	calls := 0
	c := NewChecker(time.Minute)
	c.Register("counted", func(ctx context.Context) error {
		calls++
		return nil
	})

	c.Health(context.Background())
	c.Health(context.Background())

	if calls != 1 {
		t.Errorf("expected 1 probe call within the cache TTL, got %d", calls)
	}
}

func TestBackendReachable(t *testing.T) {
	listener, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer listener.Close()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	probe := BackendReachable(listener.Addr().String(), time.Second)
	if err := probe(context.Background()); err != nil {
		t.Errorf("expected reachable backend, got %v", err)
	}

	down := BackendReachable("localhost:1", 200*time.Millisecond)
	if err := down(context.Background()); err == nil {
		t.Error("expected unreachable backend to fail")
	}
}

func TestReadinessHandler(t *testing.T) {
	c := NewChecker(time.Minute)
	c.Register("bad", func(ctx context.Context) error { return errors.New("boom") })

	rec := httptest.NewRecorder()
	c.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestLivenessHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/live", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
