// Copyright (c) mongotap contributors
// SPDX-License-Identifier: Apache-2.0

package runtime

import "testing"

func TestGetIntegerDefault(t *testing.T) {
	s := NewSnapshot(nil)

	if got := s.GetInteger("mongo.fault.delay.duration_ms", 42); got != 42 {
		t.Errorf("expected default 42, got %d", got)
	}
}

func TestGetIntegerOverride(t *testing.T) {
	s := NewSnapshot(map[string]uint64{"mongo.fault.delay.duration_ms": 250})

	if got := s.GetInteger("mongo.fault.delay.duration_ms", 42); got != 250 {
		t.Errorf("expected override 250, got %d", got)
	}
}

func TestSetReplacesOverride(t *testing.T) {
	s := NewSnapshot(nil)
	s.Set("mongo.proxy_enabled", 0)

	if got := s.GetInteger("mongo.proxy_enabled", 100); got != 0 {
		t.Errorf("expected 0 after Set, got %d", got)
	}
}

func TestFeatureEnabledBoundaries(t *testing.T) {
	s := NewSnapshot(map[string]uint64{
		"always": 100,
		"never":  0,
		// Values above 100 behave as 100.
		"clamped": 700,
	})

	for i := 0; i < 50; i++ {
		if !s.FeatureEnabled("always", 0) {
			t.Fatal("expected 100% feature to always win the roll")
		}
		if s.FeatureEnabled("never", 100) {
			t.Fatal("expected 0% feature to never win the roll")
		}
		if !s.FeatureEnabled("clamped", 0) {
			t.Fatal("expected clamped feature to always win the roll")
		}
	}
}
