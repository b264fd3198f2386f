// Copyright (c) mongotap contributors
// SPDX-License-Identifier: Apache-2.0

// Package runtime provides the feature-flag and runtime-value source the
// filter engine consults. Keys are dotted paths like
// "mongo.fault.delay.percent".
package runtime

import (
	"math/rand"
	"sync"
)

// Loader answers runtime queries. Implementations must be safe for
// concurrent use; the engine reads each key at most once per connection.
type Loader interface {
	// FeatureEnabled rolls the percentage configured under key (or
	// defaultPercent when the key is unset) and reports whether the
	// feature applies to this evaluation.
	FeatureEnabled(key string, defaultPercent uint64) bool

	// GetInteger returns the integer configured under key, or
	// defaultValue when the key is unset.
	GetInteger(key string, defaultValue uint64) uint64
}

// Snapshot is a Loader over a fixed set of overrides. Keys absent from
// the override map fall back to the caller-supplied defaults.
type Snapshot struct {
	mu        sync.RWMutex
	overrides map[string]uint64
}

var _ Loader = (*Snapshot)(nil)

// NewSnapshot creates a snapshot with the given overrides. A nil map is
// treated as empty.
func NewSnapshot(overrides map[string]uint64) *Snapshot {
	if overrides == nil {
		overrides = make(map[string]uint64)
	}
	return &Snapshot{overrides: overrides}
}

// Set installs or replaces an override.
func (s *Snapshot) Set(key string, value uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[key] = value
}

func (s *Snapshot) FeatureEnabled(key string, defaultPercent uint64) bool {
	percent := s.GetInteger(key, defaultPercent)
	if percent > 100 {
		percent = 100
	}
	return uint64(rand.Int63n(100)) < percent
}

func (s *Snapshot) GetInteger(key string, defaultValue uint64) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.overrides[key]; ok {
		return v
	}
	return defaultValue
}
