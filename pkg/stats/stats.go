// Copyright (c) mongotap contributors
// SPDX-License-Identifier: Apache-2.0

// Package stats provides the hierarchical stat sink the filter engine
// writes to. Names are dot-separated paths (for example
// "mongo.collection.users.query.total"); sinks are process-wide and
// safe for concurrent use by many connections.
package stats

import (
	"sync"
	"time"
)

// Scope is a sink for counters, gauges, histograms and timings.
type Scope interface {
	// Count adds value to the named counter.
	Count(name string, value int64)

	// Gauge adjusts the named gauge by delta (positive or negative).
	Gauge(name string, delta int64)

	// Histogram records one sample of the named distribution.
	Histogram(name string, value uint64)

	// Timing records one duration sample for the named timer.
	Timing(name string, d time.Duration)
}

// Nop is a Scope that discards everything.
var Nop Scope = nopScope{}

type nopScope struct{}

func (nopScope) Count(string, int64)          {}
func (nopScope) Gauge(string, int64)          {}
func (nopScope) Histogram(string, uint64)     {}
func (nopScope) Timing(string, time.Duration) {}

// Store is an in-memory Scope. It retains every value and sample and is
// intended for tests and debug endpoints.
type Store struct {
	mu         sync.Mutex
	counters   map[string]int64
	gauges     map[string]int64
	histograms map[string][]uint64
	timings    map[string][]time.Duration
}

var _ Scope = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		counters:   make(map[string]int64),
		gauges:     make(map[string]int64),
		histograms: make(map[string][]uint64),
		timings:    make(map[string][]time.Duration),
	}
}

func (s *Store) Count(name string, value int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name] += value
}

func (s *Store) Gauge(name string, delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gauges[name] += delta
}

func (s *Store) Histogram(name string, value uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histograms[name] = append(s.histograms[name], value)
}

func (s *Store) Timing(name string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timings[name] = append(s.timings[name], d)
}

// Counter returns the current value of the named counter.
func (s *Store) Counter(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[name]
}

// GaugeValue returns the current value of the named gauge.
func (s *Store) GaugeValue(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gauges[name]
}

// HistogramSamples returns the recorded samples for the named histogram.
func (s *Store) HistogramSamples(name string) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.histograms[name]...)
}

// TimingSamples returns the recorded samples for the named timer.
func (s *Store) TimingSamples(name string) []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.timings[name]...)
}
