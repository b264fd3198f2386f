// Copyright (c) mongotap contributors
// SPDX-License-Identifier: Apache-2.0

package stats

import (
	"testing"
	"time"
)

func TestStoreCounters(t *testing.T) {
	s := NewStore()

	s.Count("mongo.op_query", 1)
	s.Count("mongo.op_query", 2)

	if got := s.Counter("mongo.op_query"); got != 3 {
		t.Errorf("expected 3, got %d", got)
	}
	if got := s.Counter("mongo.unknown"); got != 0 {
		t.Errorf("expected 0 for unseen counter, got %d", got)
	}
}

func TestStoreGaugeDeltas(t *testing.T) {
	s := NewStore()

	s.Gauge("mongo.op_query_active", 1)
	s.Gauge("mongo.op_query_active", 1)
	s.Gauge("mongo.op_query_active", -1)

	if got := s.GaugeValue("mongo.op_query_active"); got != 1 {
		t.Errorf("expected 1, got %d", got)
	}
}

func TestStoreSamples(t *testing.T) {
	s := NewStore()

	s.Histogram("mongo.reply_size", 22)
	s.Histogram("mongo.reply_size", 44)
	s.Timing("mongo.reply_time_ms", 5*time.Millisecond)

	sizes := s.HistogramSamples("mongo.reply_size")
	if len(sizes) != 2 || sizes[0] != 22 || sizes[1] != 44 {
		t.Errorf("unexpected histogram samples: %v", sizes)
	}
	timings := s.TimingSamples("mongo.reply_time_ms")
	if len(timings) != 1 || timings[0] != 5*time.Millisecond {
		t.Errorf("unexpected timing samples: %v", timings)
	}
}

func TestNopScope(t *testing.T) {
	// Must not panic.
	Nop.Count("x", 1)
	Nop.Gauge("x", -1)
	Nop.Histogram("x", 2)
	Nop.Timing("x", time.Second)
}
