// Copyright (c) mongotap contributors
// SPDX-License-Identifier: Apache-2.0

package stats

import (
	"log/slog"
	"sync"
	"time"

	"github.com/DataDog/datadog-go/statsd"
)

// statsdBufferLen is the statsd client's event buffer size.
const statsdBufferLen = 1024

// StatsD is a Scope backed by a buffered DataDog statsd client. Dotted
// stat names map directly onto the statsd namespace.
type StatsD struct {
	client *statsd.Client
	logger *slog.Logger

	// statsd gauges are absolute; track the running value per name so
	// Gauge can accept deltas.
	mu     sync.Mutex
	gauges map[string]int64
}

var _ Scope = (*StatsD)(nil)

// NewStatsD connects a buffered statsd client to host (e.g.
// "127.0.0.1:8125").
func NewStatsD(host string, logger *slog.Logger) (*StatsD, error) {
	c, err := statsd.NewBuffered(host, statsdBufferLen)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsD{
		client: c,
		logger: logger,
		gauges: make(map[string]int64),
	}, nil
}

// Close flushes and closes the underlying client.
func (s *StatsD) Close() error {
	return s.client.Close()
}

func (s *StatsD) Count(name string, value int64) {
	if err := s.client.Count(name, value, nil, 1); err != nil {
		s.logger.Debug("statsd count failed", slog.String("name", name), slog.String("error", err.Error()))
	}
}

func (s *StatsD) Gauge(name string, delta int64) {
	s.mu.Lock()
	s.gauges[name] += delta
	value := s.gauges[name]
	s.mu.Unlock()

	if err := s.client.Gauge(name, float64(value), nil, 1); err != nil {
		s.logger.Debug("statsd gauge failed", slog.String("name", name), slog.String("error", err.Error()))
	}
}

func (s *StatsD) Histogram(name string, value uint64) {
	if err := s.client.Histogram(name, float64(value), nil, 1); err != nil {
		s.logger.Debug("statsd histogram failed", slog.String("name", name), slog.String("error", err.Error()))
	}
}

func (s *StatsD) Timing(name string, d time.Duration) {
	if err := s.client.Timing(name, d, nil, 1); err != nil {
		s.logger.Debug("statsd timing failed", slog.String("name", name), slog.String("error", err.Error()))
	}
}
