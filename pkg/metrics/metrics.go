// Copyright (c) mongotap contributors
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for the proxy's
// transport layer. Protocol-level stats (per-opcode counters, query
// timings) are emitted through the stats scope instead; the metrics
// here cover the byte-pipe side of the proxy that exists whether or
// not traffic sniffing is active.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Direction labels for BytesTransferred.
const (
	DirectionUpstream   = "upstream"
	DirectionDownstream = "downstream"
)

// Metrics holds the proxy's transport-level Prometheus metrics.
type Metrics struct {
	ActiveConnections   prometheus.Gauge
	TotalConnections    *prometheus.CounterVec
	ConnectionDuration  prometheus.Histogram
	BytesTransferred    *prometheus.CounterVec
	RateLimited         prometheus.Counter
	BackendDialErrors   prometheus.Counter
	CircuitBreakerState prometheus.Gauge
	CircuitBreakerTrips prometheus.Counter
}

// New creates a Metrics instance registered on reg. A nil reg falls
// back to the default registerer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "mongotap"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_connections",
				Help:      "Number of currently active proxied connections",
			},
		),
		TotalConnections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_total",
				Help:      "Total number of proxied connections",
			},
			[]string{"status"},
		),
		ConnectionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "connection_duration_seconds",
				Help:      "Proxied connection duration in seconds",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 600},
			},
		),
		BytesTransferred: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_transferred_total",
				Help:      "Total bytes proxied by direction",
			},
			[]string{"direction"},
		),
		RateLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_connections_total",
				Help:      "Connections rejected by the accept-path rate limiter",
			},
		),
		BackendDialErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_dial_errors_total",
				Help:      "Failed backend dial attempts",
			},
		),
		CircuitBreakerState: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Backend circuit breaker state (0=closed, 1=half_open, 2=open)",
			},
		),
		CircuitBreakerTrips: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_trips_total",
				Help:      "Times the backend circuit breaker opened",
			},
		),
	}
}

// ObserveConnection tracks one proxied connection's lifecycle around f.
func (m *Metrics) ObserveConnection(f func() error) error {
	m.ActiveConnections.Inc()
	defer m.ActiveConnections.Dec()

	start := time.Now()
	defer func() {
		m.ConnectionDuration.Observe(time.Since(start).Seconds())
	}()

	err := f()
	status := "success"
	if err != nil {
		status = "error"
	}
	m.TotalConnections.WithLabelValues(status).Inc()

	return err
}

// AddBytes accumulates proxied byte counts for one direction.
func (m *Metrics) AddBytes(direction string, n int) {
	m.BytesTransferred.WithLabelValues(direction).Add(float64(n))
}
