// Copyright (c) mongotap contributors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/lsiv568/mongotap/pkg/accesslog"
	"github.com/lsiv568/mongotap/pkg/breaker"
	"github.com/lsiv568/mongotap/pkg/filter"
	"github.com/lsiv568/mongotap/pkg/metrics"
	"github.com/lsiv568/mongotap/pkg/ratelimit"
	"github.com/lsiv568/mongotap/pkg/runtime"
	"github.com/lsiv568/mongotap/pkg/server/tcp"
	"github.com/lsiv568/mongotap/pkg/stats"
)

// MongoConfig holds configuration for the MongoDB proxy.
type MongoConfig struct {
	Host       string
	Port       string
	TargetHost string
	TargetPort string

	TLSConfig       *tls.Config
	ShutdownTimeout time.Duration

	// StatPrefix roots every protocol stat name for this listener.
	StatPrefix string

	// Scope receives protocol stats. Nil means stats are dropped.
	Scope stats.Scope

	// Runtime supplies feature gates and fault overrides. Nil means
	// all defaults.
	Runtime runtime.Loader

	// AccessLogPath enables the connection access log when non-empty.
	AccessLogPath string

	// FaultConfigJSON, when non-empty, configures fixed-delay fault
	// injection for sniffed connections.
	FaultConfigJSON []byte

	// LowWatermark and HighWatermark bound per-direction staging
	// buffers; zero HighWatermark disables flow control.
	LowWatermark  int
	HighWatermark int

	// RateLimitCapacity and RateLimitRefill configure per-client-IP
	// connection limiting. Zero capacity disables it.
	RateLimitCapacity int64
	RateLimitRefill   int64

	// MaxDialFailures arms the backend circuit breaker. Zero
	// disables it.
	MaxDialFailures int

	// Metrics, if set, records transport-level Prometheus metrics.
	Metrics *metrics.Metrics

	Logger *slog.Logger
}

// MongoProxy ties the TCP server to a per-connection traffic engine.
type MongoProxy struct {
	server    *tcp.Server
	accessLog *accesslog.Logger
	limiter   *ratelimit.Limiter
	breaker   *breaker.CircuitBreaker
}

// NewMongo creates a MongoDB proxy: a TCP byte pipe in front of the
// target with a filter engine observing every connection.
func NewMongo(cfg MongoConfig) (*MongoProxy, error) {
	var fault *filter.FaultConfig
	if len(cfg.FaultConfigJSON) > 0 {
		parsed, err := filter.ParseFaultConfig(cfg.FaultConfigJSON)
		if err != nil {
			return nil, fmt.Errorf("invalid fault config: %w", err)
		}
		fault = parsed
	}

	var accessLog *accesslog.Logger
	if cfg.AccessLogPath != "" {
		al, err := accesslog.New(cfg.AccessLogPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open access log: %w", err)
		}
		accessLog = al
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimitCapacity > 0 {
		refill := cfg.RateLimitRefill
		if refill == 0 {
			refill = cfg.RateLimitCapacity
		}
		limiter = ratelimit.NewLimiter(cfg.RateLimitCapacity, refill, 0)
	}

	var cb *breaker.CircuitBreaker
	if cfg.MaxDialFailures > 0 {
		cb = breaker.New(breaker.Config{MaxFailures: cfg.MaxDialFailures})
		if cfg.Metrics != nil {
			m := cfg.Metrics
			cb.OnStateChange(func(from, to breaker.State) {
				m.CircuitBreakerState.Set(float64(to))
				if to == breaker.StateOpen {
					m.CircuitBreakerTrips.Inc()
				}
			})
		}
	}

	newFilter := func(sessionID, remoteAddr string, host filter.Host) *filter.ProxyFilter {
		return filter.New(filter.Config{
			StatPrefix: cfg.StatPrefix,
			SessionID:  sessionID,
			RemoteAddr: remoteAddr,
			Scope:      cfg.Scope,
			Runtime:    cfg.Runtime,
			AccessLog:  accessLog,
			Fault:      fault,
			Host:       host,
		})
	}

	serverCfg := tcp.Config{
		Address:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		TargetAddress:   fmt.Sprintf("%s:%s", cfg.TargetHost, cfg.TargetPort),
		TLSConfig:       cfg.TLSConfig,
		ShutdownTimeout: cfg.ShutdownTimeout,
		LowWatermark:    cfg.LowWatermark,
		HighWatermark:   cfg.HighWatermark,
		Limiter:         limiter,
		Breaker:         cb,
		Metrics:         cfg.Metrics,
		Logger:          cfg.Logger,
	}

	return &MongoProxy{
		server:    tcp.New(serverCfg, newFilter),
		accessLog: accessLog,
		limiter:   limiter,
		breaker:   cb,
	}, nil
}

// Listen starts the proxy server and blocks until context is cancelled.
func (p *MongoProxy) Listen(ctx context.Context) error {
	defer p.Close()
	return p.server.Listen(ctx)
}

// Breaker exposes the backend circuit breaker, or nil when disabled.
func (p *MongoProxy) Breaker() *breaker.CircuitBreaker {
	return p.breaker
}

// Close releases the proxy's auxiliary resources.
func (p *MongoProxy) Close() error {
	if p.limiter != nil {
		p.limiter.Close()
	}
	if p.accessLog != nil {
		return p.accessLog.Close()
	}
	return nil
}
