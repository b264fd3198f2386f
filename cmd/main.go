// Copyright (c) mongotap contributors
// SPDX-License-Identifier: Apache-2.0

// Package main runs the mongotap proxy: a transparent MongoDB
// observability proxy with Prometheus metrics and health endpoints.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	gort "runtime"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/lsiv568/mongotap"
	"github.com/lsiv568/mongotap/pkg/health"
	"github.com/lsiv568/mongotap/pkg/metrics"
	"github.com/lsiv568/mongotap/pkg/proxy"
	"github.com/lsiv568/mongotap/pkg/stats"
)

const envPrefix = "MONGOTAP_"

// serviceConfig holds process-wide settings; the listener itself is
// configured through mongotap.NewConfig.
type serviceConfig struct {
	MetricsPort     int           `env:"METRICS_PORT"     envDefault:"9090"`
	HealthPort      int           `env:"HEALTH_PORT"      envDefault:"8080"`
	LogLevel        string        `env:"LOG_LEVEL"        envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT"       envDefault:"json"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	MaxGoroutines   int           `env:"MAX_GOROUTINES"   envDefault:"50000"`
}

func main() {
	if err := godotenv.Load(); err != nil {
		// .env file is optional
	}

	var svc serviceConfig
	if err := env.ParseWithOptions(&svc, env.Options{Prefix: envPrefix}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse service config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(svc.LogLevel, svc.LogFormat)

	cfg, err := mongotap.NewConfig(env.Options{Prefix: envPrefix})
	if err != nil {
		logger.Error("failed to parse listener config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if cfg.Port == "" || cfg.TargetPort == "" {
		logger.Error("PORT and TARGET_PORT must be configured")
		os.Exit(1)
	}

	m := metrics.New("mongotap", nil)

	var scope stats.Scope = stats.Nop
	if cfg.StatsDAddress != "" {
		sd, err := stats.NewStatsD(cfg.StatsDAddress, logger)
		if err != nil {
			logger.Error("failed to connect StatsD", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer sd.Close()
		scope = sd
		logger.Info("shipping stats to StatsD", slog.String("address", cfg.StatsDAddress))
	}

	var faultJSON []byte
	if cfg.FaultConfig != "" {
		faultJSON = []byte(cfg.FaultConfig)
	}

	p, err := proxy.NewMongo(proxy.MongoConfig{
		Host:              cfg.Host,
		Port:              cfg.Port,
		TargetHost:        cfg.TargetHost,
		TargetPort:        cfg.TargetPort,
		TLSConfig:         cfg.TLSConfig,
		ShutdownTimeout:   svc.ShutdownTimeout,
		StatPrefix:        cfg.StatPrefix,
		Scope:             scope,
		AccessLogPath:     cfg.AccessLogPath,
		FaultConfigJSON:   faultJSON,
		LowWatermark:      cfg.LowWatermark,
		HighWatermark:     cfg.HighWatermark,
		RateLimitCapacity: cfg.RateLimitCapacity,
		RateLimitRefill:   cfg.RateLimitRefill,
		MaxDialFailures:   cfg.MaxDialFailures,
		Metrics:           m,
		Logger:            logger,
	})
	if err != nil {
		logger.Error("failed to create proxy", slog.String("error", err.Error()))
		os.Exit(1)
	}

	target := net.JoinHostPort(cfg.TargetHost, cfg.TargetPort)

	checker := health.NewChecker(10 * time.Second)
	checker.Register("backend", health.BackendReachable(target, 2*time.Second))
	checker.Register("goroutines", func(ctx context.Context) error {
		if count := gort.NumGoroutine(); count > svc.MaxGoroutines {
			return fmt.Errorf("too many goroutines: %d > %d", count, svc.MaxGoroutines)
		}
		return nil
	})
	if cb := p.Breaker(); cb != nil {
		checker.Register("circuit_breaker", health.BreakerClosed(cb))
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	go startMetricsServer(svc.MetricsPort, logger)
	go startHealthServer(svc.HealthPort, checker, logger)

	g.Go(func() error {
		logger.Info("starting MongoDB proxy",
			slog.String("address", net.JoinHostPort(cfg.Host, cfg.Port)),
			slog.String("target", target))
		return p.Listen(ctx)
	})

	g.Go(func() error {
		return stopSignalHandler(ctx, cancel, logger)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("mongotap service terminated with error: %s", err))
		os.Exit(1)
	}
	logger.Info("mongotap service stopped")
}

// setupLogger creates a structured logger with the specified level and format.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// startMetricsServer starts the Prometheus metrics HTTP server.
func startMetricsServer(port int, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("starting metrics server", slog.String("address", addr))

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server error", slog.String("error", err.Error()))
	}
}

// startHealthServer starts the health check HTTP server.
func startHealthServer(port int, checker *health.Checker, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", checker.HTTPHandler())
	mux.HandleFunc("/ready", checker.ReadinessHandler())
	mux.HandleFunc("/live", health.LivenessHandler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("starting health server", slog.String("address", addr))

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("health server error", slog.String("error", err.Error()))
	}
}

func stopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-c:
		logger.Info("received shutdown signal")
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
