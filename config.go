// Copyright (c) mongotap contributors
// SPDX-License-Identifier: Apache-2.0

package mongotap

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
)

// Config holds one proxy listener's configuration, populated from the
// environment. Use env.Options.Prefix to scope variable names per
// listener.
type Config struct {
	Host       string `env:"HOST"        envDefault:""`
	Port       string `env:"PORT"        envDefault:""`
	TargetHost string `env:"TARGET_HOST" envDefault:""`
	TargetPort string `env:"TARGET_PORT" envDefault:""`

	// StatPrefix roots every protocol stat name for this listener.
	StatPrefix string `env:"STAT_PREFIX" envDefault:"mongo"`

	// StatsDAddress enables StatsD stat shipping when non-empty.
	StatsDAddress string `env:"STATSD_ADDRESS" envDefault:""`

	// AccessLogPath enables the connection access log when non-empty.
	AccessLogPath string `env:"ACCESS_LOG_PATH" envDefault:""`

	// FaultConfig is an inline JSON fixed-delay fault specification.
	FaultConfig string `env:"FAULT_CONFIG" envDefault:""`

	LowWatermark  int `env:"LOW_WATERMARK"  envDefault:"0"`
	HighWatermark int `env:"HIGH_WATERMARK" envDefault:"0"`

	RateLimitCapacity int64 `env:"RATE_LIMIT_CAPACITY" envDefault:"0"`
	RateLimitRefill   int64 `env:"RATE_LIMIT_REFILL"   envDefault:"0"`

	MaxDialFailures int `env:"MAX_DIAL_FAILURES" envDefault:"0"`

	// CertFile and KeyFile enable TLS on the listener; ClientCAFile
	// additionally requires client certificates (mTLS).
	CertFile     string `env:"CERT_FILE"      envDefault:""`
	KeyFile      string `env:"KEY_FILE"       envDefault:""`
	ClientCAFile string `env:"CLIENT_CA_FILE" envDefault:""`

	TLSConfig *tls.Config `env:"-"`
}

// NewConfig parses a listener configuration from the environment and
// loads TLS material when configured.
func NewConfig(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, err
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		tlsCfg, err := loadTLS(cfg.CertFile, cfg.KeyFile, cfg.ClientCAFile)
		if err != nil {
			return Config{}, err
		}
		cfg.TLSConfig = tlsCfg
	}

	return cfg, nil
}

func loadTLS(certFile, keyFile, clientCAFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if clientCAFile != "" {
		caPEM, err := os.ReadFile(clientCAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read client CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no certificates parsed from %s", clientCAFile)
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return tlsCfg, nil
}
