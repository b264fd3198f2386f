// Copyright (c) mongotap contributors
// SPDX-License-Identifier: Apache-2.0

package mongotap

import (
	"testing"

	"github.com/caarlos0/env/v11"
)

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("MONGOTAP_HOST", "0.0.0.0")
	t.Setenv("MONGOTAP_PORT", "27017")
	t.Setenv("MONGOTAP_TARGET_HOST", "mongo.internal")
	t.Setenv("MONGOTAP_TARGET_PORT", "27018")
	t.Setenv("MONGOTAP_STAT_PREFIX", "mongo.prod")
	t.Setenv("MONGOTAP_HIGH_WATERMARK", "1048576")

	cfg, err := NewConfig(env.Options{Prefix: "MONGOTAP_"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Host != "0.0.0.0" || cfg.Port != "27017" {
		t.Errorf("unexpected listen address: %s:%s", cfg.Host, cfg.Port)
	}
	if cfg.TargetHost != "mongo.internal" || cfg.TargetPort != "27018" {
		t.Errorf("unexpected target address: %s:%s", cfg.TargetHost, cfg.TargetPort)
	}
	if cfg.StatPrefix != "mongo.prod" {
		t.Errorf("unexpected stat prefix: %s", cfg.StatPrefix)
	}
	if cfg.HighWatermark != 1<<20 {
		t.Errorf("unexpected high watermark: %d", cfg.HighWatermark)
	}
	if cfg.TLSConfig != nil {
		t.Error("expected no TLS config without cert material")
	}
}

func TestNewConfigDefaults(t *testing.T) {
	cfg, err := NewConfig(env.Options{Prefix: "MONGOTAP_TEST_UNSET_"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StatPrefix != "mongo" {
		t.Errorf("expected default stat prefix, got %q", cfg.StatPrefix)
	}
	if cfg.Port != "" {
		t.Errorf("expected empty port, got %q", cfg.Port)
	}
}

func TestNewConfigBadTLS(t *testing.T) {
	t.Setenv("TLSBAD_CERT_FILE", "/nonexistent/cert.pem")
	t.Setenv("TLSBAD_KEY_FILE", "/nonexistent/key.pem")

	if _, err := NewConfig(env.Options{Prefix: "TLSBAD_"}); err == nil {
		t.Error("expected error for missing certificate files")
	}
}
