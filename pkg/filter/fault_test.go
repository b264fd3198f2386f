// Copyright (c) mongotap contributors
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	gerrors "errors"
	"testing"
	"time"

	"github.com/lsiv568/mongotap/pkg/errors"
)

func TestParseFaultConfig(t *testing.T) {
	cfg, err := ParseFaultConfig([]byte(`{"fixed_delay":{"percent":50,"duration_ms":10}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.DelayPercent != 50 {
		t.Errorf("percent = %d", cfg.DelayPercent)
	}
	if cfg.DelayDuration != 10*time.Millisecond {
		t.Errorf("duration = %v", cfg.DelayDuration)
	}
}

func TestParseFaultConfigErrors(t *testing.T) {
	cases := []struct {
		name string
		json string
	}{
		{"malformed json", `{"fixed_delay":`},
		{"missing fixed_delay", `{}`},
		{"missing percent", `{"fixed_delay":{"duration_ms":10}}`},
		{"missing duration", `{"fixed_delay":{"percent":50}}`},
		{"percent out of range", `{"fixed_delay":{"percent":101,"duration_ms":10}}`},
		{"zero duration", `{"fixed_delay":{"percent":50,"duration_ms":0}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseFaultConfig([]byte(tc.json)); !gerrors.Is(err, errors.ErrInvalidFaultConfig) {
				t.Fatalf("expected ErrInvalidFaultConfig, got %v", err)
			}
		})
	}
}
