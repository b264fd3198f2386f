// Copyright (c) mongotap contributors
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lsiv568/mongotap/pkg/errors"
)

// Runtime keys consulted by the engine. Each is read at most once per
// connection.
const (
	RuntimeProxyEnabled      = "mongo.proxy_enabled"
	RuntimeConnectionLogging = "mongo.connection_logging_enabled"
	RuntimeLogging           = "mongo.logging_enabled"
	RuntimeDelayPercent      = "mongo.fault.delay.percent"
	RuntimeDelayDuration     = "mongo.fault.delay.duration_ms"
)

// FaultConfig is the parsed fault-injection configuration: inject a fixed
// reply delay on a percentage of connections.
type FaultConfig struct {
	DelayPercent  uint64
	DelayDuration time.Duration
}

type faultConfigJSON struct {
	FixedDelay *struct {
		Percent    *uint64 `json:"percent"`
		DurationMs *uint64 `json:"duration_ms"`
	} `json:"fixed_delay"`
}

// ParseFaultConfig parses and validates the JSON fault configuration:
//
//	{"fixed_delay": {"percent": 0..100, "duration_ms": uint}}
//
// Malformed configuration is an error; it is never silently defaulted.
func ParseFaultConfig(data []byte) (*FaultConfig, error) {
	var raw faultConfigJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidFaultConfig, err)
	}
	if raw.FixedDelay == nil {
		return nil, fmt.Errorf("%w: missing fixed_delay", errors.ErrInvalidFaultConfig)
	}
	if raw.FixedDelay.Percent == nil || raw.FixedDelay.DurationMs == nil {
		return nil, fmt.Errorf("%w: fixed_delay requires percent and duration_ms", errors.ErrInvalidFaultConfig)
	}
	if *raw.FixedDelay.Percent > 100 {
		return nil, fmt.Errorf("%w: percent %d out of range", errors.ErrInvalidFaultConfig, *raw.FixedDelay.Percent)
	}
	if *raw.FixedDelay.DurationMs == 0 {
		return nil, fmt.Errorf("%w: duration_ms must be positive", errors.ErrInvalidFaultConfig)
	}
	return &FaultConfig{
		DelayPercent:  *raw.FixedDelay.Percent,
		DelayDuration: time.Duration(*raw.FixedDelay.DurationMs) * time.Millisecond,
	}, nil
}

// faultDecision is the per-connection delay decision, computed once at
// connection setup and immutable thereafter.
type faultDecision struct {
	enabled bool
	delay   time.Duration
}
