// Copyright (c) mongotap contributors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"testing"
)

func TestNewMongoRejectsBadFaultConfig(t *testing.T) {
	_, err := NewMongo(MongoConfig{
		Host:            "localhost",
		Port:            "0",
		TargetHost:      "localhost",
		TargetPort:      "27017",
		FaultConfigJSON: []byte(`{"fixed_delay":{"percent":200,"duration_ms":10}}`),
	})
	if err == nil {
		t.Error("expected error for out-of-range delay percent")
	}
}

func TestNewMongoOptionalPieces(t *testing.T) {
	p, err := NewMongo(MongoConfig{
		Host:       "localhost",
		Port:       "0",
		TargetHost: "localhost",
		TargetPort: "27017",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer p.Close()

	if p.Breaker() != nil {
		t.Error("expected no breaker when MaxDialFailures is zero")
	}
	if p.limiter != nil {
		t.Error("expected no limiter when RateLimitCapacity is zero")
	}

	withExtras, err := NewMongo(MongoConfig{
		Host:              "localhost",
		Port:              "0",
		TargetHost:        "localhost",
		TargetPort:        "27017",
		RateLimitCapacity: 10,
		MaxDialFailures:   3,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer withExtras.Close()

	if withExtras.Breaker() == nil {
		t.Error("expected breaker to be armed")
	}
	if withExtras.limiter == nil {
		t.Error("expected limiter to be armed")
	}
}
