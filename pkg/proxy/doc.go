// Copyright (c) mongotap contributors
// SPDX-License-Identifier: Apache-2.0

// Package proxy assembles the pieces of a MongoDB observability proxy
// into one listener: the TCP front end, the per-connection filter
// engine, fault injection, access logging, rate limiting and the
// backend circuit breaker.
//
// Minimal usage:
//
//	p, err := proxy.NewMongo(proxy.MongoConfig{
//		Host:       "0.0.0.0",
//		Port:       "27017",
//		TargetHost: "mongo.internal",
//		TargetPort: "27017",
//		StatPrefix: "mongo",
//		Scope:      scope,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	err = p.Listen(ctx)
//
// The proxy is transparent: clients connect to it exactly as they
// would to the backend, and every byte is forwarded unmodified.
package proxy
