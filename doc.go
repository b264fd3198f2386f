// Copyright (c) mongotap contributors
// SPDX-License-Identifier: Apache-2.0

// Package mongotap is a transparent TCP proxy that observes MongoDB
// wire-protocol traffic. It sits between drivers and a mongod or
// mongos, forwards every byte unmodified, and derives per-collection
// stats, access logs and optional fault injection from the messages
// it sees.
//
// The root package holds the environment-driven listener
// configuration; pkg/proxy assembles a runnable proxy from it.
package mongotap
