// Copyright (c) mongotap contributors
// SPDX-License-Identifier: Apache-2.0

// Package filter implements the data-path engine of the proxy: a
// per-connection filter that decodes bidirectional MongoDB wire traffic,
// correlates requests to replies across any number of in-flight
// operations, derives hierarchical stat names from message content, and
// injects configurable artificial reply delays.
//
// The engine is purely observational. Decode failures disable further
// sniffing on the connection but never tear it down; bytes keep flowing
// either way. One engine instance is owned by one connection and must be
// driven from a single execution context (the Host serializes timer
// fires with data events).
package filter
