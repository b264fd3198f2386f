// Copyright (c) mongotap contributors
// SPDX-License-Identifier: Apache-2.0

// Package tcp implements the proxy's TCP front end.
//
// The server accepts client connections, dials the configured backend
// for each one, and pipes bytes in both directions. Every chunk is
// shown to a per-connection filter engine before it is forwarded; the
// engine observes traffic and may pause reads (fault injection), but
// it never rewrites or withholds bytes already read.
//
// Connection-level concerns live on the accept path: per-client-IP
// rate limiting, a circuit breaker around backend dials, optional TLS
// on the listener, and Prometheus transport metrics. Shutdown is
// graceful with a configurable drain timeout.
package tcp
