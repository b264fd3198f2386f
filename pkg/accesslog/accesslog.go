// Copyright (c) mongotap contributors
// SPDX-License-Identifier: Apache-2.0

// Package accesslog provides structured per-connection access logging for
// observed protocol exchanges.
package accesslog

import (
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger appends structured access-log lines for connection lifecycle and
// completed query/reply exchanges.
type Logger struct {
	logger *slog.Logger
	closer io.Closer
}

// New opens (or creates) the access log file at path in append mode and
// logs JSON lines to it.
func New(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Logger{
		logger: slog.New(slog.NewJSONHandler(f, nil)),
		closer: f,
	}, nil
}

// NewWithWriter logs JSON lines to w. Used by tests and by deployments
// that ship logs from stdout.
func NewWithWriter(w io.Writer) *Logger {
	return &Logger{logger: slog.New(slog.NewJSONHandler(w, nil))}
}

// Close closes the underlying file, if any.
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// ConnectionOpened records a new proxied connection.
func (l *Logger) ConnectionOpened(sessionID, remoteAddr string) {
	l.logger.Info("connection",
		slog.String("session", sessionID),
		slog.String("remote", remoteAddr))
}

// Exchange records a completed query/reply pair.
func (l *Logger) Exchange(sessionID, collection string, requestID int32, numDocs int, replySize uint64, rtt time.Duration) {
	l.logger.Info("exchange",
		slog.String("session", sessionID),
		slog.String("collection", collection),
		slog.Int("request_id", int(requestID)),
		slog.Int("reply_num_docs", numDocs),
		slog.Uint64("reply_size", replySize),
		slog.Duration("reply_time", rtt))
}
