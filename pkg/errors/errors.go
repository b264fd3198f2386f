// Copyright (c) mongotap contributors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides structured error handling for mongotap.
package errors

import (
	"errors"
	"fmt"
)

// Common error types
var (
	// ErrInvalidFaultConfig indicates malformed fault-injection
	// configuration; surfaced at construction, never defaulted.
	ErrInvalidFaultConfig = errors.New("invalid fault configuration")

	// ErrConnectionClosed indicates the connection was closed.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrBackendUnavailable indicates the backend is unavailable.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrRateLimited indicates connection rate limit exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// ProxyError wraps an error with connection context.
type ProxyError struct {
	Op         string // Operation that failed
	SessionID  string // Session identifier
	RemoteAddr string // Client address
	Err        error  // Underlying error
}

// Error implements the error interface.
func (e *ProxyError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s [%s] %s: %v", e.Op, e.SessionID, e.RemoteAddr, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.RemoteAddr, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProxyError) Unwrap() error {
	return e.Err
}

// New creates a new ProxyError.
func New(op, sessionID, remoteAddr string, err error) error {
	if err == nil {
		return nil
	}
	return &ProxyError{
		Op:         op,
		SessionID:  sessionID,
		RemoteAddr: remoteAddr,
		Err:        err,
	}
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
