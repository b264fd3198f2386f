// Copyright (c) mongotap contributors
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	gerrors "errors"
	"strings"
	"testing"
)

func TestProxyErrorUnwrap(t *testing.T) {
	err := New("dial", "sess-1", "10.0.0.1:5000", ErrBackendUnavailable)

	if !gerrors.Is(err, ErrBackendUnavailable) {
		t.Error("expected wrapped sentinel to survive errors.Is")
	}

	var pe *ProxyError
	if !gerrors.As(err, &pe) {
		t.Fatal("expected a *ProxyError")
	}
	if pe.Op != "dial" || pe.SessionID != "sess-1" {
		t.Errorf("unexpected context: %+v", pe)
	}
}

func TestProxyErrorMessage(t *testing.T) {
	withSession := New("proxy", "sess-1", "10.0.0.1:5000", ErrConnectionClosed).Error()
	if !strings.Contains(withSession, "sess-1") {
		t.Errorf("expected session in message, got %q", withSession)
	}

	withoutSession := New("accept", "", "10.0.0.1:5000", ErrRateLimited).Error()
	if strings.Contains(withoutSession, "[") {
		t.Errorf("expected no session brackets, got %q", withoutSession)
	}
}

func TestNewNilPassthrough(t *testing.T) {
	if New("dial", "", "", nil) != nil {
		t.Error("expected nil for nil cause")
	}
	if Wrap(nil, "context") != nil {
		t.Error("expected nil for nil cause")
	}
}
