// Copyright (c) mongotap contributors
// SPDX-License-Identifier: Apache-2.0

package accesslog

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestExchangeFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf)

	l.Exchange("sess-1", "users", 42, 3, 96, 15*time.Millisecond)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "exchange" {
		t.Errorf("unexpected msg: %v", entry["msg"])
	}
	if entry["collection"] != "users" {
		t.Errorf("unexpected collection: %v", entry["collection"])
	}
	if entry["request_id"] != float64(42) {
		t.Errorf("unexpected request_id: %v", entry["request_id"])
	}
	if entry["reply_num_docs"] != float64(3) {
		t.Errorf("unexpected reply_num_docs: %v", entry["reply_num_docs"])
	}
}

func TestConnectionOpened(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf)

	l.ConnectionOpened("sess-1", "10.0.0.1:5000")

	if !strings.Contains(buf.String(), "sess-1") || !strings.Contains(buf.String(), "10.0.0.1:5000") {
		t.Errorf("expected session and remote in log line, got %q", buf.String())
	}
}

func TestFileAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.log")

	l, err := New(path)
	if err != nil {
		t.Fatalf("failed to open access log: %v", err)
	}
	l.ConnectionOpened("a", "x")
	if err := l.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// Reopening appends rather than truncates.
	l2, err := New(path)
	if err != nil {
		t.Fatalf("failed to reopen access log: %v", err)
	}
	l2.ConnectionOpened("b", "y")
	l2.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read access log: %v", err)
	}
	lines := strings.Count(strings.TrimSpace(string(data)), "\n") + 1
	if lines != 2 {
		t.Errorf("expected 2 log lines, got %d: %q", lines, string(data))
	}
}
