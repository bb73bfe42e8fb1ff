package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRecord(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "audit.log")
	l := NewLogger(path)
	fixed := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	ctx := WithRequestID(context.Background(), "req-7")
	l.Record(ctx, "operator", "user.create", "alice", "roles=viewer")
	l.Record(ctx, "operator", "user.delete", "bob", "")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	prefix, body, found := strings.Cut(lines[0], " ")
	if !found {
		t.Fatalf("line missing timestamp prefix: %q", lines[0])
	}
	if _, err := time.Parse(time.RFC3339, prefix); err != nil {
		t.Fatalf("prefix %q is not RFC3339: %v", prefix, err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		t.Fatalf("line body is not JSON: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("record must carry an id")
	}
	if rec.Actor != "operator" || rec.Action != "user.create" || rec.Target != "alice" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.RequestID != "req-7" {
		t.Fatalf("request id not propagated: %+v", rec)
	}
}

func TestRecordIsAppendOnly(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "audit.log")
	l := NewLogger(path)

	l.Record(context.Background(), "a", "first", "t", "")
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	l.Record(context.Background(), "a", "second", "t", "")
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(string(after), string(before)) {
		t.Fatal("existing records must never be rewritten")
	}
}

// A failing audit write must not surface to the operation that triggered it.
func TestRecordSwallowsWriteFailure(t *testing.T) {
	t.Parallel()
	// A directory path cannot be opened for appending.
	l := NewLogger(t.TempDir())
	l.Record(context.Background(), "operator", "user.create", "alice", "")
	// Reaching this point is the assertion: no panic, no error to handle.
}
