// Package audit appends one line per mutating operation to an append-only
// log file. A failed audit write never fails the operation that produced it:
// the failure is counted and reported on the diagnostic channel only.
package audit

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"clustersec.org/internal/ids"
	"clustersec.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the operator request identifier to the context so
// every record produced under it can be correlated.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Record is one immutable audit log entry.
type Record struct {
	ID        string `json:"id"`
	Timestamp string `json:"ts"`
	Actor     string `json:"actor"`
	Action    string `json:"action"`
	Target    string `json:"target"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Logger writes timestamp-prefixed JSON lines to a single file.
type Logger struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewLogger returns a Logger appending to path. The file is created lazily on
// the first record.
func NewLogger(path string) *Logger {
	return &Logger{path: path, now: time.Now}
}

// Record appends one entry. It never returns an error; see the package
// comment for why.
func (l *Logger) Record(ctx context.Context, actor, action, target, detail string) {
	ts := l.now().UTC()
	rec := Record{
		ID:        ids.New(),
		Timestamp: ts.Format(time.RFC3339Nano),
		Actor:     actor,
		Action:    action,
		Target:    target,
		Detail:    detail,
		RequestID: requestIDFromContext(ctx),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		l.reportFailure(action, err)
		return
	}
	line := ts.Format(time.RFC3339) + " " + string(data) + "\n"

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		l.reportFailure(action, err)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		l.reportFailure(action, err)
	}
}

func (l *Logger) reportFailure(action string, err error) {
	obs.CountAuditWriteFailure()
	obs.Diag("audit write failed", map[string]any{
		"action": action,
		"path":   l.path,
		"error":  err.Error(),
	})
}
