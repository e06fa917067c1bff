package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
)

// TestLogger is a Logger that records JSON lines in memory
type TestLogger struct {
	Logger
	buf *lockedBuffer
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// NewTestLogger returns a logger at trace level that keeps every record in memory
func NewTestLogger() *TestLogger {
	buf := &lockedBuffer{}
	cl := &CentralLogger{
		config:       &LoggingConfig{DefaultLevel: string(LogLevelTrace)},
		moduleLevels: make(map[string]slog.Level),
		baseHandler:  slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: traceLevelValue}),
	}
	return &TestLogger{Logger: cl.Module("test"), buf: buf}
}

// Output returns everything logged so far
func (l *TestLogger) Output() string {
	return l.buf.String()
}

// Records decodes the logged JSON lines
func (l *TestLogger) Records() []map[string]any {
	var records []map[string]any
	for line := range strings.SplitSeq(strings.TrimSpace(l.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err == nil {
			records = append(records, rec)
		}
	}
	return records
}

// Contains reports whether any record has the given message
func (l *TestLogger) Contains(msg string) bool {
	for _, rec := range l.Records() {
		if rec[slog.MessageKey] == msg {
			return true
		}
	}
	return false
}
