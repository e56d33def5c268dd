// Package audit writes the policy engine's decision trail: one JSON-lines
// file, one record per decision, rotated by size. Grounded on the
// teacher's slog-based async Logger for the buffered-writer shape and on
// the artifact store's write-to-temp-then-rename technique for rotation
// safety, generalized to the narrower record format the policy engine
// produces.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/haasonsaas/agentrun/pkg/models"
)

// DefaultMaxBytes is the rotation threshold used when NewLogger is given
// a non-positive maxBytes.
const DefaultMaxBytes = 10 << 20

// Record is one line of audit.jsonl: `spec.md` §4.3's
// {ts, session_id, call_id, tool, risk, decision, reason, args_redacted}.
type Record struct {
	Timestamp    time.Time        `json:"ts"`
	SessionID    string           `json:"session_id"`
	CallID       string           `json:"call_id"`
	Tool         string           `json:"tool"`
	Risk         models.RiskLevel `json:"risk"`
	Decision     models.Decision  `json:"decision"`
	Reason       string           `json:"reason"`
	ArgsRedacted json.RawMessage  `json:"args_redacted,omitempty"`
}

// Logger is an append-only, size-rotated JSON-lines writer. Concurrent
// writers in the same process serialize through mu.
type Logger struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	file     *os.File
	size     int64
}

// NewLogger opens (creating if necessary) the audit log at path. The
// directory and file are created with owner-only permissions.
func NewLogger(path string, maxBytes int64) (*Logger, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create audit directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat audit log: %w", err)
	}
	return &Logger{path: path, maxBytes: maxBytes, file: f, size: info.Size()}, nil
}

// Close closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// RecordDecision builds and writes an audit record for one policy
// decision, with arguments already passed through the redactor.
func (l *Logger) RecordDecision(sessionID, callID, tool string, risk models.RiskLevel, decision models.Decision, reason string, argsRedacted json.RawMessage) error {
	return l.WriteDecision(Record{
		Timestamp:    time.Now(),
		SessionID:    sessionID,
		CallID:       callID,
		Tool:         tool,
		Risk:         risk,
		Decision:     decision,
		Reason:       reason,
		ArgsRedacted: argsRedacted,
	})
}

// WriteDecision appends one record, rotating the file first if writing
// it would push the file past maxBytes.
func (l *Logger) WriteDecision(rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.size > 0 && l.size+int64(len(line)) > l.maxBytes {
		if err := l.rotateLocked(); err != nil {
			return err
		}
	}
	n, err := l.file.Write(line)
	if err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	l.size += int64(n)
	return nil
}

// rotateLocked closes the current file, renames it aside under the next
// free numeric suffix (an atomic rename, so a concurrent reader never
// observes a half-rotated file), and opens a fresh one at path. Called
// with mu held.
func (l *Logger) rotateLocked() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close audit log before rotation: %w", err)
	}
	rotated := l.nextRotatedPathLocked()
	if err := os.Rename(l.path, rotated); err != nil {
		return fmt.Errorf("rotate audit log: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("reopen audit log after rotation: %w", err)
	}
	l.file = f
	l.size = 0
	return nil
}

func (l *Logger) nextRotatedPathLocked() string {
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s.%d", l.path, n)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
