package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/faqdesk/sentry-watchdog/internal/models"
	"github.com/faqdesk/sentry-watchdog/internal/utils"
)

// EventType identifies the kind of auditable event.
type EventType string

const (
	EventProbe            EventType = "probe"
	EventEpisodeOpened    EventType = "episode_opened"
	EventSnapshotTaken    EventType = "snapshot_taken"
	EventSnapshotFailed   EventType = "snapshot_failed"
	EventSnapshotSkipped  EventType = "snapshot_skipped"
	EventAttempt          EventType = "attempt"
	EventEpisodeClosed    EventType = "episode_closed"
	EventNotified         EventType = "notification_sent"
	EventNotifyFailed     EventType = "notification_failed"
	EventNotifySuppressed EventType = "notification_suppressed"
	EventSweep            EventType = "retention_sweep"
)

// Entry is a single line in the audit log (JSONL format).
type Entry struct {
	Timestamp time.Time               `json:"timestamp"`
	Event     EventType               `json:"event"`
	Target    string                  `json:"target,omitempty"`
	EpisodeID string                  `json:"episode_id,omitempty"`
	Failure   utils.FailureKind       `json:"failure,omitempty"`
	Probe     *models.ProbeResult     `json:"probe,omitempty"`
	Attempt   *models.RecoveryAttempt `json:"attempt,omitempty"`
	Episode   *models.RecoveryEpisode `json:"episode,omitempty"`
	Detail    string                  `json:"detail,omitempty"`
}

// Log appends entries to a JSONL file. Entries are never rewritten or
// deleted here; rotation and retention belong to an external policy. One Log
// instance owns the file handle and serialises appends, so the file has a
// single writer even when target loops run concurrently.
type Log struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// Open creates or appends to the audit log at path.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &Log{file: file, path: path}, nil
}

// Path returns the location of the underlying file.
func (l *Log) Path() string { return l.path }

// Append writes one entry as a single line. A zero Timestamp is stamped with
// the current time.
func (l *Log) Append(e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// Close releases the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
