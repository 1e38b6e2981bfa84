// Package audit is the team's append-only event log, one JSON object per
// line. Uptime and task totals are derived from it on every call.
package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType names an audit event.
type EventType string

const (
	EventBridgeStart           EventType = "bridge_start"
	EventBridgeShutdown        EventType = "bridge_shutdown"
	EventWorkerSpawned         EventType = "worker_spawned"
	EventWorkerKilled          EventType = "worker_killed"
	EventWorkerInterrupted     EventType = "worker_interrupted"
	EventTaskClaimed           EventType = "task_claimed"
	EventTaskCompleted         EventType = "task_completed"
	EventTaskPermanentlyFailed EventType = "task_permanently_failed"
	EventWorkerQuarantined     EventType = "worker_quarantined"
)

// Event is one audit record.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Team      string         `json:"team"`
	Worker    string         `json:"worker,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Filter selects events in Read. Zero fields match everything.
type Filter struct {
	Worker string
	Types  []EventType
	Since  time.Time
}

func (f Filter) match(ev Event) bool {
	if f.Worker != "" && ev.Worker != f.Worker {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, ev.Type) {
		return false
	}
	if !f.Since.IsZero() && ev.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// Log is an audit file.
type Log struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// Open returns the log at path. The file is created on first Append.
func Open(path string) *Log {
	return &Log{path: path, now: func() time.Time { return time.Now().UTC() }}
}

// Path returns the log file path.
func (l *Log) Path() string { return l.path }

// Append writes ev as a single line. ID and Timestamp are filled when
// empty.
func (l *Log) Append(ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now()
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // path from state layout
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// Read returns matching events in file order. Malformed lines are
// skipped; a missing file has no events.
func (l *Log) Read(filter Filter) []Event {
	f, err := os.Open(l.path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var out []Event
	r := bufio.NewReaderSize(f, 64*1024)
	for {
		line, err := readLine(r)
		var ev Event
		if len(line) > 0 && json.Unmarshal(line, &ev) == nil && ev.Type != "" && filter.match(ev) {
			out = append(out, ev)
		}
		if err != nil {
			return out
		}
	}
}

// maxLineBytes bounds one record. Longer lines are skipped.
const maxLineBytes = 4 * 1024 * 1024

// readLine returns the next line of r, or nil for a line over maxLineBytes.
// The error is non-nil only at the end of input or on a read failure.
func readLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	over := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !over {
			if len(line)+len(chunk) > maxLineBytes {
				over, line = true, nil
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return line, err
	}
}

// Uptime returns how long worker has been up according to its latest
// bridge_start. A later bridge_shutdown, or no start at all, yields 0.
func (l *Log) Uptime(worker string, now time.Time) time.Duration {
	var started time.Time
	for _, ev := range l.Read(Filter{Worker: worker, Types: []EventType{EventBridgeStart, EventBridgeShutdown}}) {
		switch ev.Type {
		case EventBridgeStart:
			started = ev.Timestamp
		case EventBridgeShutdown:
			if !ev.Timestamp.Before(started) {
				started = time.Time{}
			}
		}
	}
	if started.IsZero() || now.Before(started) {
		return 0
	}
	return now.Sub(started)
}

// TaskTotals counts worker's completed and permanently failed tasks.
func (l *Log) TaskTotals(worker string) (completed, failed int) {
	for _, ev := range l.Read(Filter{Worker: worker, Types: []EventType{EventTaskCompleted, EventTaskPermanentlyFailed}}) {
		if ev.Type == EventTaskCompleted {
			completed++
		} else {
			failed++
		}
	}
	return completed, failed
}
