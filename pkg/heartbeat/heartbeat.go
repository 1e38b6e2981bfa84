// Package heartbeat stores worker liveness records and judges worker
// health from them together with the state of each worker's tmux pane.
package heartbeat

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"crewmux/internal/clock"
	"crewmux/internal/fsutil"
)

// DefaultMaxAge is how old a heartbeat may be before the worker is
// considered not alive.
const DefaultMaxAge = 30 * time.Second

// Status is what a worker reports about itself.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusWorking     Status = "working"
	StatusQuarantined Status = "quarantined"
)

// Record is a worker's heartbeat file.
type Record struct {
	WorkerID          string    `json:"worker_id"`
	Team              string    `json:"team"`
	LastPollAt        time.Time `json:"last_poll_at"`
	Status            Status    `json:"status"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	CurrentTaskID     string    `json:"current_task_id,omitempty"`
	PID               int       `json:"pid,omitempty"`
}

// IsAlive reports whether rec was written within maxAge of now.
func IsAlive(rec Record, now time.Time, maxAge time.Duration) bool {
	if rec.LastPollAt.IsZero() {
		return false
	}
	return now.Sub(rec.LastPollAt) <= maxAge
}

// Store reads and writes heartbeat files under
// <TeamsDir>/<team>/workers/<worker>/heartbeat.json.
type Store struct {
	TeamsDir string
	Clock    clock.Clock
}

// NewStore returns a Store rooted at teamsDir.
func NewStore(teamsDir string) *Store {
	return &Store{TeamsDir: teamsDir}
}

func (s *Store) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now().UTC()
}

// Path returns the heartbeat file for a worker.
func (s *Store) Path(team, worker string) string {
	return filepath.Join(s.TeamsDir, team, "workers", worker, "heartbeat.json")
}

// Write replaces the worker's heartbeat. A zero LastPollAt is set to now.
// This is the worker-side write.
func (s *Store) Write(rec Record) error {
	if rec.WorkerID == "" || rec.Team == "" {
		return fmt.Errorf("heartbeat needs team and worker id")
	}
	if rec.LastPollAt.IsZero() {
		rec.LastPollAt = s.now()
	}
	if err := fsutil.WriteJSONAtomic(s.Path(rec.Team, rec.WorkerID), rec); err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	return nil
}

// Read returns the worker's heartbeat. Missing and unparseable files both
// report ok=false.
func (s *Store) Read(team, worker string) (Record, bool) {
	data, err := os.ReadFile(s.Path(team, worker))
	if err != nil {
		return Record{}, false
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false
	}
	return rec, true
}

// IsAlive reports whether the worker has a heartbeat younger than maxAge.
// A missing heartbeat and a stale one are treated the same.
func (s *Store) IsAlive(team, worker string, maxAge time.Duration) bool {
	rec, ok := s.Read(team, worker)
	return ok && IsAlive(rec, s.now(), maxAge)
}
