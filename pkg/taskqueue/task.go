// Package taskqueue stores a team's tasks as one JSON file each and lets
// workers claim them. Claims and transitions run under a per-task lock file
// and replace the task file atomically, so a task has at most one owner.
package taskqueue

import (
	"errors"
	"fmt"
	"time"
)

// Status is a task's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Task is one unit of work.
type Task struct {
	ID                string         `json:"id"`
	Subject           string         `json:"subject"`
	Description       string         `json:"description,omitempty"`
	Owner             string         `json:"owner,omitempty"`
	Status            Status         `json:"status"`
	PermanentlyFailed bool           `json:"permanently_failed,omitempty"`
	Result            string         `json:"result,omitempty"`
	FailureReason     string         `json:"failure_reason,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	ClaimedAt         *time.Time     `json:"claimed_at,omitempty"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
}

// Summary counts a team's tasks. Completed excludes permanently failed
// tasks, which are counted under Failed.
type Summary struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

var (
	// ErrNotFound is returned for a task id with no task file.
	ErrNotFound = errors.New("task not found")
	// ErrLocked is returned when another writer holds the task's lock.
	ErrLocked = errors.New("task is locked by another writer")
	// ErrExists is returned by Create for a duplicate id.
	ErrExists = errors.New("task already exists")
)

// ClaimConflictError reports a claim on a task that is not pending.
type ClaimConflictError struct {
	ID     string
	Status Status
	Owner  string
}

func (e *ClaimConflictError) Error() string {
	if e.Owner != "" {
		return fmt.Sprintf("task %s is %s (owner %s)", e.ID, e.Status, e.Owner)
	}
	return fmt.Sprintf("task %s is %s", e.ID, e.Status)
}

// TransitionError reports a complete, fail, or release by a worker that
// does not own the task in progress.
type TransitionError struct {
	ID     string
	Op     string
	Worker string
	Status Status
	Owner  string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s task %s as %s: task is %s owned by %q", e.Op, e.ID, e.Worker, e.Status, e.Owner)
}
