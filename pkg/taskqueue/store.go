package taskqueue

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"crewmux/internal/clock"
	"crewmux/internal/fsutil"
)

// DefaultLockStaleAfter is how old a lock file must be before it is
// considered abandoned and broken.
const DefaultLockStaleAfter = 30 * time.Second

var validID = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9._-]*$`)

// Store is the task directory of one team.
type Store struct {
	Dir            string
	LockStaleAfter time.Duration
	Clock          clock.Clock
}

// NewStore returns a Store over dir.
func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

func (s *Store) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now().UTC()
}

func (s *Store) staleAfter() time.Duration {
	if s.LockStaleAfter <= 0 {
		return DefaultLockStaleAfter
	}
	return s.LockStaleAfter
}

func (s *Store) taskPath(id string) string { return filepath.Join(s.Dir, id+".json") }
func (s *Store) lockPath(id string) string { return filepath.Join(s.Dir, id+".lock") }

func checkID(id string) error {
	if !validID.MatchString(id) {
		return fmt.Errorf("invalid task id %q", id)
	}
	return nil
}

// Create writes a new pending task. An empty ID is replaced with a UUID.
func (s *Store) Create(t Task) (Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if err := checkID(t.ID); err != nil {
		return Task{}, err
	}
	if strings.TrimSpace(t.Subject) == "" {
		return Task{}, errors.New("task subject is required")
	}
	now := s.now()
	t.Status = StatusPending
	t.Owner = ""
	t.PermanentlyFailed = false
	t.CreatedAt = now
	t.UpdatedAt = now
	t.ClaimedAt = nil
	t.CompletedAt = nil

	err := s.withLock(t.ID, func() error {
		if _, err := os.Stat(s.taskPath(t.ID)); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, t.ID)
		}
		return s.write(t)
	})
	if err != nil {
		return Task{}, err
	}
	return t, nil
}

// Get reads one task.
func (s *Store) Get(id string) (Task, error) {
	if err := checkID(id); err != nil {
		return Task{}, err
	}
	return s.read(id)
}

// List returns every readable task ordered by creation time. Unreadable
// or malformed files are skipped.
func (s *Store) List() []Task {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil
	}
	var tasks []Task
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		t, err := s.read(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		tasks = append(tasks, t)
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
	return tasks
}

// Claim assigns a pending task to worker. Owner, status, and claim time
// are written together.
func (s *Store) Claim(id, worker string) (Task, error) {
	if worker == "" {
		return Task{}, errors.New("claim: worker is required")
	}
	return s.update(id, func(t *Task, now time.Time) error {
		if t.Status != StatusPending {
			return &ClaimConflictError{ID: id, Status: t.Status, Owner: t.Owner}
		}
		t.Owner = worker
		t.Status = StatusInProgress
		t.ClaimedAt = &now
		return nil
	})
}

// Complete marks worker's in-progress task completed with result.
func (s *Store) Complete(id, worker, result string) (Task, error) {
	return s.update(id, func(t *Task, now time.Time) error {
		if err := requireOwned(t, "complete", worker); err != nil {
			return err
		}
		t.Status = StatusCompleted
		t.Result = result
		t.CompletedAt = &now
		return nil
	})
}

// Fail marks worker's in-progress task completed and permanently failed.
func (s *Store) Fail(id, worker, reason string) (Task, error) {
	return s.update(id, func(t *Task, now time.Time) error {
		if err := requireOwned(t, "fail", worker); err != nil {
			return err
		}
		t.Status = StatusCompleted
		t.PermanentlyFailed = true
		t.FailureReason = reason
		t.CompletedAt = &now
		return nil
	})
}

// Release returns worker's in-progress task to pending so another worker
// can claim it.
func (s *Store) Release(id, worker string) (Task, error) {
	return s.update(id, func(t *Task, _ time.Time) error {
		if err := requireOwned(t, "release", worker); err != nil {
			return err
		}
		t.Status = StatusPending
		t.Owner = ""
		t.ClaimedAt = nil
		return nil
	})
}

func requireOwned(t *Task, op, worker string) error {
	if t.Status != StatusInProgress || t.Owner != worker {
		return &TransitionError{ID: t.ID, Op: op, Worker: worker, Status: t.Status, Owner: t.Owner}
	}
	return nil
}

// InProgressFor returns the tasks worker currently owns.
func (s *Store) InProgressFor(worker string) []Task {
	var out []Task
	for _, t := range s.List() {
		if t.Status == StatusInProgress && t.Owner == worker {
			out = append(out, t)
		}
	}
	return out
}

// Summary counts tasks by state.
func (s *Store) Summary() Summary {
	return Summarize(s.List())
}

// Summarize counts tasks by state.
func Summarize(tasks []Task) Summary {
	var sum Summary
	for _, t := range tasks {
		sum.Total++
		switch {
		case t.Status == StatusCompleted && t.PermanentlyFailed:
			sum.Failed++
		case t.Status == StatusCompleted:
			sum.Completed++
		case t.Status == StatusInProgress:
			sum.InProgress++
		default:
			sum.Pending++
		}
	}
	return sum
}

// update applies fn to the task under its lock and writes the result.
func (s *Store) update(id string, fn func(t *Task, now time.Time) error) (Task, error) {
	if err := checkID(id); err != nil {
		return Task{}, err
	}
	var out Task
	err := s.withLock(id, func() error {
		t, err := s.read(id)
		if err != nil {
			return err
		}
		now := s.now()
		if err := fn(&t, now); err != nil {
			return err
		}
		t.UpdatedAt = now
		if err := s.write(t); err != nil {
			return err
		}
		out = t
		return nil
	})
	return out, err
}

func (s *Store) read(id string) (Task, error) {
	data, err := os.ReadFile(s.taskPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Task{}, fmt.Errorf("read task %s: %w", id, err)
	}
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return Task{}, fmt.Errorf("parse task %s: %w", id, err)
	}
	if t.ID == "" {
		t.ID = id
	}
	return t, nil
}

func (s *Store) write(t Task) error {
	if err := fsutil.WriteJSONAtomic(s.taskPath(t.ID), t); err != nil {
		return fmt.Errorf("write task %s: %w", t.ID, err)
	}
	return nil
}

// withLock runs fn while holding <id>.lock. A lock older than the stale
// threshold is broken once.
func (s *Store) withLock(id string, fn func() error) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create task dir: %w", err)
	}
	path := s.lockPath(id)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644) //nolint:gosec // id validated
	if errors.Is(err, fs.ErrExist) && s.breakStale(path) {
		f, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644) //nolint:gosec // id validated
	}
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrLocked, id)
		}
		return fmt.Errorf("lock task %s: %w", id, err)
	}
	_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + " " + s.now().Format(time.RFC3339Nano) + "\n")
	_ = f.Close()
	defer os.Remove(path)
	return fn()
}

// breakStale moves an abandoned lock aside and reports whether path is
// free. Only the process whose rename succeeds removes the old lock; a
// lock that turns out to be fresh once moved is put back.
func (s *Store) breakStale(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return errors.Is(err, fs.ErrNotExist)
	}
	if !s.stale(info) {
		return false
	}
	aside := path + ".stale-" + uuid.NewString()
	if err := os.Rename(path, aside); err != nil {
		return errors.Is(err, fs.ErrNotExist)
	}
	info, err = os.Stat(aside)
	if err == nil && !s.stale(info) {
		_ = os.Link(aside, path)
		_ = os.Remove(aside)
		return false
	}
	_ = os.Remove(aside)
	return true
}

func (s *Store) stale(info fs.FileInfo) bool {
	return s.now().Sub(info.ModTime()) >= s.staleAfter()
}
