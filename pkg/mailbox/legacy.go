package mailbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"crewmux/internal/fsutil"
)

// DefaultMaxReadBytes bounds a single legacy read.
const DefaultMaxReadBytes int64 = 1 << 20

// Legacy is the JSONL+cursor transport rooted at the state teams directory:
// <TeamsDir>/<team>/mailbox/<worker>.jsonl with a sibling .cursor file.
type Legacy struct {
	TeamsDir     string
	MaxReadBytes int64
	Now          func() time.Time
}

// NewLegacy returns a legacy transport rooted at teamsDir.
func NewLegacy(teamsDir string, maxReadBytes int64) *Legacy {
	return &Legacy{TeamsDir: teamsDir, MaxReadBytes: maxReadBytes}
}

// Dir returns the team's mailbox directory.
func (l *Legacy) Dir(team string) string {
	return filepath.Join(l.TeamsDir, team, "mailbox")
}

func (l *Legacy) mailboxPath(team, worker string) string {
	return filepath.Join(l.Dir(team), worker+".jsonl")
}

func (l *Legacy) cursorPath(team, worker string) string {
	return filepath.Join(l.Dir(team), worker+".cursor")
}

func (l *Legacy) maxRead() int64 {
	if l.MaxReadBytes <= 0 {
		return DefaultMaxReadBytes
	}
	return l.MaxReadBytes
}

func (l *Legacy) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now().UTC()
}

// Append writes msg as one line to the worker's mailbox. It is the
// worker-side write; the leader never appends.
func (l *Legacy) Append(_ context.Context, team, worker string, msg Message) error {
	fillDefaults(&msg, worker, l.now())
	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	path := l.mailboxPath(team, worker)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create mailbox dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // path built from sanitized names
	if err != nil {
		return fmt.Errorf("open mailbox %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append to %s: %w", path, err)
	}
	return nil
}

// Read returns messages past the cursor and advances it over every
// complete line consumed. The cursor is persisted before Read returns.
func (l *Legacy) Read(_ context.Context, team, worker string) ([]Message, error) {
	cursor := l.loadCursor(team, worker)
	msgs, next, err := l.scan(team, worker, cursor)
	if err != nil {
		return nil, err
	}
	if next != cursor {
		if err := l.saveCursor(team, worker, next); err != nil {
			return nil, err
		}
	}
	return msgs, nil
}

// Peek returns the messages Read would return without moving the cursor.
func (l *Legacy) Peek(_ context.Context, team, worker string) ([]Message, error) {
	msgs, _, err := l.scan(team, worker, l.loadCursor(team, worker))
	return msgs, err
}

// scan reads at most one window from cursor and returns the parsed
// messages and the offset just past the last consumed line.
func (l *Legacy) scan(team, worker string, cursor int64) ([]Message, int64, error) {
	f, err := os.Open(l.mailboxPath(team, worker))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, cursor, nil
		}
		return nil, cursor, fmt.Errorf("open mailbox: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, cursor, fmt.Errorf("stat mailbox: %w", err)
	}
	size := info.Size()
	if cursor > size {
		// The file was truncated or replaced.
		cursor = 0
	}
	window := min(size-cursor, l.maxRead())
	if window <= 0 {
		return nil, cursor, nil
	}

	buf := make([]byte, window)
	n, err := f.ReadAt(buf, cursor)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, cursor, fmt.Errorf("read mailbox: %w", err)
	}
	buf = buf[:n]

	last := bytes.LastIndexByte(buf, '\n')
	if last < 0 {
		if int64(n) == l.maxRead() {
			// A single line longer than the window can never be consumed
			// whole; skip past it.
			return nil, cursor + int64(n), nil
		}
		// Partial line still being written.
		return nil, cursor, nil
	}
	return parseLines(buf[:last+1]), cursor + int64(last) + 1, nil
}

func parseLines(data []byte) []Message {
	var msgs []Message
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var m Message
		if err := json.Unmarshal(line, &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs
}

// loadCursor returns the persisted offset; missing or unreadable cursors
// are 0.
func (l *Legacy) loadCursor(team, worker string) int64 {
	data, err := os.ReadFile(l.cursorPath(team, worker))
	if err != nil {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (l *Legacy) saveCursor(team, worker string, offset int64) error {
	path := l.cursorPath(team, worker)
	if err := fsutil.WriteFileAtomic(path, []byte(strconv.FormatInt(offset, 10)+"\n"), 0o644); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

func fillDefaults(msg *Message, from string, now time.Time) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.From == "" {
		msg.From = from
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
}
