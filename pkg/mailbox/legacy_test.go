package mailbox

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestLegacy(t *testing.T) *Legacy {
	t.Helper()
	l := NewLegacy(t.TempDir(), 0)
	l.Now = func() time.Time { return time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC) }
	return l
}

func writeRaw(t *testing.T, l *Legacy, team, worker, content string) {
	t.Helper()
	path := l.mailboxPath(team, worker)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeLegacy, false},
		{"legacy", ModeLegacy, false},
		{" Protocol ", ModeProtocol, false},
		{"carrier-pigeon", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseMode(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestLegacyAppendReadAdvancesCursor(t *testing.T) {
	ctx := context.Background()
	l := newTestLegacy(t)

	for _, typ := range []string{"task_started", "task_done"} {
		if err := l.Append(ctx, "alpha", "codex-1", Message{Type: typ, Payload: json.RawMessage(`{"n":1}`)}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := l.Read(ctx, "alpha", "codex-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Type != "task_started" || got[1].Type != "task_done" {
		t.Fatalf("Read = %+v", got)
	}
	if got[0].ID == "" || got[0].From != "codex-1" || got[0].Timestamp.IsZero() {
		t.Errorf("defaults not filled: %+v", got[0])
	}

	again, err := l.Read(ctx, "alpha", "codex-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Errorf("second Read = %+v, want nothing new", again)
	}

	if err := l.Append(ctx, "alpha", "codex-1", Message{Type: "idle"}); err != nil {
		t.Fatal(err)
	}
	third, _ := l.Read(ctx, "alpha", "codex-1")
	if len(third) != 1 || third[0].Type != "idle" {
		t.Errorf("third Read = %+v", third)
	}
}

func TestLegacyPeekHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	l := newTestLegacy(t)
	writeRaw(t, l, "alpha", "w1", `{"type":"a"}`+"\n")

	for range 2 {
		got, err := l.Peek(ctx, "alpha", "w1")
		if err != nil || len(got) != 1 {
			t.Fatalf("Peek = %+v, %v", got, err)
		}
	}
	if _, err := os.Stat(l.cursorPath("alpha", "w1")); !os.IsNotExist(err) {
		t.Errorf("Peek wrote a cursor: %v", err)
	}
	got, _ := l.Read(ctx, "alpha", "w1")
	if len(got) != 1 {
		t.Errorf("Read after Peek = %+v", got)
	}
}

func TestLegacyPartialLineWaits(t *testing.T) {
	ctx := context.Background()
	l := newTestLegacy(t)
	writeRaw(t, l, "alpha", "w1", `{"type":"a"}`+"\n"+`{"type":"b"`)

	got, err := l.Read(ctx, "alpha", "w1")
	if err != nil || len(got) != 1 || got[0].Type != "a" {
		t.Fatalf("Read = %+v, %v", got, err)
	}

	writeRaw(t, l, "alpha", "w1", "}\n")
	got, err = l.Read(ctx, "alpha", "w1")
	if err != nil || len(got) != 1 || got[0].Type != "b" {
		t.Fatalf("Read after completion = %+v, %v", got, err)
	}
}

func TestLegacyDropsUnparseableLines(t *testing.T) {
	ctx := context.Background()
	l := newTestLegacy(t)
	writeRaw(t, l, "alpha", "w1", "not json\n\n"+`{"type":"ok"}`+"\n[1,2]\n")

	got, err := l.Read(ctx, "alpha", "w1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Type != "ok" {
		t.Errorf("Read = %+v, want only the valid record", got)
	}
}

func TestLegacyCursorRecovery(t *testing.T) {
	ctx := context.Background()

	t.Run("garbled cursor reads from start", func(t *testing.T) {
		l := newTestLegacy(t)
		writeRaw(t, l, "alpha", "w1", `{"type":"a"}`+"\n")
		if err := os.WriteFile(l.cursorPath("alpha", "w1"), []byte("banana"), 0o644); err != nil {
			t.Fatal(err)
		}
		got, _ := l.Read(ctx, "alpha", "w1")
		if len(got) != 1 {
			t.Errorf("Read = %+v", got)
		}
	})

	t.Run("cursor past end resets", func(t *testing.T) {
		l := newTestLegacy(t)
		writeRaw(t, l, "alpha", "w1", `{"type":"a"}`+"\n")
		if err := os.WriteFile(l.cursorPath("alpha", "w1"), []byte("99999"), 0o644); err != nil {
			t.Fatal(err)
		}
		got, _ := l.Read(ctx, "alpha", "w1")
		if len(got) != 1 || got[0].Type != "a" {
			t.Errorf("Read = %+v, want re-read from 0", got)
		}
	})

	t.Run("missing mailbox", func(t *testing.T) {
		l := newTestLegacy(t)
		got, err := l.Read(ctx, "alpha", "nobody")
		if err != nil || len(got) != 0 {
			t.Errorf("Read = %+v, %v", got, err)
		}
	})
}

func TestLegacyWindowBoundsRead(t *testing.T) {
	ctx := context.Background()
	l := newTestLegacy(t)
	l.MaxReadBytes = 32

	short := `{"type":"a"}` + "\n" // 13 bytes
	writeRaw(t, l, "alpha", "w1", short+short+short)

	first, _ := l.Read(ctx, "alpha", "w1")
	if len(first) != 2 {
		t.Fatalf("first window = %d messages, want 2", len(first))
	}
	second, _ := l.Read(ctx, "alpha", "w1")
	if len(second) != 1 {
		t.Fatalf("second window = %d messages, want 1", len(second))
	}
}

func TestLegacySkipsOverlongLine(t *testing.T) {
	ctx := context.Background()
	l := newTestLegacy(t)
	l.MaxReadBytes = 16

	long := `{"type":"` + strings.Repeat("x", 40) + `"}` + "\n"
	writeRaw(t, l, "alpha", "w1", long+`{"type":"b"}`+"\n")

	var got []Message
	for range 10 {
		msgs, err := l.Read(ctx, "alpha", "w1")
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, msgs...)
	}
	if len(got) != 1 || got[0].Type != "b" {
		t.Errorf("messages = %+v, want only the short record", got)
	}
}

func TestReadTeamGroupsByWorker(t *testing.T) {
	ctx := context.Background()
	l := newTestLegacy(t)
	_ = l.Append(ctx, "alpha", "w1", Message{Type: "a"})
	_ = l.Append(ctx, "alpha", "w2", Message{Type: "b"})
	_ = l.Append(ctx, "alpha", "w2", Message{Type: "c"})

	peeked, err := PeekTeam(ctx, l, "alpha", []string{"w1", "w2", "w3"})
	if err != nil {
		t.Fatal(err)
	}
	if len(peeked["w1"]) != 1 || len(peeked["w2"]) != 2 {
		t.Errorf("PeekTeam = %+v", peeked)
	}
	if _, ok := peeked["w3"]; ok {
		t.Error("worker without messages should be absent")
	}

	read, err := ReadTeam(ctx, l, "alpha", []string{"w1", "w2"})
	if err != nil || len(read["w2"]) != 2 {
		t.Fatalf("ReadTeam = %+v, %v", read, err)
	}
	after, _ := PeekTeam(ctx, l, "alpha", []string{"w1", "w2"})
	if len(after) != 0 {
		t.Errorf("messages left after ReadTeam: %+v", after)
	}
}
