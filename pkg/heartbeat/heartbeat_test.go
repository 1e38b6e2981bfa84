package heartbeat

import (
	"context"
	"os"
	"testing"
	"time"

	"crewmux/internal/clock"
)

var t0 = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

type fakePanes map[string]bool

func (f fakePanes) WorkerPaneAlive(_ context.Context, team, worker string) bool {
	return f[team+"/"+worker]
}

type fakeAudit struct {
	completed, failed int
	uptime            time.Duration
}

func (f fakeAudit) Uptime(string, time.Time) time.Duration { return f.uptime }
func (f fakeAudit) TaskTotals(string) (int, int)         { return f.completed, f.failed }

func newTestStore(t *testing.T) (*Store, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(t0)
	return &Store{TeamsDir: t.TempDir(), Clock: clk}, clk
}

func TestIsAlive(t *testing.T) {
	rec := Record{LastPollAt: t0}
	tests := []struct {
		age  time.Duration
		want bool
	}{
		{0, true},
		{30 * time.Second, true},
		{31 * time.Second, false},
	}
	for _, tt := range tests {
		if got := IsAlive(rec, t0.Add(tt.age), 30*time.Second); got != tt.want {
			t.Errorf("age %v: IsAlive = %v, want %v", tt.age, got, tt.want)
		}
	}
	if IsAlive(Record{}, t0, time.Hour) {
		t.Error("zero record must not be alive")
	}
}

func TestStoreWriteRead(t *testing.T) {
	s, clk := newTestStore(t)

	if err := s.Write(Record{WorkerID: "w1", Team: "alpha", Status: StatusWorking, CurrentTaskID: "t-1"}); err != nil {
		t.Fatal(err)
	}
	rec, ok := s.Read("alpha", "w1")
	if !ok || !rec.LastPollAt.Equal(t0) || rec.CurrentTaskID != "t-1" {
		t.Fatalf("Read = %+v, %v", rec, ok)
	}
	if !s.IsAlive("alpha", "w1", 30*time.Second) {
		t.Error("fresh heartbeat should be alive")
	}
	clk.Advance(time.Minute)
	if s.IsAlive("alpha", "w1", 30*time.Second) {
		t.Error("stale heartbeat should not be alive")
	}

	if s.IsAlive("alpha", "missing", time.Hour) {
		t.Error("missing heartbeat should not be alive")
	}
	if err := os.WriteFile(s.Path("alpha", "w1"), []byte("{oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Read("alpha", "w1"); ok {
		t.Error("unparseable heartbeat should read as missing")
	}
	if err := s.Write(Record{Team: "alpha"}); err == nil {
		t.Error("record without worker id accepted")
	}
}

func TestCheckWorkerHealth(t *testing.T) {
	tests := []struct {
		name      string
		rec       *Record
		age       time.Duration
		paneAlive bool
		want      Kind
	}{
		{name: "healthy", rec: &Record{Status: StatusWorking}, age: 5 * time.Second, paneAlive: true},
		{name: "dead", rec: &Record{Status: StatusWorking}, age: time.Minute, paneAlive: false, want: KindDead},
		{name: "never reported and no pane", rec: nil, paneAlive: false, want: KindDead},
		{name: "possibly hung", rec: &Record{Status: StatusWorking}, age: 40 * time.Second, paneAlive: true, want: KindHung},
		{name: "quarantined", rec: &Record{Status: StatusQuarantined, ConsecutiveErrors: 3}, age: time.Second, paneAlive: true, want: KindQuarantined},
		{name: "at risk", rec: &Record{Status: StatusWorking, ConsecutiveErrors: 2}, age: time.Second, paneAlive: true, want: KindAtRisk},
		{name: "one error is fine", rec: &Record{Status: StatusWorking, ConsecutiveErrors: 1}, age: time.Second, paneAlive: true},
		{name: "errors at quarantine threshold but not quarantined", rec: &Record{Status: StatusWorking, ConsecutiveErrors: 3}, age: time.Second, paneAlive: true},
		{name: "fresh heartbeat without pane", rec: &Record{Status: StatusIdle}, age: time.Second, paneAlive: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, clk := newTestStore(t)
			if tt.rec != nil {
				rec := *tt.rec
				rec.Team, rec.WorkerID, rec.LastPollAt = "alpha", "w1", t0
				if err := s.Write(rec); err != nil {
					t.Fatal(err)
				}
			}
			clk.Advance(tt.age)
			m := &Monitor{
				Heartbeats: s,
				Panes:      fakePanes{"alpha/w1": tt.paneAlive},
				Clock:      clk,
				MaxAge:     30 * time.Second,
			}
			iv := m.CheckWorkerHealth(context.Background(), "alpha", "w1")
			if tt.want == "" {
				if iv != nil {
					t.Fatalf("intervention = %+v, want none", iv)
				}
				return
			}
			if iv == nil || iv.Kind != tt.want {
				t.Fatalf("intervention = %+v, want %q", iv, tt.want)
			}
			if iv.Reason == "" || iv.Action == "" {
				t.Errorf("intervention missing detail: %+v", iv)
			}
		})
	}
}

func TestReport(t *testing.T) {
	s, clk := newTestStore(t)
	if err := s.Write(Record{WorkerID: "w1", Team: "alpha", Status: StatusWorking, ConsecutiveErrors: 1}); err != nil {
		t.Fatal(err)
	}
	m := &Monitor{
		Heartbeats: s,
		Panes:      fakePanes{"alpha/w1": true},
		Audit:      func(string) AuditReader { return fakeAudit{completed: 4, failed: 1, uptime: time.Hour} },
		Clock:      clk,
	}
	r := m.Report(context.Background(), "alpha", "w1")
	if !r.Alive || !r.PaneAlive || r.Status != "working" || r.TasksCompleted != 4 || r.TasksFailed != 1 || r.Uptime != time.Hour {
		t.Errorf("Report = %+v", r)
	}

	clk.Advance(40 * time.Second)
	r = m.Report(context.Background(), "alpha", "w1")
	// A stale heartbeat with a live pane keeps the worker's own status.
	if r.Alive || !r.PaneAlive || r.Status != "working" {
		t.Errorf("stale report = %+v", r)
	}

	m.Panes = fakePanes{}
	r = m.Report(context.Background(), "alpha", "w1")
	if r.Status != "dead" {
		t.Errorf("status = %q, want dead", r.Status)
	}
}

func TestCheckTeam(t *testing.T) {
	s, clk := newTestStore(t)
	_ = s.Write(Record{WorkerID: "ok", Team: "alpha", Status: StatusIdle})
	_ = s.Write(Record{WorkerID: "risky", Team: "alpha", Status: StatusWorking, ConsecutiveErrors: 2})
	m := &Monitor{Heartbeats: s, Panes: fakePanes{"alpha/ok": true, "alpha/risky": true}, Clock: clk}

	ivs := m.CheckTeam(context.Background(), "alpha", []string{"ok", "risky", "gone"})
	if len(ivs) != 2 || ivs[0].Worker != "risky" || ivs[0].Kind != KindAtRisk || ivs[1].Kind != KindDead {
		t.Errorf("CheckTeam = %+v", ivs)
	}
}
