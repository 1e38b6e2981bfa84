package main

import (
	"errors"
	"strings"
	"testing"

	"crewmux/pkg/heartbeat"
	"crewmux/pkg/roster"
	"crewmux/pkg/status"
	"crewmux/pkg/taskqueue"
	"crewmux/pkg/team"

	tea "github.com/charmbracelet/bubbletea"
)

func testSnapshot() dashSnapshot {
	return dashSnapshot{
		Status: status.TeamStatus{
			Team:  "core",
			Tasks: taskqueue.Summary{Total: 3, Pending: 1, InProgress: 1, Completed: 1},
			Workers: []status.WorkerStatus{
				{Worker: roster.Worker{Name: "w1", AgentType: "claude"}, Alive: true,
					CurrentTask: &taskqueue.Task{ID: "t-9"}},
				{Worker: roster.Worker{Name: "w2", AgentType: "codex"}},
			},
		},
		Health: team.HealthReport{
			Team: "core",
			Interventions: []heartbeat.Intervention{
				{Worker: "w2", Kind: heartbeat.KindDead, Action: "respawn the worker"},
			},
		},
	}
}

func keyMsg(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestDashRendersSnapshot(t *testing.T) {
	m := newDashModel("core", newStyles(nil), testSnapshot, nil)
	if !strings.Contains(m.View(), "loading") {
		t.Errorf("view before load = %q", m.View())
	}

	next, _ := m.Update(snapshotMsg(testSnapshot()))
	view := next.View()
	for _, want := range []string{"1 pending", "w1", "t-9", "w2", "dead", "respawn the worker"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestDashInterruptsSelectedWorker(t *testing.T) {
	var got string
	m := newDashModel("core", newStyles(nil), testSnapshot, func(w string) error {
		got = w
		return nil
	})
	next, _ := m.Update(snapshotMsg(testSnapshot()))
	next, _ = next.Update(keyMsg("j"))
	next, cmd := next.Update(keyMsg("i"))
	if cmd == nil {
		t.Fatal("interrupt should return a command")
	}
	note := cmd()
	if got != "w2" {
		t.Errorf("interrupted %q, want w2", got)
	}
	next, _ = next.Update(note)
	if !strings.Contains(next.View(), "sent Ctrl-C to w2") {
		t.Errorf("footer missing note:\n%s", next.View())
	}
}

func TestDashReportsInterruptFailure(t *testing.T) {
	m := newDashModel("core", newStyles(nil), testSnapshot, func(string) error { return errors.New("no pane") })
	next, _ := m.Update(snapshotMsg(testSnapshot()))
	_, cmd := next.Update(keyMsg("i"))
	if msg, ok := cmd().(noteMsg); !ok || !strings.Contains(string(msg), "no pane") {
		t.Errorf("note = %v", msg)
	}
}

func TestDashCursorStaysInRange(t *testing.T) {
	m := newDashModel("core", newStyles(nil), testSnapshot, nil)
	next, _ := m.Update(snapshotMsg(testSnapshot()))
	for range 5 {
		next, _ = next.Update(keyMsg("j"))
	}
	if c := next.(dashModel).cursor; c != 1 {
		t.Errorf("cursor = %d, want 1", c)
	}
	shrunk := testSnapshot()
	shrunk.Status.Workers = shrunk.Status.Workers[:1]
	next, _ = next.Update(snapshotMsg(shrunk))
	if c := next.(dashModel).cursor; c != 0 {
		t.Errorf("cursor after shrink = %d, want 0", c)
	}
}

func TestDashQuit(t *testing.T) {
	m := newDashModel("core", newStyles(nil), testSnapshot, nil)
	_, cmd := m.Update(keyMsg("q"))
	if cmd == nil {
		t.Fatal("q should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}
