// Package status assembles a read-only snapshot of a team: each worker's
// identity, heartbeat, current task and recent messages, plus task totals.
package status

import (
	"context"
	"time"

	"crewmux/internal/clock"
	"crewmux/pkg/heartbeat"
	"crewmux/pkg/mailbox"
	"crewmux/pkg/roster"
	"crewmux/pkg/taskqueue"
)

// DefaultRecentMessages is how many unread messages are shown per worker.
const DefaultRecentMessages = 5

// Uptimer reports worker uptime.
type Uptimer interface {
	Uptime(worker string, now time.Time) time.Duration
}

// WorkerStatus describes one worker.
type WorkerStatus struct {
	Worker         roster.Worker     `json:"worker"`
	Heartbeat      *heartbeat.Record `json:"heartbeat,omitempty"`
	Alive          bool              `json:"alive"`
	CurrentTask    *taskqueue.Task   `json:"current_task,omitempty"`
	RecentMessages []mailbox.Message `json:"recent_messages,omitempty"`
	Uptime         time.Duration     `json:"uptime"`
}

// TeamStatus is the snapshot of one team.
type TeamStatus struct {
	Team        string            `json:"team"`
	GeneratedAt time.Time         `json:"generated_at"`
	Workers     []WorkerStatus    `json:"workers"`
	Tasks       taskqueue.Summary `json:"tasks"`
}

// Aggregator reads team state without changing it. Nil sources are
// skipped.
type Aggregator struct {
	Roster         *roster.Roster
	Heartbeats     *heartbeat.Store
	Tasks          func(team string) *taskqueue.Store
	Mailbox        func(team string) mailbox.Transport
	Audit          func(team string) Uptimer
	Clock          clock.Clock
	MaxAge         time.Duration
	RecentMessages int
}

// TeamStatus builds the snapshot. Record-level problems never fail it.
func (a *Aggregator) TeamStatus(ctx context.Context, team string) TeamStatus {
	now := time.Now().UTC()
	if a.Clock != nil {
		now = a.Clock.Now().UTC()
	}
	ts := TeamStatus{Team: team, GeneratedAt: now, Workers: []WorkerStatus{}}

	var tasks []taskqueue.Task
	if a.Tasks != nil {
		if store := a.Tasks(team); store != nil {
			tasks = store.List()
		}
	}
	ts.Tasks = taskqueue.Summarize(tasks)

	var transport mailbox.Transport
	if a.Mailbox != nil {
		transport = a.Mailbox(team)
	}
	var uptimer Uptimer
	if a.Audit != nil {
		uptimer = a.Audit(team)
	}

	var workers []roster.Worker
	if a.Roster != nil {
		workers = a.Roster.List(team)
	}
	for _, w := range workers {
		ws := WorkerStatus{Worker: w}
		if a.Heartbeats != nil {
			if rec, ok := a.Heartbeats.Read(team, w.Name); ok {
				ws.Heartbeat = &rec
				ws.Alive = heartbeat.IsAlive(rec, now, a.maxAge())
			}
		}
		ws.CurrentTask = currentTask(tasks, w.Name)
		if transport != nil {
			if msgs, err := transport.Peek(ctx, team, w.Name); err == nil {
				ws.RecentMessages = lastN(msgs, a.recent())
			}
		}
		if uptimer != nil {
			ws.Uptime = uptimer.Uptime(w.Name, now)
		}
		ts.Workers = append(ts.Workers, ws)
	}
	return ts
}

// currentTask returns the in-progress task owned by worker, if any. A task
// owned by anyone else is never reported, whatever the worker's heartbeat
// claims.
func currentTask(tasks []taskqueue.Task, worker string) *taskqueue.Task {
	for i := range tasks {
		if tasks[i].Status == taskqueue.StatusInProgress && tasks[i].Owner == worker {
			t := tasks[i]
			return &t
		}
	}
	return nil
}

func lastN(msgs []mailbox.Message, n int) []mailbox.Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

func (a *Aggregator) maxAge() time.Duration {
	if a.MaxAge <= 0 {
		return heartbeat.DefaultMaxAge
	}
	return a.MaxAge
}

func (a *Aggregator) recent() int {
	if a.RecentMessages <= 0 {
		return DefaultRecentMessages
	}
	return a.RecentMessages
}
