package heartbeat

import (
	"context"
	"fmt"
	"time"

	"crewmux/internal/clock"
)

// Default error thresholds.
const (
	DefaultAtRiskErrors     = 2
	DefaultQuarantineErrors = 3
)

// PaneChecker reports whether a worker's terminal pane is alive.
type PaneChecker interface {
	WorkerPaneAlive(ctx context.Context, team, worker string) bool
}

// AuditReader supplies per-worker totals derived from the audit log.
type AuditReader interface {
	Uptime(worker string, now time.Time) time.Duration
	TaskTotals(worker string) (completed, failed int)
}

// Kind classifies an intervention.
type Kind string

const (
	KindDead        Kind = "dead"
	KindHung        Kind = "possibly hung"
	KindQuarantined Kind = "quarantined"
	KindAtRisk      Kind = "at risk"
)

// Intervention is a recommendation to act on a worker.
type Intervention struct {
	Team   string `json:"team"`
	Worker string `json:"worker"`
	Kind   Kind   `json:"kind"`
	Reason string `json:"reason"`
	Action string `json:"action"`
}

// Report is the health picture of one worker.
type Report struct {
	Team              string        `json:"team"`
	Worker            string        `json:"worker"`
	Alive             bool          `json:"alive"`
	PaneAlive         bool          `json:"pane_alive"`
	Status            string        `json:"status"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
	TasksCompleted    int           `json:"tasks_completed"`
	TasksFailed       int           `json:"tasks_failed"`
	LastPollAt        time.Time     `json:"last_poll_at,omitzero"`
	Uptime            time.Duration `json:"uptime"`
}

// Monitor combines heartbeats, pane state, and audit totals.
type Monitor struct {
	Heartbeats       *Store
	Panes            PaneChecker
	Audit            func(team string) AuditReader // nil or a nil result skips audit totals
	Clock            clock.Clock
	MaxAge           time.Duration
	AtRiskErrors     int
	QuarantineErrors int
}

func (m *Monitor) now() time.Time {
	if m.Clock == nil {
		return time.Now().UTC()
	}
	return m.Clock.Now().UTC()
}

func (m *Monitor) maxAge() time.Duration {
	if m.MaxAge <= 0 {
		return DefaultMaxAge
	}
	return m.MaxAge
}

func (m *Monitor) thresholds() (atRisk, quarantine int) {
	atRisk, quarantine = m.AtRiskErrors, m.QuarantineErrors
	if atRisk <= 0 {
		atRisk = DefaultAtRiskErrors
	}
	if quarantine <= 0 {
		quarantine = DefaultQuarantineErrors
	}
	return atRisk, quarantine
}

// Report gathers one worker's health. Status is "dead" only when both the
// heartbeat and the pane are gone.
func (m *Monitor) Report(ctx context.Context, team, worker string) Report {
	now := m.now()
	r := Report{Team: team, Worker: worker, Status: "unknown"}

	rec, ok := m.Heartbeats.Read(team, worker)
	if ok {
		r.Alive = IsAlive(rec, now, m.maxAge())
		r.ConsecutiveErrors = rec.ConsecutiveErrors
		r.LastPollAt = rec.LastPollAt
		if rec.Status != "" {
			r.Status = string(rec.Status)
		}
	}
	if m.Panes != nil {
		r.PaneAlive = m.Panes.WorkerPaneAlive(ctx, team, worker)
	}
	if !r.Alive && !r.PaneAlive {
		r.Status = "dead"
	}

	if m.Audit != nil {
		if a := m.Audit(team); a != nil {
			r.TasksCompleted, r.TasksFailed = a.TaskTotals(worker)
			r.Uptime = a.Uptime(worker, now)
		}
	}
	return r
}

// CheckWorkerHealth returns the intervention the worker needs, or nil.
func (m *Monitor) CheckWorkerHealth(ctx context.Context, team, worker string) *Intervention {
	return m.assess(team, worker, m.Report(ctx, team, worker))
}

func (m *Monitor) assess(team, worker string, r Report) *Intervention {
	atRisk, quarantine := m.thresholds()
	iv := &Intervention{Team: team, Worker: worker}
	switch {
	case !r.Alive && !r.PaneAlive:
		iv.Kind = KindDead
		iv.Reason = "no recent heartbeat and no live pane"
		iv.Action = "respawn the worker"
	case !r.Alive:
		iv.Kind = KindHung
		iv.Reason = fmt.Sprintf("heartbeat older than %v but the pane is alive", m.maxAge())
		iv.Action = "inspect the pane or interrupt the worker"
	case r.Status == string(StatusQuarantined):
		iv.Kind = KindQuarantined
		iv.Reason = "worker reported itself quarantined"
		iv.Action = "review the worker's errors before reassigning work"
	case r.ConsecutiveErrors >= atRisk && r.ConsecutiveErrors < quarantine:
		iv.Kind = KindAtRisk
		iv.Reason = fmt.Sprintf("%d consecutive errors", r.ConsecutiveErrors)
		iv.Action = "watch the worker; it will be quarantined at " + fmt.Sprint(quarantine) + " errors"
	default:
		return nil
	}
	return iv
}

// CheckTeam checks every listed worker and returns the interventions
// needed, in worker order.
func (m *Monitor) CheckTeam(ctx context.Context, team string, workers []string) []Intervention {
	var out []Intervention
	for _, w := range workers {
		if iv := m.CheckWorkerHealth(ctx, team, w); iv != nil {
			out = append(out, *iv)
		}
	}
	return out
}
