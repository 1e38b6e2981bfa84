package team

import (
	"context"
	"fmt"
	"sort"

	"crewmux/pkg/audit"
	"crewmux/pkg/heartbeat"
	"crewmux/pkg/mailbox"
	"crewmux/pkg/taskqueue"
)

// CreateTask adds a pending task to team's queue.
func (l *Leader) CreateTask(team string, t taskqueue.Task) (taskqueue.Task, error) {
	tasks, err := l.Tasks(team)
	if err != nil {
		return taskqueue.Task{}, err
	}
	return tasks.Create(t)
}

// ClaimTask assigns a pending task to worker and records the claim.
func (l *Leader) ClaimTask(team, id, worker string) (taskqueue.Task, error) {
	return l.taskOp(team, worker, func(s *taskqueue.Store, worker string) (taskqueue.Task, audit.Event, error) {
		t, err := s.Claim(id, worker)
		return t, audit.Event{Type: audit.EventTaskClaimed, Worker: worker, Payload: map[string]any{"task": id}}, err
	})
}

// CompleteTask finishes worker's task and records it.
func (l *Leader) CompleteTask(team, id, worker, result string) (taskqueue.Task, error) {
	return l.taskOp(team, worker, func(s *taskqueue.Store, worker string) (taskqueue.Task, audit.Event, error) {
		t, err := s.Complete(id, worker, result)
		return t, audit.Event{Type: audit.EventTaskCompleted, Worker: worker, Payload: map[string]any{"task": id}}, err
	})
}

// FailTask permanently fails worker's task and records it.
func (l *Leader) FailTask(team, id, worker, reason string) (taskqueue.Task, error) {
	return l.taskOp(team, worker, func(s *taskqueue.Store, worker string) (taskqueue.Task, audit.Event, error) {
		t, err := s.Fail(id, worker, reason)
		return t, audit.Event{Type: audit.EventTaskPermanentlyFailed, Worker: worker,
			Payload: map[string]any{"task": id, "reason": reason}}, err
	})
}

// ReleaseTask returns worker's in-progress task to the queue.
func (l *Leader) ReleaseTask(team, id, worker string) (taskqueue.Task, error) {
	team, worker, err := sanitizePair(team, worker)
	if err != nil {
		return taskqueue.Task{}, err
	}
	tasks, err := l.Tasks(team)
	if err != nil {
		return taskqueue.Task{}, err
	}
	return tasks.Release(id, worker)
}

// taskOp runs a task transition with sanitized names and records its
// event when it succeeds.
func (l *Leader) taskOp(team, worker string,
	op func(s *taskqueue.Store, worker string) (taskqueue.Task, audit.Event, error),
) (taskqueue.Task, error) {
	team, worker, err := sanitizePair(team, worker)
	if err != nil {
		return taskqueue.Task{}, err
	}
	tasks, err := l.Tasks(team)
	if err != nil {
		return taskqueue.Task{}, err
	}
	t, ev, err := op(tasks, worker)
	if err != nil {
		return t, err
	}
	l.record(team, ev)
	return t, nil
}

// ReportHeartbeat stores a worker heartbeat. The first report of the
// quarantined status is recorded in the audit log.
func (l *Leader) ReportHeartbeat(rec heartbeat.Record) error {
	team, worker, err := sanitizePair(rec.Team, rec.WorkerID)
	if err != nil {
		return err
	}
	rec.Team, rec.WorkerID = team, worker
	prev, had := l.heartbeats.Read(rec.Team, rec.WorkerID)
	if err := l.heartbeats.Write(rec); err != nil {
		return err
	}
	if rec.Status == heartbeat.StatusQuarantined && (!had || prev.Status != heartbeat.StatusQuarantined) {
		l.record(rec.Team, audit.Event{Type: audit.EventWorkerQuarantined, Worker: rec.WorkerID,
			Payload: map[string]any{"consecutive_errors": rec.ConsecutiveErrors}})
	}
	return nil
}

// Send appends a worker's message to the leader through team's transport.
func (l *Leader) Send(ctx context.Context, team, worker string, msg mailbox.Message) error {
	team, worker, err := sanitizePair(team, worker)
	if err != nil {
		return err
	}
	t, err := l.Mailbox(team)
	if err != nil {
		return err
	}
	return t.Append(ctx, team, worker, msg)
}

// Direct sends a leader directive to a worker. Only the protocol
// transport carries directives.
func (l *Leader) Direct(ctx context.Context, team, worker string, msg mailbox.Message) error {
	team, worker, err := sanitizePair(team, worker)
	if err != nil {
		return err
	}
	t, err := l.Mailbox(team)
	if err != nil {
		return err
	}
	p, ok := t.(*mailbox.Protocol)
	if !ok {
		return fmt.Errorf("team %s uses the %s transport, which has no leader-to-worker channel", team, l.cfg.TransportFor(team))
	}
	return p.Send(ctx, team, mailbox.LeaderRecipient, worker, msg)
}

// Inbox consumes directives addressed to worker.
func (l *Leader) Inbox(ctx context.Context, team, worker string) ([]mailbox.Message, error) {
	team, worker, err := sanitizePair(team, worker)
	if err != nil {
		return nil, err
	}
	t, err := l.Mailbox(team)
	if err != nil {
		return nil, err
	}
	p, ok := t.(*mailbox.Protocol)
	if !ok {
		return nil, nil
	}
	return p.Inbox(ctx, team, worker)
}

// ReadMessages consumes every worker's pending messages to the leader.
func (l *Leader) ReadMessages(ctx context.Context, team string) (map[string][]mailbox.Message, error) {
	team, err := sanitizeTeam(team)
	if err != nil {
		return nil, err
	}
	t, err := l.Mailbox(team)
	if err != nil {
		return nil, err
	}
	return mailbox.ReadTeam(ctx, t, team, l.roster.Names(team))
}

// WatchMessages calls fn with each batch of messages read from a worker.
// Legacy teams are read as their mailbox files change; protocol teams are
// polled at mailbox.DefaultWatchFallback. It blocks until ctx is done.
func (l *Leader) WatchMessages(ctx context.Context, team string, fn func(worker string, msgs []mailbox.Message)) error {
	team, err := sanitizeTeam(team)
	if err != nil {
		return err
	}
	t, err := l.Mailbox(team)
	if err != nil {
		return err
	}
	if _, ok := t.(*mailbox.Protocol); ok {
		l.pollMessages(ctx, t, team, fn)
		return nil
	}
	return mailbox.Watch(ctx, l.paths.MailboxDir(team), 0, func(worker string) {
		msgs, err := t.Read(ctx, team, worker)
		if err != nil {
			l.logger.Warn("read mailbox", "team", team, "worker", worker, "err", err)
			return
		}
		if len(msgs) > 0 {
			fn(worker, msgs)
		}
	})
}

func (l *Leader) pollMessages(ctx context.Context, t mailbox.Transport, team string, fn func(string, []mailbox.Message)) {
	tick := make(chan struct{}, 1)
	for {
		batch, err := mailbox.ReadTeam(ctx, t, team, l.roster.Names(team))
		if err != nil {
			l.logger.Warn("read mailbox", "team", team, "err", err)
		}
		workers := make([]string, 0, len(batch))
		for w := range batch {
			workers = append(workers, w)
		}
		sort.Strings(workers)
		for _, w := range workers {
			fn(w, batch[w])
		}

		timer := l.clock.AfterFunc(mailbox.DefaultWatchFallback, func() {
			select {
			case tick <- struct{}{}:
			default:
			}
		})
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-tick:
		}
	}
}
