package team

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crewmux/pkg/agentcli"
	"crewmux/pkg/audit"
	"crewmux/pkg/binpath"
	"crewmux/pkg/names"
	"crewmux/pkg/roster"
	"crewmux/pkg/tmux"
)

// SpawnRequest describes a worker to launch.
type SpawnRequest struct {
	Team       string
	Worker     string
	AgentType  agentcli.Type
	Model      string
	ExtraFlags []string
	Cwd        string
	// Env adds KEY=VALUE pairs to the worker's environment.
	Env []string
	// NoWait skips waiting for the pane's shell prompt before launching.
	NoWait bool
}

// SpawnWorker resolves the agent binary, creates the worker's session, and
// launches the agent in it. Team and worker names are sanitized; the
// returned identity carries the sanitized names.
func (l *Leader) SpawnWorker(ctx context.Context, req SpawnRequest) (roster.Worker, error) {
	team, worker, err := sanitizePair(req.Team, req.Worker)
	if err != nil {
		return roster.Worker{}, err
	}
	contract, err := agentcli.Lookup(req.AgentType)
	if err != nil {
		return roster.Worker{}, err
	}
	binary, err := l.resolver.Resolve(contract.Binary(), binpath.Strict)
	if err != nil {
		return roster.Worker{}, fmt.Errorf("spawn %s/%s: %w", team, worker, err)
	}

	sess, err := l.tmux.CreateSession(ctx, team, worker, req.Cwd)
	if err != nil {
		return roster.Worker{}, fmt.Errorf("spawn %s/%s: %w", team, worker, err)
	}
	target := sess.PaneID
	if target == "" {
		target = "=" + sess.Name
	}

	env := append([]string{
		EnvTeam + "=" + team,
		EnvTeamWorker + "=" + team + "/" + worker,
		EnvAgentType + "=" + string(contract.Type()),
		EnvStateDir + "=" + l.cfg.StateDir,
		EnvTransport + "=" + string(l.cfg.TransportFor(team)),
	}, req.Env...)
	spec := tmux.LaunchSpec{
		Env:       env,
		Binary:    binary,
		Args:      contract.BuildLaunchArgs(req.Model, req.ExtraFlags),
		WaitReady: !req.NoWait,
		Ready: tmux.ReadyOptions{
			Interval: l.cfg.ShellReadyInterval.Std(),
			Timeout:  l.cfg.ShellReadyTimeout.Std(),
			Pattern:  l.cfg.Prompt(),
		},
	}
	if err := l.tmux.SpawnWorkerInPane(ctx, target, spec); err != nil {
		if kerr := l.tmux.KillSession(ctx, team, worker); kerr != nil {
			l.logger.Warn("cleanup after failed spawn", "team", team, "worker", worker, "err", kerr)
		}
		return roster.Worker{}, fmt.Errorf("spawn %s/%s: %w", team, worker, err)
	}

	w := roster.Worker{
		Team:      team,
		Name:      worker,
		AgentType: string(contract.Type()),
		Model:     req.Model,
		Binary:    binary,
		Session:   sess.Name,
		PaneID:    sess.PaneID,
		Cwd:       req.Cwd,
		SpawnedAt: l.clock.Now().UTC(),
	}
	if err := l.roster.Save(w); err != nil {
		return w, err
	}
	payload := map[string]any{"agent_type": w.AgentType, "session": w.Session, "binary": binary}
	if w.Model != "" {
		payload["model"] = w.Model
	}
	l.record(team, audit.Event{Type: audit.EventWorkerSpawned, Worker: worker, Payload: payload})
	l.record(team, audit.Event{Type: audit.EventBridgeStart, Worker: worker})
	l.logger.Info("worker spawned", "team", team, "worker", worker, "agent", w.AgentType, "session", w.Session)
	l.requestLayout()
	return w, nil
}

// KillWorker ends the worker's session, returns its in-progress tasks to
// the queue, and forgets the worker. When the session is not killed, for
// example because the leader runs in it, the worker's state is kept.
func (l *Leader) KillWorker(ctx context.Context, team, worker string) error {
	team, worker, err := sanitizePair(team, worker)
	if err != nil {
		return err
	}
	if err := l.tmux.KillSession(ctx, team, worker); err != nil {
		return fmt.Errorf("kill %s/%s: %w", team, worker, err)
	}

	tasks, err := l.Tasks(team)
	if err != nil {
		return err
	}
	for _, t := range tasks.InProgressFor(worker) {
		if _, err := tasks.Release(t.ID, worker); err != nil {
			l.logger.Warn("release task of killed worker", "team", team, "worker", worker, "task", t.ID, "err", err)
		}
	}
	if err := l.roster.Remove(team, worker); err != nil {
		l.logger.Warn("remove worker state", "team", team, "worker", worker, "err", err)
	}
	l.record(team, audit.Event{Type: audit.EventBridgeShutdown, Worker: worker})
	l.record(team, audit.Event{Type: audit.EventWorkerKilled, Worker: worker})
	l.logger.Info("worker killed", "team", team, "worker", worker)
	l.requestLayout()
	return nil
}

// InterruptWorker sends Ctrl-C to the worker's pane.
func (l *Leader) InterruptWorker(ctx context.Context, team, worker string) error {
	team, worker, err := sanitizePair(team, worker)
	if err != nil {
		return err
	}
	name, err := l.tmux.SessionName(team, worker)
	if err != nil {
		return err
	}
	if err := l.tmux.SendKey(ctx, "="+name, "C-c"); err != nil {
		l.logger.Warn("interrupt failed", "team", team, "worker", worker, "err", err)
		return fmt.Errorf("interrupt %s/%s: %w", team, worker, err)
	}
	l.record(team, audit.Event{Type: audit.EventWorkerInterrupted, Worker: worker})
	return nil
}

// ShutdownTeam kills every worker of team. It keeps going after a failure
// and returns all failures joined.
func (l *Leader) ShutdownTeam(ctx context.Context, team string) error {
	team, err := sanitizeTeam(team)
	if err != nil {
		return err
	}
	var errs []error
	for _, w := range l.roster.Names(team) {
		if err := l.KillWorker(ctx, team, w); err != nil {
			errs = append(errs, err)
		}
	}
	if l.stabilizer != nil {
		flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = l.stabilizer.Flush(flushCtx)
	}
	return errors.Join(errs...)
}

func sanitizeTeam(team string) (string, error) {
	t, err := names.Sanitize(team)
	if err != nil {
		return "", fmt.Errorf("team name: %w", err)
	}
	return t, nil
}

func sanitizePair(team, worker string) (string, string, error) {
	t, err := sanitizeTeam(team)
	if err != nil {
		return "", "", err
	}
	w, err := names.Sanitize(worker)
	if err != nil {
		return "", "", fmt.Errorf("worker name: %w", err)
	}
	return t, w, nil
}
