// Package team is the leader: it spawns agent workers into tmux sessions,
// supervises them, and is the one place that writes the team's audit log.
package team

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"crewmux/internal/clock"
	"crewmux/pkg/audit"
	"crewmux/pkg/binpath"
	"crewmux/pkg/config"
	"crewmux/pkg/heartbeat"
	"crewmux/pkg/layout"
	"crewmux/pkg/mailbox"
	"crewmux/pkg/roster"
	"crewmux/pkg/status"
	"crewmux/pkg/taskqueue"
	"crewmux/pkg/tmux"
)

// Environment variables set for every worker.
const (
	EnvTeam       = "CREWMUX_TEAM"
	EnvTeamWorker = "CREWMUX_TEAM_WORKER"
	EnvAgentType  = "CREWMUX_AGENT_TYPE"
	EnvStateDir   = config.EnvStateDir
	EnvTransport  = config.EnvTransport
)

// Options configures a Leader. Nil fields get real implementations built
// from Config.
type Options struct {
	Config   config.Config
	Tmux     *tmux.Manager
	Resolver *binpath.Resolver
	Clock    clock.Clock
	Logger   *slog.Logger
	// Layout, when nil, is created for the leader's window if the leader
	// runs inside tmux.
	Layout *layout.Stabilizer
	// Panes overrides the pane checker used by health checks.
	Panes heartbeat.PaneChecker
}

// Leader coordinates one project's teams.
type Leader struct {
	cfg        config.Config
	paths      config.Paths
	tmux       *tmux.Manager
	resolver   *binpath.Resolver
	clock      clock.Clock
	logger     *slog.Logger
	stabilizer *layout.Stabilizer
	panes      heartbeat.PaneChecker

	roster     *roster.Roster
	heartbeats *heartbeat.Store
	legacy     *mailbox.Legacy

	mu       sync.Mutex
	protocol *mailbox.Protocol
	tasks    map[string]*taskqueue.Store
	audits   map[string]*audit.Log
	closed   bool
}

// New builds a Leader.
func New(ctx context.Context, opts Options) (*Leader, error) {
	cfg := opts.Config
	if cfg.StateDir == "" {
		return nil, errors.New("leader: config has no state directory")
	}
	l := &Leader{
		cfg:        cfg,
		paths:      cfg.Paths(),
		tmux:       opts.Tmux,
		resolver:   opts.Resolver,
		clock:      opts.Clock,
		logger:     opts.Logger,
		stabilizer: opts.Layout,
		panes:      opts.Panes,
		tasks:      make(map[string]*taskqueue.Store),
		audits:     make(map[string]*audit.Log),
	}
	if l.clock == nil {
		l.clock = clock.Real()
	}
	if l.logger == nil {
		l.logger = slog.New(slog.DiscardHandler)
	}
	if l.tmux == nil {
		l.tmux = &tmux.Manager{Runner: &tmux.ExecRunner{}, Clock: l.clock, Logger: l.logger, Prefix: cfg.SessionPrefix}
	}
	if l.resolver == nil {
		l.resolver = binpath.NewResolver(binpath.Options{TrustedDirs: cfg.TrustedDirs, Logger: l.logger})
	}
	if l.panes == nil {
		l.panes = l.tmux
	}
	l.roster = roster.New(l.paths.TeamsDir())
	l.heartbeats = &heartbeat.Store{TeamsDir: l.paths.TeamsDir(), Clock: l.clock}
	l.legacy = &mailbox.Legacy{TeamsDir: l.paths.TeamsDir(), MaxReadBytes: cfg.MailboxMaxReadBytes}

	if l.stabilizer == nil && l.tmux.InsideTmux() {
		l.stabilizer = l.newStabilizer(ctx)
	}
	return l, nil
}

func (l *Leader) newStabilizer(ctx context.Context) *layout.Stabilizer {
	window, err := l.tmux.CurrentWindow(ctx)
	if err != nil || window == "" {
		l.logger.Warn("layout disabled: leader window unknown", "err", err)
		return nil
	}
	pane, _ := l.tmux.CurrentPane(ctx)
	return layout.New(layout.Options{
		Surface:    l.tmux,
		Window:     window,
		LeaderPane: pane,
		Layout:     l.cfg.Layout,
		Debounce:   l.cfg.LayoutDebounce.Std(),
		Clock:      l.clock,
		Logger:     l.logger,
	})
}

// Config returns the leader's configuration.
func (l *Leader) Config() config.Config { return l.cfg }

// Resolver returns the binary resolver.
func (l *Leader) Resolver() *binpath.Resolver { return l.resolver }

// Heartbeats returns the heartbeat store.
func (l *Leader) Heartbeats() *heartbeat.Store { return l.heartbeats }

// Tasks returns the team's task store. The team name is sanitized.
func (l *Leader) Tasks(team string) (*taskqueue.Store, error) {
	team, err := sanitizeTeam(team)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.tasks[team]
	if !ok {
		s = &taskqueue.Store{Dir: l.paths.TasksDir(team), LockStaleAfter: l.cfg.LockStaleAfter.Std(), Clock: l.clock}
		l.tasks[team] = s
	}
	return s, nil
}

// Audit returns the team's audit log. The team name is sanitized.
func (l *Leader) Audit(team string) (*audit.Log, error) {
	team, err := sanitizeTeam(team)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.audits[team]
	if !ok {
		a = audit.Open(l.paths.AuditLog(team))
		l.audits[team] = a
	}
	return a, nil
}

// Mailbox returns the transport configured for team. The protocol
// database is opened on first use.
func (l *Leader) Mailbox(team string) (mailbox.Transport, error) {
	team, err := sanitizeTeam(team)
	if err != nil {
		return nil, err
	}
	if l.cfg.TransportFor(team) == mailbox.ModeLegacy {
		return l.legacy, nil
	}
	p, err := l.protocolTransport()
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (l *Leader) protocolTransport() (*mailbox.Protocol, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, errors.New("leader is closed")
	}
	if l.protocol == nil {
		p, err := mailbox.OpenProtocol(l.paths.MailboxDB(), l.logger)
		if err != nil {
			return nil, err
		}
		l.protocol = p
	}
	return l.protocol, nil
}

// Workers lists the team's known workers. An invalid team name has none.
func (l *Leader) Workers(team string) []roster.Worker {
	team, err := sanitizeTeam(team)
	if err != nil {
		return nil
	}
	return l.roster.List(team)
}

// Teams lists teams with state on disk.
func (l *Leader) Teams() []string {
	return l.roster.Teams()
}

// Status returns the team snapshot.
func (l *Leader) Status(ctx context.Context, team string) (status.TeamStatus, error) {
	team, err := sanitizeTeam(team)
	if err != nil {
		return status.TeamStatus{}, err
	}
	agg := &status.Aggregator{
		Roster:     l.roster,
		Heartbeats: l.heartbeats,
		Tasks: func(team string) *taskqueue.Store {
			s, err := l.Tasks(team)
			if err != nil {
				return nil
			}
			return s
		},
		Mailbox: func(team string) mailbox.Transport {
			t, err := l.Mailbox(team)
			if err != nil {
				l.logger.Warn("mailbox unavailable for status", "team", team, "err", err)
				return nil
			}
			return t
		},
		Audit: func(team string) status.Uptimer {
			a, err := l.Audit(team)
			if err != nil {
				return nil
			}
			return a
		},
		Clock:          l.clock,
		MaxAge:         l.cfg.HeartbeatMaxAge.Std(),
		RecentMessages: l.cfg.RecentMessages,
	}
	return agg.TeamStatus(ctx, team), nil
}

// HealthReport is the result of Health.
type HealthReport struct {
	Team          string                   `json:"team"`
	Workers       []heartbeat.Report       `json:"workers"`
	Interventions []heartbeat.Intervention `json:"interventions"`
}

// Health checks every worker of team.
func (l *Leader) Health(ctx context.Context, team string) (HealthReport, error) {
	team, err := sanitizeTeam(team)
	if err != nil {
		return HealthReport{}, err
	}
	m := l.monitor()
	names := l.roster.Names(team)
	hr := HealthReport{Team: team, Workers: []heartbeat.Report{}, Interventions: []heartbeat.Intervention{}}
	for _, w := range names {
		hr.Workers = append(hr.Workers, m.Report(ctx, team, w))
	}
	hr.Interventions = append(hr.Interventions, m.CheckTeam(ctx, team, names)...)
	return hr, nil
}

func (l *Leader) monitor() *heartbeat.Monitor {
	return &heartbeat.Monitor{
		Heartbeats:       l.heartbeats,
		Panes:            l.panes,
		Audit: func(team string) heartbeat.AuditReader {
			a, err := l.Audit(team)
			if err != nil {
				return nil
			}
			return a
		},
		Clock:            l.clock,
		MaxAge:           l.cfg.HeartbeatMaxAge.Std(),
		AtRiskErrors:     l.cfg.AtRiskErrors,
		QuarantineErrors: l.cfg.QuarantineErrors,
	}
}

// Probe checks which agent CLIs can run.
func (l *Leader) Probe(ctx context.Context, binaries []string) []binpath.Availability {
	out := make([]binpath.Availability, 0, len(binaries))
	for _, b := range binaries {
		out = append(out, l.resolver.Probe(ctx, b, l.cfg.ProbeTimeout.Std()))
	}
	return out
}

// Close stops layout work and closes the protocol database.
func (l *Leader) Close() error {
	if l.stabilizer != nil {
		l.stabilizer.Dispose()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.protocol != nil {
		err := l.protocol.Close()
		l.protocol = nil
		if err != nil {
			return fmt.Errorf("close mailbox: %w", err)
		}
	}
	return nil
}

func (l *Leader) requestLayout() {
	if l.stabilizer != nil {
		l.stabilizer.RequestLayout()
	}
}

func (l *Leader) record(team string, ev audit.Event) {
	ev.Team = team
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.clock.Now().UTC()
	}
	a, err := l.Audit(team)
	if err == nil {
		err = a.Append(ev)
	}
	if err != nil {
		l.logger.Warn("audit append failed", "team", team, "worker", ev.Worker, "event", ev.Type, "err", err)
	}
}
