package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"crewmux/pkg/heartbeat"
	"crewmux/pkg/names"
	"crewmux/pkg/status"
	"crewmux/pkg/team"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

const dashRefresh = 2 * time.Second

// dashSnapshot is one refresh of the dashboard's data.
type dashSnapshot struct {
	Status status.TeamStatus
	Health team.HealthReport
}

// tickMsg triggers a periodic refresh.
type tickMsg time.Time

// snapshotMsg carries freshly loaded team state.
type snapshotMsg dashSnapshot

// noteMsg is a one-line result shown in the footer.
type noteMsg string

type dashKeys struct {
	Up        key.Binding
	Down      key.Binding
	Refresh   key.Binding
	Interrupt key.Binding
	Quit      key.Binding
}

func (k dashKeys) bindings() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Refresh, k.Interrupt, k.Quit}
}

var defaultDashKeys = dashKeys{
	Up:        key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("k/↑", "up")),
	Down:      key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j/↓", "down")),
	Refresh:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	Interrupt: key.NewBinding(key.WithKeys("i"), key.WithHelp("i", "interrupt worker")),
	Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// dashModel is the Bubble Tea model for "crewmux dash".
type dashModel struct {
	team      string
	load      func() dashSnapshot
	interrupt func(worker string) error

	snap   dashSnapshot
	loaded bool
	cursor int
	note   string

	keys   dashKeys
	help   help.Model
	styles styles
}

func newDashModel(teamName string, st styles, load func() dashSnapshot, interrupt func(string) error) dashModel {
	return dashModel{
		team:      teamName,
		load:      load,
		interrupt: interrupt,
		keys:      defaultDashKeys,
		help:      help.New(),
		styles:    st,
	}
}

func dashTick() tea.Cmd {
	return tea.Tick(dashRefresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m dashModel) fetch() tea.Cmd {
	return func() tea.Msg { return snapshotMsg(m.load()) }
}

// Init implements tea.Model.
func (m dashModel) Init() tea.Cmd {
	return tea.Batch(m.fetch(), dashTick())
}

// Update implements tea.Model.
func (m dashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
	case snapshotMsg:
		m.snap = dashSnapshot(msg)
		m.loaded = true
		if n := len(m.snap.Status.Workers); m.cursor >= n {
			m.cursor = max(n-1, 0)
		}
	case noteMsg:
		m.note = string(msg)
	case tickMsg:
		return m, tea.Batch(m.fetch(), dashTick())
	}
	return m, nil
}

func (m dashModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.snap.Status.Workers)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Refresh):
		return m, m.fetch()
	case key.Matches(msg, m.keys.Interrupt):
		worker, ok := m.selected()
		if !ok {
			return m, nil
		}
		interrupt := m.interrupt
		return m, func() tea.Msg {
			if err := interrupt(worker); err != nil {
				return noteMsg("interrupt " + worker + ": " + err.Error())
			}
			return noteMsg("sent Ctrl-C to " + worker)
		}
	}
	return m, nil
}

func (m dashModel) selected() (string, bool) {
	ws := m.snap.Status.Workers
	if m.cursor < 0 || m.cursor >= len(ws) {
		return "", false
	}
	return ws[m.cursor].Worker.Name, true
}

// View implements tea.Model.
func (m dashModel) View() string {
	st := m.styles
	sections := []string{st.Header.Render("crewmux · " + m.team)}
	if !m.loaded {
		sections = append(sections, st.Muted.Render("loading…"))
		return lipgloss.JoinVertical(lipgloss.Left, sections...)
	}

	s := m.snap.Status.Tasks
	sections = append(sections, fmt.Sprintf("tasks  %d pending · %d in progress · %d completed · %d failed",
		s.Pending, s.InProgress, s.Completed, s.Failed))
	sections = append(sections, "", m.renderWorkers())

	if ivs := m.snap.Health.Interventions; len(ivs) > 0 {
		lines := []string{st.Section.Render("Interventions")}
		for _, iv := range ivs {
			style := st.Warn
			if iv.Kind == heartbeat.KindDead || iv.Kind == heartbeat.KindQuarantined {
				style = st.Bad
			}
			lines = append(lines, fmt.Sprintf("%s %s: %s", style.Render(string(iv.Kind)), iv.Worker, iv.Action))
		}
		sections = append(sections, "", lipgloss.JoinVertical(lipgloss.Left, lines...))
	}
	if m.note != "" {
		sections = append(sections, "", st.Muted.Render(m.note))
	}
	sections = append(sections, "", m.help.ShortHelpView(m.keys.bindings()))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m dashModel) renderWorkers() string {
	st := m.styles
	ws := m.snap.Status.Workers
	if len(ws) == 0 {
		return st.Muted.Render("No workers")
	}
	rows := make([][]string, 0, len(ws))
	for i, w := range ws {
		marker := "  "
		if i == m.cursor {
			marker = "> "
		}
		live := st.Bad.Render("stale")
		if w.Alive {
			live = st.Good.Render("alive")
		}
		task := "-"
		if w.CurrentTask != nil {
			task = w.CurrentTask.ID
		}
		last := "-"
		if n := len(w.RecentMessages); n > 0 {
			last = w.RecentMessages[n-1].Type
		}
		rows = append(rows, []string{
			marker + w.Worker.Name, w.Worker.AgentType, live, task,
			formatUptime(w.Uptime), strconv.Itoa(len(w.RecentMessages)), last,
		})
	}
	return strings.TrimRight(table([]string{"  WORKER", "AGENT", "HEARTBEAT", "TASK", "UPTIME", "MSGS", "LAST"}, rows, st), "\n")
}

// newDashCmd creates the "crewmux dash" subcommand.
func newDashCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "dash [team]",
		Short: "Live dashboard of a team's workers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := teamArg(args)
			if err != nil {
				return err
			}
			if name, err = names.Sanitize(name); err != nil {
				return fmt.Errorf("team name: %w", err)
			}
			return g.withLeader(cmd, func(l *team.Leader) error {
				ctx := cmd.Context()
				m := newDashModel(name, newStyles(cmd.OutOrStdout()),
					func() dashSnapshot {
						ts, _ := l.Status(ctx, name)
						hr, _ := l.Health(ctx, name)
						return dashSnapshot{Status: ts, Health: hr}
					},
					func(worker string) error { return l.InterruptWorker(ctx, name, worker) },
				)
				p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
				if _, err := p.Run(); err != nil {
					return fmt.Errorf("run dashboard: %w", err)
				}
				return nil
			})
		},
	}
}
