// Package layout keeps the leader's tmux window arranged as workers come
// and go. Bursts of layout requests are coalesced behind a trailing
// debounce, and at most one arrangement runs at a time.
package layout

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"crewmux/internal/clock"
)

// Defaults.
const (
	DefaultLayout   = "main-vertical"
	DefaultDebounce = 150 * time.Millisecond
	stepTimeout     = 5 * time.Second
)

// Surface is the subset of tmux the stabilizer drives.
type Surface interface {
	SelectLayout(ctx context.Context, target, layout string) error
	WindowWidth(ctx context.Context, target string) (int, error)
	SetWindowOption(ctx context.Context, target, key, value string) error
	SelectPane(ctx context.Context, target string) error
}

// State is the stabilizer's lifecycle state.
type State int

const (
	Idle State = iota
	Pending
	Running
	Disposed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Disposed:
		return "disposed"
	}
	return "unknown"
}

// Options configures a Stabilizer.
type Options struct {
	Surface    Surface
	Window     string // target window; "" means the current window
	LeaderPane string // refocused after each arrangement; "" skips it
	Layout     string
	Debounce   time.Duration
	Clock      clock.Clock
	Logger     *slog.Logger
}

// Stabilizer debounces and serializes layout arrangements.
type Stabilizer struct {
	surface  Surface
	window   string
	leader   string
	layout   string
	debounce time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	mu      sync.Mutex
	state   State
	queued  bool
	urgent  bool // the queued follow-up was requested by Flush and skips the debounce
	timer   clock.Timer
	gen     uint64
	waiters []chan struct{}
	runs    int
}

// New returns an idle Stabilizer.
func New(opts Options) *Stabilizer {
	s := &Stabilizer{
		surface:  opts.Surface,
		window:   opts.Window,
		leader:   opts.LeaderPane,
		layout:   opts.Layout,
		debounce: opts.Debounce,
		clock:    opts.Clock,
		logger:   opts.Logger,
	}
	if s.layout == "" {
		s.layout = DefaultLayout
	}
	if s.debounce <= 0 {
		s.debounce = DefaultDebounce
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// RequestLayout asks for an arrangement. Requests while one is running
// are folded into a single follow-up; otherwise the debounce timer is
// (re)armed. It is a no-op after Dispose.
func (s *Stabilizer) RequestLayout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Disposed:
		return
	case Running:
		s.queued = true
		return
	}
	s.armLocked()
}

// armLocked (re)starts the debounce timer and moves to Pending.
func (s *Stabilizer) armLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.state = Pending
	s.timer = s.clock.AfterFunc(s.debounce, func() { s.fire(gen) })
}

func (s *Stabilizer) fire(gen uint64) {
	s.mu.Lock()
	if s.state != Pending || s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.state = Running
	s.timer = nil
	s.mu.Unlock()
	s.runLoop()
}

// runLoop performs arrangements until no urgent follow-up remains. The
// caller must have moved the state to Running.
func (s *Stabilizer) runLoop() {
	for {
		s.arrange()

		s.mu.Lock()
		s.runs++
		if s.state == Disposed {
			s.resolveLocked()
			s.mu.Unlock()
			return
		}
		if s.queued {
			s.queued = false
			if s.urgent {
				s.urgent = false
				s.mu.Unlock()
				continue
			}
			// Waiters still present were registered before this run began.
			s.resolveLocked()
			s.armLocked()
			s.mu.Unlock()
			return
		}
		s.state = Idle
		s.resolveLocked()
		s.mu.Unlock()
		return
	}
}

// Flush runs an arrangement now. When one is already running it waits for
// that run and one immediate follow-up to finish. Flush returns early only
// if ctx is done.
func (s *Stabilizer) Flush(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case Disposed:
		s.mu.Unlock()
		return nil
	case Running:
		s.queued = true
		s.urgent = true
		ch := make(chan struct{})
		s.waiters = append(s.waiters, ch)
		s.mu.Unlock()
		select {
		case <-ch:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	s.state = Running
	s.mu.Unlock()
	s.runLoop()
	return nil
}

// Dispose cancels any pending arrangement and releases every Flush waiter.
// No arrangement is scheduled afterwards; one already running completes.
func (s *Stabilizer) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	s.state = Disposed
	s.queued = false
	s.urgent = false
	s.resolveLocked()
}

func (s *Stabilizer) resolveLocked() {
	for _, ch := range s.waiters {
		close(ch)
	}
	s.waiters = nil
}

// State returns the current state.
func (s *Stabilizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Runs returns how many arrangements have completed.
func (s *Stabilizer) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// arrange applies the layout. Every step is best effort: a failure is
// logged and the remaining steps still run.
func (s *Stabilizer) arrange() {
	ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
	defer cancel()

	if err := s.surface.SelectLayout(ctx, s.window, s.layout); err != nil {
		s.logger.Warn("layout step failed", "step", "select-layout", "err", err)
	}
	if s.layout == DefaultLayout {
		width, err := s.surface.WindowWidth(ctx, s.window)
		switch {
		case err != nil:
			s.logger.Warn("layout step failed", "step", "window-width", "err", err)
		case width > 0:
			if err := s.surface.SetWindowOption(ctx, s.window, "main-pane-width", strconv.Itoa(width/2)); err != nil {
				s.logger.Warn("layout step failed", "step", "main-pane-width", "err", err)
			}
		}
		if err := s.surface.SelectLayout(ctx, s.window, s.layout); err != nil {
			s.logger.Warn("layout step failed", "step", "reselect-layout", "err", err)
		}
	}
	if s.leader != "" {
		if err := s.surface.SelectPane(ctx, s.leader); err != nil {
			s.logger.Warn("layout step failed", "step", "select-pane", "err", err)
		}
	}
}
