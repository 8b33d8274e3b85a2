// ABOUTME: Periodic and on-demand cleanup sweep that marks orphaned agents failed.
// ABOUTME: Transitions are compare-and-set on lastActivity; terminator hooks are time-bounded.

package orphan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/2389/coven-registry/internal/agent"
)

const (
	// DefaultInterval is the time between periodic sweeps.
	DefaultInterval = time.Minute
	// DefaultHookTimeout bounds each Terminator call.
	DefaultHookTimeout = 10 * time.Second
)

// ErrSweeperRunning is returned by Start when the periodic loop is already active.
var ErrSweeperRunning = errors.New("sweeper already running")

// AgentStore is the part of the registry the sweeper needs.
type AgentStore interface {
	List(f agent.Filter) []agent.Record
	MarkOrphaned(id string, lastSeen time.Time) (agent.Record, error)
}

// SweepObserver receives every finished sweep.
type SweepObserver interface {
	ObserveSweep(SweepResult)
}

// SweepObserverFunc adapts a function to SweepObserver.
type SweepObserverFunc func(SweepResult)

// ObserveSweep calls f(res).
func (f SweepObserverFunc) ObserveSweep(res SweepResult) { f(res) }

// SweeperConfig holds the sweep policy. Zero values take the defaults.
type SweeperConfig struct {
	Timeout     time.Duration
	Interval    time.Duration
	HookTimeout time.Duration
}

func (c SweeperConfig) withDefaults() SweeperConfig {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.HookTimeout <= 0 {
		c.HookTimeout = DefaultHookTimeout
	}
	return c
}

// HookError records a Terminator failure for one orphan.
type HookError struct {
	AgentID string `json:"agent_id"`
	Message string `json:"error"`
	Timeout bool   `json:"timeout"`
}

func (e HookError) Error() string {
	return fmt.Sprintf("terminating agent %s: %s", e.AgentID, e.Message)
}

// SweepResult describes one sweep.
type SweepResult struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Scanned    int           `json:"scanned"`
	Orphaned   []string      `json:"orphaned"`
	Skipped    []string      `json:"skipped"`
	HookErrors []HookError   `json:"hook_errors,omitempty"`
	Aborted    bool          `json:"aborted"`
}

// Stats accumulates across sweeps until Reset.
type Stats struct {
	Sweeps       int       `json:"sweeps"`
	Orphaned     int       `json:"orphaned"`
	Skipped      int       `json:"skipped"`
	HookFailures int       `json:"hook_failures"`
	LastSweep    time.Time `json:"last_sweep,omitzero"`
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithClock sets the time source and ticker. Defaults to the system clock.
func WithClock(c clock.WithTicker) SweeperOption {
	return func(s *Sweeper) { s.clock = c }
}

// WithTerminator sets the hook invoked for each orphan.
func WithTerminator(t Terminator) SweeperOption {
	return func(s *Sweeper) { s.terminator = t }
}

// WithObserver adds a sweep observer. May be repeated.
func WithObserver(o SweepObserver) SweeperOption {
	return func(s *Sweeper) { s.observers = append(s.observers, o) }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) SweeperOption {
	return func(s *Sweeper) { s.logger = l }
}

// Sweeper drives orphan cleanup against an AgentStore.
type Sweeper struct {
	agents     AgentStore
	cfg        SweeperConfig
	clock      clock.WithTicker
	terminator Terminator
	observers  []SweepObserver
	logger     *slog.Logger

	// sweepMu serializes sweeps from the ticker and on-demand callers.
	sweepMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	last   *SweepResult
	stats  Stats
	// gen advances on Reset; sweeps begun under an older gen are not recorded.
	gen uint64
}

// NewSweeper creates a stopped Sweeper.
func NewSweeper(agents AgentStore, cfg SweeperConfig, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		agents: agents,
		cfg:    cfg.withDefaults(),
		clock:  clock.RealClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "sweeper")
	return s
}

// Config returns the effective policy.
func (s *Sweeper) Config() SweeperConfig {
	return s.cfg
}

// Start launches the periodic loop. The loop ends when ctx is canceled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runningLocked() {
		return ErrSweeperRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(loopCtx, s.done)

	s.logger.Info("sweeper started",
		"interval", s.cfg.Interval,
		"timeout", s.cfg.Timeout,
		"hook_timeout", s.cfg.HookTimeout,
	)
	return nil
}

// Stop cancels the loop and waits for it to exit. Safe to call repeatedly and
// while a sweep is in flight; the sweep stops between records.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("sweeper stopped")
}

// Reset stops the loop and clears the last result and stats. A sweep still in
// flight keeps its committed transitions but is left out of the cleared state.
func (s *Sweeper) Reset() {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.last = nil
	s.stats = Stats{}
}

// Running reports whether the periodic loop is active.
func (s *Sweeper) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningLocked()
}

func (s *Sweeper) runningLocked() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// LastResult returns the most recent sweep, if any.
func (s *Sweeper) LastResult() (SweepResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return SweepResult{}, false
	}
	return *s.last, true
}

// Stats returns cumulative counters since the last Reset.
func (s *Sweeper) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := s.clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs one detect-and-transition pass synchronously.
func (s *Sweeper) SweepOnce(ctx context.Context) SweepResult {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	res := SweepResult{
		StartedAt: s.clock.Now(),
		Orphaned:  []string{},
		Skipped:   []string{},
	}

	snapshot := s.agents.List(agent.Filter{Status: string(agent.StatusRunning)})
	res.Scanned = len(snapshot)
	now := s.clock.Now()

	for _, rec := range FindOrphaned(snapshot, now, s.cfg.Timeout) {
		if ctx.Err() != nil {
			res.Aborted = true
			break
		}

		lastSeen := rec.LastActivity
		_, err := s.agents.MarkOrphaned(rec.ID, lastSeen)
		switch {
		case err == nil:
			res.Orphaned = append(res.Orphaned, rec.ID)
			s.logger.Warn("agent orphaned",
				"agent_id", rec.ID,
				"name", rec.Name,
				"idle", now.Sub(lastSeen).Round(time.Second),
			)
		case errors.Is(err, agent.ErrStaleSnapshot),
			errors.Is(err, agent.ErrInvalidTransition),
			errors.Is(err, agent.ErrNotFound):
			res.Skipped = append(res.Skipped, rec.ID)
			s.logger.Debug("agent changed during sweep, skipping", "agent_id", rec.ID, "error", err)
		default:
			res.Skipped = append(res.Skipped, rec.ID)
			s.logger.Error("marking agent orphaned", "agent_id", rec.ID, "error", err)
		}
	}

	res.HookErrors = s.runHooks(ctx, res.Orphaned)
	res.Duration = s.clock.Since(res.StartedAt)

	s.record(gen, res)
	for _, o := range s.observers {
		o.ObserveSweep(res)
	}
	return res
}

// record must not be called with mu held.
func (s *Sweeper) record(gen uint64, res SweepResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		return
	}

	last := res
	s.last = &last
	s.stats.Sweeps++
	s.stats.Orphaned += len(res.Orphaned)
	s.stats.Skipped += len(res.Skipped)
	s.stats.HookFailures += len(res.HookErrors)
	s.stats.LastSweep = res.StartedAt
}

// runHooks calls the terminator for each id concurrently and waits at most
// HookTimeout for each of them.
func (s *Sweeper) runHooks(ctx context.Context, ids []string) []HookError {
	if s.terminator == nil || len(ids) == 0 {
		return nil
	}

	results := make([]*HookError, len(ids))
	var wg sync.WaitGroup
	wg.Add(len(ids))
	for i, id := range ids {
		go func() {
			defer wg.Done()
			results[i] = s.invokeHook(ctx, id)
		}()
	}
	wg.Wait()

	var errs []HookError
	for _, he := range results {
		if he != nil {
			errs = append(errs, *he)
		}
	}
	return errs
}

func (s *Sweeper) invokeHook(ctx context.Context, id string) *HookError {
	hctx, cancel := context.WithTimeout(ctx, s.cfg.HookTimeout)
	defer cancel()

	ch := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- fmt.Errorf("terminator panicked: %v", r)
			}
		}()
		ch <- s.terminator.Terminate(hctx, id)
	}()

	var he *HookError
	select {
	case err := <-ch:
		if err != nil {
			he = &HookError{AgentID: id, Message: err.Error(), Timeout: errors.Is(err, context.DeadlineExceeded)}
		}
	case <-hctx.Done():
		he = &HookError{
			AgentID: id,
			Message: fmt.Sprintf("terminator abandoned: %v", hctx.Err()),
			Timeout: errors.Is(hctx.Err(), context.DeadlineExceeded),
		}
	}

	if he != nil {
		s.logger.Warn("terminator failed", "agent_id", id, "error", he.Message, "timeout", he.Timeout)
	}
	return he
}
