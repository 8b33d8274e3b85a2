// ABOUTME: Asynchronous audit recorder fed by registry and sweeper observers.
// ABOUTME: Observers never block on SQLite; entries queue and drop when the buffer is full.

package store

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/coven-registry/internal/agent"
	"github.com/2389/coven-registry/internal/orphan"
)

const (
	defaultRecorderBuffer = 1024
	recorderWriteTimeout  = 5 * time.Second
)

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithBufferSize sets how many entries may wait for the writer.
func WithBufferSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.bufSize = n
		}
	}
}

// WithRecorderLogger sets the logger. Defaults to slog.Default().
func WithRecorderLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

// Recorder turns registry events and sweep results into audit entries and
// writes them from a single goroutine. Plain updates such as heartbeats are
// not recorded.
type Recorder struct {
	store   AuditStore
	logger  *slog.Logger
	bufSize int

	mu     sync.RWMutex // guards closed against sends on queue
	closed bool
	queue  chan AuditEntry
	done   chan struct{}

	dropped atomic.Uint64
	written atomic.Uint64
}

var (
	_ agent.Observer       = (*Recorder)(nil)
	_ orphan.SweepObserver = (*Recorder)(nil)
)

// NewRecorder starts a recorder writing to s. Call Close to flush and stop it.
func NewRecorder(s AuditStore, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:   s,
		logger:  slog.Default(),
		bufSize: defaultRecorderBuffer,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "audit")
	r.queue = make(chan AuditEntry, r.bufSize)

	go r.run()
	return r
}

// ObserveAgentEvent implements agent.Observer.
func (r *Recorder) ObserveAgentEvent(e agent.Event) {
	entry := AuditEntry{
		AgentID:   e.AgentID,
		Timestamp: e.At,
		Reason:    e.Reason,
	}

	switch e.Kind {
	case agent.EventRegistered:
		entry.Action = AuditRegistered
		entry.ToStatus = string(e.To)
		entry.Detail = map[string]any{
			"name":  e.Record.Name,
			"model": e.Record.Model,
			"type":  e.Record.Type,
		}
	case agent.EventTransitioned:
		entry.Action = AuditTransitioned
		entry.FromStatus = string(e.From)
		entry.ToStatus = string(e.To)
		entry.Detail = map[string]any{"cost": e.Record.Cost}
	case agent.EventRemoved:
		entry.Action = AuditRemoved
		entry.FromStatus = string(e.From)
	case agent.EventReset:
		entry.Action = AuditReset
	default:
		return
	}

	r.enqueue(entry)
}

// ObserveSweep implements orphan.SweepObserver. Sweeps that changed nothing
// are not recorded.
func (r *Recorder) ObserveSweep(res orphan.SweepResult) {
	if len(res.Orphaned) == 0 && len(res.HookErrors) == 0 {
		return
	}

	hookErrors := make([]string, 0, len(res.HookErrors))
	for _, he := range res.HookErrors {
		hookErrors = append(hookErrors, he.Error())
	}

	r.enqueue(AuditEntry{
		Action:    AuditSweep,
		Timestamp: res.StartedAt,
		Detail: map[string]any{
			"scanned":     res.Scanned,
			"orphaned":    res.Orphaned,
			"skipped":     res.Skipped,
			"hook_errors": hookErrors,
			"duration_ms": res.Duration.Milliseconds(),
			"aborted":     res.Aborted,
		},
	})
}

func (r *Recorder) enqueue(e AuditEntry) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return
	}

	select {
	case r.queue <- e:
	default:
		r.dropped.Add(1)
		r.logger.Warn("audit buffer full, dropping entry", "action", e.Action, "agent_id", e.AgentID)
	}
}

func (r *Recorder) run() {
	defer close(r.done)

	for e := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), recorderWriteTimeout)
		err := r.store.AppendAuditLog(ctx, &e)
		cancel()
		if err != nil {
			r.logger.Error("writing audit entry", "action", e.Action, "agent_id", e.AgentID, "error", err)
			continue
		}
		r.written.Add(1)
	}
}

// Dropped returns how many entries were discarded because the buffer was full.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Written returns how many entries reached the store.
func (r *Recorder) Written() uint64 { return r.written.Load() }

// Close stops accepting entries and waits for queued ones to be written.
// It does not close the underlying store. Safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	<-r.done
	return nil
}
