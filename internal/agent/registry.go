// ABOUTME: Concurrency-safe registry of agent records keyed by id in registration order.
// ABOUTME: Every status change is checked against the transition table before it is applied.

package agent

import (
	"container/list"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

// Registry owns all agent records. The zero value is not usable; call NewRegistry.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*list.Element
	order   *list.List // *Record values, oldest registration at front

	clock     clock.PassiveClock
	logger    *slog.Logger
	observers []Observer
	newID     func() string
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the time source. Defaults to the system clock.
func WithClock(c clock.PassiveClock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithObserver adds an observer for committed events. May be repeated.
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observers = append(r.observers, o) }
}

// WithIDGenerator replaces the uuid-based id generator.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) { r.newID = fn }
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		records: make(map[string]*list.Element),
		order:   list.New(),
		clock:   clock.RealClock{},
		logger:  slog.Default(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "registry")
	return r
}

// Register validates reg, stores a new record, and returns its id.
func (r *Registry) Register(reg Registration) (string, error) {
	rec, err := r.buildRecord(reg)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	for _, taken := r.records[id]; taken; _, taken = r.records[id] {
		id = r.newID()
	}
	rec.ID = id

	r.records[id] = r.order.PushBack(&rec)
	r.logger.Info("=== AGENT REGISTERED ===",
		"agent_id", id,
		"name", rec.Name,
		"model", rec.Model,
		"status", rec.Status,
		"total_agents", len(r.records),
	)
	r.emit(Event{Kind: EventRegistered, AgentID: id, To: rec.Status, Reason: rec.Reason, At: rec.StartTime, Record: rec.clone()})
	return id, nil
}

// buildRecord applies defaults and validation to a registration.
func (r *Registry) buildRecord(reg Registration) (Record, error) {
	name := strings.TrimSpace(reg.Name)
	model := strings.TrimSpace(reg.Model)
	if name == "" {
		return Record{}, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if model == "" {
		return Record{}, fmt.Errorf("%w: model is required", ErrValidation)
	}
	if err := validateCost(reg.Cost); err != nil {
		return Record{}, err
	}

	status := reg.Status
	if status == "" {
		status = StatusRunning
	}
	if !status.Valid() {
		return Record{}, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}

	now := r.clock.Now()
	start, last := reg.StartTime, reg.LastActivity
	switch {
	case start.IsZero() && last.IsZero():
		start, last = now, now
	case start.IsZero():
		start = now
		if last.Before(start) {
			start = last
		}
	case last.IsZero():
		last = start
	case last.Before(start):
		return Record{}, fmt.Errorf("%w: last_activity %s precedes start_time %s",
			ErrValidation, last.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	typ := strings.TrimSpace(reg.Type)
	if typ == "" {
		typ = DefaultType
	}

	rec := Record{
		Name:         name,
		Model:        model,
		Type:         typ,
		Status:       status,
		StartTime:    start,
		LastActivity: last,
		Cost:         reg.Cost,
	}
	if len(reg.Metadata) > 0 {
		rec.Metadata = maps.Clone(reg.Metadata)
	}
	if status.Terminal() {
		end := last
		rec.EndTime = &end
	}
	return rec, nil
}

// Get returns a copy of the record with the given id.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	elem, ok := r.records[id]
	if !ok {
		return Record{}, false
	}
	return elem.Value.(*Record).clone(), true
}

// List returns copies of the records matching f, in registration order.
func (r *Registry) List(f Filter) []Record {
	now := r.clock.Now()

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Record, 0, len(r.records))
	for e := r.order.Front(); e != nil; e = e.Next() {
		rec := e.Value.(*Record)
		if f.Matches(*rec, now) {
			out = append(out, rec.clone())
		}
	}
	return out
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Update applies p to the record atomically and returns the new state.
// Nothing is applied if any part of the patch is rejected. The orphaned reason
// is reserved for MarkOrphaned and is rejected here.
func (r *Registry) Update(id string, p Patch) (Record, error) {
	if p.Reason == ReasonOrphaned {
		return Record{}, fmt.Errorf("updating agent %s: %w: reason %q is reserved for cleanup", id, ErrValidation, ReasonOrphaned)
	}
	return r.update(id, p)
}

// MarkOrphaned moves a running agent to failed with the orphaned reason,
// provided its lastActivity still equals lastSeen. A newer heartbeat makes it
// fail with ErrStaleSnapshot.
func (r *Registry) MarkOrphaned(id string, lastSeen time.Time) (Record, error) {
	return r.update(id, Patch{
		Status:             StatusPtr(StatusFailed),
		Reason:             ReasonOrphaned,
		ExpectLastActivity: &lastSeen,
	})
}

func (r *Registry) update(id string, p Patch) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	elem, ok := r.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cur := elem.Value.(*Record)

	if p.ExpectLastActivity != nil && !cur.LastActivity.Equal(*p.ExpectLastActivity) {
		return Record{}, fmt.Errorf("%w: %s last active %s, expected %s", ErrStaleSnapshot, id,
			cur.LastActivity.Format(time.RFC3339Nano), p.ExpectLastActivity.Format(time.RFC3339Nano))
	}
	if cur.Status.Terminal() {
		return Record{}, fmt.Errorf("%w: agent %s is %s and read-only", ErrInvalidTransition, id, cur.Status)
	}

	next, transitioned, err := r.applyPatch(*cur, p)
	if err != nil {
		return Record{}, fmt.Errorf("updating agent %s: %w", id, err)
	}

	from := cur.Status
	*cur = next

	if transitioned {
		r.logger.Info("agent transitioned",
			"agent_id", id,
			"from", from,
			"to", next.Status,
			"reason", next.Reason,
		)
		r.emit(Event{Kind: EventTransitioned, AgentID: id, From: from, To: next.Status, Reason: next.Reason, At: *next.EndTime, Record: next.clone()})
	} else {
		r.emit(Event{Kind: EventUpdated, AgentID: id, From: from, To: next.Status, At: r.clock.Now(), Record: next.clone()})
	}
	return next.clone(), nil
}

// applyPatch returns cur with p applied. cur is a private copy the caller may discard.
func (r *Registry) applyPatch(cur Record, p Patch) (Record, bool, error) {
	next := cur.clone()

	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return cur, false, fmt.Errorf("%w: name cannot be empty", ErrValidation)
		}
		next.Name = name
	}
	if p.Model != nil {
		model := strings.TrimSpace(*p.Model)
		if model == "" {
			return cur, false, fmt.Errorf("%w: model cannot be empty", ErrValidation)
		}
		next.Model = model
	}
	if p.Type != nil {
		next.Type = strings.TrimSpace(*p.Type)
		if next.Type == "" {
			next.Type = DefaultType
		}
	}
	if p.LastActivity != nil {
		if p.LastActivity.Before(cur.LastActivity) {
			return cur, false, fmt.Errorf("%w: last_activity cannot move backwards", ErrValidation)
		}
		next.LastActivity = *p.LastActivity
	}
	if p.Cost != nil {
		if err := validateCost(*p.Cost); err != nil {
			return cur, false, err
		}
		if *p.Cost < cur.Cost {
			return cur, false, fmt.Errorf("%w: cost cannot decrease (%g < %g)", ErrValidation, *p.Cost, cur.Cost)
		}
		next.Cost = *p.Cost
	}
	for k, v := range p.Metadata {
		if next.Metadata == nil {
			next.Metadata = make(map[string]string, len(p.Metadata))
		}
		if v == "" {
			delete(next.Metadata, k)
		} else {
			next.Metadata[k] = v
		}
	}

	if p.Status == nil {
		if p.Reason != "" {
			return cur, false, fmt.Errorf("%w: reason requires a status change", ErrValidation)
		}
		return next, false, nil
	}

	to := *p.Status
	if !to.Valid() {
		return cur, false, fmt.Errorf("%w: unknown status %q", ErrValidation, to)
	}
	if !CanTransition(cur.Status, to) {
		return cur, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, to)
	}
	if to == cur.Status {
		if p.Reason != "" {
			return cur, false, fmt.Errorf("%w: reason requires a status change", ErrValidation)
		}
		return next, false, nil
	}

	next.Status = to
	next.Reason = p.Reason
	end := r.clock.Now()
	if end.Before(next.LastActivity) {
		end = next.LastActivity
	}
	next.EndTime = &end
	return next, true, nil
}

// Heartbeat advances lastActivity to now. It never moves it backwards.
func (r *Registry) Heartbeat(id string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	elem, ok := r.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cur := elem.Value.(*Record)
	if cur.Status.Terminal() {
		return Record{}, fmt.Errorf("%w: agent %s is %s and read-only", ErrInvalidTransition, id, cur.Status)
	}

	now := r.clock.Now()
	if now.After(cur.LastActivity) {
		cur.LastActivity = now
	}
	r.logger.Debug("agent heartbeat", "agent_id", id, "last_activity", cur.LastActivity)
	r.emit(Event{Kind: EventUpdated, AgentID: id, From: cur.Status, To: cur.Status, At: now, Record: cur.clone()})
	return cur.clone(), nil
}

// Remove deletes the record entirely.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	elem, ok := r.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	rec := r.order.Remove(elem).(*Record)
	delete(r.records, id)

	r.logger.Info("agent removed",
		"agent_id", id,
		"name", rec.Name,
		"total_agents", len(r.records),
	)
	r.emit(Event{Kind: EventRemoved, AgentID: id, From: rec.Status, At: r.clock.Now(), Record: rec.clone()})
	return nil
}

// Reset drops every record. Intended for test isolation.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.records)
	r.records = make(map[string]*list.Element)
	r.order.Init()

	r.logger.Debug("registry reset", "dropped", n)
	r.emit(Event{Kind: EventReset, At: r.clock.Now()})
}

// emit must be called with mu held.
func (r *Registry) emit(e Event) {
	for _, o := range r.observers {
		o.ObserveAgentEvent(e)
	}
}

func validateCost(c float64) error {
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return fmt.Errorf("%w: cost must be a finite number", ErrValidation)
	}
	if c < 0 {
		return fmt.Errorf("%w: cost cannot be negative", ErrValidation)
	}
	return nil
}
