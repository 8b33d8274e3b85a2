// ABOUTME: AgentRecord and the input shapes used to create, patch, and filter records.
// ABOUTME: Records leave the registry only as deep copies.

package agent

import (
	"maps"
	"strings"
	"time"
)

// DefaultType is assigned when a registration leaves Type empty.
const DefaultType = "general"

// Record is the registry's bookkeeping for one agent.
type Record struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Model        string            `json:"model"`
	Type         string            `json:"type"`
	Status       Status            `json:"status"`
	Reason       string            `json:"reason,omitempty"`
	StartTime    time.Time         `json:"start_time"`
	LastActivity time.Time         `json:"last_activity"`
	EndTime      *time.Time        `json:"end_time,omitempty"`
	Cost         float64           `json:"cost"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Orphaned reports whether the cleanup sweep declared this record abandoned.
func (r Record) Orphaned() bool {
	return r.Status == StatusFailed && r.Reason == ReasonOrphaned
}

// DisplayStatus is Status, except orphaned records read "orphaned".
func (r Record) DisplayStatus() string {
	if r.Orphaned() {
		return DisplayOrphaned
	}
	return string(r.Status)
}

// clone returns a copy that shares no mutable state with r.
func (r Record) clone() Record {
	out := r
	if r.EndTime != nil {
		t := *r.EndTime
		out.EndTime = &t
	}
	if r.Metadata != nil {
		out.Metadata = maps.Clone(r.Metadata)
	}
	return out
}

// Registration holds the caller-supplied fields for a new agent.
// Zero-valued optional fields take registry defaults.
type Registration struct {
	Name  string
	Model string
	Type  string

	// Status defaults to running. A terminal status imports a finished record.
	Status       Status
	StartTime    time.Time
	LastActivity time.Time
	Cost         float64
	Metadata     map[string]string
}

// Patch describes a partial update. Nil fields are left untouched.
type Patch struct {
	Status *Status
	Reason string

	Name  *string
	Model *string
	Type  *string

	LastActivity *time.Time
	Cost         *float64

	// Metadata keys are merged; an empty value deletes the key.
	Metadata map[string]string

	// ExpectLastActivity, when set, makes the patch conditional on the record's
	// lastActivity being exactly this instant.
	ExpectLastActivity *time.Time
}

// StatusPtr is a convenience for building patches.
func StatusPtr(s Status) *Status { return &s }

// Filter selects records for listing. Zero fields match everything.
type Filter struct {
	// Status matches a Status or "orphaned".
	Status string
	// Model is a case-insensitive substring of Record.Model.
	Model string
	// Since keeps records whose lastActivity is within this window of now.
	Since time.Duration
}

// Matches reports whether r passes f at the instant now.
func (f Filter) Matches(r Record, now time.Time) bool {
	if f.Status != "" {
		if f.Status == DisplayOrphaned {
			if !r.Orphaned() {
				return false
			}
		} else if string(r.Status) != f.Status {
			return false
		}
	}
	if f.Model != "" && !strings.Contains(strings.ToLower(r.Model), strings.ToLower(f.Model)) {
		return false
	}
	if f.Since > 0 && r.LastActivity.Before(now.Add(-f.Since)) {
		return false
	}
	return true
}

// EventKind names a registry mutation.
type EventKind string

const (
	EventRegistered   EventKind = "registered"
	EventUpdated      EventKind = "updated"
	EventTransitioned EventKind = "transitioned"
	EventRemoved      EventKind = "removed"
	EventReset        EventKind = "reset"
)

// Event describes one committed registry mutation.
type Event struct {
	Kind    EventKind
	AgentID string
	From    Status
	To      Status
	Reason  string
	At      time.Time
	// Record is the state after the mutation (before it, for removals).
	Record Record
}

// Observer receives committed registry events. It is called with the
// registry lock held and must not block.
type Observer interface {
	ObserveAgentEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) ObserveAgentEvent(e Event) { f(e) }
