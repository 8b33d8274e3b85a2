// ABOUTME: Audit store interface and entry types for coven-registry persistence
// ABOUTME: Entries record agent lifecycle events and cleanup sweeps

package store

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by a MockStore after Close.
var ErrClosed = errors.New("store closed")

// AuditAction names what an audit entry records.
type AuditAction string

const (
	AuditRegistered   AuditAction = "registered"
	AuditTransitioned AuditAction = "transitioned"
	AuditRemoved      AuditAction = "removed"
	AuditReset        AuditAction = "reset"
	AuditSweep        AuditAction = "sweep"
)

// ValidAuditActions lists all valid audit actions.
var ValidAuditActions = []AuditAction{
	AuditRegistered,
	AuditTransitioned,
	AuditRemoved,
	AuditReset,
	AuditSweep,
}

// Valid reports whether a is a known action.
func (a AuditAction) Valid() bool {
	for _, v := range ValidAuditActions {
		if a == v {
			return true
		}
	}
	return false
}

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID         string         `json:"id"`                    // UUID v4
	AgentID    string         `json:"agent_id,omitempty"`    // empty for sweeps and resets
	Action     AuditAction    `json:"action"`                // what happened
	FromStatus string         `json:"from_status,omitempty"` // status before a transition
	ToStatus   string         `json:"to_status,omitempty"`   // status after a transition
	Reason     string         `json:"reason,omitempty"`      // e.g. "orphaned"
	Timestamp  time.Time      `json:"timestamp"`             // when it happened
	Detail     map[string]any `json:"detail,omitempty"`      // additional context
}

// AuditFilter specifies filtering options for listing audit entries.
type AuditFilter struct {
	Since   *time.Time   // entries at or after this time
	AgentID *string      // filter by agent
	Action  *AuditAction // filter by action type
	Limit   int          // max results (default 100, max 1000)
}

// AuditStore persists audit entries.
type AuditStore interface {
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
	Close() error
}
