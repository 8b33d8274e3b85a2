// ABOUTME: Mock AuditStore implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// MockStore is an in-memory AuditStore implementation for testing.
type MockStore struct {
	mu      sync.RWMutex
	entries []AuditEntry // in append order
	closed  bool

	// AppendErr, when set, is returned by AppendAuditLog.
	AppendErr error
}

var _ AuditStore = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// AppendAuditLog stores a copy of e.
func (m *MockStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.AppendErr != nil {
		return m.AppendErr
	}

	prepareEntry(e)
	cp := *e
	cp.Detail = maps.Clone(e.Detail)
	m.entries = append(m.entries, cp)
	return nil
}

// ListAuditLog returns matching entries newest first.
func (m *MockStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	limit := normalizeAuditLimit(f.Limit)
	out := []AuditEntry{}
	for _, e := range slices.Backward(m.entries) {
		if !f.matches(e) {
			continue
		}
		out = append(out, e)
	}
	slices.SortStableFunc(out, func(a, b AuditEntry) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Entries returns every stored entry in append order.
func (m *MockStore) Entries() []AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.entries)
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (f AuditFilter) matches(e AuditEntry) bool {
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	if f.AgentID != nil && e.AgentID != *f.AgentID {
		return false
	}
	if f.Action != nil && e.Action != *f.Action {
		return false
	}
	return true
}
