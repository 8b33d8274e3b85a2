// ABOUTME: Tests for audit log store operations
// ABOUTME: Covers Append and List with filtering against SQLite and the mock store

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// stores runs fn against both implementations so they stay in agreement.
func stores(t *testing.T, fn func(t *testing.T, s AuditStore)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, setupTestStore(t)) })
	t.Run("mock", func(t *testing.T) { fn(t, NewMockStore()) })
}

func ptr[T any](v T) *T { return &v }

func TestAuditStore_Append(t *testing.T) {
	stores(t, func(t *testing.T, s AuditStore) {
		entry := &AuditEntry{
			AgentID:  "agent-1",
			Action:   AuditRegistered,
			ToStatus: "running",
			Detail:   map[string]any{"name": "refactor-auth"},
		}
		require.NoError(t, s.AppendAuditLog(context.Background(), entry))

		// Should have generated ID and timestamp
		assert.NotEmpty(t, entry.ID)
		assert.False(t, entry.Timestamp.IsZero())

		entries, err := s.ListAuditLog(context.Background(), AuditFilter{})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, entry.ID, entries[0].ID)
		assert.Equal(t, "agent-1", entries[0].AgentID)
		assert.Equal(t, "running", entries[0].ToStatus)
		assert.Equal(t, "refactor-auth", entries[0].Detail["name"])
		assert.True(t, entry.Timestamp.Equal(entries[0].Timestamp))
	})
}

func TestAuditStore_List_NewestFirst(t *testing.T) {
	stores(t, func(t *testing.T, s AuditStore) {
		ctx := context.Background()
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		actions := []AuditAction{AuditRegistered, AuditTransitioned, AuditRemoved}
		for i, action := range actions {
			require.NoError(t, s.AppendAuditLog(ctx, &AuditEntry{
				AgentID:   "agent-1",
				Action:    action,
				Timestamp: base.Add(time.Duration(i) * time.Millisecond),
			}))
		}

		entries, err := s.ListAuditLog(ctx, AuditFilter{})
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, AuditRemoved, entries[0].Action)
		assert.Equal(t, AuditRegistered, entries[2].Action)
	})
}

func TestAuditStore_List_SameInstantKeepsAppendOrder(t *testing.T) {
	stores(t, func(t *testing.T, s AuditStore) {
		ctx := context.Background()
		at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		require.NoError(t, s.AppendAuditLog(ctx, &AuditEntry{AgentID: "a", Action: AuditTransitioned, Timestamp: at}))
		require.NoError(t, s.AppendAuditLog(ctx, &AuditEntry{AgentID: "a", Action: AuditRemoved, Timestamp: at}))

		entries, err := s.ListAuditLog(ctx, AuditFilter{})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, AuditRemoved, entries[0].Action)
	})
}

func TestAuditStore_List_Filters(t *testing.T) {
	stores(t, func(t *testing.T, s AuditStore) {
		ctx := context.Background()
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		seed := []AuditEntry{
			{AgentID: "a", Action: AuditRegistered, Timestamp: base},
			{AgentID: "b", Action: AuditRegistered, Timestamp: base.Add(10 * time.Minute)},
			{AgentID: "a", Action: AuditTransitioned, Reason: "orphaned", Timestamp: base.Add(20 * time.Minute)},
			{Action: AuditSweep, Timestamp: base.Add(20 * time.Minute)},
		}
		for i := range seed {
			require.NoError(t, s.AppendAuditLog(ctx, &seed[i]))
		}

		byAgent, err := s.ListAuditLog(ctx, AuditFilter{AgentID: ptr("a")})
		require.NoError(t, err)
		assert.Len(t, byAgent, 2)

		byAction, err := s.ListAuditLog(ctx, AuditFilter{Action: ptr(AuditRegistered)})
		require.NoError(t, err)
		assert.Len(t, byAction, 2)

		since := base.Add(15 * time.Minute)
		recent, err := s.ListAuditLog(ctx, AuditFilter{Since: &since})
		require.NoError(t, err)
		assert.Len(t, recent, 2)

		limited, err := s.ListAuditLog(ctx, AuditFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})
}

func TestAuditStore_List_Empty(t *testing.T) {
	stores(t, func(t *testing.T, s AuditStore) {
		entries, err := s.ListAuditLog(context.Background(), AuditFilter{})
		require.NoError(t, err)
		assert.NotNil(t, entries)
		assert.Empty(t, entries)
	})
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.AppendAuditLog(context.Background(), &AuditEntry{AgentID: "a", Action: AuditRegistered}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	entries, err := s.ListAuditLog(context.Background(), AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestNormalizeAuditLimit(t *testing.T) {
	assert.Equal(t, 100, normalizeAuditLimit(0))
	assert.Equal(t, 100, normalizeAuditLimit(-5))
	assert.Equal(t, 50, normalizeAuditLimit(50))
	assert.Equal(t, 1000, normalizeAuditLimit(5000))
}

func TestAuditAction_Valid(t *testing.T) {
	for _, a := range ValidAuditActions {
		assert.True(t, a.Valid(), a)
	}
	assert.False(t, AuditAction("deleted").Valid())
}

func TestMockStore_Closed(t *testing.T) {
	m := NewMockStore()
	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.AppendAuditLog(context.Background(), &AuditEntry{Action: AuditReset}), ErrClosed)
	_, err := m.ListAuditLog(context.Background(), AuditFilter{})
	assert.ErrorIs(t, err, ErrClosed)
}
