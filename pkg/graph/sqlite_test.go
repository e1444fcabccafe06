package graph

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

	store, err := NewSQLiteStore(SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "graph.db"),
	})
	require.NoError(t, err)
	require.NoError(t, store.Connect(context.Background()))
	t.Cleanup(func() { store.Close(context.Background()) })

	return store
}

func TestSQLiteStore_ConnectIdempotent(t *testing.T) {
	store := setupTestStore(t)

	require.NoError(t, store.Connect(context.Background()))
	assert.True(t, store.IsConnected())
}

func TestSQLiteStore_CloseIdempotent(t *testing.T) {
	store := setupTestStore(t)

	require.NoError(t, store.Close(context.Background()))
	require.NoError(t, store.Close(context.Background()))
	assert.False(t, store.IsConnected())
}

func TestSQLiteStore_QueryBeforeConnect(t *testing.T) {
	store, err := NewSQLiteStore(SQLiteConfig{Path: filepath.Join(t.TempDir(), "g.db")})
	require.NoError(t, err)

	_, err = store.Query(context.Background(), QuerySessionByID, map[string]any{
		"id": "s1", "max_date": MaxDate,
	})
	assert.Error(t, err)
}

func TestEnsureSession_Idempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, EnsureSession(ctx, store, "s1"))
	require.NoError(t, EnsureSession(ctx, store, "s1"))

	rows, err := store.Query(ctx, QuerySessionByID, map[string]any{
		"id": "s1", "max_date": MaxDate,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "active", rows[0]["status"])
}

func TestAppendTurn_BuildsChain(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, EnsureSession(ctx, store, "s1"))

	first, err := AppendTurn(ctx, store, "s1", "user", "hello")
	require.NoError(t, err)
	second, err := AppendTurn(ctx, store, "s1", "assistant", "hi there")
	require.NoError(t, err)
	third, err := AppendTurn(ctx, store, "s1", "user", "how are you")
	require.NoError(t, err)

	rows, err := store.Query(ctx, QueryTurnChain, map[string]any{
		"session_id": "s1",
		"max_date":   MaxDate,
		"limit":      20,
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// Chain query returns newest first.
	assert.Equal(t, third, rows[0]["id"])
	assert.Equal(t, second, rows[1]["id"])
	assert.Equal(t, first, rows[2]["id"])
	assert.Equal(t, "how are you", rows[0]["content"])
}

func TestAppendTurn_ChainLimit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, EnsureSession(ctx, store, "s1"))
	for i := 0; i < 5; i++ {
		_, err := AppendTurn(ctx, store, "s1", "user", "msg")
		require.NoError(t, err)
	}

	rows, err := store.Query(ctx, QueryTurnChain, map[string]any{
		"session_id": "s1",
		"max_date":   MaxDate,
		"limit":      3,
	})
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestQueryTurnsByTime_Fallback(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// Insert unlinked turns directly: no chain exists.
	now := time.Now().UTC()
	for i, content := range []string{"a", "b"} {
		_, err := store.Query(ctx, QueryInsertTurn, map[string]any{
			"id":         content,
			"session_id": "s1",
			"role":       "user",
			"content":    content,
			"next_id":    "",
			"created_at": now.Add(time.Duration(i) * time.Second),
			"vt_start":   now,
			"vt_end":     MaxDate,
			"tt_start":   now,
			"tt_end":     MaxDate,
		})
		require.NoError(t, err)
	}

	rows, err := store.Query(ctx, QueryTurnsByTime, map[string]any{
		"session_id": "s1",
		"max_date":   MaxDate,
		"limit":      20,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "b", rows[0]["content"]) // newest first
}

func TestRecordThought(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, EnsureSession(ctx, store, "s1"))
	turnID, err := AppendTurn(ctx, store, "s1", "assistant", "answer")
	require.NoError(t, err)

	require.NoError(t, RecordThought(ctx, store, "s1", turnID, "considered the options"))

	rows, err := store.Query(ctx, `SELECT content FROM thoughts WHERE turn_id = :turn_id`, map[string]any{
		"turn_id": turnID,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "considered the options", rows[0]["content"])
}

func TestMaintenance_CloseStaleSessions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, EnsureSession(ctx, store, "fresh"))

	// A stale session: updated_at far in the past.
	old := time.Now().UTC().Add(-90 * 24 * time.Hour)
	_, err := store.Query(ctx, QueryInsertSession, map[string]any{
		"id":         "stale",
		"status":     "active",
		"created_at": old,
		"updated_at": old,
		"vt_start":   old,
		"vt_end":     MaxDate,
		"tt_start":   old,
		"tt_end":     MaxDate,
	})
	require.NoError(t, err)

	m, err := NewMaintenance(MaintenanceConfig{Store: store})
	require.NoError(t, err)
	require.NoError(t, m.CloseStaleSessions(ctx))

	rows, err := store.Query(ctx, QuerySessionByID, map[string]any{
		"id": "stale", "max_date": MaxDate,
	})
	require.NoError(t, err)
	assert.Empty(t, rows, "stale session should no longer be current")

	rows, err = store.Query(ctx, QuerySessionByID, map[string]any{
		"id": "fresh", "max_date": MaxDate,
	})
	require.NoError(t, err)
	assert.Len(t, rows, 1, "fresh session stays current")
}

func TestMaintenance_InvalidSchedule(t *testing.T) {
	store := setupTestStore(t)

	m, err := NewMaintenance(MaintenanceConfig{Store: store, Schedule: "not a schedule"})
	require.NoError(t, err)
	assert.Error(t, m.Start())
}
