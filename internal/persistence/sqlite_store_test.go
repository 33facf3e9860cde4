package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history", "cass.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_RecordAndList(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	first := &QueryRecord{
		Question:  "How many customers are there?",
		Answer:    "```sql\nSELECT COUNT(*) FROM customers\n```",
		SQL:       "SELECT COUNT(*) FROM customers",
		RowCount:  1,
		Attempts:  1,
		Duration:  1500 * time.Millisecond,
		CreatedAt: base,
	}
	second := &QueryRecord{
		Question:  "List orders",
		SQL:       "SELECT * FROM ordrs",
		Error:     `relation "ordrs" does not exist`,
		Attempts:  2,
		Streamed:  true,
		CreatedAt: base.Add(time.Minute),
	}
	require.NoError(t, store.RecordQuery(ctx, first))
	require.NoError(t, store.RecordQuery(ctx, second))
	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)

	all, err := store.ListQueries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
	assert.True(t, all[0].Streamed)
	assert.Equal(t, `relation "ordrs" does not exist`, all[0].Error)
	assert.Equal(t, first.SQL, all[1].SQL)
	assert.EqualValues(t, 1500, all[1].DurationMS)
	assert.Equal(t, 1500*time.Millisecond, all[1].Duration)
	assert.True(t, base.Equal(all[1].CreatedAt))

	limited, err := store.ListQueries(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, second.ID, limited[0].ID)
}

func TestSQLiteStore_Prune(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.RecordQuery(ctx, &QueryRecord{Question: "old", CreatedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, store.RecordQuery(ctx, &QueryRecord{Question: "new", CreatedAt: now}))

	n, err := store.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	left, err := store.ListQueries(ctx, 0)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "new", left[0].Question)
}

func TestSQLiteStore_ReopenKeepsHistory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cass.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.RecordQuery(context.Background(), &QueryRecord{Question: "q"}))
	require.NoError(t, store.Close())

	store, err = NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	all, err := store.ListQueries(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	_, err := NewSQLiteStore("  ")
	assert.Error(t, err)
}

func TestMigrationVersion(t *testing.T) {
	assert.Equal(t, 1, migrationVersion("001_init.sql"))
	assert.Equal(t, 12, migrationVersion("12"))
	assert.Equal(t, 0, migrationVersion("init.sql"))
}
