package storage

import (
	"context"
	"testing"
	"time"

	"logwarden/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnomalyStorage_ReplaceNotAppend(t *testing.T) {
	db := setupTestSQLite(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	events := seedEvents(t, db, now,
		[4]string{"a", "read", "r1", "ok"},
		[4]string{"b", "delete", "r2", "ok"},
		[4]string{"c", "write", "r3", "ok"},
	)
	store := NewSQLiteAnomalyStorage(db, nil)

	first := []core.Anomaly{
		{EventID: events[0].ID, Timestamp: now, Score: -0.05, Details: "first-a"},
		{EventID: events[1].ID, Timestamp: now, Score: -0.3, Details: "first-b"},
	}
	require.NoError(t, store.ReplaceAnomalies(ctx, first))

	got, err := store.ListAnomalies(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first-b", got[0].Details, "lowest score first")
	assert.Equal(t, "delete", got[0].Action)

	second := []core.Anomaly{{EventID: events[2].ID, Timestamp: now.Add(time.Hour), Score: -0.15, Details: "second"}}
	require.NoError(t, store.ReplaceAnomalies(ctx, second))

	got, err = store.ListAnomalies(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "second", got[0].Details)
	assert.Equal(t, "c", got[0].ActorID)
}

func TestAnomalyStorage_ReplaceWithEmptyClears(t *testing.T) {
	db := setupTestSQLite(t)
	ctx := context.Background()
	events := seedEvents(t, db, time.Now(), [4]string{"a", "b", "c", "d"})
	store := NewSQLiteAnomalyStorage(db, nil)

	require.NoError(t, store.ReplaceAnomalies(ctx, []core.Anomaly{{EventID: events[0].ID, Timestamp: time.Now(), Score: -0.2, Details: "x"}}))
	require.NoError(t, store.ReplaceAnomalies(ctx, nil))

	got, err := store.ListAnomalies(ctx)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestAnomalyStorage_FailedReplaceKeepsOldSet(t *testing.T) {
	db := setupTestSQLite(t)
	ctx := context.Background()
	events := seedEvents(t, db, time.Now(), [4]string{"a", "b", "c", "d"})
	store := NewSQLiteAnomalyStorage(db, nil)

	require.NoError(t, store.ReplaceAnomalies(ctx, []core.Anomaly{{EventID: events[0].ID, Timestamp: time.Now(), Score: -0.2, Details: "kept"}}))

	// The second anomaly points at a missing event and fails the foreign key.
	err := store.ReplaceAnomalies(ctx, []core.Anomaly{
		{EventID: events[0].ID, Timestamp: time.Now(), Score: -0.1, Details: "new"},
		{EventID: 9999, Timestamp: time.Now(), Score: -0.1, Details: "bad"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)

	got, err := store.ListAnomalies(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "kept", got[0].Details)
}
