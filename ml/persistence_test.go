package ml

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"logwarden/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileModelStore_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileModelStore(filepath.Join(dir, "models"), nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.LoadArtifact(ctx, "anomaly")
	assert.ErrorIs(t, err, core.ErrModelNotFound)

	trainedAt := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveArtifact(ctx, &core.ModelArtifact{
		Name:            "anomaly",
		Algorithm:       "isolation_forest",
		Data:            []byte{0xde, 0xad, 0xbe, 0xef},
		Columns:         []string{"hour_of_day", "day_of_week"},
		TrainingSamples: 12,
		TrainedAt:       trainedAt,
	}))

	got, err := store.LoadArtifact(ctx, "anomaly")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, got.Data)
	assert.Equal(t, []string{"hour_of_day", "day_of_week"}, got.Columns)
	assert.Equal(t, 12, got.TrainingSamples)
	assert.True(t, got.TrainedAt.Equal(trainedAt))

	entries, err := os.ReadDir(filepath.Join(dir, "models"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files are left behind")
	assert.Equal(t, "anomaly.model.gz", entries[0].Name())
}

func TestFileModelStore_RejectsBadNames(t *testing.T) {
	store, err := NewFileModelStore(t.TempDir(), nil)
	require.NoError(t, err)

	for _, name := range []string{"", "../escape", "a/b", ".."} {
		err := store.SaveArtifact(context.Background(), &core.ModelArtifact{Name: name, Data: []byte{1}})
		assert.ErrorIs(t, err, core.ErrPersistenceFailure, "name %q", name)
	}
}

func TestFileModelStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileModelStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.model.gz"), []byte("plain text"), 0600))

	_, err = store.LoadArtifact(context.Background(), "broken")
	assert.ErrorIs(t, err, core.ErrPersistenceFailure)
}

func TestFileModelStore_ManagerRoundTrip(t *testing.T) {
	store, err := NewFileModelStore(t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()
	m, _ := ExtractFeatures(outlierEvents(25))

	trained := NewModelManager("", IsolationForestConfig{}, store, nil)
	require.NoError(t, trained.Train(ctx, m))
	require.NoError(t, trained.Save(ctx))
	want, err := trained.Predict(m)
	require.NoError(t, err)

	loaded := NewModelManager("", IsolationForestConfig{}, store, nil)
	require.NoError(t, loaded.Load(ctx))
	got, err := loaded.Predict(m)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
