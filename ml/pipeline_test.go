package ml

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"logwarden/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticEvents struct {
	events []core.Event
	err    error
}

func (s *staticEvents) ListEvents(context.Context) ([]core.Event, error) {
	return s.events, s.err
}

type memAnomalyStore struct {
	mu      sync.Mutex
	current []core.Anomaly
	nextID  int64
	err     error
}

func (s *memAnomalyStore) ReplaceAnomalies(_ context.Context, anomalies []core.Anomaly) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.current = nil
	for _, a := range anomalies {
		s.nextID++
		a.ID = s.nextID
		s.current = append(s.current, a)
	}
	return nil
}

func (s *memAnomalyStore) ListAnomalies(context.Context) ([]core.Anomaly, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]core.Anomaly{}, s.current...), nil
}

func newTestPipeline(events *staticEvents, models ModelStore, anomalies *memAnomalyStore) *Pipeline {
	p := NewPipeline(
		NewFeatureExtractor(events, nil),
		NewModelManager("", IsolationForestConfig{}, models, nil),
		anomalies,
		nil,
	)
	p.SetClock(func() time.Time { return time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC) })
	return p
}

func TestPipeline_RunTrainsSavesAndDetects(t *testing.T) {
	store := newMemModelStore()
	anomalies := &memAnomalyStore{}
	p := newTestPipeline(&staticEvents{events: outlierEvents(40)}, store, anomalies)

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunResult{Events: 41, Anomalies: 1, Trained: true}, res)
	assert.Equal(t, 1, store.saves)

	got, err := p.GetAnomalies(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(41), got[0].EventID)
	assert.Equal(t, "Anomaly detected for user 'mallory' performing action 'delete' on resource 'payroll-db'", got[0].Details)
	assert.True(t, got[0].Timestamp.Equal(time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)))
	assert.Less(t, got[0].Score, 0.0)
}

func TestPipeline_ReplaceNotAppend(t *testing.T) {
	store := newMemModelStore()
	anomalies := &memAnomalyStore{}
	p := newTestPipeline(&staticEvents{events: outlierEvents(40)}, store, anomalies)

	first, err := p.Run(context.Background())
	require.NoError(t, err)
	second, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, second.Trained, "second run reuses the stored model")
	assert.Equal(t, 1, store.saves)

	got, err := p.GetAnomalies(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, first.Anomalies)
	assert.Len(t, got, second.Anomalies)
}

func TestPipeline_NoEventsSkips(t *testing.T) {
	store := newMemModelStore()
	anomalies := &memAnomalyStore{current: []core.Anomaly{{ID: 9}}}
	p := newTestPipeline(&staticEvents{}, store, anomalies)

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, store.saves)
	assert.Len(t, anomalies.current, 1, "skipped runs leave the anomaly set alone")
}

func TestPipeline_EventSourceError(t *testing.T) {
	anomalies := &memAnomalyStore{}
	p := newTestPipeline(&staticEvents{err: core.ErrStoreUnavailable}, newMemModelStore(), anomalies)

	_, err := p.Run(context.Background())
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
}

func TestPipeline_SaveFailureAbortsRun(t *testing.T) {
	store := newMemModelStore()
	store.saveErr = errors.New("read-only filesystem")
	anomalies := &memAnomalyStore{}
	p := newTestPipeline(&staticEvents{events: outlierEvents(10)}, store, anomalies)

	_, err := p.Run(context.Background())
	assert.ErrorIs(t, err, core.ErrPersistenceFailure)
	assert.Empty(t, anomalies.current)
}

func TestPipeline_AnomalyStoreError(t *testing.T) {
	anomalies := &memAnomalyStore{err: core.ErrStoreUnavailable}
	p := newTestPipeline(&staticEvents{events: outlierEvents(10)}, newMemModelStore(), anomalies)

	_, err := p.Run(context.Background())
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)

	got, err := p.GetAnomalies(context.Background())
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
	assert.Nil(t, got)
}

func TestPipeline_Retrain(t *testing.T) {
	store := newMemModelStore()
	p := newTestPipeline(&staticEvents{events: outlierEvents(10)}, store, &memAnomalyStore{})

	n, err := p.Retrain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, 1, store.saves)
}

func TestPipeline_RetrainWithoutEventsKeepsModel(t *testing.T) {
	store := newMemModelStore()
	events := &staticEvents{events: outlierEvents(10)}
	p := newTestPipeline(events, store, &memAnomalyStore{})
	_, err := p.Retrain(context.Background())
	require.NoError(t, err)

	events.events = nil
	n, err := p.Retrain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, store.saves, "no save without training data")
	assert.True(t, p.models.Ready(), "previous model is kept")
}
