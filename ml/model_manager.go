package ml

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"logwarden/core"
	"logwarden/metrics"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// ErrModelNotFound is returned by Load when no artifact has been saved yet.
var ErrModelNotFound = core.ErrModelNotFound

// DefaultModelName is the logical name the anomaly model is stored under.
const DefaultModelName = "access_anomaly"

// ModelStore persists model artifacts. LoadArtifact returns an error
// wrapping core.ErrModelNotFound when nothing is stored under name.
type ModelStore interface {
	SaveArtifact(ctx context.Context, artifact *core.ModelArtifact) error
	LoadArtifact(ctx context.Context, name string) (*core.ModelArtifact, error)
}

// Prediction is the model's verdict on one row.
type Prediction struct {
	Outlier bool
	Score   float64
}

// ModelState is everything needed to reproduce predictions after a restart.
type ModelState struct {
	Columns []string         `msgpack:"columns"`
	Forest  *IsolationForest `msgpack:"forest"`
}

// ModelManager owns the trained forest and the column order it expects.
type ModelManager struct {
	mu        sync.RWMutex
	name      string
	config    IsolationForestConfig
	store     ModelStore
	forest    *IsolationForest
	columns   []string
	samples   int
	trainedAt time.Time
	logger    *zap.SugaredLogger
}

// NewModelManager creates a manager for the model stored under name.
func NewModelManager(name string, config IsolationForestConfig, store ModelStore, logger *zap.SugaredLogger) *ModelManager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if name == "" {
		name = DefaultModelName
	}
	return &ModelManager{name: name, config: config, store: store, logger: logger}
}

// Columns returns the trained column order, or nil when no model is held.
func (mm *ModelManager) Columns() []string {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return append([]string(nil), mm.columns...)
}

// Ready reports whether the manager can predict.
func (mm *ModelManager) Ready() bool {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.forest != nil && len(mm.columns) > 0
}

// Train fits a new forest on m. An empty matrix is logged and ignored. A
// cancelled training leaves the previous model in place.
func (mm *ModelManager) Train(ctx context.Context, m *Matrix) error {
	if m.Empty() {
		mm.logger.Warnw("No training data, skipping model training", "model", mm.name)
		return nil
	}

	start := time.Now()
	forest := NewIsolationForest(mm.config)
	if err := forest.Fit(ctx, m.Rows); err != nil {
		return fmt.Errorf("train %s: %w", mm.name, err)
	}

	mm.mu.Lock()
	mm.forest = forest
	mm.columns = append([]string(nil), m.Columns...)
	mm.samples = len(m.Rows)
	mm.trainedAt = time.Now()
	mm.mu.Unlock()

	metrics.ModelTrainings.Inc()
	mm.logger.Infow("Trained anomaly model",
		"model", mm.name,
		"samples", len(m.Rows),
		"features", len(m.Columns),
		"trees", len(forest.Trees),
		"duration", time.Since(start))
	return nil
}

// Predict scores every row of m after aligning it to the trained columns.
// Returns core.ErrModelUnavailable when no model has been trained or loaded.
func (mm *ModelManager) Predict(m *Matrix) ([]Prediction, error) {
	mm.mu.RLock()
	forest, columns := mm.forest, mm.columns
	mm.mu.RUnlock()

	if forest == nil || len(columns) == 0 {
		return nil, core.ErrModelUnavailable
	}
	if m.Empty() {
		return []Prediction{}, nil
	}

	aligned := Reindex(m, columns)
	scores, err := forest.DecisionFunction(aligned.Rows)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrModelUnavailable, err)
	}
	preds := make([]Prediction, len(scores))
	for i, s := range scores {
		preds[i] = Prediction{Outlier: s < 0, Score: s}
	}
	return preds, nil
}

// Save writes the current model and its columns as one artifact.
func (mm *ModelManager) Save(ctx context.Context) error {
	mm.mu.RLock()
	state := ModelState{Columns: mm.columns, Forest: mm.forest}
	samples, trainedAt := mm.samples, mm.trainedAt
	mm.mu.RUnlock()

	if state.Forest == nil {
		return fmt.Errorf("%w: nothing to save for %s", core.ErrPersistenceFailure, mm.name)
	}
	data, err := msgpack.Marshal(&state)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", core.ErrPersistenceFailure, mm.name, err)
	}
	err = mm.store.SaveArtifact(ctx, &core.ModelArtifact{
		Name:            mm.name,
		Algorithm:       state.Forest.Name(),
		Data:            data,
		Columns:         state.Columns,
		TrainingSamples: samples,
		TrainedAt:       trainedAt,
	})
	if err != nil {
		if errors.Is(err, core.ErrPersistenceFailure) {
			return err
		}
		return fmt.Errorf("%w: %w", core.ErrPersistenceFailure, err)
	}
	return nil
}

// Load replaces the in-memory model with the stored artifact. A missing
// artifact returns ErrModelNotFound and leaves the manager unchanged.
func (mm *ModelManager) Load(ctx context.Context) error {
	artifact, err := mm.store.LoadArtifact(ctx, mm.name)
	if err != nil {
		if errors.Is(err, core.ErrModelNotFound) || errors.Is(err, core.ErrPersistenceFailure) {
			return err
		}
		return fmt.Errorf("%w: %w", core.ErrPersistenceFailure, err)
	}

	var state ModelState
	if err := msgpack.Unmarshal(artifact.Data, &state); err != nil {
		return fmt.Errorf("%w: decode %s: %w", core.ErrPersistenceFailure, mm.name, err)
	}
	if state.Forest == nil || !state.Forest.Trained() || len(state.Columns) == 0 {
		return fmt.Errorf("%w: artifact %s holds no trained model", core.ErrPersistenceFailure, mm.name)
	}
	if state.Forest.NumFeatures != len(state.Columns) {
		return fmt.Errorf("%w: artifact %s has %d columns for %d features",
			core.ErrPersistenceFailure, mm.name, len(state.Columns), state.Forest.NumFeatures)
	}

	mm.mu.Lock()
	mm.forest = state.Forest
	mm.columns = state.Columns
	mm.samples = artifact.TrainingSamples
	mm.trainedAt = artifact.TrainedAt
	mm.mu.Unlock()

	mm.logger.Infow("Loaded anomaly model", "model", mm.name, "features", len(state.Columns), "trained_at", artifact.TrainedAt)
	return nil
}
