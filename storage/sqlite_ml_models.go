package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"logwarden/core"

	"go.uber.org/zap"
)

// MLModelStorage keeps one artifact row per logical model name.
type MLModelStorage struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// NewMLModelStorage creates a new ML model storage
func NewMLModelStorage(db *SQLite, logger *zap.SugaredLogger) *MLModelStorage {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &MLModelStorage{db: db, logger: logger}
}

// SaveArtifact upserts the artifact row. A single statement keeps the model
// bytes and the column list consistent with each other.
func (mms *MLModelStorage) SaveArtifact(ctx context.Context, a *core.ModelArtifact) error {
	if a == nil || len(a.Data) == 0 {
		return fmt.Errorf("%w: model data cannot be empty", core.ErrPersistenceFailure)
	}
	columns, err := json.Marshal(a.Columns)
	if err != nil {
		return fmt.Errorf("%w: encode columns: %w", core.ErrPersistenceFailure, err)
	}
	trainedAt := a.TrainedAt
	if trainedAt.IsZero() {
		trainedAt = time.Now()
	}

	_, err = mms.db.WriteDB.ExecContext(ctx, `
		INSERT INTO ml_models (name, model_data, columns, algorithm, training_samples, trained_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			model_data = excluded.model_data,
			columns = excluded.columns,
			algorithm = excluded.algorithm,
			training_samples = excluded.training_samples,
			trained_at = excluded.trained_at,
			updated_at = excluded.updated_at`,
		a.Name, a.Data, string(columns), a.Algorithm, a.TrainingSamples, trainedAt.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%w: save model %s: %w", core.ErrPersistenceFailure, a.Name, err)
	}
	mms.logger.Infow("Saved model artifact", "name", a.Name, "bytes", len(a.Data), "columns", len(a.Columns))
	return nil
}

// LoadArtifact returns the artifact stored under name, or core.ErrModelNotFound.
func (mms *MLModelStorage) LoadArtifact(ctx context.Context, name string) (*core.ModelArtifact, error) {
	a := &core.ModelArtifact{Name: name}
	var columns string
	err := mms.db.ReadDB.QueryRowContext(ctx, `
		SELECT model_data, columns, algorithm, training_samples, trained_at
		FROM ml_models WHERE name = ?`, name).
		Scan(&a.Data, &columns, &a.Algorithm, &a.TrainingSamples, &a.TrainedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", core.ErrModelNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load model %s: %w", core.ErrPersistenceFailure, name, err)
	}
	if err := json.Unmarshal([]byte(columns), &a.Columns); err != nil {
		return nil, fmt.Errorf("%w: decode columns for %s: %w", core.ErrPersistenceFailure, name, err)
	}
	return a, nil
}

// DeleteArtifact removes the artifact stored under name. Missing is not an error.
func (mms *MLModelStorage) DeleteArtifact(ctx context.Context, name string) error {
	if _, err := mms.db.WriteDB.ExecContext(ctx, `DELETE FROM ml_models WHERE name = ?`, name); err != nil {
		return fmt.Errorf("%w: delete model %s: %w", core.ErrPersistenceFailure, name, err)
	}
	return nil
}
