package service

import (
	"context"

	"logwarden/core"
	"logwarden/detect"
	"logwarden/storage"
)

// alertStoreAdapter bridges the SQLite alert storage, whose transaction
// callback takes the concrete *storage.AlertTx, to detect.AlertStore.
type alertStoreAdapter struct {
	underlying *storage.SQLiteAlertStorage
}

// NewAlertStore adapts SQLite alert storage for the rule engine.
func NewAlertStore(s *storage.SQLiteAlertStorage) detect.AlertStore {
	return &alertStoreAdapter{underlying: s}
}

func (a *alertStoreAdapter) RunAlertPass(ctx context.Context, fn func(detect.AlertTx) error) error {
	return a.underlying.WithAlertTx(ctx, func(tx *storage.AlertTx) error {
		return fn(tx)
	})
}

func (a *alertStoreAdapter) ListAlerts(ctx context.Context) ([]core.Alert, error) {
	return a.underlying.ListAlerts(ctx)
}
