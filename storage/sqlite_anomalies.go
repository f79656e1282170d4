package storage

import (
	"context"
	"database/sql"

	"logwarden/core"

	"go.uber.org/zap"
)

// SQLiteAnomalyStorage persists the latest anomaly set.
type SQLiteAnomalyStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteAnomalyStorage creates a new SQLite anomaly storage handler
func NewSQLiteAnomalyStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteAnomalyStorage {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SQLiteAnomalyStorage{sqlite: sqlite, logger: logger}
}

// ReplaceAnomalies deletes every stored anomaly and inserts anomalies in one
// transaction. Readers see either the old set or the new one. IDs are set on
// the passed slice.
func (sas *SQLiteAnomalyStorage) ReplaceAnomalies(ctx context.Context, anomalies []core.Anomaly) error {
	err := sas.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM anomalies`); err != nil {
			return unavailable("clear anomalies", err)
		}
		if len(anomalies) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO anomalies (event_id, timestamp, score, details)
			VALUES (?, ?, ?, ?)`)
		if err != nil {
			return unavailable("prepare anomaly insert", err)
		}
		defer stmt.Close()

		for i := range anomalies {
			a := &anomalies[i]
			res, err := stmt.ExecContext(ctx, a.EventID, a.Timestamp.UTC(), a.Score, a.Details)
			if err != nil {
				return unavailable("insert anomaly", err)
			}
			if a.ID, err = res.LastInsertId(); err != nil {
				return unavailable("insert anomaly", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	sas.logger.Infow("Replaced anomaly set", "count", len(anomalies))
	return nil
}

// ListAnomalies returns anomalies joined with their events, most anomalous
// (lowest score) first.
func (sas *SQLiteAnomalyStorage) ListAnomalies(ctx context.Context) ([]core.Anomaly, error) {
	rows, err := sas.sqlite.ReadDB.QueryContext(ctx, `
		SELECT a.id, a.event_id, a.timestamp, a.score, a.details,
		       COALESCE(e.actor_id, ''), COALESCE(e.action, ''), COALESCE(e.resource, '')
		FROM anomalies a
		LEFT JOIN events e ON e.id = a.event_id
		ORDER BY a.score ASC, a.id ASC`)
	if err != nil {
		return nil, unavailable("list anomalies", err)
	}
	defer rows.Close()

	anomalies := make([]core.Anomaly, 0)
	for rows.Next() {
		var a core.Anomaly
		if err := rows.Scan(&a.ID, &a.EventID, &a.Timestamp, &a.Score, &a.Details,
			&a.ActorID, &a.Action, &a.Resource); err != nil {
			return nil, unavailable("scan anomaly", err)
		}
		anomalies = append(anomalies, a)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list anomalies", err)
	}
	return anomalies, nil
}
