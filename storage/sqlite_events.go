package storage

import (
	"context"
	"database/sql"
	"fmt"

	"logwarden/core"
)

const eventColumns = `id, timestamp, actor_id, action, resource, status`

// SQLiteEventStorage reads and appends access events.
type SQLiteEventStorage struct {
	sqlite *SQLite
}

// NewSQLiteEventStorage creates a new SQLite event storage handler
func NewSQLiteEventStorage(sqlite *SQLite) *SQLiteEventStorage {
	return &SQLiteEventStorage{sqlite: sqlite}
}

// ListEvents returns every event ascending by timestamp, ties broken by id.
func (ses *SQLiteEventStorage) ListEvents(ctx context.Context) ([]core.Event, error) {
	rows, err := ses.sqlite.ReadDB.QueryContext(ctx, `SELECT `+eventColumns+` FROM events ORDER BY timestamp ASC, id ASC`)
	if err != nil {
		return nil, unavailable("list events", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, unavailable("list events", err)
	}
	return events, nil
}

// InsertEvents appends events in one transaction and sets their IDs.
// Timestamps are stored in UTC.
func (ses *SQLiteEventStorage) InsertEvents(ctx context.Context, events []core.Event) error {
	if len(events) == 0 {
		return nil
	}
	return ses.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO events (timestamp, actor_id, action, resource, status)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return unavailable("prepare event insert", err)
		}
		defer stmt.Close()

		for i := range events {
			e := &events[i]
			res, err := stmt.ExecContext(ctx, e.Timestamp.UTC(), e.ActorID, e.Action, e.Resource, e.Status)
			if err != nil {
				return unavailable("insert event", err)
			}
			if e.ID, err = res.LastInsertId(); err != nil {
				return unavailable("insert event", err)
			}
		}
		return nil
	})
}

// CountEvents returns the number of stored events.
func (ses *SQLiteEventStorage) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := ses.sqlite.ReadDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, unavailable("count events", err)
	}
	return n, nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanEvents(rows rowScanner) ([]core.Event, error) {
	var events []core.Event
	for rows.Next() {
		var e core.Event
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.ActorID, &e.Action, &e.Resource, &e.Status); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
