package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"logwarden/util/goroutine"
)

// migration is one forward-only schema change. Versions are consecutive
// integers starting at 1.
type migration struct {
	version int
	name    string
	up      func(*sql.Tx) error
}

const createSchemaMigrations = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	applied_at DATETIME NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0
)`

// schemaVersion returns the highest applied migration, or 0 for a fresh file.
func (s *SQLite) schemaVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	if err := s.WriteDB.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return int(v.Int64), nil
}

// migrate brings the schema up to the newest known version. A database
// written by a newer build is refused rather than modified.
func (s *SQLite) migrate(ctx context.Context) error {
	if _, err := s.WriteDB.ExecContext(ctx, createSchemaMigrations); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	steps := schemaMigrations()
	sort.Slice(steps, func(i, j int) bool { return steps[i].version < steps[j].version })
	latest := steps[len(steps)-1].version

	current, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}
	if current > latest {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, latest)
	}
	if current == latest {
		s.Logger.Debugw("Schema up to date", "version", current)
		return nil
	}

	for _, m := range steps {
		if m.version <= current {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}
	}
	return nil
}

func (s *SQLite) applyMigration(ctx context.Context, m migration) error {
	start := time.Now()
	err := s.WithTransaction(ctx, func(tx *sql.Tx) (err error) {
		defer goroutine.RecoverInto("migration-"+m.name, s.Logger, &err)
		if err := m.up(tx); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name, applied_at, duration_ms) VALUES (?, ?, ?, ?)`,
			m.version, m.name, time.Now().UTC(), time.Since(start).Milliseconds())
		return err
	})
	if err != nil {
		return err
	}
	s.Logger.Infow("Applied schema migration", "version", m.version, "name", m.name, "duration", time.Since(start))
	return nil
}

func execAll(tx *sql.Tx, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// schemaMigrations lists the logwarden schema history.
func schemaMigrations() []migration {
	return []migration{
		{
			version: 1,
			name:    "create_core_tables",
			up: func(tx *sql.Tx) error {
				return execAll(tx,
					`CREATE TABLE IF NOT EXISTS events (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						timestamp DATETIME NOT NULL,
						actor_id TEXT NOT NULL,
						action TEXT NOT NULL,
						resource TEXT NOT NULL,
						status TEXT NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp)`,
					`CREATE TABLE IF NOT EXISTS rules (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						name TEXT NOT NULL UNIQUE,
						description TEXT NOT NULL DEFAULT '',
						is_active INTEGER NOT NULL DEFAULT 1,
						match_type TEXT NOT NULL DEFAULT 'AND' CHECK (match_type IN ('AND', 'OR')),
						created_at DATETIME NOT NULL,
						updated_at DATETIME NOT NULL
					)`,
					`CREATE TABLE IF NOT EXISTS rule_conditions (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						rule_id INTEGER NOT NULL REFERENCES rules(id) ON DELETE CASCADE,
						target_field TEXT NOT NULL,
						operator TEXT NOT NULL,
						value TEXT NOT NULL,
						condition_order INTEGER NOT NULL DEFAULT 0
					)`,
					`CREATE INDEX IF NOT EXISTS idx_rule_conditions_rule ON rule_conditions(rule_id, condition_order)`,
					`CREATE TABLE IF NOT EXISTS alerts (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						event_id INTEGER REFERENCES events(id) ON DELETE CASCADE,
						rule_id INTEGER NOT NULL REFERENCES rules(id) ON DELETE CASCADE,
						timestamp DATETIME NOT NULL,
						description TEXT NOT NULL
					)`,
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_event_rule ON alerts(event_id, rule_id)`,
					`CREATE INDEX IF NOT EXISTS idx_alerts_timestamp ON alerts(timestamp)`,
					`CREATE TABLE IF NOT EXISTS anomalies (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						event_id INTEGER NOT NULL REFERENCES events(id) ON DELETE CASCADE,
						timestamp DATETIME NOT NULL,
						score REAL NOT NULL,
						details TEXT NOT NULL
					)`,
				)
			},
		},
		{
			version: 2,
			name:    "add_rule_threshold",
			up: func(tx *sql.Tx) error {
				return execAll(tx,
					`ALTER TABLE rules ADD COLUMN threshold INTEGER NOT NULL DEFAULT 0`,
				)
			},
		},
		{
			version: 3,
			name:    "create_ml_models",
			up: func(tx *sql.Tx) error {
				return execAll(tx,
					`CREATE TABLE IF NOT EXISTS ml_models (
						name TEXT PRIMARY KEY,
						model_data BLOB NOT NULL,
						columns TEXT NOT NULL,
						algorithm TEXT NOT NULL,
						training_samples INTEGER NOT NULL DEFAULT 0,
						trained_at DATETIME NOT NULL,
						updated_at DATETIME NOT NULL
					)`,
				)
			},
		},
	}
}
