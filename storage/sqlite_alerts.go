package storage

import (
	"context"
	"database/sql"
	"strings"

	"logwarden/core"

	"go.uber.org/zap"
)

// SQLiteAlertStorage persists rule alerts.
type SQLiteAlertStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteAlertStorage creates a new SQLite alert storage handler
func NewSQLiteAlertStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteAlertStorage {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SQLiteAlertStorage{sqlite: sqlite, logger: logger}
}

// AlertTx is the view of one rule pass's write transaction.
type AlertTx struct {
	tx *sql.Tx
}

// WithAlertTx runs fn inside one write transaction. Any error from fn rolls
// back every alert written through the AlertTx.
func (sas *SQLiteAlertStorage) WithAlertTx(ctx context.Context, fn func(*AlertTx) error) error {
	return sas.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		return fn(&AlertTx{tx: tx})
	})
}

// MatchEvents returns the events satisfying where, ordered by id. where must
// be built from fixed column names with every value passed through args.
// An empty where matches nothing.
func (at *AlertTx) MatchEvents(ctx context.Context, where string, args []any) ([]core.Event, error) {
	if strings.TrimSpace(where) == "" {
		return nil, nil
	}
	rows, err := at.tx.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, unavailable("match events", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, unavailable("match events", err)
	}
	return events, nil
}

// AlertExists reports whether the (event, rule) pair already has an alert.
func (at *AlertTx) AlertExists(ctx context.Context, eventID, ruleID int64) (bool, error) {
	var one int
	err := at.tx.QueryRowContext(ctx,
		`SELECT 1 FROM alerts WHERE event_id = ? AND rule_id = ? LIMIT 1`, eventID, ruleID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, unavailable("check alert", err)
	}
	return true, nil
}

// AggregateAlertExists reports whether rule already has an event-less alert
// for actor. LIKE narrows the scan, instr keeps the prefix case-sensitive and
// each candidate is then parsed so a longer look-alike actor never matches.
func (at *AlertTx) AggregateAlertExists(ctx context.Context, ruleID int64, actor string) (bool, error) {
	subject := core.AggregateSubjectPrefix(actor)
	rows, err := at.tx.QueryContext(ctx, `
		SELECT description FROM alerts
		WHERE rule_id = ? AND event_id IS NULL
		  AND description LIKE ? ESCAPE '\'
		  AND instr(description, ?) = 1`,
		ruleID, EscapeLike(subject)+"%", subject)
	if err != nil {
		return false, unavailable("check aggregate alert", err)
	}
	defer rows.Close()

	for rows.Next() {
		var desc string
		if err := rows.Scan(&desc); err != nil {
			return false, unavailable("scan aggregate alert", err)
		}
		if core.IsAggregateDescriptionFor(desc, actor) {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, unavailable("check aggregate alert", err)
	}
	return false, nil
}

// InsertAlert writes an alert and returns its ID. Timestamps are stored in UTC.
func (at *AlertTx) InsertAlert(ctx context.Context, a *core.Alert) (int64, error) {
	var eventID any
	if a.EventID != nil {
		eventID = *a.EventID
	}
	res, err := at.tx.ExecContext(ctx, `
		INSERT INTO alerts (event_id, rule_id, timestamp, description)
		VALUES (?, ?, ?, ?)`,
		eventID, a.RuleID, a.Timestamp.UTC(), a.Description)
	if err != nil {
		return 0, unavailable("insert alert", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, unavailable("insert alert", err)
	}
	a.ID = id
	return id, nil
}

// ListAlerts returns every alert joined with its rule and, when present, its
// event, newest first.
func (sas *SQLiteAlertStorage) ListAlerts(ctx context.Context) ([]core.Alert, error) {
	rows, err := sas.sqlite.ReadDB.QueryContext(ctx, `
		SELECT a.id, a.event_id, a.rule_id, r.name, a.timestamp, a.description,
		       COALESCE(e.actor_id, ''), COALESCE(e.action, ''), COALESCE(e.resource, ''), COALESCE(e.status, '')
		FROM alerts a
		JOIN rules r ON r.id = a.rule_id
		LEFT JOIN events e ON e.id = a.event_id
		ORDER BY a.timestamp DESC, a.id DESC`)
	if err != nil {
		return nil, unavailable("list alerts", err)
	}
	defer rows.Close()

	alerts := make([]core.Alert, 0)
	for rows.Next() {
		var a core.Alert
		var eventID sql.NullInt64
		if err := rows.Scan(&a.ID, &eventID, &a.RuleID, &a.RuleName, &a.Timestamp, &a.Description,
			&a.ActorID, &a.Action, &a.Resource, &a.Status); err != nil {
			return nil, unavailable("scan alert", err)
		}
		if eventID.Valid {
			id := eventID.Int64
			a.EventID = &id
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list alerts", err)
	}
	return alerts, nil
}

// EscapeLike escapes the LIKE metacharacters in s using backslash.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
