package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"logwarden/core"

	"go.uber.org/zap"
)

// CacheInvalidator is notified when a rule changes so compiled filters can be
// evicted.
type CacheInvalidator interface {
	InvalidateCache(ruleID int64)
}

// SQLiteRuleStorage handles rule persistence in SQLite
type SQLiteRuleStorage struct {
	sqlite           *SQLite
	logger           *zap.SugaredLogger
	cacheInvalidator CacheInvalidator
}

// NewSQLiteRuleStorage creates a new SQLite rule storage handler
func NewSQLiteRuleStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteRuleStorage {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SQLiteRuleStorage{sqlite: sqlite, logger: logger}
}

// SetCacheInvalidator sets the cache invalidator for this storage.
//
// Example:
//
//	rules := NewSQLiteRuleStorage(db, logger)
//	engine := detect.NewEngine(...)
//	rules.SetCacheInvalidator(engine)
func (srs *SQLiteRuleStorage) SetCacheInvalidator(invalidator CacheInvalidator) {
	srs.cacheInvalidator = invalidator
}

const ruleColumns = `id, name, description, is_active, match_type, threshold, created_at, updated_at`

// ListActiveRules returns active rules with their conditions in order.
func (srs *SQLiteRuleStorage) ListActiveRules(ctx context.Context) ([]core.Rule, error) {
	return srs.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules WHERE is_active = 1 ORDER BY id`)
}

// ListRules returns every rule, active or not.
func (srs *SQLiteRuleStorage) ListRules(ctx context.Context) ([]core.Rule, error) {
	return srs.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules ORDER BY id`)
}

// GetRule retrieves a rule by ID.
func (srs *SQLiteRuleStorage) GetRule(ctx context.Context, id int64) (*core.Rule, error) {
	rules, err := srs.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, ErrRuleNotFound
	}
	return &rules[0], nil
}

// CreateRule inserts a rule and its conditions, and sets rule.ID.
func (srs *SQLiteRuleStorage) CreateRule(ctx context.Context, rule *core.Rule) error {
	now := time.Now().UTC()
	err := srs.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO rules (name, description, is_active, match_type, threshold, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rule.Name, rule.Description, rule.Active, string(rule.MatchType), rule.Threshold, now, now)
		if err != nil {
			return classifyRuleWriteError(rule.Name, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return unavailable("create rule", err)
		}
		if err := insertConditions(ctx, tx, id, rule.Conditions); err != nil {
			return err
		}
		rule.ID = id
		return nil
	})
	if err != nil {
		return err
	}
	rule.CreatedAt, rule.UpdatedAt = now, now
	srs.logger.Infow("Created rule", "rule_id", rule.ID, "name", rule.Name)
	return nil
}

// UpdateRule replaces a rule's fields and conditions.
func (srs *SQLiteRuleStorage) UpdateRule(ctx context.Context, id int64, rule *core.Rule) error {
	now := time.Now().UTC()
	err := srs.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE rules SET name = ?, description = ?, is_active = ?, match_type = ?, threshold = ?, updated_at = ?
			WHERE id = ?`,
			rule.Name, rule.Description, rule.Active, string(rule.MatchType), rule.Threshold, now, id)
		if err != nil {
			return classifyRuleWriteError(rule.Name, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrRuleNotFound
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM rule_conditions WHERE rule_id = ?`, id); err != nil {
			return unavailable("replace rule conditions", err)
		}
		return insertConditions(ctx, tx, id, rule.Conditions)
	})
	if err != nil {
		return err
	}
	rule.ID, rule.UpdatedAt = id, now
	srs.invalidate(id)
	srs.logger.Infow("Updated rule", "rule_id", id)
	return nil
}

// SetRuleActive toggles a rule without touching its conditions.
func (srs *SQLiteRuleStorage) SetRuleActive(ctx context.Context, id int64, active bool) error {
	res, err := srs.sqlite.WriteDB.ExecContext(ctx,
		`UPDATE rules SET is_active = ?, updated_at = ? WHERE id = ?`, active, time.Now().UTC(), id)
	if err != nil {
		return unavailable("set rule active", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRuleNotFound
	}
	srs.invalidate(id)
	return nil
}

// DeleteRule deletes a rule. Its conditions and alerts cascade.
func (srs *SQLiteRuleStorage) DeleteRule(ctx context.Context, id int64) error {
	res, err := srs.sqlite.WriteDB.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return unavailable("delete rule", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRuleNotFound
	}
	srs.invalidate(id)
	srs.logger.Infow("Deleted rule", "rule_id", id)
	return nil
}

func (srs *SQLiteRuleStorage) invalidate(id int64) {
	if srs.cacheInvalidator != nil {
		srs.cacheInvalidator.InvalidateCache(id)
	}
}

func insertConditions(ctx context.Context, tx *sql.Tx, ruleID int64, conds []core.Condition) error {
	for i, c := range conds {
		order := c.Order
		if order == 0 {
			order = i
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rule_conditions (rule_id, target_field, operator, value, condition_order)
			VALUES (?, ?, ?, ?, ?)`,
			ruleID, string(c.Field), string(c.Operator), c.Value, order); err != nil {
			return unavailable("insert rule condition", err)
		}
	}
	return nil
}

func classifyRuleWriteError(name string, err error) error {
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, name)
	}
	return unavailable("write rule", err)
}

// queryRules loads rules and attaches their conditions. Conditions are
// returned as stored, including ones outside the allow-list; the matcher
// decides what to do with those.
func (srs *SQLiteRuleStorage) queryRules(ctx context.Context, query string, args ...any) ([]core.Rule, error) {
	rows, err := srs.sqlite.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query rules", err)
	}
	defer rows.Close()

	rules := make([]core.Rule, 0)
	index := make(map[int64]int)
	for rows.Next() {
		var r core.Rule
		var matchType string
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.Active, &matchType, &r.Threshold, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, unavailable("scan rule", err)
		}
		r.MatchType = core.MatchType(matchType)
		index[r.ID] = len(rules)
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("query rules", err)
	}
	if len(rules) == 0 {
		return rules, nil
	}

	condRows, err := srs.sqlite.ReadDB.QueryContext(ctx, `
		SELECT rule_id, target_field, operator, value, condition_order
		FROM rule_conditions
		ORDER BY rule_id, condition_order, id`)
	if err != nil {
		return nil, unavailable("query rule conditions", err)
	}
	defer condRows.Close()

	for condRows.Next() {
		var ruleID int64
		var field, op string
		var c core.Condition
		if err := condRows.Scan(&ruleID, &field, &op, &c.Value, &c.Order); err != nil {
			return nil, unavailable("scan rule condition", err)
		}
		i, ok := index[ruleID]
		if !ok {
			continue
		}
		c.Field, c.Operator = core.Field(field), core.Operator(op)
		rules[i].Conditions = append(rules[i].Conditions, c)
	}
	if err := condRows.Err(); err != nil {
		return nil, unavailable("query rule conditions", err)
	}

	for i := range rules {
		sort.SliceStable(rules[i].Conditions, func(a, b int) bool {
			return rules[i].Conditions[a].Order < rules[i].Conditions[b].Order
		})
	}
	return rules, nil
}

// IsRuleNotFound reports whether err means the rule does not exist.
func IsRuleNotFound(err error) bool {
	return errors.Is(err, ErrRuleNotFound)
}
