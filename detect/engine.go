package detect

import (
	"context"
	"fmt"
	"sort"
	"time"

	"logwarden/core"
	"logwarden/metrics"

	"go.uber.org/zap"
)

// RuleSource provides the active rule set.
type RuleSource interface {
	ListActiveRules(ctx context.Context) ([]core.Rule, error)
}

// AlertTx is the transactional view a rule pass writes through.
type AlertTx interface {
	MatchEvents(ctx context.Context, where string, args []any) ([]core.Event, error)
	AlertExists(ctx context.Context, eventID, ruleID int64) (bool, error)
	AggregateAlertExists(ctx context.Context, ruleID int64, actor string) (bool, error)
	InsertAlert(ctx context.Context, alert *core.Alert) (int64, error)
}

// AlertStore runs rule passes in one transaction and lists stored alerts.
// Any error returned from fn must roll back everything written through tx.
type AlertStore interface {
	RunAlertPass(ctx context.Context, fn func(tx AlertTx) error) error
	ListAlerts(ctx context.Context) ([]core.Alert, error)
}

// Engine evaluates active rules against the event store.
type Engine struct {
	rules   RuleSource
	alerts  AlertStore
	filters *FilterCache
	logger  *zap.SugaredLogger
	now     func() time.Time
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithClock sets the clock used for alert timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithFilterCache replaces the default compiled filter cache.
func WithFilterCache(fc *FilterCache) EngineOption {
	return func(e *Engine) { e.filters = fc }
}

// NewEngine creates a rule engine.
func NewEngine(rules RuleSource, alerts AlertStore, logger *zap.SugaredLogger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	e := &Engine{
		rules:  rules,
		alerts: alerts,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.filters == nil {
		// Only fails for a non-positive size.
		e.filters, _ = NewFilterCache(256)
	}
	return e
}

// InvalidateCache evicts the compiled filter of ruleID.
func (e *Engine) InvalidateCache(ruleID int64) {
	e.filters.Invalidate(ruleID)
}

// RunRules evaluates every active rule and records an alert for each new
// (event, rule) match. The whole pass runs in one transaction: on any store
// error nothing is written and RunRules returns 0 with the error. Running the
// pass again over unchanged data creates no alerts.
func (e *Engine) RunRules(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { metrics.RulePassDuration.Observe(time.Since(start).Seconds()) }()

	rules, err := e.rules.ListActiveRules(ctx)
	if err != nil {
		metrics.RulePasses.WithLabelValues("error").Inc()
		e.logger.Errorw("Failed to load active rules", "error", err)
		return 0, fmt.Errorf("load active rules: %w", err)
	}

	created := 0
	perRule := make(map[string]int)
	err = e.alerts.RunAlertPass(ctx, func(tx AlertTx) error {
		created = 0
		clear(perRule)
		for _, rule := range rules {
			if err := ctx.Err(); err != nil {
				return err
			}
			n, err := e.evaluate(ctx, tx, rule)
			if err != nil {
				return fmt.Errorf("rule %d (%s): %w", rule.ID, rule.Name, err)
			}
			created += n
			if n > 0 {
				perRule[rule.Name] += n
			}
		}
		return nil
	})
	if err != nil {
		metrics.RulePasses.WithLabelValues("error").Inc()
		e.logger.Errorw("Rule pass rolled back", "error", err)
		return 0, err
	}

	for name, n := range perRule {
		metrics.AlertsGenerated.WithLabelValues(name).Add(float64(n))
	}
	metrics.RulePasses.WithLabelValues("success").Inc()
	e.logger.Infow("Rule pass finished",
		"active_rules", len(rules),
		"new_alerts", created,
		"duration", time.Since(start))
	return created, nil
}

// evaluate runs one rule inside the pass and returns the alerts it created.
func (e *Engine) evaluate(ctx context.Context, tx AlertTx, rule core.Rule) (int, error) {
	filter, ok := e.filters.Compile(rule)
	for _, rejected := range filter.Rejected {
		metrics.InvalidConditions.Inc()
		e.logger.Warnw("Skipping invalid rule condition", "rule_id", rule.ID, "rule", rule.Name, "error", rejected)
	}
	if !ok {
		e.logger.Warnw("Rule has no usable conditions, skipping", "rule_id", rule.ID, "rule", rule.Name)
		return 0, nil
	}

	events, err := tx.MatchEvents(ctx, filter.Where, filter.Args)
	if err != nil {
		return 0, err
	}
	if rule.IsAggregate() {
		return e.alertAggregate(ctx, tx, rule, events)
	}

	created := 0
	for _, ev := range events {
		exists, err := tx.AlertExists(ctx, ev.ID, rule.ID)
		if err != nil {
			return 0, err
		}
		if exists {
			continue
		}
		eventID := ev.ID
		alert := &core.Alert{
			EventID:     &eventID,
			RuleID:      rule.ID,
			RuleName:    rule.Name,
			Timestamp:   e.now(),
			Description: core.RuleAlertDescription(ev.ActorID, rule.Name),
		}
		if _, err := tx.InsertAlert(ctx, alert); err != nil {
			return 0, err
		}
		created++
	}
	return created, nil
}

// alertAggregate raises one event-less alert per actor whose match count
// reaches the rule threshold, unless that actor already has one for the rule.
func (e *Engine) alertAggregate(ctx context.Context, tx AlertTx, rule core.Rule, events []core.Event) (int, error) {
	counts := make(map[string]int)
	for _, ev := range events {
		counts[ev.ActorID]++
	}
	actors := make([]string, 0, len(counts))
	for actor, n := range counts {
		if n >= rule.Threshold {
			actors = append(actors, actor)
		}
	}
	sort.Strings(actors)

	created := 0
	for _, actor := range actors {
		exists, err := tx.AggregateAlertExists(ctx, rule.ID, actor)
		if err != nil {
			return 0, err
		}
		if exists {
			continue
		}
		alert := &core.Alert{
			RuleID:      rule.ID,
			RuleName:    rule.Name,
			Timestamp:   e.now(),
			Description: core.AggregateAlertDescription(actor, rule.Name, counts[actor]),
		}
		if _, err := tx.InsertAlert(ctx, alert); err != nil {
			return 0, err
		}
		created++
	}
	return created, nil
}

// GetAlerts returns stored alerts joined with their rule and event, newest
// first.
func (e *Engine) GetAlerts(ctx context.Context) ([]core.Alert, error) {
	alerts, err := e.alerts.ListAlerts(ctx)
	if err != nil {
		e.logger.Errorw("Failed to list alerts", "error", err)
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}
