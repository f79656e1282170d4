package detect

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"logwarden/core"
	"logwarden/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sqliteAlerts adapts the SQLite alert storage to AlertStore.
type sqliteAlerts struct {
	*storage.SQLiteAlertStorage
}

func (s sqliteAlerts) RunAlertPass(ctx context.Context, fn func(AlertTx) error) error {
	return s.WithAlertTx(ctx, func(tx *storage.AlertTx) error { return fn(tx) })
}

type engineFixture struct {
	db     *storage.SQLite
	rules  *storage.SQLiteRuleStorage
	events *storage.SQLiteEventStorage
	engine *Engine
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	db, err := storage.NewSQLite(filepath.Join(t.TempDir(), "engine.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rules := storage.NewSQLiteRuleStorage(db, nil)
	engine := NewEngine(rules, sqliteAlerts{storage.NewSQLiteAlertStorage(db, nil)}, nil,
		WithClock(func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }))
	rules.SetCacheInvalidator(engine)

	return &engineFixture{db: db, rules: rules, events: storage.NewSQLiteEventStorage(db), engine: engine}
}

func (f *engineFixture) addEvents(t *testing.T, events ...core.Event) {
	t.Helper()
	for i := range events {
		if events[i].Timestamp.IsZero() {
			events[i].Timestamp = time.Date(2024, 6, 1, 9, i, 0, 0, time.UTC)
		}
	}
	require.NoError(t, f.events.InsertEvents(context.Background(), events))
}

func (f *engineFixture) addRule(t *testing.T, rule core.Rule) core.Rule {
	t.Helper()
	require.NoError(t, f.rules.CreateRule(context.Background(), &rule))
	return rule
}

func sensitiveAccessRule(match core.MatchType) core.Rule {
	return core.Rule{
		Name:      "sensitive access " + string(match),
		Active:    true,
		MatchType: match,
		Conditions: []core.Condition{
			{Field: core.FieldStatus, Operator: core.OpEquals, Value: "unauthorized", Order: 1},
			{Field: core.FieldResource, Operator: core.OpEquals, Value: "sensitive-db", Order: 2},
		},
	}
}

func TestEngine_AndOrCorrectness(t *testing.T) {
	for match, want := range map[core.MatchType]int{core.MatchAll: 1, core.MatchAny: 2} {
		t.Run(string(match), func(t *testing.T) {
			f := newEngineFixture(t)
			f.addEvents(t,
				core.Event{ActorID: "u1", Action: "read", Resource: "sensitive-db", Status: "unauthorized"},
				core.Event{ActorID: "u2", Action: "read", Resource: "other", Status: "unauthorized"},
			)
			f.addRule(t, sensitiveAccessRule(match))

			n, err := f.engine.RunRules(context.Background())
			require.NoError(t, err)
			assert.Equal(t, want, n)
		})
	}
}

func TestEngine_RunRulesIsIdempotent(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.addEvents(t,
		core.Event{ActorID: "u1", Action: "read", Resource: "sensitive-db", Status: "unauthorized"},
		core.Event{ActorID: "u2", Action: "read", Resource: "other", Status: "unauthorized"},
	)
	f.addRule(t, sensitiveAccessRule(core.MatchAny))

	n, err := f.engine.RunRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.engine.RunRules(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	alerts, err := f.engine.GetAlerts(ctx)
	require.NoError(t, err)
	assert.Len(t, alerts, 2)

	// Only the new event alerts on the next pass.
	f.addEvents(t, core.Event{ActorID: "u3", Action: "read", Resource: "sensitive-db", Status: "ok", Timestamp: time.Now()})
	n, err = f.engine.RunRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEngine_AlertDescriptionAndJoin(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.addEvents(t, core.Event{ActorID: "mallory", Action: "export", Resource: "sensitive-db", Status: "unauthorized"})
	rule := f.addRule(t, sensitiveAccessRule(core.MatchAll))

	_, err := f.engine.RunRules(ctx)
	require.NoError(t, err)

	alerts, err := f.engine.GetAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "User 'mallory' triggered rule 'sensitive access AND'", alerts[0].Description)
	assert.Equal(t, rule.Name, alerts[0].RuleName)
	assert.Equal(t, "export", alerts[0].Action)
	assert.True(t, alerts[0].Timestamp.Equal(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)))
}

func TestEngine_PasswordFieldRuleMatchesNothing(t *testing.T) {
	f := newEngineFixture(t)
	f.addEvents(t, core.Event{ActorID: "u1", Action: "login", Resource: "portal", Status: "success"})
	f.addRule(t, core.Rule{
		Name:       "bad",
		Active:     true,
		MatchType:  core.MatchAny,
		Conditions: []core.Condition{{Field: "password", Operator: core.OpEquals, Value: "x"}},
	})
	f.addRule(t, core.Rule{
		Name:       "logins",
		Active:     true,
		MatchType:  core.MatchAll,
		Conditions: []core.Condition{{Field: core.FieldAction, Operator: core.OpEquals, Value: "login"}},
	})

	n, err := f.engine.RunRules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the valid rule alerts")
}

func TestEngine_InactiveRulesIgnored(t *testing.T) {
	f := newEngineFixture(t)
	f.addEvents(t, core.Event{ActorID: "u1", Action: "login", Resource: "portal", Status: "success"})
	f.addRule(t, core.Rule{
		Name:       "off",
		Active:     false,
		MatchType:  core.MatchAll,
		Conditions: []core.Condition{{Field: core.FieldAction, Operator: core.OpEquals, Value: "login"}},
	})

	n, err := f.engine.RunRules(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEngine_LikeAndInOperators(t *testing.T) {
	f := newEngineFixture(t)
	f.addEvents(t,
		core.Event{ActorID: "svc-backup", Action: "delete", Resource: "db-prod", Status: "success"},
		core.Event{ActorID: "alice", Action: "drop", Resource: "db-dev", Status: "success"},
		core.Event{ActorID: "bob", Action: "read", Resource: "db-prod", Status: "success"},
	)
	f.addRule(t, core.Rule{
		Name:      "destructive on db",
		Active:    true,
		MatchType: core.MatchAll,
		Conditions: []core.Condition{
			{Field: core.FieldAction, Operator: core.OpIn, Value: "delete, drop"},
			{Field: core.FieldResource, Operator: core.OpLike, Value: "db-%"},
			{Field: core.FieldActorID, Operator: core.OpNotLike, Value: "svc-%"},
		},
	})

	n, err := f.engine.RunRules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	alerts, err := f.engine.GetAlerts(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "alice", alerts[0].ActorID)
}

func TestEngine_AggregateRuleDedupByActor(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	failure := func(actor string) core.Event {
		return core.Event{ActorID: actor, Action: "login", Resource: "portal", Status: "failure"}
	}
	f.addEvents(t, failure("alice"), failure("alice"), failure("alice"), failure("bob"))
	f.addRule(t, core.Rule{
		Name:       "brute force",
		Active:     true,
		MatchType:  core.MatchAll,
		Threshold:  3,
		Conditions: []core.Condition{{Field: core.FieldStatus, Operator: core.OpEquals, Value: "failure"}},
	})

	n, err := f.engine.RunRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	alerts, err := f.engine.GetAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Nil(t, alerts[0].EventID)
	assert.Equal(t, "User 'alice' triggered rule 'brute force' 3 times", alerts[0].Description)

	// More failures for alice do not re-alert; bob crossing the threshold does.
	f.addEvents(t, failure("alice"), failure("bob"), failure("bob"))
	n, err = f.engine.RunRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	alerts, err = f.engine.GetAlerts(ctx)
	require.NoError(t, err)
	assert.Len(t, alerts, 2)
}

func TestEngine_RuleEditInvalidatesCompiledFilter(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.addEvents(t,
		core.Event{ActorID: "u1", Action: "login", Resource: "portal", Status: "success"},
		core.Event{ActorID: "u2", Action: "logout", Resource: "portal", Status: "success"},
	)
	rule := f.addRule(t, core.Rule{
		Name:       "r",
		Active:     true,
		MatchType:  core.MatchAll,
		Conditions: []core.Condition{{Field: core.FieldAction, Operator: core.OpEquals, Value: "login"}},
	})

	n, err := f.engine.RunRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rule.Conditions = []core.Condition{{Field: core.FieldAction, Operator: core.OpEquals, Value: "logout"}}
	require.NoError(t, f.rules.UpdateRule(ctx, rule.ID, &rule))

	n, err = f.engine.RunRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// failingAlertStore fails the pass after the first insert.
type failingAlertStore struct {
	inserted int
}

type failingTx struct {
	store *failingAlertStore
}

func (f failingTx) MatchEvents(context.Context, string, []any) ([]core.Event, error) {
	return []core.Event{{ID: 1, ActorID: "a"}, {ID: 2, ActorID: "b"}}, nil
}

func (f failingTx) AlertExists(context.Context, int64, int64) (bool, error) { return false, nil }

func (f failingTx) AggregateAlertExists(context.Context, int64, string) (bool, error) {
	return false, nil
}

func (f failingTx) InsertAlert(context.Context, *core.Alert) (int64, error) {
	if f.store.inserted > 0 {
		return 0, core.ErrStoreUnavailable
	}
	f.store.inserted++
	return 1, nil
}

func (s *failingAlertStore) RunAlertPass(ctx context.Context, fn func(AlertTx) error) error {
	return fn(failingTx{store: s})
}

func (s *failingAlertStore) ListAlerts(context.Context) ([]core.Alert, error) {
	return nil, errors.New("boom")
}

type staticRules []core.Rule

func (r staticRules) ListActiveRules(context.Context) ([]core.Rule, error) { return r, nil }

func TestEngine_StoreErrorReturnsZero(t *testing.T) {
	rules := staticRules{{ID: 1, Name: "r", Active: true, MatchType: core.MatchAll,
		Conditions: []core.Condition{{Field: core.FieldAction, Operator: core.OpEquals, Value: "x"}}}}
	engine := NewEngine(rules, &failingAlertStore{}, nil)

	n, err := engine.RunRules(context.Background())
	assert.Zero(t, n)
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)

	alerts, err := engine.GetAlerts(context.Background())
	assert.Error(t, err)
	assert.Nil(t, alerts)
}

type brokenRules struct{}

func (brokenRules) ListActiveRules(context.Context) ([]core.Rule, error) {
	return nil, core.ErrStoreUnavailable
}

func TestEngine_RuleSourceError(t *testing.T) {
	engine := NewEngine(brokenRules{}, &failingAlertStore{}, nil)
	n, err := engine.RunRules(context.Background())
	assert.Zero(t, n)
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
}

func TestEngine_CancelledContext(t *testing.T) {
	f := newEngineFixture(t)
	f.addEvents(t, core.Event{ActorID: "u1", Action: "login", Resource: "portal", Status: "success"})
	f.addRule(t, core.Rule{
		Name:       "r",
		Active:     true,
		MatchType:  core.MatchAll,
		Conditions: []core.Condition{{Field: core.FieldAction, Operator: core.OpEquals, Value: "login"}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := f.engine.RunRules(ctx)
	assert.Zero(t, n)
	assert.Error(t, err)
}
