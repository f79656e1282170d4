package detect

import (
	"testing"

	"logwarden/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoConditionRule(match core.MatchType) core.Rule {
	return core.Rule{
		ID:        7,
		Name:      "unauthorized sensitive access",
		Active:    true,
		MatchType: match,
		Conditions: []core.Condition{
			{Field: core.FieldResource, Operator: core.OpEquals, Value: "sensitive-db", Order: 2},
			{Field: core.FieldStatus, Operator: core.OpEquals, Value: "unauthorized", Order: 1},
		},
	}
}

func TestCompileRule_JoinsInOrder(t *testing.T) {
	f, ok := CompileRule(twoConditionRule(core.MatchAll))
	require.True(t, ok)
	assert.Equal(t, "(status = ?) AND (resource = ?)", f.Where)
	assert.Equal(t, []any{"unauthorized", "sensitive-db"}, f.Args)

	f, ok = CompileRule(twoConditionRule(core.MatchAny))
	require.True(t, ok)
	assert.Equal(t, "(status = ?) OR (resource = ?)", f.Where)
}

func TestCompileRule_DropsRejectedConditions(t *testing.T) {
	rule := twoConditionRule(core.MatchAny)
	rule.Conditions = append(rule.Conditions, core.Condition{Field: "password", Operator: core.OpEquals, Value: "x", Order: 3})

	f, ok := CompileRule(rule)
	require.True(t, ok)
	assert.Equal(t, "(status = ?) OR (resource = ?)", f.Where)
	require.Len(t, f.Rejected, 1)
	assert.ErrorIs(t, f.Rejected[0], core.ErrInvalidRuleDefinition)
}

func TestCompileRule_NoSurvivorsMatchesNothing(t *testing.T) {
	for _, rule := range []core.Rule{
		{ID: 1, MatchType: core.MatchAll},
		{ID: 2, MatchType: core.MatchAll, Conditions: []core.Condition{{Field: "password", Operator: core.OpEquals, Value: "x"}}},
	} {
		f, ok := CompileRule(rule)
		assert.False(t, ok)
		assert.Empty(t, f.Where)
	}
}

func TestFingerprint_ChangesWithEdits(t *testing.T) {
	rule := twoConditionRule(core.MatchAll)
	base := Fingerprint(rule)
	assert.Equal(t, base, Fingerprint(twoConditionRule(core.MatchAll)))

	assert.NotEqual(t, base, Fingerprint(twoConditionRule(core.MatchAny)))

	edited := twoConditionRule(core.MatchAll)
	edited.Conditions[0].Value = "other-db"
	assert.NotEqual(t, base, Fingerprint(edited))

	renamed := twoConditionRule(core.MatchAll)
	renamed.Name = "just a new name"
	assert.Equal(t, base, Fingerprint(renamed), "name does not affect the filter")
}

func TestFilterCache_HitAndInvalidate(t *testing.T) {
	fc, err := NewFilterCache(8)
	require.NoError(t, err)

	rule := twoConditionRule(core.MatchAll)
	first, ok := fc.Compile(rule)
	require.True(t, ok)
	second, ok := fc.Compile(rule)
	require.True(t, ok)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, fc.Len())

	other := twoConditionRule(core.MatchAny)
	other.ID = 8
	fc.Compile(other)
	assert.Equal(t, 2, fc.Len())

	fc.Invalidate(rule.ID)
	assert.Equal(t, 1, fc.Len())
}
