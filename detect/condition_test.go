package detect

import (
	"testing"

	"logwarden/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPredicate_Operators(t *testing.T) {
	tests := []struct {
		name string
		cond core.Condition
		sql  string
		args []any
	}{
		{"equals", core.Condition{Field: core.FieldStatus, Operator: core.OpEquals, Value: "failure"}, "status = ?", []any{"failure"}},
		{"not equals", core.Condition{Field: core.FieldActorID, Operator: core.OpNotEquals, Value: "root"}, "actor_id != ?", []any{"root"}},
		{"like", core.Condition{Field: core.FieldResource, Operator: core.OpLike, Value: "db-%"}, "resource LIKE ?", []any{"db-%"}},
		{"not like", core.Condition{Field: core.FieldAction, Operator: core.OpNotLike, Value: "%read%"}, "action NOT LIKE ?", []any{"%read%"}},
		{"in", core.Condition{Field: core.FieldAction, Operator: core.OpIn, Value: " delete, drop ,,truncate "}, "action IN (?,?,?)", []any{"delete", "drop", "truncate"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := BuildPredicate(tt.cond)
			require.NoError(t, err)
			assert.Equal(t, tt.sql, p.SQL)
			assert.Equal(t, tt.args, p.Args)
		})
	}
}

func TestBuildPredicate_RejectsOutsideAllowList(t *testing.T) {
	rejected := []core.Condition{
		{Field: "password", Operator: core.OpEquals, Value: "hunter2"},
		{Field: "status; DROP TABLE events", Operator: core.OpEquals, Value: "x"},
		{Field: core.FieldStatus, Operator: ">=", Value: "1"},
		{Field: core.FieldStatus, Operator: "= ? OR 1=1 --", Value: "x"},
		{Field: core.FieldAction, Operator: core.OpIn, Value: " , ,"},
	}
	for _, c := range rejected {
		_, err := BuildPredicate(c)
		assert.ErrorIs(t, err, core.ErrInvalidRuleDefinition, "condition %+v", c)
	}
}

func TestBuildPredicate_ValueNeverInterpolated(t *testing.T) {
	value := "x' OR '1'='1"
	p, err := BuildPredicate(core.Condition{Field: core.FieldActorID, Operator: core.OpEquals, Value: value})
	require.NoError(t, err)
	assert.NotContains(t, p.SQL, value)
	assert.Equal(t, []any{value}, p.Args)
}
