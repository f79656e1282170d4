package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRule() Rule {
	return Rule{
		Name:      "failed admin login",
		Active:    true,
		MatchType: MatchAll,
		Conditions: []Condition{
			{Field: FieldAction, Operator: OpEquals, Value: "login"},
			{Field: FieldStatus, Operator: OpIn, Value: "failure, locked"},
		},
	}
}

func TestRuleValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *Rule)
		ok     bool
	}{
		{"valid", func(*Rule) {}, true},
		{"aggregate", func(r *Rule) { r.Threshold = 5 }, true},
		{"blank name", func(r *Rule) { r.Name = "   " }, false},
		{"long name", func(r *Rule) { r.Name = strings.Repeat("n", 201) }, false},
		{"bad match type", func(r *Rule) { r.MatchType = "XOR" }, false},
		{"negative threshold", func(r *Rule) { r.Threshold = -1 }, false},
		{"no conditions", func(r *Rule) { r.Conditions = nil }, false},
		{"password field", func(r *Rule) { r.Conditions[0].Field = "password" }, false},
		{"regex operator", func(r *Rule) { r.Conditions[0].Operator = "REGEXP" }, false},
		{"empty IN", func(r *Rule) { r.Conditions[1].Value = " , " }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRule()
			tt.mutate(&r)
			err := r.Validate()
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRuleDefinition)
		})
	}
}
