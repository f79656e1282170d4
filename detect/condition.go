package detect

import (
	"fmt"
	"strings"

	"logwarden/core"
)

// fieldColumns maps each allow-listed field to its event column. Only these
// literals ever reach query text.
var fieldColumns = map[core.Field]string{
	core.FieldActorID:  "actor_id",
	core.FieldAction:   "action",
	core.FieldResource: "resource",
	core.FieldStatus:   "status",
}

// Predicate is one parameterized WHERE fragment.
type Predicate struct {
	SQL  string
	Args []any
}

type predicateRenderer func(column string, c core.Condition) (Predicate, error)

func binary(op string) predicateRenderer {
	return func(column string, c core.Condition) (Predicate, error) {
		return Predicate{SQL: column + " " + op + " ?", Args: []any{c.Value}}, nil
	}
}

// operatorRenderers is the closed set of supported operators.
var operatorRenderers = map[core.Operator]predicateRenderer{
	core.OpEquals:    binary("="),
	core.OpNotEquals: binary("!="),
	core.OpLike:      binary("LIKE"),
	core.OpNotLike:   binary("NOT LIKE"),
	core.OpIn: func(column string, c core.Condition) (Predicate, error) {
		values := c.InValues()
		if len(values) == 0 {
			return Predicate{}, fmt.Errorf("%w: IN condition on %s has no values", core.ErrInvalidRuleDefinition, column)
		}
		args := make([]any, len(values))
		for i, v := range values {
			args[i] = v
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
		return Predicate{SQL: column + " IN (" + placeholders + ")", Args: args}, nil
	},
}

// BuildPredicate translates one condition into a parameterized fragment.
// Conditions naming a field or operator outside the allow-list are rejected
// with core.ErrInvalidRuleDefinition.
func BuildPredicate(c core.Condition) (Predicate, error) {
	if err := c.Validate(); err != nil {
		return Predicate{}, err
	}
	column, ok := fieldColumns[c.Field]
	if !ok {
		return Predicate{}, fmt.Errorf("%w: field %q has no column", core.ErrInvalidRuleDefinition, string(c.Field))
	}
	render, ok := operatorRenderers[c.Operator]
	if !ok {
		return Predicate{}, fmt.Errorf("%w: operator %q has no renderer", core.ErrInvalidRuleDefinition, string(c.Operator))
	}
	return render(column, c)
}
