package core

import (
	"fmt"
	"strings"
	"time"
)

// Field is an event attribute a rule condition may test.
type Field string

// Allow-listed condition fields.
const (
	FieldActorID  Field = "actor_id"
	FieldAction   Field = "action"
	FieldResource Field = "resource"
	FieldStatus   Field = "status"
)

// CategoricalFields lists the allow-listed fields in their canonical order.
var CategoricalFields = []Field{FieldActorID, FieldAction, FieldResource, FieldStatus}

// Valid reports whether f is one of the allow-listed fields.
func (f Field) Valid() bool {
	switch f {
	case FieldActorID, FieldAction, FieldResource, FieldStatus:
		return true
	}
	return false
}

// Operator is a comparison a rule condition may apply.
type Operator string

// Allow-listed condition operators.
const (
	OpEquals    Operator = "="
	OpNotEquals Operator = "!="
	OpLike      Operator = "LIKE"
	OpNotLike   Operator = "NOT LIKE"
	OpIn        Operator = "IN"
)

// Valid reports whether op is one of the allow-listed operators.
func (op Operator) Valid() bool {
	switch op {
	case OpEquals, OpNotEquals, OpLike, OpNotLike, OpIn:
		return true
	}
	return false
}

// MatchType controls how a rule's conditions are combined.
type MatchType string

const (
	MatchAll MatchType = "AND"
	MatchAny MatchType = "OR"
)

// Valid reports whether m is AND or OR.
func (m MatchType) Valid() bool {
	return m == MatchAll || m == MatchAny
}

// InDelimiter separates the members of an IN condition value.
const InDelimiter = ","

// Condition is a single field/operator/value test within a rule.
type Condition struct {
	Field    Field    `json:"field" yaml:"field" validate:"required"`
	Operator Operator `json:"operator" yaml:"operator" validate:"required"`
	Value    string   `json:"value" yaml:"value"`
	Order    int      `json:"order" yaml:"order"`
}

// Validate reports whether the condition stays within the allow-list.
func (c Condition) Validate() error {
	if !c.Field.Valid() {
		return fmt.Errorf("%w: field %q is not allowed", ErrInvalidRuleDefinition, string(c.Field))
	}
	if !c.Operator.Valid() {
		return fmt.Errorf("%w: operator %q is not allowed", ErrInvalidRuleDefinition, string(c.Operator))
	}
	return nil
}

// InValues splits an IN value into its trimmed, non-empty members.
func (c Condition) InValues() []string {
	parts := strings.Split(c.Value, InDelimiter)
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			values = append(values, p)
		}
	}
	return values
}

// Rule is a named set of conditions that generates alerts when matched.
// A rule with Threshold greater than one is an aggregate rule: it alerts once
// per actor whose matching events reach the threshold.
type Rule struct {
	ID          int64       `json:"id" yaml:"-"`
	Name        string      `json:"name" yaml:"name" validate:"required,max=200"`
	Description string      `json:"description" yaml:"description" validate:"max=2000"`
	Active      bool        `json:"active" yaml:"active"`
	MatchType   MatchType   `json:"match_type" yaml:"match_type" validate:"required,oneof=AND OR"`
	Threshold   int         `json:"threshold,omitempty" yaml:"threshold,omitempty" validate:"gte=0"`
	Conditions  []Condition `json:"conditions" yaml:"conditions" validate:"dive"`
	CreatedAt   time.Time   `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time   `json:"updated_at" yaml:"-"`
}

// IsAggregate reports whether the rule alerts per actor rather than per event.
func (r *Rule) IsAggregate() bool {
	return r.Threshold > 1
}
