package core

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var ruleValidator = validator.New()

// Validate checks a rule submitted for storage: struct constraints first,
// then every condition against the field and operator allow-list. Stored
// rules that fail here are still tolerated by the engine, which drops the
// offending conditions.
func (r *Rule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRuleDefinition)
	}
	if err := ruleValidator.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRuleDefinition, err)
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("%w: rule %q has no conditions", ErrInvalidRuleDefinition, r.Name)
	}
	for i, c := range r.Conditions {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
		if c.Operator == OpIn && len(c.InValues()) == 0 {
			return fmt.Errorf("condition %d: %w: IN needs at least one value", i, ErrInvalidRuleDefinition)
		}
	}
	return nil
}
