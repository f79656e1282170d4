package storage

import (
	"errors"
	"fmt"

	"logwarden/core"
)

var (
	// ErrRuleNotFound is returned when a rule is not found
	ErrRuleNotFound = errors.New("rule not found")

	// ErrDuplicateRule is returned when a rule name is already taken
	ErrDuplicateRule = errors.New("rule already exists")
)

// unavailable wraps a driver error as core.ErrStoreUnavailable so callers can
// tell store failures apart from not-found or validation errors.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", core.ErrStoreUnavailable, op, err)
}
