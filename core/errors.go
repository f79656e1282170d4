package core

import "errors"

// Error kinds surfaced by the detection paths.
var (
	// ErrStoreUnavailable is returned when the event, alert or anomaly store
	// cannot be read or written. The current operation is aborted.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidRuleDefinition marks a condition that references a field or
	// operator outside the allow-list. Such conditions are dropped, never fatal.
	ErrInvalidRuleDefinition = errors.New("invalid rule definition")

	// ErrModelUnavailable is returned when prediction is requested from a
	// model that was neither trained nor loaded.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrPersistenceFailure is returned when a model artifact cannot be
	// saved or loaded.
	ErrPersistenceFailure = errors.New("model persistence failure")

	// ErrRunInProgress is returned when a rule pass is requested while
	// another one holds the run lock.
	ErrRunInProgress = errors.New("run already in progress")
)

// ErrModelNotFound is returned by a model store when no artifact exists under
// the requested name. The pipeline treats it as "train now".
var ErrModelNotFound = errors.New("model artifact not found")
