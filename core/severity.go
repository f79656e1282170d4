package core

import "fmt"

// Severity ranks a unified alert.
type Severity string

const (
	SeverityLow    Severity = "Low"
	SeverityMedium Severity = "Medium"
	SeverityHigh   Severity = "High"
)

// RuleAlertSeverity is the fixed severity of every rule-based alert.
const RuleAlertSeverity = SeverityMedium

// Default anomaly score thresholds.
const (
	DefaultHighThreshold   = -0.2
	DefaultMediumThreshold = -0.1
)

// SeverityPolicy maps anomaly scores to severities. Both thresholds are
// exclusive upper bounds: a score exactly at High is Medium, a score exactly
// at Medium is Low.
type SeverityPolicy struct {
	High   float64 `mapstructure:"high"`
	Medium float64 `mapstructure:"medium"`
}

// DefaultSeverityPolicy returns the -0.2 / -0.1 policy.
func DefaultSeverityPolicy() SeverityPolicy {
	return SeverityPolicy{High: DefaultHighThreshold, Medium: DefaultMediumThreshold}
}

// Validate rejects policies that are not monotonic in score.
func (p SeverityPolicy) Validate() error {
	if p.High > p.Medium {
		return fmt.Errorf("severity.high (%v) must not exceed severity.medium (%v)", p.High, p.Medium)
	}
	return nil
}

// Classify returns the severity of an anomaly score.
func (p SeverityPolicy) Classify(score float64) Severity {
	switch {
	case score < p.High:
		return SeverityHigh
	case score < p.Medium:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
