package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeverityPolicy_Classify(t *testing.T) {
	policy := DefaultSeverityPolicy()

	tests := []struct {
		name  string
		score float64
		want  Severity
	}{
		{"clearly high", -0.25, SeverityHigh},
		{"medium band", -0.15, SeverityMedium},
		{"low band", -0.05, SeverityLow},
		{"positive score", 0.12, SeverityLow},
		// Thresholds are exclusive: the boundary itself falls into the less severe band.
		{"exactly high boundary", -0.2, SeverityMedium},
		{"exactly medium boundary", -0.1, SeverityLow},
		{"just below high boundary", -0.2000001, SeverityHigh},
		{"just below medium boundary", -0.1000001, SeverityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.Classify(tt.score))
		})
	}
}

func TestSeverityPolicy_Monotonic(t *testing.T) {
	policy := DefaultSeverityPolicy()
	rank := map[Severity]int{SeverityLow: 0, SeverityMedium: 1, SeverityHigh: 2}

	prev := rank[policy.Classify(1)]
	for score := 1.0; score >= -1.0; score -= 0.01 {
		cur := rank[policy.Classify(score)]
		assert.GreaterOrEqual(t, cur, prev, "severity decreased at score %v", score)
		prev = cur
	}
}

func TestSeverityPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultSeverityPolicy().Validate())
	assert.Error(t, SeverityPolicy{High: -0.05, Medium: -0.1}.Validate())
}
