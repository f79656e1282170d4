package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRegistration(t *testing.T) {
	assert.NotNil(t, RulePasses)
	assert.NotNil(t, AlertsGenerated)
	assert.NotNil(t, AnomalyRuns)
	assert.NotNil(t, AnomaliesDetected)
	assert.NotNil(t, WorkerPoolActiveWorkers)
}

func TestCounterIncrements(t *testing.T) {
	before := testutil.ToFloat64(RulePasses.WithLabelValues("success"))
	RulePasses.WithLabelValues("success").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(RulePasses.WithLabelValues("success")))
}
