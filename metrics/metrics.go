package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RulePasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logwarden_rule_passes_total",
			Help: "Total number of rule engine passes by outcome",
		},
		[]string{"outcome"},
	)

	AlertsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logwarden_alerts_generated_total",
			Help: "Total number of rule alerts generated",
		},
		[]string{"rule"},
	)

	InvalidConditions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logwarden_invalid_conditions_total",
			Help: "Total number of rule conditions skipped for referencing a disallowed field or operator",
		},
	)

	RulePassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "logwarden_rule_pass_duration_seconds",
			Help:    "Time taken by one rule engine pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	AnomalyRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logwarden_anomaly_runs_total",
			Help: "Total number of anomaly pipeline runs by outcome",
		},
		[]string{"outcome"},
	)

	AnomaliesDetected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "logwarden_anomalies_current",
			Help: "Number of anomalies in the current anomaly set",
		},
	)

	AnomalyRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "logwarden_anomaly_run_duration_seconds",
			Help:    "Time taken by one anomaly pipeline run",
			Buckets: prometheus.DefBuckets,
		},
	)

	ModelTrainings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logwarden_model_trainings_total",
			Help: "Total number of times the outlier model was trained",
		},
	)

	FilterCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logwarden_filter_cache_lookups_total",
			Help: "Compiled rule filter cache lookups by result",
		},
		[]string{"result"},
	)

	JobsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logwarden_jobs_submitted_total",
			Help: "Background jobs submitted by kind",
		},
		[]string{"kind"},
	)

	WorkerPoolActiveWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "logwarden_worker_pool_active_workers",
			Help: "Number of active workers per pool",
		},
		[]string{"pool"},
	)

	WorkerPoolQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "logwarden_worker_pool_queue_size",
			Help: "Number of queued tasks per pool",
		},
		[]string{"pool"},
	)

	WorkerPoolTasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logwarden_worker_pool_tasks_processed_total",
			Help: "Total number of tasks processed per pool",
		},
		[]string{"pool"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logwarden_http_requests_total",
			Help: "HTTP API requests by method, route template and status code",
		},
		[]string{"method", "route", "code"},
	)

	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logwarden_panics_recovered_total",
			Help: "Panics recovered in background goroutines and jobs",
		},
		[]string{"goroutine"},
	)
)
