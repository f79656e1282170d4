// Package api exposes the detection service over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"logwarden/config"
	"logwarden/core"
	"logwarden/service"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Detector is the detection surface the API drives.
type Detector interface {
	GetAlerts(ctx context.Context) ([]core.Alert, error)
	GetAnomalies(ctx context.Context) ([]core.Anomaly, error)
	GetUnifiedAlerts(ctx context.Context) ([]core.UnifiedAlert, error)
	SubmitRuleRun() (*service.Job, error)
	SubmitAnomalyRun() (*service.Job, error)
	Job(id string) (*service.Job, error)
}

// RuleStorer interface for rule storage
type RuleStorer interface {
	ListRules(ctx context.Context) ([]core.Rule, error)
	GetRule(ctx context.Context, id int64) (*core.Rule, error)
	CreateRule(ctx context.Context, rule *core.Rule) error
	UpdateRule(ctx context.Context, id int64, rule *core.Rule) error
	DeleteRule(ctx context.Context, id int64) error
}

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// API holds the API server
type API struct {
	router      *mux.Router
	server      *http.Server
	detector    Detector
	ruleStorage RuleStorer
	health      HealthChecker
	config      config.APIConfig
	logger      *zap.SugaredLogger
	limiters    *clientLimiters
}

// NewAPI creates a new API server. health may be nil.
func NewAPI(detector Detector, ruleStorage RuleStorer, health HealthChecker, cfg config.APIConfig, logger *zap.SugaredLogger) *API {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	a := &API{
		router:      mux.NewRouter(),
		detector:    detector,
		ruleStorage: ruleStorage,
		health:      health,
		config:      cfg,
		logger:      logger,
		limiters:    newClientLimiters(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, cfg.RateLimit.MaxClients),
	}
	a.setupRoutes()
	return a
}

// setupRoutes sets up the API routes
func (a *API) setupRoutes() {
	a.router.Use(a.accessLogMiddleware)
	a.router.Use(a.corsMiddleware)
	a.router.Use(a.rateLimitMiddleware)

	a.router.HandleFunc("/api/rules/run", a.runRules).Methods("POST")
	a.router.HandleFunc("/api/anomalies/run", a.runAnomalies).Methods("POST")
	a.router.HandleFunc("/api/jobs/{id}", a.getJob).Methods("GET")

	a.router.HandleFunc("/api/alerts", a.getAlerts).Methods("GET")
	a.router.HandleFunc("/api/anomalies", a.getAnomalies).Methods("GET")
	a.router.HandleFunc("/api/unified-alerts", a.getUnifiedAlerts).Methods("GET")

	a.router.HandleFunc("/api/rules", a.getRules).Methods("GET")
	a.router.HandleFunc("/api/rules", a.createRule).Methods("POST")
	a.router.HandleFunc("/api/rules/{id:[0-9]+}", a.getRule).Methods("GET")
	a.router.HandleFunc("/api/rules/{id:[0-9]+}", a.updateRule).Methods("PUT")
	a.router.HandleFunc("/api/rules/{id:[0-9]+}", a.deleteRule).Methods("DELETE")

	a.router.HandleFunc("/health", a.healthCheck).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler())

	// Preflight requests still pass through the CORS middleware.
	a.router.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

// Handler returns the routed handler, for tests and embedding.
func (a *API) Handler() http.Handler {
	return a.router
}

// Start starts the API server and blocks until it stops.
func (a *API) Start(addr string) error {
	a.server = &http.Server{
		Addr:              addr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a.server.ListenAndServe()
}

// Stop stops the API server
func (a *API) Stop(ctx context.Context) error {
	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	return nil
}
