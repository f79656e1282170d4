package service

import (
	"context"
	"fmt"

	"logwarden/core"
	"logwarden/detect"
	"logwarden/ml"

	"go.uber.org/zap"
)

// Service is the surface the CLI and HTTP API call into.
type Service struct {
	engine      *detect.Engine
	pipeline    *ml.Pipeline
	unifier     *Unifier
	rulesLock   RunLock
	anomalyLock RunLock
	jobs        *Jobs
	logger      *zap.SugaredLogger
}

// Config wires a Service.
type Config struct {
	Engine      *detect.Engine
	Pipeline    *ml.Pipeline
	Policy      core.SeverityPolicy
	RulesLock   RunLock // defaults to a LocalLock
	AnomalyLock RunLock // defaults to a LocalLock
	Jobs        *Jobs   // optional; required for Submit*
	Logger      *zap.SugaredLogger
}

// New creates a Service.
func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.RulesLock == nil {
		cfg.RulesLock = NewLocalLock()
	}
	if cfg.AnomalyLock == nil {
		cfg.AnomalyLock = NewLocalLock()
	}
	return &Service{
		engine:      cfg.Engine,
		pipeline:    cfg.Pipeline,
		unifier:     NewUnifier(cfg.Engine, cfg.Pipeline, cfg.Policy, cfg.Logger),
		rulesLock:   cfg.RulesLock,
		anomalyLock: cfg.AnomalyLock,
		jobs:        cfg.Jobs,
		logger:      cfg.Logger,
	}
}

// RunRules runs one rule pass and returns the number of new alerts. Returns
// core.ErrRunInProgress if another pass holds the lock.
func (s *Service) RunRules(ctx context.Context) (int, error) {
	unlock, err := s.rulesLock.TryLock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()
	return s.engine.RunRules(ctx)
}

// GetAlerts returns rule alerts newest first. On failure the list is empty.
func (s *Service) GetAlerts(ctx context.Context) ([]core.Alert, error) {
	alerts, err := s.engine.GetAlerts(ctx)
	if err != nil {
		return []core.Alert{}, err
	}
	return alerts, nil
}

// RunAnomalyDetection runs the anomaly pipeline once.
func (s *Service) RunAnomalyDetection(ctx context.Context) (ml.RunResult, error) {
	unlock, err := s.anomalyLock.TryLock(ctx)
	if err != nil {
		return ml.RunResult{}, err
	}
	defer unlock()
	return s.pipeline.Run(ctx)
}

// RetrainModel replaces the stored model with one trained on the current
// events and returns the number of training rows. It shares the anomaly run
// lock so it never races a pipeline run.
func (s *Service) RetrainModel(ctx context.Context) (int, error) {
	unlock, err := s.anomalyLock.TryLock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()
	return s.pipeline.Retrain(ctx)
}

// GetAnomalies returns anomalies most anomalous first. On failure the list
// is empty.
func (s *Service) GetAnomalies(ctx context.Context) ([]core.Anomaly, error) {
	anomalies, err := s.pipeline.GetAnomalies(ctx)
	if err != nil {
		return []core.Anomaly{}, err
	}
	return anomalies, nil
}

// GetUnifiedAlerts returns the merged, newest-first timeline.
func (s *Service) GetUnifiedAlerts(ctx context.Context) ([]core.UnifiedAlert, error) {
	return s.unifier.GetUnified(ctx)
}

// SubmitRuleRun runs a rule pass in the background.
func (s *Service) SubmitRuleRun() (*Job, error) {
	if s.jobs == nil {
		return nil, fmt.Errorf("background jobs are not configured")
	}
	return s.jobs.Submit(JobRunRules, func(ctx context.Context, progress func(string)) (any, error) {
		progress("running rules")
		n, err := s.RunRules(ctx)
		if err != nil {
			return nil, err
		}
		progress(fmt.Sprintf("%d new alerts", n))
		return map[string]int{"new_alerts": n}, nil
	})
}

// SubmitAnomalyRun runs the anomaly pipeline in the background.
func (s *Service) SubmitAnomalyRun() (*Job, error) {
	if s.jobs == nil {
		return nil, fmt.Errorf("background jobs are not configured")
	}
	return s.jobs.Submit(JobRunAnomalies, func(ctx context.Context, progress func(string)) (any, error) {
		progress("running anomaly detection")
		res, err := s.RunAnomalyDetection(ctx)
		if err != nil {
			return nil, err
		}
		progress(fmt.Sprintf("%d anomalies", res.Anomalies))
		return res, nil
	})
}

// Job returns a submitted job by ID.
func (s *Service) Job(id string) (*Job, error) {
	if s.jobs == nil {
		return nil, ErrJobNotFound
	}
	return s.jobs.Get(id)
}
