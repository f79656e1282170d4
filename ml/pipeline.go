package ml

import (
	"context"
	"errors"
	"fmt"
	"time"

	"logwarden/core"
	"logwarden/metrics"

	"go.uber.org/zap"
)

// AnomalyStore holds the current anomaly set.
type AnomalyStore interface {
	// ReplaceAnomalies atomically swaps the stored set for anomalies.
	ReplaceAnomalies(ctx context.Context, anomalies []core.Anomaly) error
	ListAnomalies(ctx context.Context) ([]core.Anomaly, error)
}

// RunResult summarises one pipeline run.
type RunResult struct {
	Events    int  `json:"events"`
	Anomalies int  `json:"anomalies"`
	Trained   bool `json:"trained"` // a new model was trained this run
	Skipped   bool `json:"skipped"` // no events to score
}

// Pipeline ties feature extraction, the model and the anomaly store together.
type Pipeline struct {
	extractor *FeatureExtractor
	models    *ModelManager
	anomalies AnomalyStore
	logger    *zap.SugaredLogger
	now       func() time.Time
}

// NewPipeline creates an anomaly pipeline.
func NewPipeline(extractor *FeatureExtractor, models *ModelManager, anomalies AnomalyStore, logger *zap.SugaredLogger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Pipeline{
		extractor: extractor,
		models:    models,
		anomalies: anomalies,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock overrides the detection timestamp source.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// Run scores every stored event and replaces the anomaly set with the
// outliers. The stored model is reused when present; otherwise a model is
// trained on the current events and saved before scoring.
func (p *Pipeline) Run(ctx context.Context) (res RunResult, err error) {
	start := time.Now()
	defer func() {
		metrics.AnomalyRunDuration.Observe(time.Since(start).Seconds())
		outcome := "success"
		switch {
		case err != nil:
			outcome = "error"
		case res.Skipped:
			outcome = "skipped"
		}
		metrics.AnomalyRuns.WithLabelValues(outcome).Inc()
	}()

	events, err := p.extractor.FetchEvents(ctx)
	if err != nil {
		return res, err
	}
	res.Events = len(events)
	if len(events) == 0 {
		p.logger.Infow("No events to analyse, skipping anomaly run")
		res.Skipped = true
		return res, nil
	}

	matrix, refs := ExtractFeatures(events)

	if err := p.models.Load(ctx); err != nil {
		if !errors.Is(err, ErrModelNotFound) {
			return res, err
		}
		p.logger.Infow("No stored model, training on current events", "events", len(events))
		if err := p.models.Train(ctx, matrix); err != nil {
			return res, err
		}
		if err := p.models.Save(ctx); err != nil {
			return res, err
		}
		res.Trained = true
	}

	preds, err := p.models.Predict(matrix)
	if err != nil {
		return res, err
	}

	detectedAt := p.now()
	anomalies := make([]core.Anomaly, 0)
	for i, pred := range preds {
		if !pred.Outlier {
			continue
		}
		ref := refs[i]
		anomalies = append(anomalies, core.Anomaly{
			EventID:   ref.EventID,
			Timestamp: detectedAt,
			Score:     pred.Score,
			Details:   core.AnomalyDetails(ref.ActorID, ref.Action, ref.Resource),
			ActorID:   ref.ActorID,
			Action:    ref.Action,
			Resource:  ref.Resource,
		})
	}

	if err := p.anomalies.ReplaceAnomalies(ctx, anomalies); err != nil {
		return res, fmt.Errorf("replace anomalies: %w", err)
	}
	res.Anomalies = len(anomalies)
	metrics.AnomaliesDetected.Set(float64(len(anomalies)))

	p.logger.Infow("Anomaly run finished",
		"events", res.Events,
		"anomalies", res.Anomalies,
		"trained", res.Trained,
		"duration", time.Since(start))
	return res, nil
}

// GetAnomalies returns the current anomaly set, most anomalous first.
func (p *Pipeline) GetAnomalies(ctx context.Context) ([]core.Anomaly, error) {
	anomalies, err := p.anomalies.ListAnomalies(ctx)
	if err != nil {
		p.logger.Errorw("Failed to list anomalies", "error", err)
		return nil, fmt.Errorf("list anomalies: %w", err)
	}
	return anomalies, nil
}

// Retrain discards the stored model and trains a new one on current events.
// With no events there is nothing to train on: it returns 0 and the stored
// model, if any, stays in place.
func (p *Pipeline) Retrain(ctx context.Context) (int, error) {
	events, err := p.extractor.FetchEvents(ctx)
	if err != nil {
		return 0, err
	}
	matrix, _ := ExtractFeatures(events)
	if matrix.Empty() {
		return 0, nil
	}
	if err := p.models.Train(ctx, matrix); err != nil {
		return 0, err
	}
	if err := p.models.Save(ctx); err != nil {
		return 0, err
	}
	return len(matrix.Rows), nil
}
