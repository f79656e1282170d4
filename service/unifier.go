package service

import (
	"context"
	"sort"
	"strconv"

	"logwarden/core"

	"go.uber.org/zap"
)

// AlertLister lists rule alerts.
type AlertLister interface {
	GetAlerts(ctx context.Context) ([]core.Alert, error)
}

// AnomalyLister lists the current anomalies.
type AnomalyLister interface {
	GetAnomalies(ctx context.Context) ([]core.Anomaly, error)
}

// Unifier merges rule alerts and anomalies into one prioritized timeline.
type Unifier struct {
	alerts    AlertLister
	anomalies AnomalyLister
	policy    core.SeverityPolicy
	logger    *zap.SugaredLogger
}

// NewUnifier creates a Unifier classifying anomaly scores with policy.
func NewUnifier(alerts AlertLister, anomalies AnomalyLister, policy core.SeverityPolicy, logger *zap.SugaredLogger) *Unifier {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Unifier{alerts: alerts, anomalies: anomalies, policy: policy, logger: logger}
}

// GetUnified returns rule alerts and anomalies newest first. Rule alerts are
// always Medium; anomalies take their severity from the score. Entries with
// equal timestamps keep rule alerts ahead of anomalies. If either source
// fails, the result is empty and the error is returned.
func (u *Unifier) GetUnified(ctx context.Context) ([]core.UnifiedAlert, error) {
	alerts, err := u.alerts.GetAlerts(ctx)
	if err != nil {
		u.logger.Errorw("Failed to read rule alerts for unified feed", "error", err)
		return []core.UnifiedAlert{}, err
	}
	anomalies, err := u.anomalies.GetAnomalies(ctx)
	if err != nil {
		u.logger.Errorw("Failed to read anomalies for unified feed", "error", err)
		return []core.UnifiedAlert{}, err
	}

	unified := make([]core.UnifiedAlert, 0, len(alerts)+len(anomalies))
	for _, a := range alerts {
		unified = append(unified, FromAlert(a))
	}
	for _, a := range anomalies {
		unified = append(unified, u.FromAnomaly(a))
	}
	sort.SliceStable(unified, func(i, j int) bool {
		return unified[i].Timestamp.After(unified[j].Timestamp)
	})
	return unified, nil
}

// FromAlert converts a rule alert.
func FromAlert(a core.Alert) core.UnifiedAlert {
	return core.UnifiedAlert{
		ID:          core.RuleAlertIDPrefix + strconv.FormatInt(a.ID, 10),
		Timestamp:   a.Timestamp,
		Title:       a.RuleName,
		Description: a.Description,
		Type:        core.AlertTypeRule,
		Severity:    core.RuleAlertSeverity,
	}
}

// FromAnomaly converts an anomaly using the unifier's severity policy.
func (u *Unifier) FromAnomaly(a core.Anomaly) core.UnifiedAlert {
	return core.UnifiedAlert{
		ID:          core.AnomalyIDPrefix + strconv.FormatInt(a.ID, 10),
		Timestamp:   a.Timestamp,
		Title:       core.AnomalyTitle,
		Description: a.Details,
		Type:        core.AlertTypeML,
		Severity:    u.policy.Classify(a.Score),
	}
}
