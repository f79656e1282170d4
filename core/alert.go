package core

import (
	"fmt"
	"strings"
	"time"
)

// Alert is the output of the rule path. EventID is nil for aggregate rules,
// which flag an actor rather than a single event.
type Alert struct {
	ID          int64     `json:"id"`
	EventID     *int64    `json:"event_id,omitempty"`
	RuleID      int64     `json:"rule_id"`
	RuleName    string    `json:"rule_name"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`

	// Event fields, populated when the alert has a source event.
	ActorID  string `json:"actor_id,omitempty"`
	Action   string `json:"action,omitempty"`
	Resource string `json:"resource,omitempty"`
	Status   string `json:"status,omitempty"`
}

// RuleAlertDescription is the description of a per-event rule alert.
func RuleAlertDescription(actorID, ruleName string) string {
	return fmt.Sprintf("User '%s' triggered rule '%s'", actorID, ruleName)
}

// AggregateAlertDescription is the description of an aggregate rule alert.
func AggregateAlertDescription(actorID, ruleName string, count int) string {
	return fmt.Sprintf("User '%s' triggered rule '%s' %d times", actorID, ruleName, count)
}

// AggregateSubjectPrefix is the leading part shared by every aggregate alert
// description for one actor. It narrows the (rule, subject) dedup lookup;
// IsAggregateDescriptionFor makes the final decision.
func AggregateSubjectPrefix(actorID string) string {
	return fmt.Sprintf("User '%s' triggered", actorID)
}

const ruleSeparator = "' triggered rule '"

// IsAggregateDescriptionFor reports whether desc is an aggregate alert
// description for exactly actorID, under any rule name. A longer actor that
// starts with actorID and embeds the separator text does not match, because
// the remainder must be a rule name followed by "' <n> times". Rule names
// containing "' triggered rule '" are not supported.
func IsAggregateDescriptionFor(desc, actorID string) bool {
	rest, ok := strings.CutPrefix(desc, "User '"+actorID+ruleSeparator)
	if !ok {
		return false
	}
	rest, ok = strings.CutSuffix(rest, " times")
	if !ok {
		return false
	}
	i := strings.LastIndex(rest, "' ")
	if i < 0 || strings.Contains(rest[:i], ruleSeparator) {
		return false
	}
	count := rest[i+2:]
	if count == "" {
		return false
	}
	for _, c := range count {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Anomaly is the output of the model path. Lower scores are more anomalous.
type Anomaly struct {
	ID        int64     `json:"id"`
	EventID   int64     `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	Score     float64   `json:"score"`
	Details   string    `json:"details"`

	ActorID  string `json:"actor_id,omitempty"`
	Action   string `json:"action,omitempty"`
	Resource string `json:"resource,omitempty"`
}

// AnomalyDetails describes the event behind an anomaly.
func AnomalyDetails(actorID, action, resource string) string {
	return fmt.Sprintf("Anomaly detected for user '%s' performing action '%s' on resource '%s'", actorID, action, resource)
}

// AlertType tags the source of a unified alert.
type AlertType string

const (
	AlertTypeRule AlertType = "Rule-Based"
	AlertTypeML   AlertType = "ML-Based"
)

// Unified alert id prefixes and the fixed anomaly title.
const (
	RuleAlertIDPrefix = "rule-"
	AnomalyIDPrefix   = "ml-"
	AnomalyTitle      = "Unusual Activity Detected"
)

// UnifiedAlert is the merged shape of rule alerts and anomalies. It is
// derived on every read and never persisted.
type UnifiedAlert struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Type        AlertType `json:"type"`
	Severity    Severity  `json:"severity"`
}
