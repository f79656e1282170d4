package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"logwarden/core"

	"github.com/fatih/color"
)

const timeLayout = "2006-01-02 15:04:05"

// printRules displays rules in a formatted table
func printRules(w io.Writer, rules []core.Rule) {
	if len(rules) == 0 {
		warningColor.Fprintln(w, "No rules configured")
		return
	}

	headerColor.Fprintln(w, "RULES")
	headerColor.Fprintln(w, strings.Repeat("=", 100))
	fmt.Fprintf(w, "%-6s %-30s %-8s %-6s %-10s %s\n",
		"ID", "Name", "Active", "Match", "Threshold", "Conditions")
	fmt.Fprintln(w, strings.Repeat("-", 100))

	for _, r := range rules {
		active := "No"
		if r.Active {
			active = "Yes"
		}
		conds := make([]string, 0, len(r.Conditions))
		for _, c := range r.Conditions {
			conds = append(conds, fmt.Sprintf("%s %s '%s'", c.Field, c.Operator, c.Value))
		}
		fmt.Fprintf(w, "%-6d %-30s %-8s %-6s %-10d %s\n",
			r.ID, truncate(r.Name, 30), active, r.MatchType, r.Threshold,
			strings.Join(conds, " "+string(r.MatchType)+" "))
	}

	fmt.Fprintln(w, strings.Repeat("=", 100))
}

// printAlerts displays rule alerts in a formatted table
func printAlerts(w io.Writer, alerts []core.Alert) {
	if len(alerts) == 0 {
		warningColor.Fprintln(w, "No alerts")
		return
	}

	headerColor.Fprintln(w, "ALERTS")
	headerColor.Fprintln(w, strings.Repeat("=", 110))
	fmt.Fprintf(w, "%-6s %-20s %-25s %-16s %-12s %s\n",
		"ID", "Time", "Rule", "Actor", "Action", "Resource")
	fmt.Fprintln(w, strings.Repeat("-", 110))

	for _, a := range alerts {
		fmt.Fprintf(w, "%-6d %-20s %-25s %-16s %-12s %s\n",
			a.ID, formatTime(a.Timestamp), truncate(a.RuleName, 25),
			truncate(a.ActorID, 16), truncate(a.Action, 12), a.Resource)
	}

	fmt.Fprintln(w, strings.Repeat("=", 110))
}

// printAnomalies displays anomalies in a formatted table
func printAnomalies(w io.Writer, anomalies []core.Anomaly) {
	if len(anomalies) == 0 {
		warningColor.Fprintln(w, "No anomalies")
		return
	}

	headerColor.Fprintln(w, "ANOMALIES")
	headerColor.Fprintln(w, strings.Repeat("=", 110))
	fmt.Fprintf(w, "%-6s %-20s %-10s %s\n", "ID", "Time", "Score", "Details")
	fmt.Fprintln(w, strings.Repeat("-", 110))

	for _, a := range anomalies {
		fmt.Fprintf(w, "%-6d %-20s %-10.4f %s\n",
			a.ID, formatTime(a.Timestamp), a.Score, a.Details)
	}

	fmt.Fprintln(w, strings.Repeat("=", 110))
}

// printUnified displays the unified timeline with colored severities
func printUnified(w io.Writer, alerts []core.UnifiedAlert) {
	if len(alerts) == 0 {
		warningColor.Fprintln(w, "No alerts")
		return
	}

	headerColor.Fprintln(w, "UNIFIED ALERTS")
	headerColor.Fprintln(w, strings.Repeat("=", 120))
	fmt.Fprintf(w, "%-12s %-20s %-12s %-8s %-30s %s\n",
		"ID", "Time", "Type", "Severity", "Title", "Description")
	fmt.Fprintln(w, strings.Repeat("-", 120))

	for _, a := range alerts {
		fmt.Fprintf(w, "%-12s %-20s %-12s %s %-30s %s\n",
			a.ID, formatTime(a.Timestamp), a.Type,
			severityColor(a.Severity).Sprintf("%-8s", a.Severity),
			truncate(a.Title, 30), a.Description)
	}

	fmt.Fprintln(w, strings.Repeat("=", 120))
}

func severityColor(s core.Severity) *color.Color {
	switch s {
	case core.SeverityHigh:
		return errorColor
	case core.SeverityMedium:
		return warningColor
	default:
		return infoColor
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(timeLayout)
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
