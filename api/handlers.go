package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"logwarden/core"
	"logwarden/service"
	"logwarden/storage"

	"github.com/gorilla/mux"
)

// jobAccepted is the 202 body of the run endpoints.
type jobAccepted struct {
	JobID  string            `json:"job_id"`
	Status service.JobStatus `json:"status"`
}

// runRules queues a rule pass.
//
//	POST /api/rules/run -> 202 {"job_id": "..."}
func (a *API) runRules(w http.ResponseWriter, r *http.Request) {
	a.submit(w, a.detector.SubmitRuleRun)
}

// runAnomalies queues an anomaly pipeline run.
//
//	POST /api/anomalies/run -> 202 {"job_id": "..."}
func (a *API) runAnomalies(w http.ResponseWriter, r *http.Request) {
	a.submit(w, a.detector.SubmitAnomalyRun)
}

func (a *API) submit(w http.ResponseWriter, fn func() (*service.Job, error)) {
	job, err := fn()
	if err != nil {
		if errors.Is(err, core.ErrWorkerPoolQueueFull) || errors.Is(err, core.ErrWorkerPoolNotRunning) {
			writeError(w, http.StatusServiceUnavailable, "Job queue unavailable", err, "", a.logger)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to submit job", err, "", a.logger)
		return
	}
	w.Header().Set("Location", "/api/jobs/"+job.ID)
	a.respondJSON(w, jobAccepted{JobID: job.ID, Status: job.Snapshot().Status}, http.StatusAccepted)
}

// getJob returns a job's status and, once finished, its result.
func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.detector.Job(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, "Job not found", nil, "", a.logger)
		return
	}
	a.respondJSON(w, job.Snapshot(), http.StatusOK)
}

// getAlerts returns rule alerts, newest first.
func (a *API) getAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := a.detector.GetAlerts(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Failed to get alerts", err, "", a.logger)
		return
	}
	a.respondJSON(w, alerts, http.StatusOK)
}

// getAnomalies returns the current anomaly set, most anomalous first.
func (a *API) getAnomalies(w http.ResponseWriter, r *http.Request) {
	anomalies, err := a.detector.GetAnomalies(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Failed to get anomalies", err, "", a.logger)
		return
	}
	a.respondJSON(w, anomalies, http.StatusOK)
}

// getUnifiedAlerts returns rule alerts and anomalies merged, newest first.
func (a *API) getUnifiedAlerts(w http.ResponseWriter, r *http.Request) {
	unified, err := a.detector.GetUnifiedAlerts(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Failed to get unified alerts", err, "", a.logger)
		return
	}
	a.respondJSON(w, unified, http.StatusOK)
}

func (a *API) getRules(w http.ResponseWriter, r *http.Request) {
	rules, err := a.ruleStorage.ListRules(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Failed to get rules", err, "", a.logger)
		return
	}
	a.respondJSON(w, rules, http.StatusOK)
}

func (a *API) getRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rule ID", err, "", a.logger)
		return
	}
	rule, err := a.ruleStorage.GetRule(r.Context(), id)
	if err != nil {
		a.writeRuleError(w, "Failed to get rule", err)
		return
	}
	a.respondJSON(w, rule, http.StatusOK)
}

func (a *API) createRule(w http.ResponseWriter, r *http.Request) {
	var rule core.Rule
	if err := decodeJSON(w, r, &rule); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err, "", a.logger)
		return
	}
	if err := rule.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rule", err, err.Error(), a.logger)
		return
	}
	if err := a.ruleStorage.CreateRule(r.Context(), &rule); err != nil {
		a.writeRuleError(w, "Failed to create rule", err)
		return
	}
	a.respondJSON(w, rule, http.StatusCreated)
}

func (a *API) updateRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rule ID", err, "", a.logger)
		return
	}
	var rule core.Rule
	if err := decodeJSON(w, r, &rule); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err, "", a.logger)
		return
	}
	if err := rule.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rule", err, err.Error(), a.logger)
		return
	}
	if err := a.ruleStorage.UpdateRule(r.Context(), id, &rule); err != nil {
		a.writeRuleError(w, "Failed to update rule", err)
		return
	}
	a.respondJSON(w, rule, http.StatusOK)
}

func (a *API) deleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rule ID", err, "", a.logger)
		return
	}
	if err := a.ruleStorage.DeleteRule(r.Context(), id); err != nil {
		a.writeRuleError(w, "Failed to delete rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) writeRuleError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, storage.ErrRuleNotFound):
		writeError(w, http.StatusNotFound, "Rule not found", err, "", a.logger)
	case errors.Is(err, storage.ErrDuplicateRule):
		writeError(w, http.StatusConflict, "Rule name already exists", err, "", a.logger)
	default:
		writeError(w, http.StatusServiceUnavailable, message, err, "", a.logger)
	}
}

// healthCheck reports store reachability.
func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	if a.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.health.HealthCheck(ctx); err != nil {
			a.logger.Warnw("Health check failed", "error", err)
			a.respondJSON(w, map[string]string{"status": "unhealthy"}, http.StatusServiceUnavailable)
			return
		}
	}
	a.respondJSON(w, status, http.StatusOK)
}
