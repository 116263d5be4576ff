package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/confluo/internal/common"
	"github.com/ternarybob/confluo/internal/interfaces"
	"github.com/ternarybob/confluo/internal/models"
	"github.com/ternarybob/confluo/internal/orchestrator"
)

// JobHandler exposes the job registry and manual triggering.
type JobHandler struct {
	jobs   interfaces.JobStorage
	orch   *orchestrator.Orchestrator
	logger arbor.ILogger
}

func NewJobHandler(jobs interfaces.JobStorage, orch *orchestrator.Orchestrator, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		jobs:   jobs,
		orch:   orch,
		logger: logger,
	}
}

// ListJobsHandler returns the tenant's jobs, optionally filtered by status.
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := RequireTenant(w, r)
	if !ok {
		return
	}

	filter := interfaces.JobFilter{
		TenantID: tenantID,
		Status:   models.JobStatus(r.URL.Query().Get("status")),
		Limit:    QueryInt(r, "limit", 100),
		Offset:   QueryInt(r, "offset", 0),
	}

	jobs, err := h.jobs.ListJobs(r.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("Failed to list jobs")
		WriteDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

type createJobRequest struct {
	ID               string `json:"id,omitempty"`
	IntegrationID    string `json:"integration_id"`
	JobName          string `json:"job_name"`
	ScheduleInterval string `json:"schedule_interval,omitempty"`
	ScheduleCron     string `json:"schedule_cron,omitempty"`
	Steps            []struct {
		Name        string `json:"name"`
		Order       int    `json:"order"`
		DisplayName string `json:"display_name,omitempty"`
		EntityType  string `json:"entity_type"`
	} `json:"steps"`
}

// CreateJobHandler registers a new scheduled job.
func (h *JobHandler) CreateJobHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := RequireTenant(w, r)
	if !ok {
		return
	}

	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	steps := make([]*models.JobStep, 0, len(req.Steps))
	for _, s := range req.Steps {
		steps = append(steps, &models.JobStep{
			Name:        s.Name,
			Order:       s.Order,
			DisplayName: s.DisplayName,
			EntityType:  models.EntityType(s.EntityType),
		})
	}

	jobID := req.ID
	if jobID == "" {
		jobID = common.NewJobID()
	}

	job := models.NewJob(jobID, tenantID, req.IntegrationID, req.JobName, steps)
	job.ScheduleCron = req.ScheduleCron
	if req.ScheduleInterval != "" {
		interval, err := time.ParseDuration(req.ScheduleInterval)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid schedule_interval: "+err.Error())
			return
		}
		job.ScheduleInterval = interval
	}

	if err := job.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.jobs.CreateJob(r.Context(), job); err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to create job")
		WriteDomainError(w, err)
		return
	}

	h.logger.Info().
		Str("job_id", jobID).
		Str("tenant_id", tenantID).
		Int("steps", len(steps)).
		Msg("Job created")
	WriteJSON(w, http.StatusCreated, job)
}

// GetJobHandler returns one job with its step sub-statuses and watermarks.
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	tenantID, ok := RequireTenant(w, r)
	if !ok {
		return
	}

	job, err := h.jobs.GetJob(r.Context(), tenantID, jobID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// DeleteJobHandler removes a job from the registry.
func (h *JobHandler) DeleteJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	tenantID, ok := RequireTenant(w, r)
	if !ok {
		return
	}

	if err := h.jobs.DeleteJob(r.Context(), tenantID, jobID); err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteSuccess(w, "job deleted")
}

// TriggerJobHandler starts a run on demand. Triggering a RUNNING job is
// a no-op; a backpressured orchestrator answers 429.
func (h *JobHandler) TriggerJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	tenantID, ok := RequireTenant(w, r)
	if !ok {
		return
	}

	if err := h.orch.Trigger(r.Context(), tenantID, jobID); err != nil {
		h.logger.Warn().Err(err).
			Str("job_id", jobID).
			Str("tenant_id", tenantID).
			Msg("Job trigger rejected")
		WriteDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status": "triggered",
		"job_id": jobID,
	})
}
