package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// JobStep is one named, entity-type-scoped phase within a job. Each step
// carries three sub-status cells, one per worker class. Order is dense
// from 1..N within a job.
type JobStep struct {
	Name        string     `json:"name"`
	Order       int        `json:"order"`
	DisplayName string     `json:"display_name"`
	EntityType  EntityType `json:"entity_type"`
	Extraction  SubStatus  `json:"extraction"`
	Transform   SubStatus  `json:"transform"`
	Embedding   SubStatus  `json:"embedding"`
}

// SubStatusFor returns the cell for the given worker type.
func (s *JobStep) SubStatusFor(workerType WorkerType) SubStatus {
	switch workerType {
	case WorkerTypeExtraction:
		return s.Extraction
	case WorkerTypeTransform:
		return s.Transform
	case WorkerTypeEmbedding:
		return s.Embedding
	}
	return ""
}

// SetSubStatus sets the cell for the given worker type.
func (s *JobStep) SetSubStatus(workerType WorkerType, value SubStatus) {
	switch workerType {
	case WorkerTypeExtraction:
		s.Extraction = value
	case WorkerTypeTransform:
		s.Transform = value
	case WorkerTypeEmbedding:
		s.Embedding = value
	}
}

// Job is one row of the job registry: a scheduled unit of work for one
// integration, composed of an ordered sequence of steps.
type Job struct {
	ID               string               `json:"id"`
	TenantID         string               `json:"tenant_id"`
	IntegrationID    string               `json:"integration_id"`
	JobName          string               `json:"job_name"`
	Active           bool                 `json:"active"`
	ScheduleInterval time.Duration        `json:"schedule_interval"`
	ScheduleCron     string               `json:"schedule_cron,omitempty"` // optional; overrides interval when set
	NextRun          time.Time            `json:"next_run"`
	OverallStatus    JobStatus            `json:"overall_status"`
	Steps            map[string]*JobStep  `json:"steps"`
	RetryCount       int                  `json:"retry_count"`
	LastRunStarted   *time.Time           `json:"last_run_started,omitempty"`
	LastRunFinished  *time.Time           `json:"last_run_finished,omitempty"`
	Watermarks       map[string]time.Time `json:"last_sync_watermark"`
	ErrorMessage     string               `json:"error_message,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// NewJob creates a job in READY state with all sub-statuses idle.
func NewJob(id, tenantID, integrationID, jobName string, steps []*JobStep) *Job {
	stepMap := make(map[string]*JobStep, len(steps))
	for _, step := range steps {
		step.Extraction = SubStatusIdle
		step.Transform = SubStatusIdle
		step.Embedding = SubStatusIdle
		stepMap[step.Name] = step
	}
	now := time.Now().UTC()
	return &Job{
		ID:            id,
		TenantID:      tenantID,
		IntegrationID: integrationID,
		JobName:       jobName,
		Active:        true,
		OverallStatus: JobStatusReady,
		Steps:         stepMap,
		Watermarks:    make(map[string]time.Time),
		NextRun:       now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// OrderedSteps returns the steps sorted by their dense order.
func (j *Job) OrderedSteps() []*JobStep {
	steps := make([]*JobStep, 0, len(j.Steps))
	for _, step := range j.Steps {
		steps = append(steps, step)
	}
	sort.Slice(steps, func(a, b int) bool { return steps[a].Order < steps[b].Order })
	return steps
}

// FirstStep returns the step with order 1, or nil if the job has no steps.
func (j *Job) FirstStep() *JobStep {
	for _, step := range j.Steps {
		if step.Order == 1 {
			return step
		}
	}
	return nil
}

// NextStep returns the step following the named one, or nil for the last.
func (j *Job) NextStep(stepName string) *JobStep {
	current, ok := j.Steps[stepName]
	if !ok {
		return nil
	}
	for _, step := range j.Steps {
		if step.Order == current.Order+1 {
			return step
		}
	}
	return nil
}

// IsLastStep reports whether the named step is the final step of the job.
func (j *Job) IsLastStep(stepName string) bool {
	step, ok := j.Steps[stepName]
	if !ok {
		return false
	}
	for _, other := range j.Steps {
		if other.Order > step.Order {
			return false
		}
	}
	return true
}

// AllEmbeddingFinished reports whether every step's embedding cell is
// finished. This is the completion condition for the whole job.
func (j *Job) AllEmbeddingFinished() bool {
	for _, step := range j.Steps {
		if step.Embedding != SubStatusFinished {
			return false
		}
	}
	return true
}

// ResetSubStatuses returns every cell of every step to idle. Called on
// begin-run so a retry starts from a clean slate.
func (j *Job) ResetSubStatuses() {
	for _, step := range j.Steps {
		step.Extraction = SubStatusIdle
		step.Transform = SubStatusIdle
		step.Embedding = SubStatusIdle
	}
}

// Watermark returns the per-step incremental checkpoint, zero if none.
func (j *Job) Watermark(stepName string) time.Time {
	if j.Watermarks == nil {
		return time.Time{}
	}
	return j.Watermarks[stepName]
}

// Validate checks the structural invariants of a job.
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if j.TenantID == "" {
		return fmt.Errorf("tenant ID is required")
	}
	if j.IntegrationID == "" {
		return fmt.Errorf("integration ID is required")
	}
	if !j.OverallStatus.IsValid() {
		return fmt.Errorf("invalid overall status: %s", j.OverallStatus)
	}
	if len(j.Steps) == 0 {
		return fmt.Errorf("job must have at least one step")
	}

	// Orders must be dense 1..N.
	seen := make(map[int]string, len(j.Steps))
	for name, step := range j.Steps {
		if step.Name != name {
			return fmt.Errorf("step key %q does not match step name %q", name, step.Name)
		}
		if prior, dup := seen[step.Order]; dup {
			return fmt.Errorf("steps %q and %q share order %d", prior, name, step.Order)
		}
		seen[step.Order] = name
		if !step.EntityType.IsValid() {
			return fmt.Errorf("step %q has invalid entity type %q", name, step.EntityType)
		}
	}
	for order := 1; order <= len(j.Steps); order++ {
		if _, ok := seen[order]; !ok {
			return fmt.Errorf("step orders are not dense: missing order %d", order)
		}
	}
	return nil
}

// StepsJSON serializes the steps map for persistence.
func (j *Job) StepsJSON() ([]byte, error) {
	data, err := json.Marshal(j.Steps)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job steps: %w", err)
	}
	return data, nil
}

// WatermarksJSON serializes the watermark map for persistence.
func (j *Job) WatermarksJSON() ([]byte, error) {
	data, err := json.Marshal(j.Watermarks)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job watermarks: %w", err)
	}
	return data, nil
}
