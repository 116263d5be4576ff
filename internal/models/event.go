package models

import "time"

// ProgressEventType classifies progress channel events.
type ProgressEventType string

const (
	EventSubStatusChanged ProgressEventType = "substatus_changed"
	EventJobStarted       ProgressEventType = "job_started"
	EventJobCompleted     ProgressEventType = "job_completed"
	EventJobFailed        ProgressEventType = "job_failed"
)

// ProgressEvent mirrors one status transition to connected observers.
// Delivery is best-effort; the job registry remains authoritative and
// reconnecting clients re-read it.
type ProgressEvent struct {
	Type       ProgressEventType `json:"type"`
	TenantID   string            `json:"tenant_id"`
	JobID      string            `json:"job_id"`
	StepName   string            `json:"step_name,omitempty"`
	WorkerType WorkerType        `json:"worker_type,omitempty"`
	Value      string            `json:"value,omitempty"`
	Error      string            `json:"error,omitempty"`
	Timestamp  time.Time         `json:"ts"`
}
