package models

// JobStatus represents the overall status of an ETL job.
// Exactly one status is held at a time; transitions are mediated by the
// job registry (begin/complete) and never written directly by workers.
type JobStatus string

const (
	JobStatusReady     JobStatus = "READY"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

// IsValid checks if the JobStatus is a known, valid status
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusReady, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// IsStartable reports whether a run may begin from this status
func (s JobStatus) IsStartable() bool {
	switch s {
	case JobStatusReady, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// String returns the string representation of the JobStatus
func (s JobStatus) String() string {
	return string(s)
}

// SubStatus represents the per-step, per-worker-type cell in a job's
// steps map: idle → running → finished, or failed from idle/running.
type SubStatus string

const (
	SubStatusIdle     SubStatus = "idle"
	SubStatusRunning  SubStatus = "running"
	SubStatusFinished SubStatus = "finished"
	SubStatusFailed   SubStatus = "failed"
)

// IsValid checks if the SubStatus is a known, valid value
func (s SubStatus) IsValid() bool {
	switch s {
	case SubStatusIdle, SubStatusRunning, SubStatusFinished, SubStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the sub-status state machine permits
// moving from s to next. Failed is sticky within a run; finished is
// terminal for the step. idle → finished is allowed: under unordered
// at-least-once delivery a closing-bracket message can overtake the
// opening one, and it then counts as an implicit open+close.
func (s SubStatus) CanTransitionTo(next SubStatus) bool {
	switch s {
	case SubStatusIdle:
		return next == SubStatusRunning || next == SubStatusFinished || next == SubStatusFailed
	case SubStatusRunning:
		return next == SubStatusFinished || next == SubStatusFailed
	}
	return false
}

// String returns the string representation of the SubStatus
func (s SubStatus) String() string {
	return string(s)
}

// WorkerType identifies which worker class owns a sub-status cell.
type WorkerType string

const (
	WorkerTypeExtraction WorkerType = "extraction"
	WorkerTypeTransform  WorkerType = "transform"
	WorkerTypeEmbedding  WorkerType = "embedding"
)

// IsValid checks if the WorkerType is a known, valid type
func (w WorkerType) IsValid() bool {
	switch w {
	case WorkerTypeExtraction, WorkerTypeTransform, WorkerTypeEmbedding:
		return true
	}
	return false
}

// String returns the string representation of the WorkerType
func (w WorkerType) String() string {
	return string(w)
}

// AllWorkerTypes returns a slice of all valid WorkerType values
func AllWorkerTypes() []WorkerType {
	return []WorkerType{WorkerTypeExtraction, WorkerTypeTransform, WorkerTypeEmbedding}
}
