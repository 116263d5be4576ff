package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProcessingStatus tracks a raw record through the transform phase.
// Status advances monotonically pending → transformed or pending → failed;
// a retry resets a failed row to pending.
type ProcessingStatus string

const (
	ProcessingPending     ProcessingStatus = "pending"
	ProcessingTransformed ProcessingStatus = "transformed"
	ProcessingFailed      ProcessingStatus = "failed"
)

// IsValid checks if the ProcessingStatus is a known, valid value
func (s ProcessingStatus) IsValid() bool {
	switch s {
	case ProcessingPending, ProcessingTransformed, ProcessingFailed:
		return true
	}
	return false
}

// String returns the string representation of the ProcessingStatus
func (s ProcessingStatus) String() string {
	return string(s)
}

// ExtractionMetadata captures the query context a raw record was
// extracted under, for replay and debugging.
type ExtractionMetadata struct {
	JobID     string    `json:"job_id"`
	StepName  string    `json:"step_name"`
	Watermark time.Time `json:"watermark"`
	Query     string    `json:"query,omitempty"`
	Page      int       `json:"page,omitempty"`

	// Context carries source-side linkage the payload itself lacks, such
	// as the owning repo or parent PR for GitHub child entities.
	Context map[string]string `json:"context,omitempty"`
}

// RawRecord is the unmodified payload of one extracted entity, staged
// for the transform phase. The payload is never mutated after insert;
// raw records are the replay source for reprocessing.
type RawRecord struct {
	ID            string             `json:"id"`
	TenantID      string             `json:"tenant_id"`
	IntegrationID string             `json:"integration_id"`
	EntityType    EntityType         `json:"entity_type"`
	ExternalID    string             `json:"external_id,omitempty"`
	Payload       json.RawMessage    `json:"payload"`
	Metadata      ExtractionMetadata `json:"metadata"`
	Status        ProcessingStatus   `json:"processing_status"`
	Error         string             `json:"error,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	ProcessedAt   *time.Time         `json:"processed_at,omitempty"`
}

// Validate checks the structural invariants of a raw record.
func (r *RawRecord) Validate() error {
	if r.TenantID == "" {
		return fmt.Errorf("tenant ID is required")
	}
	if r.IntegrationID == "" {
		return fmt.Errorf("integration ID is required")
	}
	if !r.EntityType.IsValid() {
		return fmt.Errorf("invalid entity type: %s", r.EntityType)
	}
	if len(r.Payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	return nil
}
