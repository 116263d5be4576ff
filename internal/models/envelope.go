package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNoMessage is returned by Receive when a queue has no visible
// messages. Pollers treat it as a normal idle signal, not a failure.
var ErrNoMessage = errors.New("no messages in queue")

// QueueName identifies one of the broker's logical queues.
type QueueName string

const (
	QueueExtract    QueueName = "extract"
	QueueTransform  QueueName = "transform"
	QueueEmbed      QueueName = "embed"
	QueueDeadLetter QueueName = "etl.dead"
)

// IsValid checks if the QueueName is a known, valid queue
func (q QueueName) IsValid() bool {
	switch q {
	case QueueExtract, QueueTransform, QueueEmbed, QueueDeadLetter:
		return true
	}
	return false
}

// String returns the string representation of the QueueName
func (q QueueName) String() string {
	return string(q)
}

// Message priorities. Lower values are delivered first.
const (
	PriorityUrgent  = 1 // discovery and operator-triggered work
	PriorityDefault = 5
	PriorityLow     = 10
)

// Ref points at the work a message references. Exactly one shape is
// populated depending on the queue: RawID for transform, TargetTable +
// ExternalID for embed, Params for extract. A nil Ref on an envelope is
// a sentinel that only propagates flags.
type Ref struct {
	RawID       string          `json:"raw_id,omitempty"`
	TargetTable string          `json:"target_table,omitempty"`
	ExternalID  string          `json:"external_id,omitempty"`
	Params      json.RawMessage `json:"params,omitempty"`
}

// Envelope is the single message shape shared by all queues. The
// first/last/last-job flags are the bracket protocol that sequences the
// extract, transform and embed stages; they do not imply delivery order.
type Envelope struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenant_id"`
	IntegrationID string     `json:"integration_id"`
	JobID         string     `json:"job_id"`
	StepName      string     `json:"step_name"`
	EntityType    EntityType `json:"entity_type"`
	Ref           *Ref       `json:"ref,omitempty"`
	FirstItem     bool       `json:"first_item"`
	LastItem      bool       `json:"last_item"`
	LastJobItem   bool       `json:"last_job_item"`
	Attempt       int        `json:"attempt"`
	EnqueuedAt    time.Time  `json:"enqueued_at"`
	Priority      int        `json:"priority"`
}

// IsSentinel reports whether this envelope carries flags only. Sentinels
// traverse empty steps so closing brackets still arrive downstream.
func (e *Envelope) IsSentinel() bool {
	return e.Ref == nil
}

// Validate checks the structural invariants of an envelope.
func (e *Envelope) Validate() error {
	if e.TenantID == "" {
		return fmt.Errorf("envelope tenant ID is required")
	}
	if e.JobID == "" {
		return fmt.Errorf("envelope job ID is required")
	}
	if e.StepName == "" {
		return fmt.Errorf("envelope step name is required")
	}
	if !e.EntityType.IsValid() {
		return fmt.Errorf("envelope has invalid entity type: %s", e.EntityType)
	}
	if e.LastJobItem && !e.LastItem {
		return fmt.Errorf("last_job_item requires last_item")
	}
	return nil
}

// ToJSON serializes the envelope for queue storage
func (e *Envelope) ToJSON() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

// EnvelopeFromJSON deserializes an envelope from queue storage
func EnvelopeFromJSON(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return &env, nil
}

// ExtractParams is the parameter block carried on extract messages,
// derived from the step watermark and integration settings.
type ExtractParams struct {
	Since    time.Time `json:"since,omitempty"`
	PageSize int       `json:"page_size,omitempty"`
}

// NewExtractRef builds the ref for an extract trigger message.
func NewExtractRef(params ExtractParams) *Ref {
	data, _ := json.Marshal(params)
	return &Ref{Params: data}
}

// ExtractParams decodes the parameter block of an extract trigger.
func (r *Ref) ExtractParams() (ExtractParams, error) {
	var params ExtractParams
	if r == nil || len(r.Params) == 0 {
		return params, nil
	}
	if err := json.Unmarshal(r.Params, &params); err != nil {
		return params, fmt.Errorf("failed to decode extract params: %w", err)
	}
	return params, nil
}

// WithFlags returns a copy of the envelope with the bracket flags set.
func (e *Envelope) WithFlags(first, last, lastJob bool) *Envelope {
	clone := *e
	clone.FirstItem = first
	clone.LastItem = last
	clone.LastJobItem = lastJob
	return &clone
}
