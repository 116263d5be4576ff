package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewRawID generates a unique raw record ID with the "raw_" prefix
func NewRawID() string {
	return "raw_" + uuid.New().String()
}

// NewMessageID generates a unique queue message ID with the "msg_" prefix
func NewMessageID() string {
	return "msg_" + uuid.New().String()
}

// NewIntegrationID generates a unique integration ID with the "int_" prefix
func NewIntegrationID() string {
	return "int_" + uuid.New().String()
}
