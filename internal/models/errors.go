package models

import "errors"

// Sentinel errors shared across storage and queue implementations.
// Callers match them with errors.Is.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a state transition lost a race or violated
	// the state machine, such as starting a job that is already RUNNING.
	ErrConflict = errors.New("conflicting state transition")

	// ErrTenantMismatch indicates a record was addressed with the wrong
	// tenant scope.
	ErrTenantMismatch = errors.New("tenant mismatch")
)
