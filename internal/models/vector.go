package models

import (
	"fmt"
	"time"
)

// VectorPoint is one embedding in a tenant-scoped collection. Writes are
// last-writer-wins; the point id is the target row's external id.
type VectorPoint struct {
	TenantID   string    `json:"tenant_id"`
	Collection string    `json:"collection"`
	ExternalID string    `json:"external_id"`
	Vector     []float32 `json:"vector"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Key returns the unique storage key for this point.
func (p *VectorPoint) Key() string {
	return fmt.Sprintf("%s/%s", p.Collection, p.ExternalID)
}

// Validate checks the structural invariants of a vector point.
func (p *VectorPoint) Validate() error {
	if p.TenantID == "" {
		return fmt.Errorf("tenant ID is required")
	}
	if p.Collection == "" {
		return fmt.Errorf("collection is required")
	}
	if p.ExternalID == "" {
		return fmt.Errorf("external ID is required")
	}
	if len(p.Vector) == 0 {
		return fmt.Errorf("vector is empty")
	}
	return nil
}
