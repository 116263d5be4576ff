package models

import "time"

// CustomFieldCatalogEntry records a custom field observed during Jira
// discovery. Entries are tracked per tenant with first/last seen
// timestamps; a field absent from the latest discovery stays in the
// catalog with active=false.
type CustomFieldCatalogEntry struct {
	TenantID      string    `json:"tenant_id"`
	IntegrationID string    `json:"integration_id"`
	FieldID       string    `json:"field_id"`
	Name          string    `json:"name"`
	FieldType     string    `json:"field_type,omitempty"`
	Active        bool      `json:"active"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
}

// IssueTypeCatalogEntry records an issue type observed during Jira
// discovery.
type IssueTypeCatalogEntry struct {
	TenantID      string    `json:"tenant_id"`
	IntegrationID string    `json:"integration_id"`
	TypeID        string    `json:"type_id"`
	Name          string    `json:"name"`
	Subtask       bool      `json:"subtask"`
	Active        bool      `json:"active"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
}

// DiscoveryResult is what a provider's discovery call returns.
type DiscoveryResult struct {
	CustomFields []CustomFieldCatalogEntry `json:"custom_fields"`
	IssueTypes   []IssueTypeCatalogEntry   `json:"issue_types"`
}
