package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Provider identifies the external system an integration connects to.
type Provider string

const (
	ProviderJira   Provider = "jira"
	ProviderGitHub Provider = "github"
)

// IsValid checks if the Provider is a known, valid provider
func (p Provider) IsValid() bool {
	switch p {
	case ProviderJira, ProviderGitHub:
		return true
	}
	return false
}

// String returns the string representation of the Provider
func (p Provider) String() string {
	return string(p)
}

// MaxCustomFieldSlots bounds the mapped custom-field columns on work items.
const MaxCustomFieldSlots = 20

// IntegrationSettings holds the per-integration connection parameters.
// Unknown keys from the admin path are preserved in Extra.
type IntegrationSettings struct {
	BaseURL  string   `json:"base_url"`
	Projects []string `json:"projects,omitempty"` // Jira project keys to sync
	Owner    string   `json:"owner,omitempty"`    // GitHub org or user
	Repos    []string `json:"repos,omitempty"`    // GitHub repository names

	Extra map[string]json.RawMessage `json:"-"`
}

// Integration is a configured connection to one external source system
// for one tenant. Credentials are opaque to the core and decoded only by
// the source adapters.
type Integration struct {
	ID                  string              `json:"id"`
	TenantID            string              `json:"tenant_id"`
	Provider            Provider            `json:"provider"`
	Credentials         json.RawMessage     `json:"credentials"`
	Settings            IntegrationSettings `json:"settings"`
	CustomFieldMappings map[string]string   `json:"custom_field_mappings"` // slot name -> source field id
	Active              bool                `json:"active"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// Validate checks the structural invariants of an integration.
func (i *Integration) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("integration ID is required")
	}
	if i.TenantID == "" {
		return fmt.Errorf("tenant ID is required")
	}
	if !i.Provider.IsValid() {
		return fmt.Errorf("unknown provider: %s", i.Provider)
	}
	if len(i.CustomFieldMappings) > MaxCustomFieldSlots {
		return fmt.Errorf("custom field mappings exceed %d slots: %d", MaxCustomFieldSlots, len(i.CustomFieldMappings))
	}
	for slot := range i.CustomFieldMappings {
		if !ValidCustomFieldSlot(slot) {
			return fmt.Errorf("invalid custom field slot: %s", slot)
		}
	}
	return nil
}

// ValidCustomFieldSlot reports whether slot names a mapped column,
// custom_field_01 through custom_field_20.
func ValidCustomFieldSlot(slot string) bool {
	for n := 1; n <= MaxCustomFieldSlots; n++ {
		if slot == CustomFieldSlot(n) {
			return true
		}
	}
	return false
}

// CustomFieldSlot returns the column name for slot n (1-based).
func CustomFieldSlot(n int) string {
	return fmt.Sprintf("custom_field_%02d", n)
}

// JiraCredentials is the credential shape the Jira adapter decodes.
type JiraCredentials struct {
	Email    string `json:"email"`
	APIToken string `json:"api_token"`
}

// GitHubCredentials is the credential shape the GitHub adapter decodes.
type GitHubCredentials struct {
	Token string `json:"token"`
}
