package models

import (
	"time"
)

// Project is the canonical row for a Jira project.
type Project struct {
	ExternalID string    `json:"external_id"`
	TenantID   string    `json:"tenant_id"`
	Key        string    `json:"key"`
	Name       string    `json:"name"`
	Lead       string    `json:"lead,omitempty"`
	URL        string    `json:"url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"last_updated_at"`
}

// WorkItem is the canonical row for a Jira issue, including the bounded
// mapped custom-field slots and the JSON overflow for everything else.
type WorkItem struct {
	ExternalID  string `json:"external_id"`
	TenantID    string `json:"tenant_id"`
	Key         string `json:"key"`
	ProjectKey  string `json:"project_key"`
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	Assignee    string `json:"assignee,omitempty"`
	Reporter    string `json:"reporter,omitempty"`
	Priority    string `json:"priority,omitempty"`
	IssueType   string `json:"issue_type,omitempty"`

	// CustomFields holds slot -> serialized value for the mapped columns
	// (custom_field_01..20). Unmapped custom fields land in Overflow.
	CustomFields map[string]string `json:"custom_fields,omitempty"`
	Overflow     map[string]string `json:"custom_fields_overflow,omitempty"`

	SourceCreatedAt time.Time `json:"source_created_at"`
	SourceUpdatedAt time.Time `json:"source_updated_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"last_updated_at"`
}

// WorkItemComment is the canonical row for a Jira issue comment.
type WorkItemComment struct {
	ExternalID      string    `json:"external_id"`
	TenantID        string    `json:"tenant_id"`
	IssueKey        string    `json:"issue_key"`
	Author          string    `json:"author,omitempty"`
	Body            string    `json:"body"`
	SourceCreatedAt time.Time `json:"source_created_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"last_updated_at"`
}

// PullRequest is the canonical row for a GitHub pull request.
type PullRequest struct {
	ExternalID      string    `json:"external_id"`
	TenantID        string    `json:"tenant_id"`
	Repo            string    `json:"repo"`
	Number          int       `json:"number"`
	Title           string    `json:"title"`
	Body            string    `json:"body,omitempty"`
	State           string    `json:"state"`
	Author          string    `json:"author,omitempty"`
	BaseBranch      string    `json:"base_branch,omitempty"`
	HeadBranch      string    `json:"head_branch,omitempty"`
	Merged          bool      `json:"merged"`
	SourceCreatedAt time.Time `json:"source_created_at"`
	SourceUpdatedAt time.Time `json:"source_updated_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"last_updated_at"`
}

// Commit is the canonical row for a GitHub commit attached to a PR.
type Commit struct {
	ExternalID       string    `json:"external_id"` // commit SHA
	TenantID         string    `json:"tenant_id"`
	Repo             string    `json:"repo"`
	ParentExternalID string    `json:"parent_external_id"` // owning PR
	Author           string    `json:"author,omitempty"`
	Message          string    `json:"message"`
	SourceCreatedAt  time.Time `json:"source_created_at"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"last_updated_at"`
}

// Review is the canonical row for a GitHub PR review.
type Review struct {
	ExternalID       string    `json:"external_id"`
	TenantID         string    `json:"tenant_id"`
	Repo             string    `json:"repo"`
	ParentExternalID string    `json:"parent_external_id"` // owning PR
	Author           string    `json:"author,omitempty"`
	State            string    `json:"state"`
	Body             string    `json:"body,omitempty"`
	SourceCreatedAt  time.Time `json:"source_created_at"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"last_updated_at"`
}

// PRComment is the canonical row for a GitHub PR comment.
type PRComment struct {
	ExternalID       string    `json:"external_id"`
	TenantID         string    `json:"tenant_id"`
	Repo             string    `json:"repo"`
	ParentExternalID string    `json:"parent_external_id"` // owning PR
	Author           string    `json:"author,omitempty"`
	Body             string    `json:"body"`
	SourceCreatedAt  time.Time `json:"source_created_at"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"last_updated_at"`
}
