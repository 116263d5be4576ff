package models

import "fmt"

// EntityType identifies the kind of source entity a step extracts.
// Each entity type maps to exactly one target table and one vector
// collection suffix.
type EntityType string

const (
	EntityJiraProjects   EntityType = "jira_projects"
	EntityJiraIssues     EntityType = "jira_issues"
	EntityJiraComments   EntityType = "jira_comments"
	EntityJiraDiscovery  EntityType = "jira_discovery"
	EntityGitHubPRs      EntityType = "github_prs"
	EntityGitHubCommits  EntityType = "github_commits"
	EntityGitHubReviews  EntityType = "github_reviews"
	EntityGitHubComments EntityType = "github_comments"
)

// IsValid checks if the EntityType is a known, valid type
func (e EntityType) IsValid() bool {
	switch e {
	case EntityJiraProjects, EntityJiraIssues, EntityJiraComments, EntityJiraDiscovery,
		EntityGitHubPRs, EntityGitHubCommits, EntityGitHubReviews, EntityGitHubComments:
		return true
	}
	return false
}

// String returns the string representation of the EntityType
func (e EntityType) String() string {
	return string(e)
}

// TargetTable returns the relational table this entity type loads into.
// Discovery steps write catalogs only and have no target table.
func (e EntityType) TargetTable() string {
	switch e {
	case EntityJiraProjects:
		return "projects"
	case EntityJiraIssues:
		return "work_items"
	case EntityJiraComments:
		return "work_item_comments"
	case EntityGitHubPRs:
		return "prs"
	case EntityGitHubCommits:
		return "commits"
	case EntityGitHubReviews:
		return "reviews"
	case EntityGitHubComments:
		return "pr_comments"
	}
	return ""
}

// Embeddable reports whether rows of this entity type receive vectors.
func (e EntityType) Embeddable() bool {
	return e.TargetTable() != ""
}

// VectorCollection returns the tenant-scoped vector collection name.
func (e EntityType) VectorCollection(tenantID string) string {
	return fmt.Sprintf("tenant_%s_%s", tenantID, e)
}

// AllEntityTypes returns a slice of all valid EntityType values
func AllEntityTypes() []EntityType {
	return []EntityType{
		EntityJiraProjects,
		EntityJiraIssues,
		EntityJiraComments,
		EntityJiraDiscovery,
		EntityGitHubPRs,
		EntityGitHubCommits,
		EntityGitHubReviews,
		EntityGitHubComments,
	}
}
