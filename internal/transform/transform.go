// Package transform maps raw source payloads onto the canonical target
// rows. Mapping is pure: the same raw record and integration config
// always produce the same row, which keeps queue redeliveries idempotent.
package transform

import (
	"fmt"

	"github.com/ternarybob/confluo/internal/models"
)

// Result is the outcome of transforming one raw record. Exactly one row
// pointer is set, matching Table.
type Result struct {
	Table      string
	ExternalID string

	Project         *models.Project
	WorkItem        *models.WorkItem
	WorkItemComment *models.WorkItemComment
	PullRequest     *models.PullRequest
	Commit          *models.Commit
	Review          *models.Review
	PRComment       *models.PRComment
}

// Transform maps one raw record to its canonical row using the
// integration's custom field mappings.
func Transform(rec *models.RawRecord, integ *models.Integration) (*Result, error) {
	if rec.TenantID != integ.TenantID {
		return nil, models.ErrTenantMismatch
	}

	switch rec.EntityType {
	case models.EntityJiraProjects:
		return transformJiraProject(rec)
	case models.EntityJiraIssues:
		return transformJiraIssue(rec, integ)
	case models.EntityJiraComments:
		return transformJiraComment(rec)
	case models.EntityGitHubPRs:
		return transformGitHubPR(rec)
	case models.EntityGitHubCommits:
		return transformGitHubCommit(rec)
	case models.EntityGitHubReviews:
		return transformGitHubReview(rec)
	case models.EntityGitHubComments:
		return transformGitHubComment(rec)
	default:
		return nil, fmt.Errorf("no transform for entity type %s", rec.EntityType)
	}
}
