package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/confluo/internal/models"
)

func TestUpsertWorkItemWithCustomFields(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	item := &models.WorkItem{
		ExternalID: "10001",
		TenantID:   "tenant-a",
		Key:        "PROJ-1",
		ProjectKey: "PROJ",
		Summary:    "Fix login timeout",
		Status:     "In Progress",
		IssueType:  "Bug",
		CustomFields: map[string]string{
			"custom_field_01": "Sprint 42",
			"custom_field_02": "8",
		},
		Overflow: map[string]string{
			"customfield_10944": "backend, auth",
		},
		SourceCreatedAt: time.Now().Add(-48 * time.Hour),
		SourceUpdatedAt: time.Now(),
	}
	require.NoError(t, mgr.Targets().UpsertWorkItem(ctx, item))

	// Redelivery converges on the same row.
	item.Summary = "Fix login timeout on mobile"
	require.NoError(t, mgr.Targets().UpsertWorkItem(ctx, item))

	text, err := mgr.Targets().TargetText(ctx, "tenant-a", "work_items", "10001")
	require.NoError(t, err)
	assert.Contains(t, text, "PROJ-1")
	assert.Contains(t, text, "Fix login timeout on mobile")
}

func TestUpsertWorkItemTenantIsolation(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	for _, tenant := range []string{"tenant-a", "tenant-b"} {
		item := &models.WorkItem{
			ExternalID: "10001",
			TenantID:   tenant,
			Key:        "PROJ-1",
			ProjectKey: "PROJ",
			Summary:    "summary for " + tenant,
		}
		require.NoError(t, mgr.Targets().UpsertWorkItem(ctx, item))
	}

	textA, err := mgr.Targets().TargetText(ctx, "tenant-a", "work_items", "10001")
	require.NoError(t, err)
	textB, err := mgr.Targets().TargetText(ctx, "tenant-b", "work_items", "10001")
	require.NoError(t, err)
	assert.NotEqual(t, textA, textB)
}

func TestUpsertProjectAndText(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, mgr.Targets().UpsertProject(ctx, &models.Project{
		ExternalID: "10000",
		TenantID:   "tenant-a",
		Key:        "PROJ",
		Name:       "Platform",
	}))

	text, err := mgr.Targets().TargetText(ctx, "tenant-a", "projects", "10000")
	require.NoError(t, err)
	assert.Equal(t, "PROJ Platform", text)
}

func TestUpsertPullRequestChain(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	pr := &models.PullRequest{
		ExternalID: "gh-pr-42",
		TenantID:   "tenant-a",
		Repo:       "acme/api",
		Number:     42,
		Title:      "Add retry middleware",
		Body:       "Wraps outbound calls with exponential backoff.",
		State:      "open",
		Author:     "octocat",
	}
	require.NoError(t, mgr.Targets().UpsertPullRequest(ctx, pr))

	require.NoError(t, mgr.Targets().UpsertCommit(ctx, &models.Commit{
		ExternalID:       "abc123",
		TenantID:         "tenant-a",
		Repo:             "acme/api",
		ParentExternalID: "gh-pr-42",
		Message:          "retry: add middleware",
	}))
	require.NoError(t, mgr.Targets().UpsertReview(ctx, &models.Review{
		ExternalID:       "rev-1",
		TenantID:         "tenant-a",
		Repo:             "acme/api",
		ParentExternalID: "gh-pr-42",
		State:            "APPROVED",
	}))
	require.NoError(t, mgr.Targets().UpsertPRComment(ctx, &models.PRComment{
		ExternalID:       "cmt-1",
		TenantID:         "tenant-a",
		Repo:             "acme/api",
		ParentExternalID: "gh-pr-42",
		Body:             "LGTM",
	}))

	text, err := mgr.Targets().TargetText(ctx, "tenant-a", "prs", "gh-pr-42")
	require.NoError(t, err)
	assert.Contains(t, text, "acme/api#42")

	text, err = mgr.Targets().TargetText(ctx, "tenant-a", "commits", "abc123")
	require.NoError(t, err)
	assert.Equal(t, "retry: add middleware", text)

	text, err = mgr.Targets().TargetText(ctx, "tenant-a", "reviews", "rev-1")
	require.NoError(t, err)
	assert.Equal(t, "APPROVED", text)

	text, err = mgr.Targets().TargetText(ctx, "tenant-a", "pr_comments", "cmt-1")
	require.NoError(t, err)
	assert.Equal(t, "LGTM", text)
}

func TestTargetTextNotFound(t *testing.T) {
	mgr := newTestManager(t)

	_, err := mgr.Targets().TargetText(context.Background(), "tenant-a", "work_items", "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestTargetTextUnknownTable(t *testing.T) {
	mgr := newTestManager(t)

	_, err := mgr.Targets().TargetText(context.Background(), "tenant-a", "sprints", "x")
	assert.Error(t, err)
}
