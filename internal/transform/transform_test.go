package transform

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/confluo/internal/models"
)

func testIntegration(mappings map[string]string) *models.Integration {
	return &models.Integration{
		ID:                  "int_1",
		TenantID:            "tenant-a",
		Provider:            models.ProviderJira,
		CustomFieldMappings: mappings,
	}
}

func rawRecord(entityType models.EntityType, payload string, ctx map[string]string) *models.RawRecord {
	return &models.RawRecord{
		ID:            "raw_1",
		TenantID:      "tenant-a",
		IntegrationID: "int_1",
		EntityType:    entityType,
		Payload:       json.RawMessage(payload),
		Metadata: models.ExtractionMetadata{
			JobID:    "job_1",
			StepName: "step",
			Context:  ctx,
		},
	}
}

func TestTransformJiraIssue(t *testing.T) {
	payload := `{
		"id": "10001",
		"key": "PROJ-7",
		"fields": {
			"summary": "Fix login timeout",
			"description": "Users are logged out after 5 minutes.",
			"status": {"name": "In Progress"},
			"assignee": {"displayName": "Dana Lee"},
			"reporter": {"displayName": "Sam Ortiz"},
			"priority": {"name": "High"},
			"issuetype": {"name": "Bug"},
			"created": "2026-08-01T10:30:00.000+0000",
			"updated": "2026-08-10T08:15:00.000+0000",
			"customfield_10020": {"name": "Sprint 42"},
			"customfield_10030": 8,
			"customfield_10944": ["backend", "auth"]
		}
	}`

	integ := testIntegration(map[string]string{
		"custom_field_01": "customfield_10020",
		"custom_field_02": "customfield_10030",
	})

	result, err := Transform(rawRecord(models.EntityJiraIssues, payload, nil), integ)
	require.NoError(t, err)
	require.NotNil(t, result.WorkItem)

	item := result.WorkItem
	assert.Equal(t, "work_items", result.Table)
	assert.Equal(t, "10001", result.ExternalID)
	assert.Equal(t, "PROJ-7", item.Key)
	assert.Equal(t, "PROJ", item.ProjectKey)
	assert.Equal(t, "In Progress", item.Status)
	assert.Equal(t, "Dana Lee", item.Assignee)
	assert.Equal(t, "Bug", item.IssueType)
	assert.Equal(t, time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC), item.SourceCreatedAt)

	// Mapped fields land in slots, unmapped ones in the overflow.
	assert.Equal(t, "Sprint 42", item.CustomFields["custom_field_01"])
	assert.Equal(t, "8", item.CustomFields["custom_field_02"])
	assert.Equal(t, "backend, auth", item.Overflow["customfield_10944"])
}

func TestTransformJiraIssueNullCustomFieldsDropped(t *testing.T) {
	payload := `{
		"id": "10002",
		"key": "PROJ-8",
		"fields": {
			"summary": "A",
			"customfield_10020": null,
			"customfield_10030": ""
		}
	}`

	result, err := Transform(rawRecord(models.EntityJiraIssues, payload, nil),
		testIntegration(map[string]string{"custom_field_01": "customfield_10020"}))
	require.NoError(t, err)
	assert.Empty(t, result.WorkItem.CustomFields)
	assert.Empty(t, result.WorkItem.Overflow)
}

func TestTransformJiraProject(t *testing.T) {
	payload := `{
		"id": "10000",
		"key": "PROJ",
		"name": "Platform",
		"lead": {"displayName": "Dana Lee"},
		"self": "https://example.atlassian.net/rest/api/2/project/10000"
	}`

	result, err := Transform(rawRecord(models.EntityJiraProjects, payload, nil), testIntegration(nil))
	require.NoError(t, err)
	assert.Equal(t, "projects", result.Table)
	assert.Equal(t, "Platform", result.Project.Name)
	assert.Equal(t, "Dana Lee", result.Project.Lead)
}

func TestTransformJiraComment(t *testing.T) {
	payload := `{
		"id": "20001",
		"author": {"displayName": "Sam Ortiz"},
		"body": "Reproduced on staging.",
		"created": "2026-08-05T12:00:00.000+0000"
	}`

	result, err := Transform(
		rawRecord(models.EntityJiraComments, payload, map[string]string{"issue_key": "PROJ-7"}),
		testIntegration(nil))
	require.NoError(t, err)
	assert.Equal(t, "work_item_comments", result.Table)
	assert.Equal(t, "PROJ-7", result.WorkItemComment.IssueKey)
	assert.Equal(t, "Reproduced on staging.", result.WorkItemComment.Body)
}

func TestTransformJiraCommentMissingContext(t *testing.T) {
	_, err := Transform(
		rawRecord(models.EntityJiraComments, `{"id": "20001", "body": "x"}`, nil),
		testIntegration(nil))
	assert.Error(t, err)
}

func TestTransformGitHubPR(t *testing.T) {
	payload := `{
		"id": 987654,
		"number": 42,
		"title": "Add retry middleware",
		"body": "Wraps outbound calls.",
		"state": "closed",
		"user": {"login": "octocat"},
		"base": {"ref": "main", "repo": {"full_name": "acme/api"}},
		"head": {"ref": "feature/retry"},
		"merged_at": "2026-08-12T09:00:00Z",
		"created_at": "2026-08-10T09:00:00Z",
		"updated_at": "2026-08-12T09:00:00Z"
	}`

	result, err := Transform(rawRecord(models.EntityGitHubPRs, payload, nil), testIntegration(nil))
	require.NoError(t, err)
	require.NotNil(t, result.PullRequest)

	pr := result.PullRequest
	assert.Equal(t, "987654", result.ExternalID)
	assert.Equal(t, "acme/api", pr.Repo)
	assert.Equal(t, 42, pr.Number)
	assert.Equal(t, "octocat", pr.Author)
	assert.True(t, pr.Merged)
	assert.Equal(t, "main", pr.BaseBranch)
}

func TestTransformGitHubCommit(t *testing.T) {
	payload := `{
		"sha": "abc123",
		"commit": {
			"message": "retry: add middleware",
			"author": {"name": "Octo Cat", "date": "2026-08-11T10:00:00Z"}
		},
		"author": {"login": "octocat"}
	}`

	ctx := map[string]string{"repo": "acme/api", "parent": "987654"}
	result, err := Transform(rawRecord(models.EntityGitHubCommits, payload, ctx), testIntegration(nil))
	require.NoError(t, err)
	assert.Equal(t, "abc123", result.ExternalID)
	assert.Equal(t, "octocat", result.Commit.Author)
	assert.Equal(t, "987654", result.Commit.ParentExternalID)
}

func TestTransformGitHubReviewAndComment(t *testing.T) {
	ctx := map[string]string{"repo": "acme/api", "parent": "987654"}

	result, err := Transform(rawRecord(models.EntityGitHubReviews,
		`{"id": 555, "state": "APPROVED", "body": "ship it", "user": {"login": "reviewer"}, "submitted_at": "2026-08-12T08:00:00Z"}`,
		ctx), testIntegration(nil))
	require.NoError(t, err)
	assert.Equal(t, "reviews", result.Table)
	assert.Equal(t, "APPROVED", result.Review.State)

	result, err = Transform(rawRecord(models.EntityGitHubComments,
		`{"id": 777, "body": "LGTM", "user": {"login": "reviewer"}, "created_at": "2026-08-12T08:05:00Z"}`,
		ctx), testIntegration(nil))
	require.NoError(t, err)
	assert.Equal(t, "pr_comments", result.Table)
	assert.Equal(t, "LGTM", result.PRComment.Body)
}

func TestTransformTenantMismatch(t *testing.T) {
	rec := rawRecord(models.EntityJiraIssues, `{}`, nil)
	rec.TenantID = "tenant-b"

	_, err := Transform(rec, testIntegration(nil))
	assert.ErrorIs(t, err, models.ErrTenantMismatch)
}

func TestCollapseValue(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want string
	}{
		{"nil", nil, ""},
		{"string", "hello", "hello"},
		{"int number", float64(8), "8"},
		{"fraction", 2.5, "2.5"},
		{"bool", true, "true"},
		{"object displayName", map[string]interface{}{"displayName": "Dana"}, "Dana"},
		{"object name", map[string]interface{}{"name": "Sprint 42"}, "Sprint 42"},
		{"object value", map[string]interface{}{"value": "High"}, "High"},
		{"array", []interface{}{"a", "b"}, "a, b"},
		{"array of objects", []interface{}{
			map[string]interface{}{"name": "backend"},
			map[string]interface{}{"name": "auth"},
		}, "backend, auth"},
		{"nested empty dropped", []interface{}{"", "x"}, "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, collapseValue(tt.in))
		})
	}
}
