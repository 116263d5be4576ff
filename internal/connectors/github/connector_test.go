package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/confluo/internal/interfaces"
	"github.com/ternarybob/confluo/internal/models"
)

func testIntegration(baseURL string, repos ...string) *models.Integration {
	creds, _ := json.Marshal(models.GitHubCredentials{Token: "ghp_test"})
	return &models.Integration{
		ID:          "int_1",
		TenantID:    "tenant-a",
		Provider:    models.ProviderGitHub,
		Credentials: creds,
		Settings: models.IntegrationSettings{
			BaseURL: baseURL,
			Owner:   "acme",
			Repos:   repos,
		},
		Active: true,
	}
}

func prJSON(id int64, number int, updated string) string {
	return fmt.Sprintf(`{
		"id": %d,
		"number": %d,
		"title": "PR %d",
		"state": "open",
		"user": {"login": "octocat"},
		"updated_at": %q
	}`, id, number, number, updated)
}

func TestExtractPRsWithWatermarkCutoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/repos/acme/api/pulls", r.URL.Path)
		assert.Equal(t, "updated", r.URL.Query().Get("sort"))
		assert.Equal(t, "desc", r.URL.Query().Get("direction"))
		fmt.Fprintf(w, "[%s, %s]",
			prJSON(101, 2, "2026-08-15T10:00:00Z"),
			prJSON(100, 1, "2026-07-01T10:00:00Z"))
	}))
	defer server.Close()

	page, err := NewConnector(arbor.NewLogger()).Extract(context.Background(),
		testIntegration(server.URL, "api"),
		interfaces.ExtractRequest{
			EntityType: models.EntityGitHubPRs,
			Since:      time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		})
	require.NoError(t, err)

	// The second PR predates the watermark, so only the first is emitted
	// and the repo is finished.
	require.Len(t, page.Items, 1)
	assert.Equal(t, "101", page.Items[0].ExternalID)
	assert.Equal(t, "acme/api", page.Items[0].Context["repo"])
	assert.True(t, page.Done)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(page.Items[0].Payload, &payload))
	assert.Equal(t, "octocat", payload["user"].(map[string]interface{})["login"])
}

func TestExtractAdvancesAcrossRepos(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/repos/acme/api/pulls":
			fmt.Fprintf(w, "[%s]", prJSON(101, 1, "2026-08-15T10:00:00Z"))
		case "/api/v3/repos/acme/web/pulls":
			fmt.Fprintf(w, "[%s]", prJSON(201, 1, "2026-08-16T10:00:00Z"))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	conn := NewConnector(arbor.NewLogger())
	integ := testIntegration(server.URL, "api", "web")

	page, err := conn.Extract(context.Background(), integ,
		interfaces.ExtractRequest{EntityType: models.EntityGitHubPRs})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.False(t, page.Done)
	assert.Equal(t, "1:1", page.NextCursor)

	page, err = conn.Extract(context.Background(), integ,
		interfaces.ExtractRequest{EntityType: models.EntityGitHubPRs, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "acme/web", page.Items[0].Context["repo"])
	assert.True(t, page.Done)
}

func TestExtractCommitsCarryParentLinkage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/repos/acme/api/pulls":
			fmt.Fprintf(w, "[%s]", prJSON(101, 7, "2026-08-15T10:00:00Z"))
		case "/api/v3/repos/acme/api/pulls/7/commits":
			fmt.Fprint(w, `[
				{"sha": "abc123", "commit": {"message": "first"}},
				{"sha": "def456", "commit": {"message": "second"}}
			]`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	page, err := NewConnector(arbor.NewLogger()).Extract(context.Background(),
		testIntegration(server.URL, "api"),
		interfaces.ExtractRequest{EntityType: models.EntityGitHubCommits})
	require.NoError(t, err)

	require.Len(t, page.Items, 2)
	assert.Equal(t, "abc123", page.Items[0].ExternalID)
	for _, item := range page.Items {
		assert.Equal(t, "acme/api", item.Context["repo"])
		assert.Equal(t, "101", item.Context["parent"])
	}
	assert.True(t, page.Done)
}

func TestExtractReviewsAndComments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/repos/acme/api/pulls":
			fmt.Fprintf(w, "[%s]", prJSON(101, 7, "2026-08-15T10:00:00Z"))
		case "/api/v3/repos/acme/api/pulls/7/reviews":
			fmt.Fprint(w, `[{"id": 555, "state": "APPROVED", "user": {"login": "reviewer"}}]`)
		case "/api/v3/repos/acme/api/pulls/7/comments":
			fmt.Fprint(w, `[{"id": 777, "body": "LGTM", "user": {"login": "reviewer"}}]`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	conn := NewConnector(arbor.NewLogger())
	integ := testIntegration(server.URL, "api")

	page, err := conn.Extract(context.Background(), integ,
		interfaces.ExtractRequest{EntityType: models.EntityGitHubReviews})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "555", page.Items[0].ExternalID)

	page, err = conn.Extract(context.Background(), integ,
		interfaces.ExtractRequest{EntityType: models.EntityGitHubComments})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "777", page.Items[0].ExternalID)
}

func TestExtractRejectsBadCursor(t *testing.T) {
	_, err := NewConnector(arbor.NewLogger()).Extract(context.Background(),
		testIntegration("http://unused", "api"),
		interfaces.ExtractRequest{EntityType: models.EntityGitHubPRs, Cursor: "bogus"})
	assert.Error(t, err)
}

func TestExtractRequiresToken(t *testing.T) {
	integ := testIntegration("http://unused", "api")
	integ.Credentials = json.RawMessage(`{}`)

	_, err := NewConnector(arbor.NewLogger()).Extract(context.Background(), integ,
		interfaces.ExtractRequest{EntityType: models.EntityGitHubPRs})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token")
}

func TestExtractRejectsForeignEntityType(t *testing.T) {
	_, err := NewConnector(arbor.NewLogger()).Extract(context.Background(),
		testIntegration("http://unused", "api"),
		interfaces.ExtractRequest{EntityType: models.EntityJiraIssues})
	assert.Error(t, err)
}

func TestDiscoverReturnsEmptyResult(t *testing.T) {
	result, err := NewConnector(arbor.NewLogger()).Discover(context.Background(),
		testIntegration("http://unused", "api"))
	require.NoError(t, err)
	assert.Empty(t, result.CustomFields)
	assert.Empty(t, result.IssueTypes)
}
