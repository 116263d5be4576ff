package transform

import (
	"fmt"
	"strconv"

	"github.com/ternarybob/confluo/internal/models"
)

func transformGitHubPR(rec *models.RawRecord) (*Result, error) {
	payload, err := decodePayload(rec)
	if err != nil {
		return nil, err
	}

	number := numberField(payload, "number")
	if number == 0 {
		return nil, fmt.Errorf("github pr payload has no number")
	}

	repo := rec.Metadata.Context["repo"]
	if repo == "" {
		repo = nestedString(payload, "base", "repo", "full_name")
	}
	if repo == "" {
		return nil, fmt.Errorf("github pr %d has no repo context", number)
	}

	externalID := githubExternalID(payload)
	if externalID == "" {
		externalID = fmt.Sprintf("%s#%d", repo, number)
	}

	pr := &models.PullRequest{
		ExternalID:      externalID,
		TenantID:        rec.TenantID,
		Repo:            repo,
		Number:          number,
		Title:           stringField(payload, "title"),
		Body:            stringField(payload, "body"),
		State:           stringField(payload, "state"),
		Author:          nestedString(payload, "user", "login"),
		BaseBranch:      nestedString(payload, "base", "ref"),
		HeadBranch:      nestedString(payload, "head", "ref"),
		Merged:          stringField(payload, "merged_at") != "",
		SourceCreatedAt: parseRFC3339(stringField(payload, "created_at")),
		SourceUpdatedAt: parseRFC3339(stringField(payload, "updated_at")),
	}

	return &Result{Table: "prs", ExternalID: externalID, PullRequest: pr}, nil
}

func transformGitHubCommit(rec *models.RawRecord) (*Result, error) {
	payload, err := decodePayload(rec)
	if err != nil {
		return nil, err
	}

	sha := stringField(payload, "sha")
	if sha == "" {
		return nil, fmt.Errorf("github commit payload has no sha")
	}

	commit := &models.Commit{
		ExternalID:       sha,
		TenantID:         rec.TenantID,
		Repo:             rec.Metadata.Context["repo"],
		ParentExternalID: rec.Metadata.Context["parent"],
		Author:           commitAuthor(payload),
		Message:          nestedString(payload, "commit", "message"),
		SourceCreatedAt:  parseRFC3339(nestedString(payload, "commit", "author", "date")),
	}

	return &Result{Table: "commits", ExternalID: sha, Commit: commit}, nil
}

// commitAuthor prefers the GitHub login, falling back to the git author.
func commitAuthor(payload map[string]interface{}) string {
	if login := nestedString(payload, "author", "login"); login != "" {
		return login
	}
	return nestedString(payload, "commit", "author", "name")
}

func transformGitHubReview(rec *models.RawRecord) (*Result, error) {
	payload, err := decodePayload(rec)
	if err != nil {
		return nil, err
	}

	externalID := githubExternalID(payload)
	if externalID == "" {
		return nil, fmt.Errorf("github review payload has no id")
	}

	review := &models.Review{
		ExternalID:       externalID,
		TenantID:         rec.TenantID,
		Repo:             rec.Metadata.Context["repo"],
		ParentExternalID: rec.Metadata.Context["parent"],
		Author:           nestedString(payload, "user", "login"),
		State:            stringField(payload, "state"),
		Body:             stringField(payload, "body"),
		SourceCreatedAt:  parseRFC3339(stringField(payload, "submitted_at")),
	}

	return &Result{Table: "reviews", ExternalID: externalID, Review: review}, nil
}

func transformGitHubComment(rec *models.RawRecord) (*Result, error) {
	payload, err := decodePayload(rec)
	if err != nil {
		return nil, err
	}

	externalID := githubExternalID(payload)
	if externalID == "" {
		return nil, fmt.Errorf("github comment payload has no id")
	}

	comment := &models.PRComment{
		ExternalID:       externalID,
		TenantID:         rec.TenantID,
		Repo:             rec.Metadata.Context["repo"],
		ParentExternalID: rec.Metadata.Context["parent"],
		Author:           nestedString(payload, "user", "login"),
		Body:             stringField(payload, "body"),
		SourceCreatedAt:  parseRFC3339(stringField(payload, "created_at")),
	}

	return &Result{Table: "pr_comments", ExternalID: externalID, PRComment: comment}, nil
}

// githubExternalID renders the numeric GitHub id as a string.
func githubExternalID(payload map[string]interface{}) string {
	if v, ok := payload["id"]; ok {
		if f, ok := v.(float64); ok {
			return strconv.FormatInt(int64(f), 10)
		}
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
