package github

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/ternarybob/arbor"
	"golang.org/x/oauth2"

	"github.com/ternarybob/confluo/internal/interfaces"
	"github.com/ternarybob/confluo/internal/models"
)

const defaultPageSize = 100

// Connector pulls pull requests and their child entities from GitHub.
type Connector struct {
	logger arbor.ILogger
}

// NewConnector creates a new GitHub connector
func NewConnector(logger arbor.ILogger) *Connector {
	return &Connector{logger: logger}
}

var _ interfaces.Connector = (*Connector)(nil)

// Provider returns the provider this connector serves
func (c *Connector) Provider() models.Provider {
	return models.ProviderGitHub
}

// clientFor builds an authenticated client from the integration's token.
// A non-empty base URL redirects API calls, used for GitHub Enterprise.
func (c *Connector) clientFor(ctx context.Context, integ *models.Integration) (*github.Client, error) {
	var creds models.GitHubCredentials
	if err := json.Unmarshal(integ.Credentials, &creds); err != nil {
		return nil, fmt.Errorf("invalid github credentials: %w", err)
	}
	if creds.Token == "" {
		return nil, fmt.Errorf("github token is required")
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: creds.Token},
	)
	tc := oauth2.NewClient(ctx, ts)
	client := github.NewClient(tc)

	if base := integ.Settings.BaseURL; base != "" {
		var err error
		client, err = client.WithEnterpriseURLs(base, base)
		if err != nil {
			return nil, fmt.Errorf("invalid github base URL: %w", err)
		}
	}
	return client, nil
}

// cursor addresses one page within one repository of the integration's
// repo list, so a multi-repo sync resumes where the last page stopped.
type cursor struct {
	repoIdx int
	page    int
}

func parseCursor(raw string) (cursor, error) {
	if raw == "" {
		return cursor{repoIdx: 0, page: 1}, nil
	}
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return cursor{}, fmt.Errorf("invalid cursor %q", raw)
	}
	repoIdx, err1 := strconv.Atoi(parts[0])
	page, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || repoIdx < 0 || page < 1 {
		return cursor{}, fmt.Errorf("invalid cursor %q", raw)
	}
	return cursor{repoIdx: repoIdx, page: page}, nil
}

func (c cursor) String() string {
	return fmt.Sprintf("%d:%d", c.repoIdx, c.page)
}

// Extract fetches one page of entities. Pull requests are listed newest
// first; a page past the Since watermark ends the current repo.
func (c *Connector) Extract(ctx context.Context, integ *models.Integration, req interfaces.ExtractRequest) (*interfaces.ExtractPage, error) {
	switch req.EntityType {
	case models.EntityGitHubPRs, models.EntityGitHubCommits, models.EntityGitHubReviews, models.EntityGitHubComments:
	default:
		return nil, fmt.Errorf("github connector cannot extract %s", req.EntityType)
	}

	client, err := c.clientFor(ctx, integ)
	if err != nil {
		return nil, err
	}

	owner := integ.Settings.Owner
	repos := integ.Settings.Repos
	if owner == "" || len(repos) == 0 {
		return nil, fmt.Errorf("github integration requires owner and repos settings")
	}

	cur, err := parseCursor(req.Cursor)
	if err != nil {
		return nil, err
	}
	if cur.repoIdx >= len(repos) {
		return &interfaces.ExtractPage{Done: true}, nil
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	repo := repos[cur.repoIdx]
	opts := &github.PullRequestListOptions{
		State:     "all",
		Sort:      "updated",
		Direction: "desc",
		ListOptions: github.ListOptions{
			Page:    cur.page,
			PerPage: pageSize,
		},
	}

	prs, resp, err := client.PullRequests.List(ctx, owner, repo, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list pull requests for %s/%s: %w", owner, repo, err)
	}

	fullRepo := owner + "/" + repo
	page := &interfaces.ExtractPage{}
	repoExhausted := resp.NextPage == 0

	for _, pr := range prs {
		updated := pr.GetUpdatedAt().Time
		if !req.Since.IsZero() && updated.Before(req.Since) {
			// Sorted newest first, so everything after this is stale too.
			repoExhausted = true
			break
		}

		switch req.EntityType {
		case models.EntityGitHubPRs:
			item, err := prItem(pr, fullRepo, updated)
			if err != nil {
				return nil, err
			}
			page.Items = append(page.Items, item)
		default:
			children, err := c.extractChildren(ctx, client, owner, repo, pr, req.EntityType, updated)
			if err != nil {
				return nil, err
			}
			page.Items = append(page.Items, children...)
		}
	}

	if repoExhausted {
		if cur.repoIdx+1 >= len(repos) {
			page.Done = true
		} else {
			page.NextCursor = cursor{repoIdx: cur.repoIdx + 1, page: 1}.String()
		}
	} else {
		page.NextCursor = cursor{repoIdx: cur.repoIdx, page: resp.NextPage}.String()
	}
	return page, nil
}

func prItem(pr *github.PullRequest, fullRepo string, updated time.Time) (interfaces.ExtractedItem, error) {
	payload, err := json.Marshal(pr)
	if err != nil {
		return interfaces.ExtractedItem{}, fmt.Errorf("failed to encode pull request: %w", err)
	}
	return interfaces.ExtractedItem{
		ExternalID: strconv.FormatInt(pr.GetID(), 10),
		Payload:    payload,
		UpdatedAt:  updated,
		Context:    map[string]string{"repo": fullRepo},
	}, nil
}

// extractChildren fetches all commits, reviews or comments of one pull
// request, tagging each with the owning repo and parent PR id.
func (c *Connector) extractChildren(ctx context.Context, client *github.Client, owner, repo string, pr *github.PullRequest, entityType models.EntityType, updated time.Time) ([]interfaces.ExtractedItem, error) {
	fullRepo := owner + "/" + repo
	parent := strconv.FormatInt(pr.GetID(), 10)
	linkage := map[string]string{"repo": fullRepo, "parent": parent}

	var items []interfaces.ExtractedItem
	appendItem := func(externalID string, v interface{}) error {
		payload, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", entityType, err)
		}
		items = append(items, interfaces.ExtractedItem{
			ExternalID: externalID,
			Payload:    payload,
			UpdatedAt:  updated,
			Context:    linkage,
		})
		return nil
	}

	opts := github.ListOptions{Page: 1, PerPage: defaultPageSize}
	for {
		var nextPage int
		switch entityType {
		case models.EntityGitHubCommits:
			commits, resp, err := client.PullRequests.ListCommits(ctx, owner, repo, pr.GetNumber(), &opts)
			if err != nil {
				return nil, fmt.Errorf("failed to list commits for %s#%d: %w", fullRepo, pr.GetNumber(), err)
			}
			for _, commit := range commits {
				if err := appendItem(commit.GetSHA(), commit); err != nil {
					return nil, err
				}
			}
			nextPage = resp.NextPage
		case models.EntityGitHubReviews:
			reviews, resp, err := client.PullRequests.ListReviews(ctx, owner, repo, pr.GetNumber(), &opts)
			if err != nil {
				return nil, fmt.Errorf("failed to list reviews for %s#%d: %w", fullRepo, pr.GetNumber(), err)
			}
			for _, review := range reviews {
				if err := appendItem(strconv.FormatInt(review.GetID(), 10), review); err != nil {
					return nil, err
				}
			}
			nextPage = resp.NextPage
		case models.EntityGitHubComments:
			comments, resp, err := client.PullRequests.ListComments(ctx, owner, repo, pr.GetNumber(), &github.PullRequestListCommentsOptions{ListOptions: opts})
			if err != nil {
				return nil, fmt.Errorf("failed to list comments for %s#%d: %w", fullRepo, pr.GetNumber(), err)
			}
			for _, comment := range comments {
				if err := appendItem(strconv.FormatInt(comment.GetID(), 10), comment); err != nil {
					return nil, err
				}
			}
			nextPage = resp.NextPage
		}

		if nextPage == 0 {
			return items, nil
		}
		opts.Page = nextPage
	}
}

// Discover is a no-op for GitHub, which has no custom field surface.
func (c *Connector) Discover(ctx context.Context, integ *models.Integration) (*models.DiscoveryResult, error) {
	return &models.DiscoveryResult{}, nil
}
