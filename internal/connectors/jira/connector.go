package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/confluo/internal/interfaces"
	"github.com/ternarybob/confluo/internal/models"
)

const defaultPageSize = 100

// Connector pulls projects, issues and comments from Jira Cloud.
type Connector struct {
	httpClient *http.Client
	logger     arbor.ILogger
}

// NewConnector creates a new Jira connector
func NewConnector(logger arbor.ILogger, timeout time.Duration) *Connector {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Connector{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

var _ interfaces.Connector = (*Connector)(nil)

// Provider returns the provider this connector serves
func (c *Connector) Provider() models.Provider {
	return models.ProviderJira
}

// Extract fetches one page of entities modified at or after req.Since.
func (c *Connector) Extract(ctx context.Context, integ *models.Integration, req interfaces.ExtractRequest) (*interfaces.ExtractPage, error) {
	creds, err := decodeCredentials(integ)
	if err != nil {
		return nil, err
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	startAt := 0
	if req.Cursor != "" {
		if startAt, err = strconv.Atoi(req.Cursor); err != nil {
			return nil, fmt.Errorf("invalid cursor %q: %w", req.Cursor, err)
		}
	}

	switch req.EntityType {
	case models.EntityJiraProjects:
		return c.extractProjects(ctx, integ, creds, startAt, pageSize)
	case models.EntityJiraIssues:
		return c.extractIssues(ctx, integ, creds, req.Since, startAt, pageSize)
	case models.EntityJiraComments:
		return c.extractComments(ctx, integ, creds, req.Since, startAt, pageSize)
	default:
		return nil, fmt.Errorf("jira connector cannot extract %s", req.EntityType)
	}
}

func (c *Connector) extractProjects(ctx context.Context, integ *models.Integration, creds *models.JiraCredentials, startAt, pageSize int) (*interfaces.ExtractPage, error) {
	path := fmt.Sprintf("/rest/api/3/project/search?startAt=%d&maxResults=%d&expand=lead", startAt, pageSize)
	data, err := c.makeRequest(ctx, integ, creds, path)
	if err != nil {
		return nil, err
	}

	var result struct {
		Values []json.RawMessage `json:"values"`
		IsLast bool              `json:"isLast"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse project page: %w", err)
	}

	page := &interfaces.ExtractPage{Done: result.IsLast || len(result.Values) < pageSize}
	wanted := projectFilter(integ)
	for _, raw := range result.Values {
		var probe struct {
			ID  string `json:"id"`
			Key string `json:"key"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			continue
		}
		if len(wanted) > 0 && !wanted[probe.Key] {
			continue
		}
		page.Items = append(page.Items, interfaces.ExtractedItem{
			ExternalID: probe.ID,
			Payload:    raw,
		})
	}
	if !page.Done {
		page.NextCursor = strconv.Itoa(startAt + pageSize)
	}
	return page, nil
}

func (c *Connector) extractIssues(ctx context.Context, integ *models.Integration, creds *models.JiraCredentials, since time.Time, startAt, pageSize int) (*interfaces.ExtractPage, error) {
	jql := buildJQL(integ, since)
	path := fmt.Sprintf("/rest/api/2/search?jql=%s&startAt=%d&maxResults=%d&fields=*all",
		url.QueryEscape(jql), startAt, pageSize)

	data, err := c.makeRequest(ctx, integ, creds, path)
	if err != nil {
		return nil, err
	}

	var result struct {
		Issues []json.RawMessage `json:"issues"`
		Total  int               `json:"total"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse issue page: %w", err)
	}

	page := &interfaces.ExtractPage{Done: startAt+len(result.Issues) >= result.Total}
	for _, raw := range result.Issues {
		var probe struct {
			ID     string `json:"id"`
			Fields struct {
				Updated string `json:"updated"`
			} `json:"fields"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			continue
		}
		page.Items = append(page.Items, interfaces.ExtractedItem{
			ExternalID: probe.ID,
			Payload:    raw,
			UpdatedAt:  parseJiraTime(probe.Fields.Updated),
		})
	}
	if !page.Done {
		page.NextCursor = strconv.Itoa(startAt + pageSize)
	}
	return page, nil
}

// extractComments pages through issues updated since the watermark and
// flattens their embedded comments, tagging each with its issue key.
func (c *Connector) extractComments(ctx context.Context, integ *models.Integration, creds *models.JiraCredentials, since time.Time, startAt, pageSize int) (*interfaces.ExtractPage, error) {
	jql := buildJQL(integ, since)
	path := fmt.Sprintf("/rest/api/2/search?jql=%s&startAt=%d&maxResults=%d&fields=comment,updated",
		url.QueryEscape(jql), startAt, pageSize)

	data, err := c.makeRequest(ctx, integ, creds, path)
	if err != nil {
		return nil, err
	}

	var result struct {
		Issues []struct {
			Key    string `json:"key"`
			Fields struct {
				Updated string `json:"updated"`
				Comment struct {
					Comments []json.RawMessage `json:"comments"`
				} `json:"comment"`
			} `json:"fields"`
		} `json:"issues"`
		Total int `json:"total"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse comment page: %w", err)
	}

	page := &interfaces.ExtractPage{Done: startAt+len(result.Issues) >= result.Total}
	for _, issue := range result.Issues {
		for _, raw := range issue.Fields.Comment.Comments {
			var probe struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(raw, &probe); err != nil {
				continue
			}
			page.Items = append(page.Items, interfaces.ExtractedItem{
				ExternalID: probe.ID,
				Payload:    raw,
				UpdatedAt:  parseJiraTime(issue.Fields.Updated),
				Context:    map[string]string{"issue_key": issue.Key},
			})
		}
	}
	if !page.Done {
		page.NextCursor = strconv.Itoa(startAt + pageSize)
	}
	return page, nil
}

// Discover enumerates the instance's custom fields and issue types.
func (c *Connector) Discover(ctx context.Context, integ *models.Integration) (*models.DiscoveryResult, error) {
	creds, err := decodeCredentials(integ)
	if err != nil {
		return nil, err
	}

	result := &models.DiscoveryResult{}

	fieldsData, err := c.makeRequest(ctx, integ, creds, "/rest/api/3/field")
	if err != nil {
		return nil, err
	}
	var fields []struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Custom bool   `json:"custom"`
		Schema struct {
			Type string `json:"type"`
		} `json:"schema"`
	}
	if err := json.Unmarshal(fieldsData, &fields); err != nil {
		return nil, fmt.Errorf("failed to parse field list: %w", err)
	}
	for _, f := range fields {
		if !f.Custom {
			continue
		}
		result.CustomFields = append(result.CustomFields, models.CustomFieldCatalogEntry{
			TenantID:      integ.TenantID,
			IntegrationID: integ.ID,
			FieldID:       f.ID,
			Name:          f.Name,
			FieldType:     f.Schema.Type,
			Active:        true,
		})
	}

	typesData, err := c.makeRequest(ctx, integ, creds, "/rest/api/3/issuetype")
	if err != nil {
		return nil, err
	}
	var types []struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Subtask bool   `json:"subtask"`
	}
	if err := json.Unmarshal(typesData, &types); err != nil {
		return nil, fmt.Errorf("failed to parse issue type list: %w", err)
	}
	for _, t := range types {
		result.IssueTypes = append(result.IssueTypes, models.IssueTypeCatalogEntry{
			TenantID:      integ.TenantID,
			IntegrationID: integ.ID,
			TypeID:        t.ID,
			Name:          t.Name,
			Subtask:       t.Subtask,
			Active:        true,
		})
	}

	c.logger.Info().
		Str("integration_id", integ.ID).
		Int("custom_fields", len(result.CustomFields)).
		Int("issue_types", len(result.IssueTypes)).
		Msg("Jira discovery complete")
	return result, nil
}

// makeRequest makes an authenticated GET request to the Jira API
func (c *Connector) makeRequest(ctx context.Context, integ *models.Integration, creds *models.JiraCredentials, path string) ([]byte, error) {
	fullURL := strings.TrimSuffix(integ.Settings.BaseURL, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(creds.Email, creds.APIToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("jira API request failed with status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func decodeCredentials(integ *models.Integration) (*models.JiraCredentials, error) {
	var creds models.JiraCredentials
	if err := json.Unmarshal(integ.Credentials, &creds); err != nil {
		return nil, fmt.Errorf("invalid jira credentials: %w", err)
	}
	if creds.Email == "" || creds.APIToken == "" {
		return nil, fmt.Errorf("jira credentials require email and api_token")
	}
	return &creds, nil
}

// buildJQL scopes the search to the integration's projects and the
// incremental watermark, ordered oldest-first for stable pagination.
func buildJQL(integ *models.Integration, since time.Time) string {
	var clauses []string
	if len(integ.Settings.Projects) > 0 {
		quoted := make([]string, len(integ.Settings.Projects))
		for i, p := range integ.Settings.Projects {
			quoted[i] = fmt.Sprintf("%q", p)
		}
		clauses = append(clauses, fmt.Sprintf("project in (%s)", strings.Join(quoted, ", ")))
	}
	if !since.IsZero() {
		clauses = append(clauses, fmt.Sprintf("updated >= %q", since.UTC().Format("2006-01-02 15:04")))
	}

	jql := strings.Join(clauses, " AND ")
	if jql != "" {
		jql += " "
	}
	return jql + "ORDER BY updated ASC"
}

func projectFilter(integ *models.Integration) map[string]bool {
	if len(integ.Settings.Projects) == 0 {
		return nil
	}
	wanted := make(map[string]bool, len(integ.Settings.Projects))
	for _, p := range integ.Settings.Projects {
		wanted[p] = true
	}
	return wanted
}

const jiraTimeLayout = "2006-01-02T15:04:05.000-0700"

func parseJiraTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(jiraTimeLayout, value); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
