package transform

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/confluo/internal/models"
)

func decodePayload(rec *models.RawRecord) (map[string]interface{}, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return payload, nil
}

func transformJiraProject(rec *models.RawRecord) (*Result, error) {
	payload, err := decodePayload(rec)
	if err != nil {
		return nil, err
	}

	externalID := stringField(payload, "id")
	if externalID == "" {
		return nil, fmt.Errorf("jira project payload has no id")
	}

	project := &models.Project{
		ExternalID: externalID,
		TenantID:   rec.TenantID,
		Key:        stringField(payload, "key"),
		Name:       stringField(payload, "name"),
		Lead:       nestedString(payload, "lead", "displayName"),
		URL:        stringField(payload, "self"),
	}
	if project.Key == "" {
		return nil, fmt.Errorf("jira project %s has no key", externalID)
	}

	return &Result{Table: "projects", ExternalID: externalID, Project: project}, nil
}

func transformJiraIssue(rec *models.RawRecord, integ *models.Integration) (*Result, error) {
	payload, err := decodePayload(rec)
	if err != nil {
		return nil, err
	}

	externalID := stringField(payload, "id")
	key := stringField(payload, "key")
	if externalID == "" || key == "" {
		return nil, fmt.Errorf("jira issue payload missing id or key")
	}

	fields, _ := payload["fields"].(map[string]interface{})
	if fields == nil {
		return nil, fmt.Errorf("jira issue %s has no fields", key)
	}

	item := &models.WorkItem{
		ExternalID:      externalID,
		TenantID:        rec.TenantID,
		Key:             key,
		ProjectKey:      projectKeyFromIssueKey(key),
		Summary:         stringField(fields, "summary"),
		Description:     collapseValue(fields["description"]),
		Status:          nestedString(fields, "status", "name"),
		Assignee:        nestedString(fields, "assignee", "displayName"),
		Reporter:        nestedString(fields, "reporter", "displayName"),
		Priority:        nestedString(fields, "priority", "name"),
		IssueType:       nestedString(fields, "issuetype", "name"),
		SourceCreatedAt: parseJiraTime(stringField(fields, "created")),
		SourceUpdatedAt: parseJiraTime(stringField(fields, "updated")),
	}

	item.CustomFields, item.Overflow = mapCustomFields(fields, integ.CustomFieldMappings)

	return &Result{Table: "work_items", ExternalID: externalID, WorkItem: item}, nil
}

// mapCustomFields routes each customfield_* value either to its mapped
// slot column or to the overflow JSON. Empty values are dropped.
func mapCustomFields(fields map[string]interface{}, mappings map[string]string) (map[string]string, map[string]string) {
	// Invert slot -> field id to field id -> slot for lookup.
	slotFor := make(map[string]string, len(mappings))
	for slot, fieldID := range mappings {
		slotFor[fieldID] = slot
	}

	slots := make(map[string]string)
	overflow := make(map[string]string)

	for name, value := range fields {
		if !strings.HasPrefix(name, "customfield_") {
			continue
		}
		collapsed := collapseValue(value)
		if collapsed == "" {
			continue
		}
		if slot, ok := slotFor[name]; ok {
			slots[slot] = collapsed
		} else {
			overflow[name] = collapsed
		}
	}

	if len(slots) == 0 {
		slots = nil
	}
	if len(overflow) == 0 {
		overflow = nil
	}
	return slots, overflow
}

func transformJiraComment(rec *models.RawRecord) (*Result, error) {
	payload, err := decodePayload(rec)
	if err != nil {
		return nil, err
	}

	externalID := stringField(payload, "id")
	if externalID == "" {
		return nil, fmt.Errorf("jira comment payload has no id")
	}

	issueKey := rec.Metadata.Context["issue_key"]
	if issueKey == "" {
		return nil, fmt.Errorf("jira comment %s has no issue context", externalID)
	}

	comment := &models.WorkItemComment{
		ExternalID:      externalID,
		TenantID:        rec.TenantID,
		IssueKey:        issueKey,
		Author:          nestedString(payload, "author", "displayName"),
		Body:            collapseValue(payload["body"]),
		SourceCreatedAt: parseJiraTime(stringField(payload, "created")),
	}

	return &Result{Table: "work_item_comments", ExternalID: externalID, WorkItemComment: comment}, nil
}

// projectKeyFromIssueKey extracts "PROJ" from "PROJ-123".
func projectKeyFromIssueKey(issueKey string) string {
	if idx := strings.LastIndex(issueKey, "-"); idx > 0 {
		return issueKey[:idx]
	}
	return issueKey
}
