package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/confluo/internal/interfaces"
	"github.com/ternarybob/confluo/internal/models"
)

// TargetStorage writes canonical rows to the target tables. Every write
// is an idempotent upsert keyed on (external_id, tenant_id), so queue
// redeliveries converge on the same row.
type TargetStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
	mu     sync.Mutex // Serializes write operations to prevent SQLITE_BUSY errors
}

// NewTargetStorage creates a new TargetStorage instance
func NewTargetStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.TargetStorage {
	return &TargetStorage{
		db:     db,
		logger: logger,
	}
}

// UpsertProject writes one project row.
func (s *TargetStorage) UpsertProject(ctx context.Context, p *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT INTO projects (external_id, tenant_id, key, name, lead, url, created_at, last_updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id, tenant_id) DO UPDATE SET
		key = excluded.key, name = excluded.name, lead = excluded.lead,
		url = excluded.url, last_updated_at = excluded.last_updated_at`

	now := time.Now().Unix()
	_, err := s.db.DB().ExecContext(ctx, query,
		p.ExternalID, p.TenantID, p.Key, p.Name, p.Lead, p.URL, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert project: %w", err)
	}
	return nil
}

// UpsertWorkItem writes one work item row, spreading mapped custom
// fields across the slot columns and the rest into the overflow JSON.
func (s *TargetStorage) UpsertWorkItem(ctx context.Context, w *models.WorkItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	overflow, err := json.Marshal(w.Overflow)
	if err != nil {
		return fmt.Errorf("failed to marshal custom field overflow: %w", err)
	}
	if w.Overflow == nil {
		overflow = []byte("{}")
	}

	slotCols := make([]string, 0, models.MaxCustomFieldSlots)
	slotVals := make([]interface{}, 0, models.MaxCustomFieldSlots)
	for n := 1; n <= models.MaxCustomFieldSlots; n++ {
		slot := models.CustomFieldSlot(n)
		slotCols = append(slotCols, slot)
		slotVals = append(slotVals, w.CustomFields[slot])
	}

	updates := make([]string, 0, len(slotCols))
	for _, col := range slotCols {
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
	}

	query := fmt.Sprintf(`INSERT INTO work_items (external_id, tenant_id, key, project_key,
		summary, description, status, assignee, reporter, priority, issue_type,
		%s, custom_fields_overflow, source_created_at, source_updated_at, created_at, last_updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, %s, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id, tenant_id) DO UPDATE SET
		key = excluded.key, project_key = excluded.project_key, summary = excluded.summary,
		description = excluded.description, status = excluded.status,
		assignee = excluded.assignee, reporter = excluded.reporter,
		priority = excluded.priority, issue_type = excluded.issue_type,
		%s, custom_fields_overflow = excluded.custom_fields_overflow,
		source_created_at = excluded.source_created_at,
		source_updated_at = excluded.source_updated_at,
		last_updated_at = excluded.last_updated_at`,
		strings.Join(slotCols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", models.MaxCustomFieldSlots), ", "),
		strings.Join(updates, ", "))

	now := time.Now().Unix()
	args := []interface{}{
		w.ExternalID, w.TenantID, w.Key, w.ProjectKey, w.Summary, w.Description,
		w.Status, w.Assignee, w.Reporter, w.Priority, w.IssueType,
	}
	args = append(args, slotVals...)
	args = append(args, string(overflow), w.SourceCreatedAt.Unix(), w.SourceUpdatedAt.Unix(), now, now)

	if _, err := s.db.DB().ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert work item: %w", err)
	}
	return nil
}

// UpsertWorkItemComment writes one issue comment row.
func (s *TargetStorage) UpsertWorkItemComment(ctx context.Context, c *models.WorkItemComment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT INTO work_item_comments (external_id, tenant_id, issue_key, author, body,
		source_created_at, created_at, last_updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id, tenant_id) DO UPDATE SET
		issue_key = excluded.issue_key, author = excluded.author, body = excluded.body,
		source_created_at = excluded.source_created_at,
		last_updated_at = excluded.last_updated_at`

	now := time.Now().Unix()
	_, err := s.db.DB().ExecContext(ctx, query,
		c.ExternalID, c.TenantID, c.IssueKey, c.Author, c.Body,
		c.SourceCreatedAt.Unix(), now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert work item comment: %w", err)
	}
	return nil
}

// UpsertPullRequest writes one pull request row.
func (s *TargetStorage) UpsertPullRequest(ctx context.Context, pr *models.PullRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT INTO prs (external_id, tenant_id, repo, number, title, body, state,
		author, base_branch, head_branch, merged, source_created_at, source_updated_at,
		created_at, last_updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id, tenant_id) DO UPDATE SET
		repo = excluded.repo, number = excluded.number, title = excluded.title,
		body = excluded.body, state = excluded.state, author = excluded.author,
		base_branch = excluded.base_branch, head_branch = excluded.head_branch,
		merged = excluded.merged, source_created_at = excluded.source_created_at,
		source_updated_at = excluded.source_updated_at,
		last_updated_at = excluded.last_updated_at`

	now := time.Now().Unix()
	_, err := s.db.DB().ExecContext(ctx, query,
		pr.ExternalID, pr.TenantID, pr.Repo, pr.Number, pr.Title, pr.Body, pr.State,
		pr.Author, pr.BaseBranch, pr.HeadBranch, boolToInt(pr.Merged),
		pr.SourceCreatedAt.Unix(), pr.SourceUpdatedAt.Unix(), now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert pull request: %w", err)
	}
	return nil
}

// UpsertCommit writes one commit row.
func (s *TargetStorage) UpsertCommit(ctx context.Context, c *models.Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT INTO commits (external_id, tenant_id, repo, parent_external_id, author,
		message, source_created_at, created_at, last_updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id, tenant_id) DO UPDATE SET
		repo = excluded.repo, parent_external_id = excluded.parent_external_id,
		author = excluded.author, message = excluded.message,
		source_created_at = excluded.source_created_at,
		last_updated_at = excluded.last_updated_at`

	now := time.Now().Unix()
	_, err := s.db.DB().ExecContext(ctx, query,
		c.ExternalID, c.TenantID, c.Repo, c.ParentExternalID, c.Author, c.Message,
		c.SourceCreatedAt.Unix(), now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert commit: %w", err)
	}
	return nil
}

// UpsertReview writes one review row.
func (s *TargetStorage) UpsertReview(ctx context.Context, r *models.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT INTO reviews (external_id, tenant_id, repo, parent_external_id, author,
		state, body, source_created_at, created_at, last_updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id, tenant_id) DO UPDATE SET
		repo = excluded.repo, parent_external_id = excluded.parent_external_id,
		author = excluded.author, state = excluded.state, body = excluded.body,
		source_created_at = excluded.source_created_at,
		last_updated_at = excluded.last_updated_at`

	now := time.Now().Unix()
	_, err := s.db.DB().ExecContext(ctx, query,
		r.ExternalID, r.TenantID, r.Repo, r.ParentExternalID, r.Author, r.State, r.Body,
		r.SourceCreatedAt.Unix(), now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert review: %w", err)
	}
	return nil
}

// UpsertPRComment writes one PR comment row.
func (s *TargetStorage) UpsertPRComment(ctx context.Context, c *models.PRComment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT INTO pr_comments (external_id, tenant_id, repo, parent_external_id, author,
		body, source_created_at, created_at, last_updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id, tenant_id) DO UPDATE SET
		repo = excluded.repo, parent_external_id = excluded.parent_external_id,
		author = excluded.author, body = excluded.body,
		source_created_at = excluded.source_created_at,
		last_updated_at = excluded.last_updated_at`

	now := time.Now().Unix()
	_, err := s.db.DB().ExecContext(ctx, query,
		c.ExternalID, c.TenantID, c.Repo, c.ParentExternalID, c.Author, c.Body,
		c.SourceCreatedAt.Unix(), now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert PR comment: %w", err)
	}
	return nil
}

// TargetText renders the text an embedding is computed from. Each table
// concatenates its human-readable columns.
func (s *TargetStorage) TargetText(ctx context.Context, tenantID, table, externalID string) (string, error) {
	var query string
	switch table {
	case "projects":
		query = "SELECT key || ' ' || name FROM projects WHERE external_id = ? AND tenant_id = ?"
	case "work_items":
		query = `SELECT key || ': ' || summary || CASE WHEN description != '' THEN char(10) || description ELSE '' END
			FROM work_items WHERE external_id = ? AND tenant_id = ?`
	case "work_item_comments":
		query = "SELECT issue_key || ': ' || body FROM work_item_comments WHERE external_id = ? AND tenant_id = ?"
	case "prs":
		query = `SELECT repo || '#' || number || ': ' || title || CASE WHEN body != '' THEN char(10) || body ELSE '' END
			FROM prs WHERE external_id = ? AND tenant_id = ?`
	case "commits":
		query = "SELECT message FROM commits WHERE external_id = ? AND tenant_id = ?"
	case "reviews":
		query = "SELECT state || CASE WHEN body != '' THEN ': ' || body ELSE '' END FROM reviews WHERE external_id = ? AND tenant_id = ?"
	case "pr_comments":
		query = "SELECT body FROM pr_comments WHERE external_id = ? AND tenant_id = ?"
	default:
		return "", fmt.Errorf("unknown target table: %s", table)
	}

	var text string
	err := s.db.DB().QueryRowContext(ctx, query, externalID, tenantID).Scan(&text)
	if err == sql.ErrNoRows {
		return "", models.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load target text: %w", err)
	}
	return text, nil
}
