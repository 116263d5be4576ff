package sqlite

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/confluo/internal/interfaces"
	"github.com/ternarybob/confluo/internal/models"
)

// CatalogStorage tracks discovered custom fields and issue types
type CatalogStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
	mu     sync.Mutex // Serializes write operations to prevent SQLITE_BUSY errors
}

// NewCatalogStorage creates a new CatalogStorage instance
func NewCatalogStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.CatalogStorage {
	return &CatalogStorage{
		db:     db,
		logger: logger,
	}
}

// UpsertCustomFields records discovered custom fields, preserving each
// entry's first_seen across rediscovery.
func (s *CatalogStorage) UpsertCustomFields(ctx context.Context, tenantID, integrationID string, fields []models.CustomFieldCatalogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	query := `INSERT INTO custom_field_catalog (tenant_id, integration_id, field_id, name,
		field_type, active, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(tenant_id, integration_id, field_id) DO UPDATE SET
		name = excluded.name, field_type = excluded.field_type, active = 1,
		last_seen = excluded.last_seen`

	for _, f := range fields {
		_, err := s.db.DB().ExecContext(ctx, query,
			tenantID, integrationID, f.FieldID, f.Name, f.FieldType, now, now)
		if err != nil {
			return fmt.Errorf("failed to upsert custom field %s: %w", f.FieldID, err)
		}
	}

	s.logger.Debug().
		Str("tenant_id", tenantID).
		Str("integration_id", integrationID).
		Int("fields", len(fields)).
		Msg("Upserted custom field catalog")
	return nil
}

// ListCustomFields returns catalog entries for one integration.
func (s *CatalogStorage) ListCustomFields(ctx context.Context, tenantID, integrationID string, activeOnly bool) ([]models.CustomFieldCatalogEntry, error) {
	query := `SELECT tenant_id, integration_id, field_id, name, field_type, active, first_seen, last_seen
		FROM custom_field_catalog WHERE tenant_id = ? AND integration_id = ?`
	if activeOnly {
		query += " AND active = 1"
	}
	query += " ORDER BY field_id"

	rows, err := s.db.DB().QueryContext(ctx, query, tenantID, integrationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list custom fields: %w", err)
	}
	defer rows.Close()

	var out []models.CustomFieldCatalogEntry
	for rows.Next() {
		var (
			entry     models.CustomFieldCatalogEntry
			active    int
			firstSeen int64
			lastSeen  int64
		)
		if err := rows.Scan(&entry.TenantID, &entry.IntegrationID, &entry.FieldID,
			&entry.Name, &entry.FieldType, &active, &firstSeen, &lastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan custom field entry: %w", err)
		}
		entry.Active = active != 0
		entry.FirstSeen = time.Unix(firstSeen, 0).UTC()
		entry.LastSeen = time.Unix(lastSeen, 0).UTC()
		out = append(out, entry)
	}
	return out, rows.Err()
}

// UpsertIssueTypes records discovered issue types.
func (s *CatalogStorage) UpsertIssueTypes(ctx context.Context, tenantID, integrationID string, types []models.IssueTypeCatalogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	query := `INSERT INTO issue_type_catalog (tenant_id, integration_id, type_id, name,
		subtask, active, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(tenant_id, integration_id, type_id) DO UPDATE SET
		name = excluded.name, subtask = excluded.subtask, active = 1,
		last_seen = excluded.last_seen`

	for _, t := range types {
		_, err := s.db.DB().ExecContext(ctx, query,
			tenantID, integrationID, t.TypeID, t.Name, boolToInt(t.Subtask), now, now)
		if err != nil {
			return fmt.Errorf("failed to upsert issue type %s: %w", t.TypeID, err)
		}
	}
	return nil
}

// ListIssueTypes returns catalog entries for one integration.
func (s *CatalogStorage) ListIssueTypes(ctx context.Context, tenantID, integrationID string, activeOnly bool) ([]models.IssueTypeCatalogEntry, error) {
	query := `SELECT tenant_id, integration_id, type_id, name, subtask, active, first_seen, last_seen
		FROM issue_type_catalog WHERE tenant_id = ? AND integration_id = ?`
	if activeOnly {
		query += " AND active = 1"
	}
	query += " ORDER BY type_id"

	rows, err := s.db.DB().QueryContext(ctx, query, tenantID, integrationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list issue types: %w", err)
	}
	defer rows.Close()

	var out []models.IssueTypeCatalogEntry
	for rows.Next() {
		var (
			entry     models.IssueTypeCatalogEntry
			subtask   int
			active    int
			firstSeen int64
			lastSeen  int64
		)
		if err := rows.Scan(&entry.TenantID, &entry.IntegrationID, &entry.TypeID,
			&entry.Name, &subtask, &active, &firstSeen, &lastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan issue type entry: %w", err)
		}
		entry.Subtask = subtask != 0
		entry.Active = active != 0
		entry.FirstSeen = time.Unix(firstSeen, 0).UTC()
		entry.LastSeen = time.Unix(lastSeen, 0).UTC()
		out = append(out, entry)
	}
	return out, rows.Err()
}

// DeactivateMissing flags entries not seen at or after the given
// discovery time. Entries are never deleted; mappings may still point
// at a field the source has since removed.
func (s *CatalogStorage) DeactivateMissing(ctx context.Context, tenantID, integrationID string, seenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := seenAt.Unix()
	for _, table := range []string{"custom_field_catalog", "issue_type_catalog"} {
		query := fmt.Sprintf(
			"UPDATE %s SET active = 0 WHERE tenant_id = ? AND integration_id = ? AND last_seen < ?",
			table)
		if _, err := s.db.DB().ExecContext(ctx, query, tenantID, integrationID, cutoff); err != nil {
			return fmt.Errorf("failed to deactivate stale %s entries: %w", table, err)
		}
	}
	return nil
}
