package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/confluo/internal/interfaces"
	"github.com/ternarybob/confluo/internal/models"
)

// IntegrationStorage implements tenant integration persistence on SQLite
type IntegrationStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
	mu     sync.Mutex // Serializes write operations to prevent SQLITE_BUSY errors
}

// NewIntegrationStorage creates a new IntegrationStorage instance
func NewIntegrationStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.IntegrationStorage {
	return &IntegrationStorage{
		db:     db,
		logger: logger,
	}
}

// CreateIntegration inserts a new integration.
func (s *IntegrationStorage) CreateIntegration(ctx context.Context, integ *models.Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := integ.Validate(); err != nil {
		return fmt.Errorf("invalid integration: %w", err)
	}

	settings, err := json.Marshal(integ.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	mappings, err := json.Marshal(integ.CustomFieldMappings)
	if err != nil {
		return fmt.Errorf("failed to marshal custom field mappings: %w", err)
	}

	now := time.Now().Unix()
	query := `INSERT INTO integrations (id, tenant_id, provider, credentials, settings,
		custom_field_mappings, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.DB().ExecContext(ctx, query,
		integ.ID, integ.TenantID, integ.Provider.String(), string(integ.Credentials),
		string(settings), string(mappings), boolToInt(integ.Active), now, now)
	if err != nil {
		return fmt.Errorf("failed to create integration: %w", err)
	}

	s.logger.Info().
		Str("integration_id", integ.ID).
		Str("tenant_id", integ.TenantID).
		Str("provider", integ.Provider.String()).
		Msg("Created integration")
	return nil
}

// GetIntegration loads one integration scoped to its tenant.
func (s *IntegrationStorage) GetIntegration(ctx context.Context, tenantID, id string) (*models.Integration, error) {
	query := `SELECT id, tenant_id, provider, credentials, settings, custom_field_mappings,
		active, created_at, updated_at FROM integrations WHERE id = ? AND tenant_id = ?`
	return scanIntegration(s.db.DB().QueryRowContext(ctx, query, id, tenantID))
}

// ListIntegrations returns all of a tenant's integrations.
func (s *IntegrationStorage) ListIntegrations(ctx context.Context, tenantID string) ([]*models.Integration, error) {
	query := `SELECT id, tenant_id, provider, credentials, settings, custom_field_mappings,
		active, created_at, updated_at FROM integrations WHERE tenant_id = ? ORDER BY created_at`

	rows, err := s.db.DB().QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	defer rows.Close()

	var out []*models.Integration
	for rows.Next() {
		integ, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, integ)
	}
	return out, rows.Err()
}

// UpdateIntegration persists the mutable fields of an integration.
func (s *IntegrationStorage) UpdateIntegration(ctx context.Context, integ *models.Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := integ.Validate(); err != nil {
		return fmt.Errorf("invalid integration: %w", err)
	}

	settings, err := json.Marshal(integ.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	mappings, err := json.Marshal(integ.CustomFieldMappings)
	if err != nil {
		return fmt.Errorf("failed to marshal custom field mappings: %w", err)
	}

	query := `UPDATE integrations SET provider = ?, credentials = ?, settings = ?,
		custom_field_mappings = ?, active = ?, updated_at = ?
		WHERE id = ? AND tenant_id = ?`

	res, err := s.db.DB().ExecContext(ctx, query,
		integ.Provider.String(), string(integ.Credentials), string(settings),
		string(mappings), boolToInt(integ.Active), time.Now().Unix(),
		integ.ID, integ.TenantID)
	if err != nil {
		return fmt.Errorf("failed to update integration: %w", err)
	}
	return requireRow(res)
}

// SetCustomFieldMappings replaces the slot mapping for one integration.
func (s *IntegrationStorage) SetCustomFieldMappings(ctx context.Context, tenantID, id string, mappings map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(mappings) > models.MaxCustomFieldSlots {
		return fmt.Errorf("custom field mappings exceed %d slots: %d",
			models.MaxCustomFieldSlots, len(mappings))
	}
	for slot := range mappings {
		if !models.ValidCustomFieldSlot(slot) {
			return fmt.Errorf("invalid custom field slot: %s", slot)
		}
	}

	data, err := json.Marshal(mappings)
	if err != nil {
		return fmt.Errorf("failed to marshal custom field mappings: %w", err)
	}

	query := "UPDATE integrations SET custom_field_mappings = ?, updated_at = ? WHERE id = ? AND tenant_id = ?"
	res, err := s.db.DB().ExecContext(ctx, query, string(data), time.Now().Unix(), id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to set custom field mappings: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}

	s.logger.Info().
		Str("integration_id", id).
		Str("tenant_id", tenantID).
		Int("mapped_slots", len(mappings)).
		Msg("Updated custom field mappings")
	return nil
}

func scanIntegration(row rowScanner) (*models.Integration, error) {
	var (
		integ       models.Integration
		provider    string
		credentials string
		settings    string
		mappings    string
		active      int
		createdAt   int64
		updatedAt   int64
	)

	err := row.Scan(&integ.ID, &integ.TenantID, &provider, &credentials,
		&settings, &mappings, &active, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan integration: %w", err)
	}

	integ.Provider = models.Provider(provider)
	integ.Credentials = json.RawMessage(credentials)
	integ.Active = active != 0
	integ.CreatedAt = time.Unix(createdAt, 0).UTC()
	integ.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	if err := json.Unmarshal([]byte(settings), &integ.Settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	if err := json.Unmarshal([]byte(mappings), &integ.CustomFieldMappings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal custom field mappings: %w", err)
	}
	return &integ, nil
}
