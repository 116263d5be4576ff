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

// RawStorage implements the raw staging area on SQLite
type RawStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
	mu     sync.Mutex // Serializes write operations to prevent SQLITE_BUSY errors
}

// NewRawStorage creates a new RawStorage instance
func NewRawStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.RawStorage {
	return &RawStorage{
		db:     db,
		logger: logger,
	}
}

// StoreRaw stages one extracted payload.
func (s *RawStorage) StoreRaw(ctx context.Context, rec *models.RawRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid raw record: %w", err)
	}
	if rec.Status == "" {
		rec.Status = models.ProcessingPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal extraction metadata: %w", err)
	}

	query := `INSERT INTO raw_data (id, tenant_id, integration_id, entity_type, external_id,
		payload, metadata, status, error, created_at, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.DB().ExecContext(ctx, query,
		rec.ID, rec.TenantID, rec.IntegrationID, rec.EntityType.String(), rec.ExternalID,
		string(rec.Payload), string(metadata), rec.Status.String(), rec.Error,
		rec.CreatedAt.Unix(), nullUnix(rec.ProcessedAt))
	if err != nil {
		return fmt.Errorf("failed to store raw record: %w", err)
	}
	return nil
}

// GetRaw loads one staged record scoped to its tenant.
func (s *RawStorage) GetRaw(ctx context.Context, tenantID, rawID string) (*models.RawRecord, error) {
	query := `SELECT id, tenant_id, integration_id, entity_type, external_id, payload,
		metadata, status, error, created_at, processed_at
		FROM raw_data WHERE id = ? AND tenant_id = ?`

	return scanRaw(s.db.DB().QueryRowContext(ctx, query, rawID, tenantID))
}

// ListRaw returns staged records matching the filter, oldest first.
func (s *RawStorage) ListRaw(ctx context.Context, filter interfaces.RawFilter) ([]*models.RawRecord, error) {
	var conditions []string
	var args []interface{}

	if filter.TenantID != "" {
		conditions = append(conditions, "tenant_id = ?")
		args = append(args, filter.TenantID)
	}
	if filter.EntityType != "" {
		conditions = append(conditions, "entity_type = ?")
		args = append(args, filter.EntityType.String())
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status.String())
	}

	query := `SELECT id, tenant_id, integration_id, entity_type, external_id, payload,
		metadata, status, error, created_at, processed_at FROM raw_data`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list raw records: %w", err)
	}
	defer rows.Close()

	var records []*models.RawRecord
	for rows.Next() {
		rec, err := scanRaw(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// MarkProcessed records the outcome of a transform attempt.
func (s *RawStorage) MarkProcessed(ctx context.Context, tenantID, rawID string, status models.ProcessingStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !status.IsValid() {
		return fmt.Errorf("invalid processing status: %s", status)
	}

	query := "UPDATE raw_data SET status = ?, error = ?, processed_at = ? WHERE id = ? AND tenant_id = ?"
	res, err := s.db.DB().ExecContext(ctx, query,
		status.String(), errMsg, time.Now().Unix(), rawID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to mark raw record processed: %w", err)
	}
	return requireRow(res)
}

// PurgeProcessed removes transformed records staged before the cutoff.
// Failed rows are kept for inspection and replay.
func (s *RawStorage) PurgeProcessed(ctx context.Context, tenantID string, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := "DELETE FROM raw_data WHERE tenant_id = ? AND status = 'transformed' AND created_at < ?"
	res, err := s.db.DB().ExecContext(ctx, query, tenantID, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge raw records: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if affected > 0 {
		s.logger.Info().
			Str("tenant_id", tenantID).
			Int64("purged", affected).
			Msg("Purged transformed raw records")
	}
	return int(affected), nil
}

func scanRaw(row rowScanner) (*models.RawRecord, error) {
	var (
		rec         models.RawRecord
		entityType  string
		payload     string
		metadata    string
		status      string
		createdAt   int64
		processedAt sql.NullInt64
	)

	err := row.Scan(&rec.ID, &rec.TenantID, &rec.IntegrationID, &entityType,
		&rec.ExternalID, &payload, &metadata, &status, &rec.Error,
		&createdAt, &processedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan raw record: %w", err)
	}

	rec.EntityType = models.EntityType(entityType)
	rec.Payload = json.RawMessage(payload)
	rec.Status = models.ProcessingStatus(status)
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	if processedAt.Valid {
		t := time.Unix(processedAt.Int64, 0).UTC()
		rec.ProcessedAt = &t
	}
	if err := json.Unmarshal([]byte(metadata), &rec.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal extraction metadata: %w", err)
	}
	return &rec, nil
}
