package sqlite

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/confluo/internal/common"
	"github.com/ternarybob/confluo/internal/interfaces"
	"github.com/ternarybob/confluo/internal/models"
)

func newRawRecord(id string) *models.RawRecord {
	return &models.RawRecord{
		ID:            id,
		TenantID:      "tenant-a",
		IntegrationID: "int_1",
		EntityType:    models.EntityJiraIssues,
		ExternalID:    "10001",
		Payload:       json.RawMessage(`{"key":"PROJ-1","fields":{"summary":"hello"}}`),
		Metadata: models.ExtractionMetadata{
			JobID:    "job_1",
			StepName: "issues",
			Page:     1,
		},
	}
}

func TestRawStoreGetRoundTrip(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	rec := newRawRecord(common.NewRawID())
	require.NoError(t, mgr.Raw().StoreRaw(ctx, rec))

	got, err := mgr.Raw().GetRaw(ctx, "tenant-a", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingPending, got.Status)
	assert.Equal(t, "job_1", got.Metadata.JobID)
	assert.JSONEq(t, string(rec.Payload), string(got.Payload))

	// Tenant scope is enforced on reads.
	_, err = mgr.Raw().GetRaw(ctx, "tenant-b", rec.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRawMarkProcessed(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	rec := newRawRecord(common.NewRawID())
	require.NoError(t, mgr.Raw().StoreRaw(ctx, rec))

	require.NoError(t, mgr.Raw().MarkProcessed(ctx, "tenant-a", rec.ID, models.ProcessingTransformed, ""))

	got, err := mgr.Raw().GetRaw(ctx, "tenant-a", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingTransformed, got.Status)
	assert.NotNil(t, got.ProcessedAt)
}

func TestRawListByStatus(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	pending := newRawRecord(common.NewRawID())
	require.NoError(t, mgr.Raw().StoreRaw(ctx, pending))

	failed := newRawRecord(common.NewRawID())
	require.NoError(t, mgr.Raw().StoreRaw(ctx, failed))
	require.NoError(t, mgr.Raw().MarkProcessed(ctx, "tenant-a", failed.ID, models.ProcessingFailed, "bad payload"))

	records, err := mgr.Raw().ListRaw(ctx, interfaces.RawFilter{
		TenantID: "tenant-a",
		Status:   models.ProcessingFailed,
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, failed.ID, records[0].ID)
	assert.Equal(t, "bad payload", records[0].Error)
}

func TestRawPurgeKeepsFailedRows(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	transformed := newRawRecord(common.NewRawID())
	require.NoError(t, mgr.Raw().StoreRaw(ctx, transformed))
	require.NoError(t, mgr.Raw().MarkProcessed(ctx, "tenant-a", transformed.ID, models.ProcessingTransformed, ""))

	failed := newRawRecord(common.NewRawID())
	require.NoError(t, mgr.Raw().StoreRaw(ctx, failed))
	require.NoError(t, mgr.Raw().MarkProcessed(ctx, "tenant-a", failed.ID, models.ProcessingFailed, "boom"))

	purged, err := mgr.Raw().PurgeProcessed(ctx, "tenant-a", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = mgr.Raw().GetRaw(ctx, "tenant-a", transformed.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = mgr.Raw().GetRaw(ctx, "tenant-a", failed.ID)
	assert.NoError(t, err)
}
