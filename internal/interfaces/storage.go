package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/confluo/internal/models"
)

// JobFilter narrows job list queries.
type JobFilter struct {
	TenantID string
	Status   models.JobStatus
	Active   *bool
	Limit    int
	Offset   int
}

// JobStorage is the job registry: the authoritative record of scheduled
// jobs, their step sub-statuses and their watermarks.
type JobStorage interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, tenantID, jobID string) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error)
	UpdateJob(ctx context.Context, job *models.Job) error
	DeleteJob(ctx context.Context, tenantID, jobID string) error

	// DueJobs returns active jobs whose next_run has passed and whose
	// overall status permits starting.
	DueJobs(ctx context.Context, now time.Time) ([]*models.Job, error)

	// RunningJobs returns jobs currently in the RUNNING state, used by
	// the stale-run reconciler.
	RunningJobs(ctx context.Context) ([]*models.Job, error)

	// BeginRun atomically moves a startable job to RUNNING, resets all
	// sub-statuses to idle and stamps last_run_started. Returns
	// models.ErrConflict when another scheduler won the transition.
	BeginRun(ctx context.Context, tenantID, jobID string, startedAt time.Time) (*models.Job, error)

	// SetSubStatus transitions one (step, worker type) cell, enforcing
	// the sub-status state machine. Invalid transitions return
	// models.ErrConflict.
	SetSubStatus(ctx context.Context, tenantID, jobID, stepName string, workerType models.WorkerType, value models.SubStatus, errMsg string) error

	// CompleteRun finalizes a RUNNING job as COMPLETED or FAILED, stamps
	// last_run_finished and computes next_run from the schedule.
	CompleteRun(ctx context.Context, tenantID, jobID string, status models.JobStatus, errMsg string) error

	// AdvanceWatermark raises the named step's watermark to the given
	// instant. Watermarks never move backwards.
	AdvanceWatermark(ctx context.Context, tenantID, jobID, stepName string, watermark time.Time) error
}

// RawFilter narrows raw staging queries.
type RawFilter struct {
	TenantID   string
	EntityType models.EntityType
	Status     models.ProcessingStatus
	Limit      int
}

// RawStorage stages extracted source payloads before transformation.
type RawStorage interface {
	StoreRaw(ctx context.Context, rec *models.RawRecord) error
	GetRaw(ctx context.Context, tenantID, rawID string) (*models.RawRecord, error)
	ListRaw(ctx context.Context, filter RawFilter) ([]*models.RawRecord, error)
	MarkProcessed(ctx context.Context, tenantID, rawID string, status models.ProcessingStatus, errMsg string) error
	PurgeProcessed(ctx context.Context, tenantID string, before time.Time) (int, error)
}

// IntegrationStorage persists tenant integration configs, including the
// per-tenant custom field mappings.
type IntegrationStorage interface {
	CreateIntegration(ctx context.Context, integ *models.Integration) error
	GetIntegration(ctx context.Context, tenantID, id string) (*models.Integration, error)
	ListIntegrations(ctx context.Context, tenantID string) ([]*models.Integration, error)
	UpdateIntegration(ctx context.Context, integ *models.Integration) error
	SetCustomFieldMappings(ctx context.Context, tenantID, id string, mappings map[string]string) error
}

// TargetStorage writes canonical rows. All writes are idempotent upserts
// keyed on (external_id, tenant_id).
type TargetStorage interface {
	UpsertProject(ctx context.Context, p *models.Project) error
	UpsertWorkItem(ctx context.Context, w *models.WorkItem) error
	UpsertWorkItemComment(ctx context.Context, c *models.WorkItemComment) error
	UpsertPullRequest(ctx context.Context, pr *models.PullRequest) error
	UpsertCommit(ctx context.Context, c *models.Commit) error
	UpsertReview(ctx context.Context, r *models.Review) error
	UpsertPRComment(ctx context.Context, c *models.PRComment) error

	// TargetText loads the row named by (table, external id) and renders
	// the text an embedding is computed from. Returns models.ErrNotFound
	// when the row does not exist.
	TargetText(ctx context.Context, tenantID, table, externalID string) (string, error)
}

// CatalogStorage tracks custom fields and issue types observed during
// discovery.
type CatalogStorage interface {
	UpsertCustomFields(ctx context.Context, tenantID, integrationID string, fields []models.CustomFieldCatalogEntry) error
	ListCustomFields(ctx context.Context, tenantID, integrationID string, activeOnly bool) ([]models.CustomFieldCatalogEntry, error)
	UpsertIssueTypes(ctx context.Context, tenantID, integrationID string, types []models.IssueTypeCatalogEntry) error
	ListIssueTypes(ctx context.Context, tenantID, integrationID string, activeOnly bool) ([]models.IssueTypeCatalogEntry, error)

	// DeactivateMissing flags catalog entries not seen at or after the
	// given discovery time.
	DeactivateMissing(ctx context.Context, tenantID, integrationID string, seenAt time.Time) error
}

// VectorStorage stores embeddings in tenant-scoped collections.
type VectorStorage interface {
	Upsert(ctx context.Context, point *models.VectorPoint) error
	Get(ctx context.Context, collection, externalID string) (*models.VectorPoint, error)
	Delete(ctx context.Context, collection, externalID string) error
	Count(ctx context.Context, collection string) (int, error)
	Close() error
}

// StorageManager bundles the relational stores behind one lifecycle.
type StorageManager interface {
	Jobs() JobStorage
	Raw() RawStorage
	Integrations() IntegrationStorage
	Targets() TargetStorage
	Catalogs() CatalogStorage
	Close() error
}
