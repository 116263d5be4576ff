package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/confluo/internal/common"
	"github.com/ternarybob/confluo/internal/interfaces"
	"github.com/ternarybob/confluo/internal/models"
	"github.com/ternarybob/confluo/internal/queue"
	"github.com/ternarybob/confluo/internal/services/events"
	"github.com/ternarybob/confluo/internal/storage/sqlite"
)

type fixture struct {
	orch    *Orchestrator
	broker  interfaces.Broker
	storage interfaces.StorageManager
	cfg     *common.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := arbor.NewLogger()

	cfg := common.DefaultConfig()
	cfg.Orchestrator.ExtractQueueHWM = 2
	cfg.Orchestrator.ExtractQueueLWM = 0
	cfg.Orchestrator.RunawayThreshold = "1h"
	cfg.Extract.BatchSize = 50

	broker, err := queue.NewBadgerBroker(filepath.Join(t.TempDir(), "queue"), cfg.Queue, logger)
	require.NoError(t, err)
	t.Cleanup(func() { broker.Stop() })

	storage, err := sqlite.NewManager(logger, &common.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	eventSvc := events.NewService(logger)
	t.Cleanup(func() { eventSvc.Close() })

	return &fixture{
		orch:    New(storage.Jobs(), broker, eventSvc, cfg, logger),
		broker:  broker,
		storage: storage,
		cfg:     cfg,
	}
}

func (f *fixture) seedJob(t *testing.T, jobID string, steps []*models.JobStep) *models.Job {
	t.Helper()
	ctx := context.Background()

	integ := &models.Integration{
		ID:          "int_" + jobID,
		TenantID:    "tenant-a",
		Provider:    models.ProviderJira,
		Credentials: json.RawMessage(`{}`),
		Active:      true,
	}
	require.NoError(t, f.storage.Integrations().CreateIntegration(ctx, integ))

	job := models.NewJob(jobID, "tenant-a", integ.ID, "sync "+jobID, steps)
	job.ScheduleInterval = time.Hour
	job.NextRun = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, f.storage.Jobs().CreateJob(ctx, job))
	return job
}

func issueSteps() []*models.JobStep {
	return []*models.JobStep{
		{Name: "issues", Order: 1, EntityType: models.EntityJiraIssues},
		{Name: "comments", Order: 2, EntityType: models.EntityJiraComments},
	}
}

func TestTickStartsDueJob(t *testing.T) {
	f := newFixture(t)
	f.seedJob(t, "job_1", issueSteps())
	ctx := context.Background()

	f.orch.Tick(ctx)

	job, err := f.storage.Jobs().GetJob(ctx, "tenant-a", "job_1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, job.OverallStatus)
	require.NotNil(t, job.LastRunStarted)

	env, err := f.broker.Receive(ctx, models.QueueExtract)
	require.NoError(t, err)
	assert.Equal(t, "job_1", env.JobID)
	assert.Equal(t, "issues", env.StepName)
	assert.Equal(t, models.EntityJiraIssues, env.EntityType)
	assert.True(t, env.FirstItem)
	assert.True(t, env.LastItem)
	assert.False(t, env.LastJobItem, "multi-step job trigger must not close the job bracket")
	assert.Equal(t, models.PriorityDefault, env.Priority)

	params, err := env.Ref.ExtractParams()
	require.NoError(t, err)
	assert.Equal(t, f.cfg.Extract.BatchSize, params.PageSize)
	assert.True(t, params.Since.IsZero(), "first run starts from the zero watermark")
}

func TestTickSingleStepTriggerClosesJobBracket(t *testing.T) {
	f := newFixture(t)
	f.seedJob(t, "job_1", []*models.JobStep{
		{Name: "issues", Order: 1, EntityType: models.EntityJiraIssues},
	})
	ctx := context.Background()

	f.orch.Tick(ctx)

	env, err := f.broker.Receive(ctx, models.QueueExtract)
	require.NoError(t, err)
	assert.True(t, env.LastJobItem)
}

func TestTickDiscoveryStepIsUrgent(t *testing.T) {
	f := newFixture(t)
	f.seedJob(t, "job_1", []*models.JobStep{
		{Name: "discovery", Order: 1, EntityType: models.EntityJiraDiscovery},
		{Name: "issues", Order: 2, EntityType: models.EntityJiraIssues},
	})
	ctx := context.Background()

	f.orch.Tick(ctx)

	env, err := f.broker.Receive(ctx, models.QueueExtract)
	require.NoError(t, err)
	assert.Equal(t, models.PriorityUrgent, env.Priority)
}

func TestTriggerIsIdempotentForRunningJob(t *testing.T) {
	f := newFixture(t)
	f.seedJob(t, "job_1", issueSteps())
	ctx := context.Background()

	require.NoError(t, f.orch.Trigger(ctx, "tenant-a", "job_1"))
	require.NoError(t, f.orch.Trigger(ctx, "tenant-a", "job_1"))

	// Only the first trigger published an extract message.
	_, err := f.broker.Receive(ctx, models.QueueExtract)
	require.NoError(t, err)
	_, err = f.broker.Receive(ctx, models.QueueExtract)
	assert.ErrorIs(t, err, models.ErrNoMessage)
}

func TestTriggerUnknownJob(t *testing.T) {
	f := newFixture(t)
	err := f.orch.Trigger(context.Background(), "tenant-a", "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestBackpressurePausesAndResumes(t *testing.T) {
	f := newFixture(t)
	f.seedJob(t, "job_1", issueSteps())
	ctx := context.Background()

	// Push the extract queue to the high-water mark before the tick.
	backlog := f.cfg.Orchestrator.ExtractQueueHWM
	for i := 0; i < backlog; i++ {
		env := &models.Envelope{
			TenantID:   "tenant-a",
			JobID:      "other_job",
			StepName:   "issues",
			EntityType: models.EntityJiraIssues,
			Ref:        models.NewExtractRef(models.ExtractParams{}),
			FirstItem:  true,
			LastItem:   true,
		}
		require.NoError(t, f.broker.Publish(ctx, models.QueueExtract, env))
	}

	f.orch.Tick(ctx)
	assert.True(t, f.orch.Paused())

	// The due job was not started while paused.
	job, err := f.storage.Jobs().GetJob(ctx, "tenant-a", "job_1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusReady, job.OverallStatus)

	assert.ErrorIs(t, f.orch.Trigger(ctx, "tenant-a", "job_1"), ErrBackpressure)

	// Drain to the low-water mark and the next tick resumes.
	for i := 0; i < backlog; i++ {
		env, err := f.broker.Receive(ctx, models.QueueExtract)
		require.NoError(t, err)
		require.NoError(t, f.broker.Ack(ctx, models.QueueExtract, env.ID))
	}

	f.orch.Tick(ctx)
	assert.False(t, f.orch.Paused())

	job, err = f.storage.Jobs().GetJob(ctx, "tenant-a", "job_1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, job.OverallStatus)
}

func TestReconcileRunawayJob(t *testing.T) {
	f := newFixture(t)
	job := f.seedJob(t, "job_1", issueSteps())
	ctx := context.Background()

	// Failure preserves next_run, so park the schedule to keep the
	// aborted job from being claimed again within the same tick.
	job.NextRun = time.Now().UTC().Add(time.Hour)
	require.NoError(t, f.storage.Jobs().UpdateJob(ctx, job))

	// Claim the run with a start time far past the runaway threshold.
	_, err := f.storage.Jobs().BeginRun(ctx, "tenant-a", "job_1", time.Now().UTC().Add(-3*time.Hour))
	require.NoError(t, err)

	f.orch.Tick(ctx)

	got, err := f.storage.Jobs().GetJob(ctx, "tenant-a", "job_1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.OverallStatus)
	assert.Contains(t, got.ErrorMessage, "runaway")
}

func TestReconcileLeavesFreshRunAlone(t *testing.T) {
	f := newFixture(t)
	f.seedJob(t, "job_1", issueSteps())
	ctx := context.Background()

	_, err := f.storage.Jobs().BeginRun(ctx, "tenant-a", "job_1", time.Now().UTC())
	require.NoError(t, err)

	f.orch.Tick(ctx)

	job, err := f.storage.Jobs().GetJob(ctx, "tenant-a", "job_1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, job.OverallStatus)
}

func TestStartRunFailsJobWhenPublishFails(t *testing.T) {
	f := newFixture(t)
	f.seedJob(t, "job_1", issueSteps())
	ctx := context.Background()

	// A stopped broker rejects publishes.
	require.NoError(t, f.broker.Stop())

	err := f.orch.Trigger(ctx, "tenant-a", "job_1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, models.ErrConflict))

	job, err := f.storage.Jobs().GetJob(ctx, "tenant-a", "job_1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.OverallStatus)
}
