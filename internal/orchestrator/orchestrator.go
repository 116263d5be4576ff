package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/confluo/internal/common"
	"github.com/ternarybob/confluo/internal/interfaces"
	"github.com/ternarybob/confluo/internal/models"
)

// ErrBackpressure is returned by Trigger while the orchestrator is
// paused on extract queue depth.
var ErrBackpressure = errors.New("extract queue above high-water mark")

// Orchestrator is the clock of the pipeline: it scans the job registry
// every tick, claims due jobs and publishes their first extract
// trigger. It also reconciles runaway RUNNING jobs.
type Orchestrator struct {
	jobs             interfaces.JobStorage
	broker           interfaces.Broker
	events           interfaces.EventService
	logger           arbor.ILogger
	tickInterval     time.Duration
	runawayThreshold time.Duration
	hwm              int
	lwm              int
	batchSize        int

	paused  bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a new orchestrator
func New(jobs interfaces.JobStorage, broker interfaces.Broker, events interfaces.EventService, cfg *common.Config, logger arbor.ILogger) *Orchestrator {
	tick := common.Duration(cfg.Orchestrator.TickInterval)
	if tick <= 0 {
		tick = 30 * time.Second
	}
	runaway := common.Duration(cfg.Orchestrator.RunawayThreshold)
	if runaway <= 0 {
		runaway = 2 * time.Hour
	}

	return &Orchestrator{
		jobs:             jobs,
		broker:           broker,
		events:           events,
		logger:           logger,
		tickInterval:     tick,
		runawayThreshold: runaway,
		hwm:              cfg.Orchestrator.ExtractQueueHWM,
		lwm:              cfg.Orchestrator.ExtractQueueLWM,
		batchSize:        cfg.Extract.BatchSize,
	}
}

// Start launches the tick loop
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		o.logger.Warn().Msg("Orchestrator already running")
		return
	}
	o.running = true

	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel

	o.logger.Info().
		Dur("tick_interval", o.tickInterval).
		Dur("runaway_threshold", o.runawayThreshold).
		Int("extract_hwm", o.hwm).
		Msg("Starting orchestrator")

	o.wg.Add(1)
	go o.loop(ctx)
}

// Stop halts the tick loop
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
	o.logger.Info().Msg("Orchestrator stopped")
}

func (o *Orchestrator) loop(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Tick(ctx)
		}
	}
}

// Tick runs one scheduling pass: reconcile stale runs, refresh the
// backpressure gate, then start every due job.
func (o *Orchestrator) Tick(ctx context.Context) {
	o.reconcileRunaways(ctx)

	if o.updateBackpressure(ctx) {
		return
	}

	due, err := o.jobs.DueJobs(ctx, time.Now().UTC())
	if err != nil {
		o.logger.Error().Err(err).Msg("Failed to scan due jobs")
		return
	}

	for _, job := range due {
		if err := o.startRun(ctx, job.TenantID, job.ID); err != nil {
			if errors.Is(err, models.ErrConflict) {
				// Another scheduler instance claimed it this tick.
				continue
			}
			o.logger.Error().Err(err).
				Str("job_id", job.ID).
				Str("tenant_id", job.TenantID).
				Msg("Failed to start due job")
		}
	}
}

// Trigger starts a job on demand. A RUNNING job is a no-op; a paused
// orchestrator returns ErrBackpressure.
func (o *Orchestrator) Trigger(ctx context.Context, tenantID, jobID string) error {
	o.mu.Lock()
	paused := o.paused
	o.mu.Unlock()
	if paused {
		return ErrBackpressure
	}

	err := o.startRun(ctx, tenantID, jobID)
	if errors.Is(err, models.ErrConflict) {
		// Already running: the trigger is idempotent.
		job, getErr := o.jobs.GetJob(ctx, tenantID, jobID)
		if getErr == nil && job.OverallStatus == models.JobStatusRunning {
			return nil
		}
		return err
	}
	return err
}

// startRun claims the job via the registry's CAS and publishes the
// first step's extract trigger. A publish failure is compensated by
// failing the run so the reconciler does not have to wait it out.
func (o *Orchestrator) startRun(ctx context.Context, tenantID, jobID string) error {
	startedAt := time.Now().UTC()
	job, err := o.jobs.BeginRun(ctx, tenantID, jobID, startedAt)
	if err != nil {
		return err
	}

	first := job.FirstStep()
	if first == nil {
		compErr := o.jobs.CompleteRun(ctx, tenantID, jobID, models.JobStatusFailed, "job has no steps")
		if compErr != nil {
			o.logger.Error().Err(compErr).Str("job_id", jobID).Msg("Failed to fail stepless job")
		}
		return fmt.Errorf("job %s has no steps", jobID)
	}

	trigger := &models.Envelope{
		ID:            common.NewMessageID(),
		TenantID:      tenantID,
		IntegrationID: job.IntegrationID,
		JobID:         jobID,
		StepName:      first.Name,
		EntityType:    first.EntityType,
		Ref: models.NewExtractRef(models.ExtractParams{
			Since:    job.Watermark(first.Name),
			PageSize: o.batchSize,
		}),
		FirstItem:   true,
		LastItem:    true,
		LastJobItem: len(job.Steps) == 1,
		Priority:    priorityFor(first.EntityType),
		EnqueuedAt:  startedAt,
	}

	if err := o.broker.Publish(ctx, models.QueueExtract, trigger); err != nil {
		o.logger.Error().Err(err).
			Str("job_id", jobID).
			Msg("Failed to publish first extract, compensating with FAILED")
		if compErr := o.jobs.CompleteRun(ctx, tenantID, jobID, models.JobStatusFailed, "failed to enqueue first extract: "+err.Error()); compErr != nil {
			// The reconciler picks this job up once it crosses the
			// runaway threshold.
			o.logger.Error().Err(compErr).Str("job_id", jobID).Msg("Compensating complete failed, relying on reconciler")
		}
		return err
	}

	o.logger.Info().
		Str("job_id", jobID).
		Str("tenant_id", tenantID).
		Str("first_step", first.Name).
		Msg("Job run started")
	o.events.Publish(ctx, models.ProgressEvent{
		Type:      models.EventJobStarted,
		TenantID:  tenantID,
		JobID:     jobID,
		StepName:  first.Name,
		Timestamp: startedAt,
	})
	return nil
}

// updateBackpressure refreshes the pause gate from extract queue depth.
// Pausing engages at the high-water mark and releases at the low-water
// mark so the gate does not flap.
func (o *Orchestrator) updateBackpressure(ctx context.Context) bool {
	depth, err := o.broker.Depth(ctx, models.QueueExtract)
	if err != nil {
		o.logger.Error().Err(err).Msg("Failed to read extract queue depth")
		o.mu.Lock()
		defer o.mu.Unlock()
		return o.paused
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case !o.paused && depth >= o.hwm:
		o.paused = true
		o.logger.Warn().
			Int("depth", depth).
			Int("hwm", o.hwm).
			Msg("Extract queue above high-water mark, pausing new runs")
	case o.paused && depth <= o.lwm:
		o.paused = false
		o.logger.Info().
			Int("depth", depth).
			Int("lwm", o.lwm).
			Msg("Extract queue drained below low-water mark, resuming runs")
	}
	return o.paused
}

// Paused reports whether new runs are currently gated on backpressure.
func (o *Orchestrator) Paused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

// reconcileRunaways force-fails RUNNING jobs whose run started longer
// ago than the runaway threshold. In-flight messages for such a job may
// still be processed, but their writes are idempotent and their status
// transitions are rejected by the registry's guards.
func (o *Orchestrator) reconcileRunaways(ctx context.Context) {
	running, err := o.jobs.RunningJobs(ctx)
	if err != nil {
		o.logger.Error().Err(err).Msg("Failed to scan running jobs")
		return
	}

	cutoff := time.Now().UTC().Add(-o.runawayThreshold)
	for _, job := range running {
		if job.LastRunStarted == nil || job.LastRunStarted.After(cutoff) {
			continue
		}

		o.logger.Warn().
			Str("job_id", job.ID).
			Str("tenant_id", job.TenantID).
			Str("last_run_started", job.LastRunStarted.Format(time.RFC3339)).
			Msg("Aborting runaway job run")

		err := o.jobs.CompleteRun(ctx, job.TenantID, job.ID, models.JobStatusFailed, "run exceeded runaway threshold")
		if err != nil && !errors.Is(err, models.ErrConflict) {
			o.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to abort runaway job")
			continue
		}
		o.events.Publish(ctx, models.ProgressEvent{
			Type:      models.EventJobFailed,
			TenantID:  job.TenantID,
			JobID:     job.ID,
			Error:     "run exceeded runaway threshold",
			Timestamp: time.Now().UTC(),
		})
	}
}

// priorityFor maps discovery steps to the urgent band.
func priorityFor(entityType models.EntityType) int {
	if entityType == models.EntityJiraDiscovery {
		return models.PriorityUrgent
	}
	return models.PriorityDefault
}
