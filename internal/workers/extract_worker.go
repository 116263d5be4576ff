package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/confluo/internal/common"
	"github.com/ternarybob/confluo/internal/connectors"
	"github.com/ternarybob/confluo/internal/interfaces"
	"github.com/ternarybob/confluo/internal/models"
)

// ExtractWorker consumes the extract queue: it pages the source adapter,
// stages raw records, streams transform messages with bracket flags and
// chains the next step's extract trigger.
type ExtractWorker struct {
	base
	broker         interfaces.Broker
	storage        interfaces.StorageManager
	registry       *connectors.Registry
	batchSize      int
	transformHWM   int
	publishPause   time.Duration
	requestTimeout time.Duration
}

// NewExtractWorker creates a new extract worker
func NewExtractWorker(broker interfaces.Broker, storage interfaces.StorageManager, registry *connectors.Registry, events interfaces.EventService, cfg *common.Config, logger arbor.ILogger) *ExtractWorker {
	requestTimeout := common.Duration(cfg.Extract.RequestTimeout)
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}
	publishPause := common.Duration(cfg.Extract.PublishPause)
	if publishPause <= 0 {
		publishPause = 500 * time.Millisecond
	}

	return &ExtractWorker{
		base: base{
			jobs:       storage.Jobs(),
			events:     events,
			logger:     logger,
			maxRetries: cfg.Queue.MaxRetries,
		},
		broker:         broker,
		storage:        storage,
		registry:       registry,
		batchSize:      cfg.Extract.BatchSize,
		transformHWM:   cfg.Extract.TransformHWM,
		publishPause:   publishPause,
		requestTimeout: requestTimeout,
	}
}

var _ Handler = (*ExtractWorker)(nil)

// Queue returns the queue this worker consumes
func (w *ExtractWorker) Queue() models.QueueName {
	return models.QueueExtract
}

// WorkerType returns the sub-status cell this worker owns
func (w *ExtractWorker) WorkerType() models.WorkerType {
	return models.WorkerTypeExtraction
}

// Handle processes one extract trigger message.
func (w *ExtractWorker) Handle(ctx context.Context, env *models.Envelope) error {
	job, err := w.jobs.GetJob(ctx, env.TenantID, env.JobID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return Terminal(fmt.Errorf("extract message references unknown job %s: %w", env.JobID, err))
		}
		return err
	}

	step, ok := job.Steps[env.StepName]
	if !ok {
		return Terminal(fmt.Errorf("extract message references unknown step %q of job %s", env.StepName, env.JobID))
	}

	// Redelivery after a completed step is a no-op.
	if step.Extraction == models.SubStatusFinished {
		w.logger.Debug().
			Str("job_id", env.JobID).
			Str("step", env.StepName).
			Msg("Step extraction already finished, acking redelivery")
		return nil
	}

	integ, err := w.storage.Integrations().GetIntegration(ctx, env.TenantID, env.IntegrationID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return Terminal(fmt.Errorf("extract message references unknown integration %s: %w", env.IntegrationID, err))
		}
		return err
	}
	if integ.TenantID != env.TenantID {
		return models.ErrTenantMismatch
	}

	conn, err := w.registry.For(integ.Provider)
	if err != nil {
		return Terminal(err)
	}

	if err := w.setSubStatus(ctx, env, models.WorkerTypeExtraction, models.SubStatusRunning, ""); err != nil {
		return err
	}

	if env.EntityType == models.EntityJiraDiscovery {
		err = w.runDiscovery(ctx, conn, integ, env, job)
	} else {
		err = w.runExtraction(ctx, conn, integ, env, job)
	}
	if err != nil {
		return w.fail(ctx, env, models.WorkerTypeExtraction, err)
	}

	// A non-terminal step triggers the next step before closing its own
	// bracket, so a crash between the two redelivers into a re-runnable
	// state instead of a stuck job.
	if next := job.NextStep(env.StepName); next != nil {
		if err := w.publishNextStep(ctx, env, job, next); err != nil {
			return w.fail(ctx, env, models.WorkerTypeExtraction, err)
		}
	}

	if err := w.setSubStatus(ctx, env, models.WorkerTypeExtraction, models.SubStatusFinished, ""); err != nil {
		return err
	}

	// The watermark moves to run start, not now, so a long run leaves no
	// gap for the next incremental pass.
	if env.EntityType != models.EntityJiraDiscovery && job.LastRunStarted != nil {
		if err := w.jobs.AdvanceWatermark(ctx, env.TenantID, env.JobID, env.StepName, job.LastRunStarted.UTC()); err != nil {
			w.logger.Error().Err(err).
				Str("job_id", env.JobID).
				Str("step", env.StepName).
				Msg("Failed to advance watermark")
		}
	}
	return nil
}

// runExtraction pages the connector and streams one transform message
// per staged item. Exactly one message carries first_item and one
// carries last_item; the closing flag is decided with one-item
// lookahead.
func (w *ExtractWorker) runExtraction(ctx context.Context, conn interfaces.Connector, integ *models.Integration, env *models.Envelope, job *models.Job) error {
	watermark := job.Watermark(env.StepName)
	lastStep := job.IsLastStep(env.StepName)

	req := interfaces.ExtractRequest{
		EntityType: env.EntityType,
		Since:      watermark,
		PageSize:   w.batchSize,
	}

	published := 0
	flush := func(pending *models.Envelope, last bool) error {
		flagged := pending.WithFlags(published == 0, last, last && lastStep)
		if err := w.publishTransform(ctx, flagged); err != nil {
			return err
		}
		published++
		return nil
	}

	var pending *models.Envelope
	for {
		reqCtx, cancel := context.WithTimeout(ctx, w.requestTimeout)
		page, err := conn.Extract(reqCtx, integ, req)
		cancel()
		if err != nil {
			return fmt.Errorf("extraction failed for %s: %w", env.EntityType, err)
		}

		for _, item := range page.Items {
			rec := &models.RawRecord{
				ID:            common.NewRawID(),
				TenantID:      env.TenantID,
				IntegrationID: env.IntegrationID,
				EntityType:    env.EntityType,
				ExternalID:    item.ExternalID,
				Payload:       item.Payload,
				Metadata: models.ExtractionMetadata{
					JobID:     env.JobID,
					StepName:  env.StepName,
					Watermark: watermark,
					Context:   item.Context,
				},
			}
			if err := w.storage.Raw().StoreRaw(ctx, rec); err != nil {
				return err
			}

			if pending != nil {
				if err := flush(pending, false); err != nil {
					return err
				}
			}
			pending = w.transformEnvelope(env, rec.ID)
		}

		if page.Done {
			break
		}
		req.Cursor = page.NextCursor
	}

	if pending != nil {
		if err := flush(pending, true); err != nil {
			return err
		}
		w.logger.Info().
			Str("job_id", env.JobID).
			Str("step", env.StepName).
			Int("items", published).
			Msg("Extraction step streamed")
		return nil
	}

	// Zero items: a sentinel still carries the closing bracket downstream.
	sentinel := w.transformEnvelope(env, "")
	sentinel.Ref = nil
	w.logger.Info().
		Str("job_id", env.JobID).
		Str("step", env.StepName).
		Msg("Extraction step empty, publishing sentinel")
	return w.publishTransform(ctx, sentinel.WithFlags(true, true, lastStep))
}

// runDiscovery refreshes the custom field and issue type catalogs, then
// sends a sentinel so downstream brackets still close.
func (w *ExtractWorker) runDiscovery(ctx context.Context, conn interfaces.Connector, integ *models.Integration, env *models.Envelope, job *models.Job) error {
	reqCtx, cancel := context.WithTimeout(ctx, w.requestTimeout)
	result, err := conn.Discover(reqCtx, integ)
	cancel()
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	seenAt := time.Now().UTC()
	catalogs := w.storage.Catalogs()
	if err := catalogs.UpsertCustomFields(ctx, env.TenantID, env.IntegrationID, result.CustomFields); err != nil {
		return err
	}
	if err := catalogs.UpsertIssueTypes(ctx, env.TenantID, env.IntegrationID, result.IssueTypes); err != nil {
		return err
	}
	if err := catalogs.DeactivateMissing(ctx, env.TenantID, env.IntegrationID, seenAt); err != nil {
		return err
	}

	w.logger.Info().
		Str("job_id", env.JobID).
		Str("integration_id", env.IntegrationID).
		Int("custom_fields", len(result.CustomFields)).
		Int("issue_types", len(result.IssueTypes)).
		Msg("Discovery catalogs refreshed")

	sentinel := w.transformEnvelope(env, "")
	sentinel.Ref = nil
	return w.publishTransform(ctx, sentinel.WithFlags(true, true, job.IsLastStep(env.StepName)))
}

func (w *ExtractWorker) transformEnvelope(env *models.Envelope, rawID string) *models.Envelope {
	out := &models.Envelope{
		ID:            common.NewMessageID(),
		TenantID:      env.TenantID,
		IntegrationID: env.IntegrationID,
		JobID:         env.JobID,
		StepName:      env.StepName,
		EntityType:    env.EntityType,
		Priority:      env.Priority,
		EnqueuedAt:    time.Now().UTC(),
	}
	if rawID != "" {
		out.Ref = &models.Ref{RawID: rawID}
	}
	return out
}

// publishTransform pushes one message, pausing while the transform queue
// sits above its high-water mark.
func (w *ExtractWorker) publishTransform(ctx context.Context, env *models.Envelope) error {
	for {
		depth, err := w.broker.Depth(ctx, models.QueueTransform)
		if err != nil {
			return err
		}
		if depth < w.transformHWM {
			break
		}
		w.logger.Warn().
			Int("depth", depth).
			Int("hwm", w.transformHWM).
			Msg("Transform queue above high-water mark, pausing publishes")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.publishPause):
		}
	}
	return w.broker.Publish(ctx, models.QueueTransform, env)
}

// publishNextStep chains the next step's extract trigger.
func (w *ExtractWorker) publishNextStep(ctx context.Context, env *models.Envelope, job *models.Job, next *models.JobStep) error {
	trigger := &models.Envelope{
		ID:            common.NewMessageID(),
		TenantID:      env.TenantID,
		IntegrationID: env.IntegrationID,
		JobID:         env.JobID,
		StepName:      next.Name,
		EntityType:    next.EntityType,
		Ref: models.NewExtractRef(models.ExtractParams{
			Since:    job.Watermark(next.Name),
			PageSize: w.batchSize,
		}),
		FirstItem:  true,
		LastItem:   true,
		Priority:   env.Priority,
		EnqueuedAt: time.Now().UTC(),
	}
	w.logger.Debug().
		Str("job_id", env.JobID).
		Str("from_step", env.StepName).
		Str("to_step", next.Name).
		Msg("Chaining next extraction step")
	return w.broker.Publish(ctx, models.QueueExtract, trigger)
}
