package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/confluo/internal/common"
	"github.com/ternarybob/confluo/internal/interfaces"
	"github.com/ternarybob/confluo/internal/models"
	"github.com/ternarybob/confluo/internal/transform"
)

// TransformWorker consumes the transform queue: it maps staged raw
// payloads to canonical rows and forwards the bracket flags to the
// embed queue.
type TransformWorker struct {
	base
	broker  interfaces.Broker
	storage interfaces.StorageManager
}

// NewTransformWorker creates a new transform worker
func NewTransformWorker(broker interfaces.Broker, storage interfaces.StorageManager, events interfaces.EventService, cfg *common.Config, logger arbor.ILogger) *TransformWorker {
	return &TransformWorker{
		base: base{
			jobs:       storage.Jobs(),
			events:     events,
			logger:     logger,
			maxRetries: cfg.Queue.MaxRetries,
		},
		broker:  broker,
		storage: storage,
	}
}

var _ Handler = (*TransformWorker)(nil)

// Queue returns the queue this worker consumes
func (w *TransformWorker) Queue() models.QueueName {
	return models.QueueTransform
}

// WorkerType returns the sub-status cell this worker owns
func (w *TransformWorker) WorkerType() models.WorkerType {
	return models.WorkerTypeTransform
}

// Handle processes one transform message. Closing messages may arrive
// before middle ones; only the flags are order-sensitive and they are
// applied independently of the payload work.
func (w *TransformWorker) Handle(ctx context.Context, env *models.Envelope) error {
	if env.FirstItem {
		if err := w.setSubStatus(ctx, env, models.WorkerTypeTransform, models.SubStatusRunning, ""); err != nil {
			return err
		}
	}

	if env.IsSentinel() {
		// Advance-only: nothing to upsert, but the embed worker still
		// needs the flags to close the step.
		if err := w.publishEmbed(ctx, env, nil); err != nil {
			return err
		}
	} else {
		if err := w.transformOne(ctx, env); err != nil {
			return err
		}
	}

	if env.LastItem {
		if err := w.setSubStatus(ctx, env, models.WorkerTypeTransform, models.SubStatusFinished, ""); err != nil {
			return err
		}
	}
	return nil
}

func (w *TransformWorker) transformOne(ctx context.Context, env *models.Envelope) error {
	raw, err := w.storage.Raw().GetRaw(ctx, env.TenantID, env.Ref.RawID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return Terminal(fmt.Errorf("transform message references unknown raw record %s: %w", env.Ref.RawID, err))
		}
		return err
	}
	if raw.TenantID != env.TenantID {
		return models.ErrTenantMismatch
	}

	integ, err := w.storage.Integrations().GetIntegration(ctx, env.TenantID, env.IntegrationID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return Terminal(fmt.Errorf("transform message references unknown integration %s: %w", env.IntegrationID, err))
		}
		return err
	}

	result, err := transform.Transform(raw, integ)
	if err != nil {
		// Deterministic mapping failure: retrying the same payload cannot
		// succeed, so record it and fail the run.
		if markErr := w.storage.Raw().MarkProcessed(ctx, env.TenantID, raw.ID, models.ProcessingFailed, err.Error()); markErr != nil {
			w.logger.Error().Err(markErr).Str("raw_id", raw.ID).Msg("Failed to mark raw record failed")
		}
		if statusErr := w.setSubStatus(ctx, env, models.WorkerTypeTransform, models.SubStatusFailed, err.Error()); statusErr != nil {
			w.logger.Error().Err(statusErr).Str("job_id", env.JobID).Msg("Failed to record failed sub-status")
		}
		if completeErr := w.jobs.CompleteRun(ctx, env.TenantID, env.JobID, models.JobStatusFailed, err.Error()); completeErr != nil && !errors.Is(completeErr, models.ErrConflict) {
			w.logger.Error().Err(completeErr).Str("job_id", env.JobID).Msg("Failed to finalize failed run")
		} else {
			w.events.Publish(ctx, models.ProgressEvent{
				Type:      models.EventJobFailed,
				TenantID:  env.TenantID,
				JobID:     env.JobID,
				StepName:  env.StepName,
				Error:     err.Error(),
				Timestamp: time.Now().UTC(),
			})
		}
		return Terminal(err)
	}

	if err := w.upsert(ctx, result); err != nil {
		return err
	}
	if err := w.storage.Raw().MarkProcessed(ctx, env.TenantID, raw.ID, models.ProcessingTransformed, ""); err != nil {
		return err
	}

	return w.publishEmbed(ctx, env, &models.Ref{
		TargetTable: result.Table,
		ExternalID:  result.ExternalID,
	})
}

// upsert routes the transform result to its target table.
func (w *TransformWorker) upsert(ctx context.Context, result *transform.Result) error {
	targets := w.storage.Targets()
	switch {
	case result.Project != nil:
		return targets.UpsertProject(ctx, result.Project)
	case result.WorkItem != nil:
		return targets.UpsertWorkItem(ctx, result.WorkItem)
	case result.WorkItemComment != nil:
		return targets.UpsertWorkItemComment(ctx, result.WorkItemComment)
	case result.PullRequest != nil:
		return targets.UpsertPullRequest(ctx, result.PullRequest)
	case result.Commit != nil:
		return targets.UpsertCommit(ctx, result.Commit)
	case result.Review != nil:
		return targets.UpsertReview(ctx, result.Review)
	case result.PRComment != nil:
		return targets.UpsertPRComment(ctx, result.PRComment)
	}
	return Terminal(fmt.Errorf("transform result for table %s carries no row", result.Table))
}

// publishEmbed forwards the bracket flags. A nil ref publishes an embed
// sentinel.
func (w *TransformWorker) publishEmbed(ctx context.Context, env *models.Envelope, ref *models.Ref) error {
	out := &models.Envelope{
		ID:            common.NewMessageID(),
		TenantID:      env.TenantID,
		IntegrationID: env.IntegrationID,
		JobID:         env.JobID,
		StepName:      env.StepName,
		EntityType:    env.EntityType,
		Ref:           ref,
		FirstItem:     env.FirstItem,
		LastItem:      env.LastItem,
		LastJobItem:   env.LastJobItem,
		Priority:      env.Priority,
		EnqueuedAt:    time.Now().UTC(),
	}
	return w.broker.Publish(ctx, models.QueueEmbed, out)
}
