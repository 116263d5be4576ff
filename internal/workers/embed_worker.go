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
)

// EmbedWorker consumes the embed queue: it vectorizes finalized rows
// and finalizes the job when the last bracket closes.
type EmbedWorker struct {
	base
	storage  interfaces.StorageManager
	vectors  interfaces.VectorStorage
	provider interfaces.EmbeddingProvider
}

// NewEmbedWorker creates a new embed worker
func NewEmbedWorker(storage interfaces.StorageManager, vectors interfaces.VectorStorage, provider interfaces.EmbeddingProvider, events interfaces.EventService, cfg *common.Config, logger arbor.ILogger) *EmbedWorker {
	return &EmbedWorker{
		base: base{
			jobs:       storage.Jobs(),
			events:     events,
			logger:     logger,
			maxRetries: cfg.Queue.MaxRetries,
		},
		storage:  storage,
		vectors:  vectors,
		provider: provider,
	}
}

var _ Handler = (*EmbedWorker)(nil)

// Queue returns the queue this worker consumes
func (w *EmbedWorker) Queue() models.QueueName {
	return models.QueueEmbed
}

// WorkerType returns the sub-status cell this worker owns
func (w *EmbedWorker) WorkerType() models.WorkerType {
	return models.WorkerTypeEmbedding
}

// Handle processes one embed message.
func (w *EmbedWorker) Handle(ctx context.Context, env *models.Envelope) error {
	if env.FirstItem {
		if err := w.setSubStatus(ctx, env, models.WorkerTypeEmbedding, models.SubStatusRunning, ""); err != nil {
			return err
		}
	}

	if !env.IsSentinel() {
		if err := w.embedOne(ctx, env); err != nil {
			if IsTerminal(err) {
				return err
			}
			return w.fail(ctx, env, models.WorkerTypeEmbedding, err)
		}
	}

	if env.LastItem {
		if err := w.setSubStatus(ctx, env, models.WorkerTypeEmbedding, models.SubStatusFinished, ""); err != nil {
			return err
		}
		// Any closing bracket may be the one that makes the job
		// finishable: the final step's last_job_item can land while an
		// earlier step's embedding still lags, and then that earlier
		// step's closing message completes the run.
		if err := w.finalizeJob(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

func (w *EmbedWorker) embedOne(ctx context.Context, env *models.Envelope) error {
	if env.Ref.TargetTable == "" || env.Ref.ExternalID == "" {
		return Terminal(fmt.Errorf("embed message carries incomplete ref: table=%q external_id=%q", env.Ref.TargetTable, env.Ref.ExternalID))
	}

	text, err := w.storage.Targets().TargetText(ctx, env.TenantID, env.Ref.TargetTable, env.Ref.ExternalID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// The row may have vanished between transform and embed. Skip
			// the vector; the next full resync repairs it.
			w.logger.Warn().
				Str("table", env.Ref.TargetTable).
				Str("external_id", env.Ref.ExternalID).
				Str("job_id", env.JobID).
				Msg("Target row missing, skipping vector")
			return nil
		}
		return err
	}

	vectors, err := w.provider.Embed(ctx, []string{text})
	if err != nil {
		return fmt.Errorf("embedding failed for %s/%s: %w", env.Ref.TargetTable, env.Ref.ExternalID, err)
	}

	point := &models.VectorPoint{
		TenantID:   env.TenantID,
		Collection: env.EntityType.VectorCollection(env.TenantID),
		ExternalID: env.Ref.ExternalID,
		Vector:     vectors[0],
		UpdatedAt:  time.Now().UTC(),
	}
	return w.vectors.Upsert(ctx, point)
}

// finalizeJob completes the run once every step's embedding bracket has
// closed. A redelivered closing message finds the job already
// COMPLETED; the registry's guard makes that a no-op.
func (w *EmbedWorker) finalizeJob(ctx context.Context, env *models.Envelope) error {
	job, err := w.jobs.GetJob(ctx, env.TenantID, env.JobID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return Terminal(fmt.Errorf("embed message references unknown job %s: %w", env.JobID, err))
		}
		return err
	}
	if !job.AllEmbeddingFinished() {
		w.logger.Debug().
			Str("job_id", env.JobID).
			Msg("Closing message arrived before all embedding brackets, deferring completion")
		return nil
	}

	if err := w.jobs.CompleteRun(ctx, env.TenantID, env.JobID, models.JobStatusCompleted, ""); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil
		}
		return err
	}

	w.logger.Info().
		Str("job_id", env.JobID).
		Str("tenant_id", env.TenantID).
		Msg("Job run completed")
	w.events.Publish(ctx, models.ProgressEvent{
		Type:      models.EventJobCompleted,
		TenantID:  env.TenantID,
		JobID:     env.JobID,
		Timestamp: time.Now().UTC(),
	})
	return nil
}
