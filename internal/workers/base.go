package workers

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/confluo/internal/interfaces"
	"github.com/ternarybob/confluo/internal/models"
)

// base carries the registry and progress plumbing shared by the three
// worker classes.
type base struct {
	jobs       interfaces.JobStorage
	events     interfaces.EventService
	logger     arbor.ILogger
	maxRetries int
}

// setSubStatus transitions one sub-status cell and mirrors the change
// to the progress channel. Conflicts are swallowed: under at-least-once
// delivery a redelivered or out-of-order message may race a transition
// that already happened, and the registry's state machine is
// authoritative.
func (b *base) setSubStatus(ctx context.Context, env *models.Envelope, workerType models.WorkerType, value models.SubStatus, errMsg string) error {
	err := b.jobs.SetSubStatus(ctx, env.TenantID, env.JobID, env.StepName, workerType, value, errMsg)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			b.logger.Debug().
				Str("job_id", env.JobID).
				Str("step", env.StepName).
				Str("worker_type", workerType.String()).
				Str("value", value.String()).
				Msg("Sub-status transition already applied, skipping")
			return nil
		}
		return err
	}

	b.events.Publish(ctx, models.ProgressEvent{
		Type:       models.EventSubStatusChanged,
		TenantID:   env.TenantID,
		JobID:      env.JobID,
		StepName:   env.StepName,
		WorkerType: workerType,
		Value:      value.String(),
		Error:      errMsg,
		Timestamp:  time.Now().UTC(),
	})
	return nil
}

// fail records a processing failure. While retry budget remains the
// message is simply nacked; on the final attempt the step is marked
// failed and the whole run finalized as FAILED.
func (b *base) fail(ctx context.Context, env *models.Envelope, workerType models.WorkerType, cause error) error {
	if env.Attempt < b.maxRetries {
		return cause
	}

	b.logger.Error().
		Err(cause).
		Str("job_id", env.JobID).
		Str("step", env.StepName).
		Str("worker_type", workerType.String()).
		Int("attempt", env.Attempt).
		Msg("Retry budget exhausted, failing job run")

	if err := b.setSubStatus(ctx, env, workerType, models.SubStatusFailed, cause.Error()); err != nil {
		b.logger.Error().Err(err).Str("job_id", env.JobID).Msg("Failed to record failed sub-status")
	}
	if err := b.jobs.CompleteRun(ctx, env.TenantID, env.JobID, models.JobStatusFailed, cause.Error()); err != nil && !errors.Is(err, models.ErrConflict) {
		b.logger.Error().Err(err).Str("job_id", env.JobID).Msg("Failed to finalize failed run")
	} else {
		b.events.Publish(ctx, models.ProgressEvent{
			Type:      models.EventJobFailed,
			TenantID:  env.TenantID,
			JobID:     env.JobID,
			StepName:  env.StepName,
			Error:     cause.Error(),
			Timestamp: time.Now().UTC(),
		})
	}
	return cause
}
