package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/confluo/internal/interfaces"
	"github.com/ternarybob/confluo/internal/models"
)

// JobStorage implements the job registry on SQLite
type JobStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
	mu     sync.Mutex // Serializes write operations to prevent SQLITE_BUSY errors
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

const jobColumns = `id, tenant_id, integration_id, job_name, active, schedule_interval,
	schedule_cron, next_run, overall_status, steps, retry_count,
	last_run_started, last_run_finished, last_sync_watermark, error_message,
	created_at, updated_at`

// CreateJob inserts a new job row.
func (s *JobStorage) CreateJob(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	steps, err := job.StepsJSON()
	if err != nil {
		return err
	}
	watermarks, err := job.WatermarksJSON()
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	query := fmt.Sprintf("INSERT INTO etl_jobs (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", jobColumns)
	_, err = s.db.DB().ExecContext(ctx, query,
		job.ID, job.TenantID, job.IntegrationID, job.JobName, boolToInt(job.Active),
		int64(job.ScheduleInterval.Seconds()), job.ScheduleCron, job.NextRun.Unix(),
		job.OverallStatus.String(), string(steps), job.RetryCount,
		nullUnix(job.LastRunStarted), nullUnix(job.LastRunFinished),
		string(watermarks), job.ErrorMessage, now, now)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("tenant_id", job.TenantID).
		Str("job_name", job.JobName).
		Msg("Created job")
	return nil
}

// GetJob retrieves one job scoped to its tenant.
func (s *JobStorage) GetJob(ctx context.Context, tenantID, jobID string) (*models.Job, error) {
	query := fmt.Sprintf("SELECT %s FROM etl_jobs WHERE id = ? AND tenant_id = ?", jobColumns)
	row := s.db.DB().QueryRowContext(ctx, query, jobID, tenantID)
	return scanJob(row)
}

// ListJobs returns jobs matching the filter, newest first.
func (s *JobStorage) ListJobs(ctx context.Context, filter interfaces.JobFilter) ([]*models.Job, error) {
	var conditions []string
	var args []interface{}

	if filter.TenantID != "" {
		conditions = append(conditions, "tenant_id = ?")
		args = append(args, filter.TenantID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "overall_status = ?")
		args = append(args, filter.Status.String())
	}
	if filter.Active != nil {
		conditions = append(conditions, "active = ?")
		args = append(args, boolToInt(*filter.Active))
	}

	query := fmt.Sprintf("SELECT %s FROM etl_jobs", jobColumns)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

// UpdateJob persists the mutable fields of a job.
func (s *JobStorage) UpdateJob(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	steps, err := job.StepsJSON()
	if err != nil {
		return err
	}
	watermarks, err := job.WatermarksJSON()
	if err != nil {
		return err
	}

	query := `UPDATE etl_jobs SET job_name = ?, active = ?, schedule_interval = ?,
		schedule_cron = ?, next_run = ?, overall_status = ?, steps = ?, retry_count = ?,
		last_run_started = ?, last_run_finished = ?, last_sync_watermark = ?,
		error_message = ?, updated_at = ?
		WHERE id = ? AND tenant_id = ?`

	res, err := s.db.DB().ExecContext(ctx, query,
		job.JobName, boolToInt(job.Active), int64(job.ScheduleInterval.Seconds()),
		job.ScheduleCron, job.NextRun.Unix(), job.OverallStatus.String(), string(steps),
		job.RetryCount, nullUnix(job.LastRunStarted), nullUnix(job.LastRunFinished),
		string(watermarks), job.ErrorMessage, time.Now().Unix(),
		job.ID, job.TenantID)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return requireRow(res)
}

// DeleteJob removes a job from the registry.
func (s *JobStorage) DeleteJob(ctx context.Context, tenantID, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.DB().ExecContext(ctx,
		"DELETE FROM etl_jobs WHERE id = ? AND tenant_id = ?", jobID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return requireRow(res)
}

// DueJobs returns active jobs whose next_run has passed and whose status
// permits starting.
func (s *JobStorage) DueJobs(ctx context.Context, now time.Time) ([]*models.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM etl_jobs
		WHERE active = 1 AND next_run <= ?
		AND overall_status IN ('READY', 'COMPLETED', 'FAILED')
		ORDER BY next_run ASC`, jobColumns)

	rows, err := s.db.DB().QueryContext(ctx, query, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query due jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

// RunningJobs returns jobs currently in the RUNNING state.
func (s *JobStorage) RunningJobs(ctx context.Context) ([]*models.Job, error) {
	query := fmt.Sprintf("SELECT %s FROM etl_jobs WHERE overall_status = 'RUNNING'", jobColumns)
	rows, err := s.db.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query running jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

// BeginRun atomically claims a startable job. The status guard in the
// UPDATE makes concurrent schedulers race safely: exactly one wins.
func (s *JobStorage) BeginRun(ctx context.Context, tenantID, jobID string, startedAt time.Time) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.GetJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}

	job.ResetSubStatuses()
	steps, err := job.StepsJSON()
	if err != nil {
		return nil, err
	}

	query := `UPDATE etl_jobs SET overall_status = 'RUNNING', steps = ?,
		last_run_started = ?, error_message = '', updated_at = ?
		WHERE id = ? AND tenant_id = ?
		AND overall_status IN ('READY', 'COMPLETED', 'FAILED')`

	res, err := s.db.DB().ExecContext(ctx, query,
		string(steps), startedAt.Unix(), time.Now().Unix(), jobID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to begin run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, models.ErrConflict
	}

	job.OverallStatus = models.JobStatusRunning
	started := startedAt
	job.LastRunStarted = &started
	job.ErrorMessage = ""

	s.logger.Info().
		Str("job_id", jobID).
		Str("tenant_id", tenantID).
		Msg("Job run started")
	return job, nil
}

// SetSubStatus transitions one (step, worker type) cell under the state
// machine. The whole read-modify-write runs under the storage mutex.
func (s *JobStorage) SetSubStatus(ctx context.Context, tenantID, jobID, stepName string, workerType models.WorkerType, value models.SubStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.GetJob(ctx, tenantID, jobID)
	if err != nil {
		return err
	}

	step, ok := job.Steps[stepName]
	if !ok {
		return fmt.Errorf("job %s has no step %q: %w", jobID, stepName, models.ErrNotFound)
	}

	current := step.SubStatusFor(workerType)
	if current == value {
		return nil // idempotent redelivery
	}
	if !current.CanTransitionTo(value) {
		return fmt.Errorf("step %s %s: %s -> %s: %w",
			stepName, workerType, current, value, models.ErrConflict)
	}

	step.SetSubStatus(workerType, value)
	steps, err := job.StepsJSON()
	if err != nil {
		return err
	}

	query := "UPDATE etl_jobs SET steps = ?, error_message = ?, updated_at = ? WHERE id = ? AND tenant_id = ?"
	message := job.ErrorMessage
	if errMsg != "" {
		message = errMsg
	}
	res, err := s.db.DB().ExecContext(ctx, query,
		string(steps), message, time.Now().Unix(), jobID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to set sub-status: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}

	s.logger.Debug().
		Str("job_id", jobID).
		Str("step", stepName).
		Str("worker_type", workerType.String()).
		Str("value", value.String()).
		Msg("Sub-status updated")
	return nil
}

// CompleteRun finalizes a RUNNING job and schedules the next run.
func (s *JobStorage) CompleteRun(ctx context.Context, tenantID, jobID string, status models.JobStatus, errMsg string) error {
	if status != models.JobStatusCompleted && status != models.JobStatusFailed {
		return fmt.Errorf("invalid terminal status: %s", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.GetJob(ctx, tenantID, jobID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	var res sql.Result
	if status == models.JobStatusCompleted {
		// The next run is scheduled from the run's start, not its finish,
		// so slow runs do not drift the schedule.
		from := now
		if job.LastRunStarted != nil {
			from = *job.LastRunStarted
		}
		nextRun := nextRunAfter(job, from)

		query := `UPDATE etl_jobs SET overall_status = ?, last_run_finished = ?,
			next_run = ?, retry_count = 0, error_message = ?, updated_at = ?
			WHERE id = ? AND tenant_id = ? AND overall_status = 'RUNNING'`
		res, err = s.db.DB().ExecContext(ctx, query,
			status.String(), now.Unix(), nextRun.Unix(), errMsg,
			now.Unix(), jobID, tenantID)
	} else {
		// A failed run leaves next_run untouched; the operator decides
		// when to retry.
		query := `UPDATE etl_jobs SET overall_status = ?, last_run_finished = ?,
			retry_count = ?, error_message = ?, updated_at = ?
			WHERE id = ? AND tenant_id = ? AND overall_status = 'RUNNING'`
		res, err = s.db.DB().ExecContext(ctx, query,
			status.String(), now.Unix(), job.RetryCount+1, errMsg,
			now.Unix(), jobID, tenantID)
	}
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrConflict
	}

	s.logger.Info().
		Str("job_id", jobID).
		Str("tenant_id", tenantID).
		Str("status", status.String()).
		Msg("Job run finished")
	return nil
}

// AdvanceWatermark raises a step watermark; it never moves backwards.
func (s *JobStorage) AdvanceWatermark(ctx context.Context, tenantID, jobID, stepName string, watermark time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.GetJob(ctx, tenantID, jobID)
	if err != nil {
		return err
	}

	if !watermark.After(job.Watermark(stepName)) {
		return nil
	}
	if job.Watermarks == nil {
		job.Watermarks = make(map[string]time.Time)
	}
	job.Watermarks[stepName] = watermark.UTC()

	watermarks, err := job.WatermarksJSON()
	if err != nil {
		return err
	}

	query := "UPDATE etl_jobs SET last_sync_watermark = ?, updated_at = ? WHERE id = ? AND tenant_id = ?"
	res, err := s.db.DB().ExecContext(ctx, query,
		string(watermarks), time.Now().Unix(), jobID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}
	return requireRow(res)
}

// nextRunAfter computes the next schedule slot. A cron expression wins
// over the interval when both are present.
func nextRunAfter(job *models.Job, from time.Time) time.Time {
	if job.ScheduleCron != "" {
		if sched, err := cron.ParseStandard(job.ScheduleCron); err == nil {
			return sched.Next(from)
		}
	}
	if job.ScheduleInterval > 0 {
		return from.Add(job.ScheduleInterval)
	}
	// Unscheduled jobs only run when triggered; park next_run far out.
	return from.Add(100 * 365 * 24 * time.Hour)
}

// Row scanning helpers

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job            models.Job
		active         int
		intervalSecs   int64
		nextRun        int64
		status         string
		stepsJSON      string
		lastStarted    sql.NullInt64
		lastFinished   sql.NullInt64
		watermarksJSON string
		createdAt      int64
		updatedAt      int64
	)

	err := row.Scan(&job.ID, &job.TenantID, &job.IntegrationID, &job.JobName,
		&active, &intervalSecs, &job.ScheduleCron, &nextRun, &status, &stepsJSON,
		&job.RetryCount, &lastStarted, &lastFinished, &watermarksJSON,
		&job.ErrorMessage, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	job.Active = active != 0
	job.ScheduleInterval = time.Duration(intervalSecs) * time.Second
	job.NextRun = time.Unix(nextRun, 0).UTC()
	job.OverallStatus = models.JobStatus(status)
	job.CreatedAt = time.Unix(createdAt, 0).UTC()
	job.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	if lastStarted.Valid {
		t := time.Unix(lastStarted.Int64, 0).UTC()
		job.LastRunStarted = &t
	}
	if lastFinished.Valid {
		t := time.Unix(lastFinished.Int64, 0).UTC()
		job.LastRunFinished = &t
	}

	if err := json.Unmarshal([]byte(stepsJSON), &job.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job steps: %w", err)
	}
	if err := json.Unmarshal([]byte(watermarksJSON), &job.Watermarks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job watermarks: %w", err)
	}

	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*models.Job, error) {
	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullUnix(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrNotFound
	}
	return nil
}
