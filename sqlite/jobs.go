package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/notiva/notiva-sync/syncer"
)

var _ syncer.JobRepository = (*JobRepository)(nil)

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Claim is the test-and-set that keeps one job per integration: the upsert
// only fires when the existing row is in a terminal state, and zero affected
// rows means another job holds the slot.
func (r *JobRepository) Claim(ctx context.Context, job *syncer.SyncJob) error {
	const q = `INSERT INTO sync_jobs
			(integration_id, job_id, state, cursor, page_count, items_processed, items_failed,
			 cancel_requested, message, last_error, started_at, finished_at)
		VALUES (?, ?, ?, '', 0, 0, 0, 0, '', '', ?, NULL)
		ON CONFLICT (integration_id) DO UPDATE SET
			job_id = excluded.job_id,
			state = excluded.state,
			cursor = '',
			page_count = 0,
			items_processed = 0,
			items_failed = 0,
			cancel_requested = 0,
			message = '',
			last_error = '',
			started_at = excluded.started_at,
			finished_at = NULL
		WHERE sync_jobs.state NOT IN ('running', 'cancelling')`

	res, err := r.db.ExecContext(ctx, q,
		job.IntegrationID, job.JobID, string(job.State), job.StartedAt.Unix(),
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return syncer.ErrAlreadyRunning
	}

	return nil
}

func (r *JobRepository) Get(ctx context.Context, integrationID string) (syncer.SyncJob, error) {
	const q = `SELECT integration_id, job_id, state, cursor, page_count, items_processed,
			items_failed, cancel_requested, message, last_error, started_at, finished_at
		FROM sync_jobs WHERE integration_id = ?`

	var (
		job        syncer.SyncJob
		state      string
		cancel     int
		startedAt  int64
		finishedAt sql.NullInt64
	)

	err := r.db.QueryRowContext(ctx, q, integrationID).Scan(
		&job.IntegrationID, &job.JobID, &state, &job.Cursor, &job.PageCount,
		&job.ItemsProcessed, &job.ItemsFailed, &cancel, &job.Message,
		&job.LastError, &startedAt, &finishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return syncer.SyncJob{}, syncer.ErrJobNotFound
	}

	if err != nil {
		return syncer.SyncJob{}, err
	}

	job.State = syncer.State(state)
	job.CancelRequested = cancel != 0
	job.StartedAt = time.Unix(startedAt, 0).UTC()

	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0).UTC()
		job.FinishedAt = &t
	}

	return job, nil
}

func (r *JobRepository) UpdateProgress(ctx context.Context, job *syncer.SyncJob) error {
	const q = `UPDATE sync_jobs SET
			cursor = ?, page_count = ?, items_processed = ?, items_failed = ?
		WHERE integration_id = ? AND job_id = ?`

	res, err := r.db.ExecContext(ctx, q,
		job.Cursor, job.PageCount, job.ItemsProcessed, job.ItemsFailed,
		job.IntegrationID, job.JobID,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return syncer.ErrJobNotFound
	}

	return nil
}

func (r *JobRepository) Finish(ctx context.Context, job *syncer.SyncJob) error {
	var finishedAt sql.NullInt64
	if job.FinishedAt != nil {
		finishedAt = sql.NullInt64{Int64: job.FinishedAt.Unix(), Valid: true}
	}

	const q = `UPDATE sync_jobs SET
			state = ?, cursor = ?, page_count = ?, items_processed = ?, items_failed = ?,
			message = ?, last_error = ?, finished_at = ?
		WHERE integration_id = ? AND job_id = ?`

	res, err := r.db.ExecContext(ctx, q,
		string(job.State), job.Cursor, job.PageCount, job.ItemsProcessed,
		job.ItemsFailed, job.Message, job.LastError, finishedAt,
		job.IntegrationID, job.JobID,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return syncer.ErrJobNotFound
	}

	return nil
}

func (r *JobRepository) RequestCancel(ctx context.Context, integrationID string) (bool, error) {
	const q = `UPDATE sync_jobs SET cancel_requested = 1, state = 'cancelling'
		WHERE integration_id = ? AND state IN ('running', 'cancelling')`

	res, err := r.db.ExecContext(ctx, q, integrationID)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

// ResetOrphans moves jobs left running by a previous process back to error
// so their slots can be claimed again on startup.
func (r *JobRepository) ResetOrphans(ctx context.Context) error {
	const q = `UPDATE sync_jobs SET
			state = 'error', last_error = 'interrupted by shutdown', finished_at = ?
		WHERE state IN ('running', 'cancelling')`

	_, err := r.db.ExecContext(ctx, q, time.Now().UTC().Unix())

	return err
}
