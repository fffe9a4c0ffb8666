package postgres

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

// Claim relies on the conditional upsert for the one-running-job invariant;
// postgres serializes the two competing upserts on the primary key, so only
// one caller sees an affected row.
func (r *JobRepository) Claim(ctx context.Context, job *syncer.SyncJob) error {
	const q = `INSERT INTO sync_jobs
			(integration_id, job_id, state, started_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (integration_id) DO UPDATE SET
			job_id = excluded.job_id,
			state = excluded.state,
			cursor = '',
			page_count = 0,
			items_processed = 0,
			items_failed = 0,
			cancel_requested = FALSE,
			message = '',
			last_error = '',
			started_at = excluded.started_at,
			finished_at = NULL
		WHERE sync_jobs.state NOT IN ('running', 'cancelling')`

	res, err := r.db.ExecContext(ctx, q,
		job.IntegrationID, job.JobID, string(job.State), job.StartedAt.UTC(),
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
		FROM sync_jobs WHERE integration_id = $1`

	var (
		job        syncer.SyncJob
		state      string
		finishedAt sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, q, integrationID).Scan(
		&job.IntegrationID, &job.JobID, &state, &job.Cursor, &job.PageCount,
		&job.ItemsProcessed, &job.ItemsFailed, &job.CancelRequested,
		&job.Message, &job.LastError, &job.StartedAt, &finishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return syncer.SyncJob{}, syncer.ErrJobNotFound
	}

	if err != nil {
		return syncer.SyncJob{}, err
	}

	job.State = syncer.State(state)

	if finishedAt.Valid {
		t := finishedAt.Time.UTC()
		job.FinishedAt = &t
	}

	return job, nil
}

func (r *JobRepository) UpdateProgress(ctx context.Context, job *syncer.SyncJob) error {
	const q = `UPDATE sync_jobs SET
			cursor = $1, page_count = $2, items_processed = $3, items_failed = $4
		WHERE integration_id = $5 AND job_id = $6`

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
	var finishedAt sql.NullTime
	if job.FinishedAt != nil {
		finishedAt = sql.NullTime{Time: job.FinishedAt.UTC(), Valid: true}
	}

	const q = `UPDATE sync_jobs SET
			state = $1, cursor = $2, page_count = $3, items_processed = $4, items_failed = $5,
			message = $6, last_error = $7, finished_at = $8
		WHERE integration_id = $9 AND job_id = $10`

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
	const q = `UPDATE sync_jobs SET cancel_requested = TRUE, state = 'cancelling'
		WHERE integration_id = $1 AND state IN ('running', 'cancelling')`

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

// ResetOrphans recovers jobs abandoned by a crashed worker.
func (r *JobRepository) ResetOrphans(ctx context.Context) error {
	const q = `UPDATE sync_jobs SET
			state = 'error', last_error = 'interrupted by shutdown', finished_at = $1
		WHERE state IN ('running', 'cancelling')`

	_, err := r.db.ExecContext(ctx, q, time.Now().UTC())

	return err
}
