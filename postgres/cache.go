package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/notiva/notiva-sync/cache"
)

var _ cache.Repository = (*CacheRepository)(nil)

type CacheRepository struct {
	db *sql.DB
}

func NewCacheRepository(db *sql.DB) *CacheRepository {
	return &CacheRepository{db: db}
}

func (r *CacheRepository) Upsert(ctx context.Context, rec *cache.Record) (cache.UpsertOutcome, error) {
	labels, err := json.Marshal(rec.Labels)
	if err != nil {
		return 0, err
	}

	// xmax = 0 distinguishes a fresh insert from a conflict update
	const q = `INSERT INTO cache_records
			(integration_id, external_id, title, body, labels, owner, lifecycle, load_error,
			 synced_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, $9)
		ON CONFLICT (integration_id, external_id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			labels = excluded.labels,
			owner = excluded.owner,
			lifecycle = excluded.lifecycle,
			load_error = excluded.load_error,
			synced_at = excluded.synced_at,
			updated_at = excluded.updated_at
		RETURNING (xmax = 0) AS inserted`

	var inserted bool

	err = r.db.QueryRowContext(ctx, q,
		rec.IntegrationID, rec.ExternalID, rec.Title, rec.Body, labels,
		rec.Owner, rec.Lifecycle, rec.LoadError, rec.SyncedAt.UTC(),
	).Scan(&inserted)
	if err != nil {
		return 0, err
	}

	if inserted {
		return cache.Inserted, nil
	}

	return cache.Updated, nil
}

func (r *CacheRepository) Get(ctx context.Context, integrationID, externalID string) (cache.Record, error) {
	const q = `SELECT integration_id, external_id, title, body, labels, owner, lifecycle,
			load_error, synced_at, created_at, updated_at
		FROM cache_records WHERE integration_id = $1 AND external_id = $2`

	var (
		rec    cache.Record
		labels []byte
	)

	err := r.db.QueryRowContext(ctx, q, integrationID, externalID).Scan(
		&rec.IntegrationID, &rec.ExternalID, &rec.Title, &rec.Body, &labels,
		&rec.Owner, &rec.Lifecycle, &rec.LoadError,
		&rec.SyncedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.Record{}, cache.ErrNotFound
	}

	if err != nil {
		return cache.Record{}, err
	}

	if err := json.Unmarshal(labels, &rec.Labels); err != nil {
		return cache.Record{}, err
	}

	return rec, nil
}

func (r *CacheRepository) Count(ctx context.Context, integrationID string) (int, error) {
	const q = `SELECT COUNT(1) FROM cache_records WHERE integration_id = $1`

	var count int
	if err := r.db.QueryRowContext(ctx, q, integrationID).Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}

func (r *CacheRepository) Clear(ctx context.Context, integrationID string) error {
	const q = `DELETE FROM cache_records WHERE integration_id = $1`

	_, err := r.db.ExecContext(ctx, q, integrationID)

	return err
}
