package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/notiva/notiva-sync/cache"
)

var _ cache.Repository = (*CacheRepository)(nil)

type CacheRepository struct {
	db *sql.DB
}

func NewCacheRepository(db *sql.DB) *CacheRepository {
	return &CacheRepository{db: db}
}

// Upsert keeps created_at from the first insert; everything else follows the
// incoming record.
func (r *CacheRepository) Upsert(ctx context.Context, rec *cache.Record) (cache.UpsertOutcome, error) {
	labels, err := json.Marshal(rec.Labels)
	if err != nil {
		return 0, err
	}

	syncedAt := rec.SyncedAt.Unix()

	const existsQ = `SELECT COUNT(1) FROM cache_records WHERE integration_id = ? AND external_id = ?`

	var present int
	if err := r.db.QueryRowContext(ctx, existsQ, rec.IntegrationID, rec.ExternalID).Scan(&present); err != nil {
		return 0, err
	}

	const q = `INSERT INTO cache_records
			(integration_id, external_id, title, body, labels, owner, lifecycle, load_error,
			 synced_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (integration_id, external_id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			labels = excluded.labels,
			owner = excluded.owner,
			lifecycle = excluded.lifecycle,
			load_error = excluded.load_error,
			synced_at = excluded.synced_at,
			updated_at = excluded.updated_at`

	_, err = r.db.ExecContext(ctx, q,
		rec.IntegrationID, rec.ExternalID, rec.Title, rec.Body, string(labels),
		rec.Owner, rec.Lifecycle, rec.LoadError, syncedAt, syncedAt, syncedAt,
	)
	if err != nil {
		return 0, err
	}

	if present > 0 {
		return cache.Updated, nil
	}

	return cache.Inserted, nil
}

func (r *CacheRepository) Get(ctx context.Context, integrationID, externalID string) (cache.Record, error) {
	const q = `SELECT integration_id, external_id, title, body, labels, owner, lifecycle,
			load_error, synced_at, created_at, updated_at
		FROM cache_records WHERE integration_id = ? AND external_id = ?`

	var (
		rec       cache.Record
		labels    string
		syncedAt  int64
		createdAt int64
		updatedAt int64
	)

	err := r.db.QueryRowContext(ctx, q, integrationID, externalID).Scan(
		&rec.IntegrationID, &rec.ExternalID, &rec.Title, &rec.Body, &labels,
		&rec.Owner, &rec.Lifecycle, &rec.LoadError, &syncedAt, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.Record{}, cache.ErrNotFound
	}

	if err != nil {
		return cache.Record{}, err
	}

	if err := json.Unmarshal([]byte(labels), &rec.Labels); err != nil {
		return cache.Record{}, err
	}

	rec.SyncedAt = time.Unix(syncedAt, 0).UTC()
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	rec.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return rec, nil
}

func (r *CacheRepository) Count(ctx context.Context, integrationID string) (int, error) {
	const q = `SELECT COUNT(1) FROM cache_records WHERE integration_id = ?`

	var count int
	if err := r.db.QueryRowContext(ctx, q, integrationID).Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}

func (r *CacheRepository) Clear(ctx context.Context, integrationID string) error {
	const q = `DELETE FROM cache_records WHERE integration_id = ?`

	_, err := r.db.ExecContext(ctx, q, integrationID)

	return err
}
