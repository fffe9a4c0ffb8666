// Package cache stores synced external records locally, deduplicated by
// (integration id, external id). Re-fetching an id updates the existing row;
// it never duplicates it.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/notiva/notiva-sync/fetcher"
)

var ErrNotFound = errors.New("cache record not found")

type UpsertOutcome int

const (
	Inserted UpsertOutcome = iota + 1
	Updated
)

// Record is one synced artifact: an email message, a ticket, or any other
// external item the app caches locally. CreatedAt is set on first insert
// only; UpdatedAt and SyncedAt move on every write.
type Record struct {
	IntegrationID string
	ExternalID    string
	Title         string
	Body          string
	Labels        []string
	Owner         string
	Lifecycle     string
	LoadError     string
	SyncedAt      time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Repository persists cache records. Upsert decides insert vs update by the
// (IntegrationID, ExternalID) composite key and reports which it did.
type Repository interface {
	Upsert(ctx context.Context, rec *Record) (UpsertOutcome, error)
	Get(ctx context.Context, integrationID, externalID string) (Record, error)
	Count(ctx context.Context, integrationID string) (int, error)
	Clear(ctx context.Context, integrationID string) error
}

// BulkResult summarizes one page worth of writes. Err aggregates the
// per-record failures for the job log; it is nil when Failed is zero.
type BulkResult struct {
	Inserted int
	Updated  int
	Failed   int
	Err      error
}

// Layer converts fetched records into cache rows. Per-record failures are
// collected, never propagated: a page with a few bad records still persists
// the rest.
type Layer struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
}

func NewLayer(repo Repository, logger *zap.Logger) *Layer {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Layer{repo: repo, logger: logger, now: time.Now}
}

func (l *Layer) Upsert(ctx context.Context, integrationID string, rec fetcher.Record) (UpsertOutcome, error) {
	if rec.ExternalID == "" {
		return 0, errors.New("record missing external id")
	}

	now := l.now().UTC()

	return l.repo.Upsert(ctx, &Record{
		IntegrationID: integrationID,
		ExternalID:    rec.ExternalID,
		Title:         rec.Title,
		Body:          rec.Body,
		Labels:        rec.Labels,
		Owner:         rec.Owner,
		Lifecycle:     rec.Lifecycle,
		LoadError:     rec.LoadError,
		SyncedAt:      now,
	})
}

func (l *Layer) BulkUpsert(ctx context.Context, integrationID string, records []fetcher.Record) BulkResult {
	var ans BulkResult

	for i := range records {
		outcome, err := l.Upsert(ctx, integrationID, records[i])
		if err != nil {
			ans.Failed++
			ans.Err = multierr.Append(ans.Err, fmt.Errorf("record %q: %w", records[i].ExternalID, err))

			l.logger.Warn("cache upsert failed",
				zap.String("integration_id", integrationID),
				zap.String("external_id", records[i].ExternalID),
				zap.Error(err),
			)

			continue
		}

		switch outcome {
		case Inserted:
			ans.Inserted++
		case Updated:
			ans.Updated++
		}
	}

	return ans
}

// Clear removes every cached record for the integration. Called once at the
// start of a full resync so stale records do not outlive their source.
func (l *Layer) Clear(ctx context.Context, integrationID string) error {
	return l.repo.Clear(ctx, integrationID)
}
