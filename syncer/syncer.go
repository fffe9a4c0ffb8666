// Package syncer drives paged fetchers against the local cache. It owns the
// job state machine: a claim makes the run exclusive per integration, the
// loop persists one page at a time, and cancellation is a cooperative flag
// observed only between pages.
package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notiva/notiva-sync/cache"
	"github.com/notiva/notiva-sync/deduper"
	"github.com/notiva/notiva-sync/fetcher"
	"github.com/notiva/notiva-sync/tlmt"
	"github.com/notiva/notiva-sync/tlmt/gonoop"
)

const defaultMaxPages = 100

// Resolver yields the fetcher bound to an integration. *fetcher.Registry
// satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, integrationID string) (fetcher.PagedFetcher, error)
}

type Syncer struct {
	jobs      JobRepository
	cache     *cache.Layer
	fetchers  Resolver
	logger    *zap.Logger
	telemetry tlmt.Telemetry
	now       func() time.Time
	maxPages  int
}

type Option func(*Syncer)

func WithLogger(l *zap.Logger) Option {
	return func(s *Syncer) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithTelemetry(t tlmt.Telemetry) Option {
	return func(s *Syncer) {
		if t != nil {
			s.telemetry = t
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Syncer) {
		s.now = now
	}
}

// WithMaxPages overrides the page safety ceiling.
func WithMaxPages(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.maxPages = n
		}
	}
}

func New(jobs JobRepository, layer *cache.Layer, fetchers Resolver, opts ...Option) *Syncer {
	ans := &Syncer{
		jobs:      jobs,
		cache:     layer,
		fetchers:  fetchers,
		logger:    zap.NewNop(),
		telemetry: gonoop.New(),
		now:       time.Now,
		maxPages:  defaultMaxPages,
	}

	for _, opt := range opts {
		opt(ans)
	}

	return ans
}

// Start claims the integration's job slot and runs the sync in the
// background. It returns the new job id immediately, or ErrAlreadyRunning
// when a job is still running or cancelling.
func (s *Syncer) Start(ctx context.Context, integrationID string) (string, error) {
	job, err := s.claim(ctx, integrationID)
	if err != nil {
		return "", err
	}

	go s.run(context.WithoutCancel(ctx), job)

	return job.JobID, nil
}

// Begin claims the integration's job slot without running it, returning the
// new job id. The caller hands the claimed job to a queue worker, which
// picks it up with Resume.
func (s *Syncer) Begin(ctx context.Context, integrationID string) (string, error) {
	job, err := s.claim(ctx, integrationID)
	if err != nil {
		return "", err
	}

	return job.JobID, nil
}

// Resume runs a job previously claimed with Begin. It returns
// ErrJobNotFound when the slot holds a different job or the job already
// reached a terminal state, so a stale queue task is dropped instead of
// hijacking a newer run.
func (s *Syncer) Resume(ctx context.Context, integrationID, jobID string) error {
	job, err := s.jobs.Get(ctx, integrationID)
	if err != nil {
		return err
	}

	if job.JobID != jobID || job.State.Terminal() {
		return fmt.Errorf("job %s: %w", jobID, ErrJobNotFound)
	}

	s.run(ctx, &job)

	return nil
}

// Abort fails a job claimed with Begin before any page ran, releasing the
// slot when the handoff to the queue does not happen.
func (s *Syncer) Abort(ctx context.Context, integrationID, jobID string, cause error) error {
	job, err := s.jobs.Get(ctx, integrationID)
	if err != nil {
		return err
	}

	if job.JobID != jobID || job.State.Terminal() {
		return nil
	}

	s.fail(ctx, &job, cause)

	return nil
}

// Execute claims the slot and runs the sync to completion on the calling
// goroutine, returning the terminal job. It is the entry point for queue
// workers that already run on their own goroutine.
func (s *Syncer) Execute(ctx context.Context, integrationID string) (SyncJob, error) {
	job, err := s.claim(ctx, integrationID)
	if err != nil {
		return SyncJob{}, err
	}

	s.run(ctx, job)

	return s.jobs.Get(ctx, integrationID)
}

// Status returns the current job document for polling.
func (s *Syncer) Status(ctx context.Context, integrationID string) (SyncJob, error) {
	return s.jobs.Get(ctx, integrationID)
}

// Cancel requests cooperative cancellation. It reports false when nothing is
// running; the loop observes the flag at the next page boundary.
func (s *Syncer) Cancel(ctx context.Context, integrationID string) (bool, error) {
	accepted, err := s.jobs.RequestCancel(ctx, integrationID)
	if err != nil {
		return false, err
	}

	if accepted {
		s.logger.Info("sync cancellation requested", zap.String("integration_id", integrationID))
	}

	return accepted, nil
}

// claim resets the job slot and clears the prior cache. A resync replaces
// the cached set rather than merging into it, so records deleted upstream do
// not linger locally.
func (s *Syncer) claim(ctx context.Context, integrationID string) (*SyncJob, error) {
	job := &SyncJob{
		JobID:         uuid.New().String(),
		IntegrationID: integrationID,
		State:         StateRunning,
		StartedAt:     s.now().UTC(),
	}

	if err := s.jobs.Claim(ctx, job); err != nil {
		return nil, err
	}

	if err := s.cache.Clear(ctx, integrationID); err != nil {
		s.fail(ctx, job, fmt.Errorf("clearing cache: %w", err))

		return nil, fmt.Errorf("clearing cache: %w", err)
	}

	s.logger.Info("sync started",
		zap.String("integration_id", integrationID),
		zap.String("job_id", job.JobID),
	)

	return job, nil
}

func (s *Syncer) run(ctx context.Context, job *SyncJob) {
	f, err := s.fetchers.Resolve(ctx, job.IntegrationID)
	if err != nil {
		s.fail(ctx, job, err)

		return
	}

	seen := deduper.New()

	for {
		page, err := f.FetchPage(ctx, job.Cursor)
		if err != nil {
			s.fail(ctx, job, fmt.Errorf("fetching page %d: %w", job.PageCount+1, err))

			return
		}

		fresh := make([]fetcher.Record, 0, len(page.Records))
		for _, rec := range page.Records {
			if seen.AddIfNotExists(ctx, rec.ExternalID) {
				fresh = append(fresh, rec)
			}
		}

		res := s.cache.BulkUpsert(ctx, job.IntegrationID, fresh)

		job.PageCount++
		job.ItemsProcessed += res.Inserted + res.Updated
		job.ItemsFailed += res.Failed
		job.Cursor = page.NextCursor

		if err := s.jobs.UpdateProgress(ctx, job); err != nil {
			s.fail(ctx, job, fmt.Errorf("persisting progress: %w", err))

			return
		}

		current, err := s.jobs.Get(ctx, job.IntegrationID)
		if err != nil {
			s.fail(ctx, job, fmt.Errorf("reading cancel flag: %w", err))

			return
		}

		switch {
		case current.CancelRequested:
			job.CancelRequested = true
			s.finish(ctx, job, StateDone, "cancelled")

			return
		case !page.HasMore:
			s.finish(ctx, job, StateDone, "")

			return
		case job.PageCount >= s.maxPages:
			s.finish(ctx, job, StateDone,
				fmt.Sprintf("stopped after %d pages, more data may remain", s.maxPages))

			return
		}
	}
}

func (s *Syncer) finish(ctx context.Context, job *SyncJob, state State, message string) {
	now := s.now().UTC()
	job.State = state
	job.Message = message
	job.FinishedAt = &now

	if err := s.jobs.Finish(ctx, job); err != nil {
		s.logger.Error("finalizing sync job",
			zap.String("integration_id", job.IntegrationID),
			zap.Error(err),
		)
	}

	s.logger.Info("sync finished",
		zap.String("integration_id", job.IntegrationID),
		zap.String("job_id", job.JobID),
		zap.String("state", string(state)),
		zap.Int("pages", job.PageCount),
		zap.Int("items", job.ItemsProcessed),
		zap.Int("failed", job.ItemsFailed),
	)

	evt := tlmt.NewEvent("sync_finished", map[string]any{
		"state": string(state),
		"pages": job.PageCount,
		"items": job.ItemsProcessed,
	})
	if err := s.telemetry.Send(ctx, evt); err != nil {
		s.logger.Debug("telemetry send failed", zap.Error(err))
	}
}

func (s *Syncer) fail(ctx context.Context, job *SyncJob, cause error) {
	job.LastError = cause.Error()

	s.logger.Error("sync failed",
		zap.String("integration_id", job.IntegrationID),
		zap.String("job_id", job.JobID),
		zap.Error(cause),
	)

	s.finish(ctx, job, StateError, "")
}
