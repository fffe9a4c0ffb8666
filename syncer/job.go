package syncer

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAlreadyRunning is returned by Start when the integration's job
	// slot is claimed by a running or cancelling job.
	ErrAlreadyRunning = errors.New("sync already in progress")

	ErrJobNotFound = errors.New("sync job not found")
)

type State string

const (
	StateIdle       State = "idle"
	StateRunning    State = "running"
	StateCancelling State = "cancelling"
	StateDone       State = "done"
	StateError      State = "error"
)

// Terminal reports whether the state permits a new claim.
func (s State) Terminal() bool {
	return s != StateRunning && s != StateCancelling
}

// SyncJob is the progress document for one integration. At most one job per
// integration is in a non-terminal state at any time; claiming the slot
// resets every field, so a finished job doubles as the "idle" record for the
// next run.
type SyncJob struct {
	JobID           string
	IntegrationID   string
	State           State
	Cursor          string
	PageCount       int
	ItemsProcessed  int
	ItemsFailed     int
	CancelRequested bool
	Message         string
	LastError       string
	StartedAt       time.Time
	FinishedAt      *time.Time
}

// JobRepository persists sync jobs keyed by integration id.
//
// Claim must be atomic: it succeeds only when no job for the integration is
// running or cancelling, replacing any terminal job in place, and returns
// ErrAlreadyRunning otherwise. Two concurrent claims for the same
// integration must never both succeed.
//
// UpdateProgress writes cursor and counters only. It must not touch State or
// CancelRequested, so a concurrent RequestCancel is never clobbered by the
// loop's own writes.
type JobRepository interface {
	Claim(ctx context.Context, job *SyncJob) error
	Get(ctx context.Context, integrationID string) (SyncJob, error)
	UpdateProgress(ctx context.Context, job *SyncJob) error
	Finish(ctx context.Context, job *SyncJob) error
	RequestCancel(ctx context.Context, integrationID string) (bool, error)
}
