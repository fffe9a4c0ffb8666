package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/notiva/notiva-sync/syncer"
)

const (
	// TypeIntegrationSync runs one full sync for an integration.
	TypeIntegrationSync = "sync:integration"
)

// SyncPayload is the task body for TypeIntegrationSync. JobID is set when
// the API already claimed the job slot; the worker then resumes that claim
// instead of making its own.
type SyncPayload struct {
	IntegrationID string `json:"integration_id"`
	JobID         string `json:"job_id,omitempty"`
}

// NewSyncTask builds the enqueue-side payload.
func NewSyncTask(integrationID, jobID string) (string, []byte, error) {
	payload, err := json.Marshal(SyncPayload{IntegrationID: integrationID, JobID: jobID})
	if err != nil {
		return "", nil, err
	}

	return TypeIntegrationSync, payload, nil
}

// Handler dispatches queue tasks into the sync engine.
type Handler struct {
	syncer *syncer.Syncer
	logger *zap.Logger
}

func NewHandler(s *syncer.Syncer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Handler{syncer: s, logger: logger}
}

func (h *Handler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	switch task.Type() {
	case TypeIntegrationSync:
		return h.processSync(ctx, task)
	default:
		return fmt.Errorf("unknown task type %q: %w", task.Type(), asynq.SkipRetry)
	}
}

func (h *Handler) processSync(ctx context.Context, task *asynq.Task) error {
	var payload SyncPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decoding sync payload: %w", asynq.SkipRetry)
	}

	if payload.IntegrationID == "" {
		return fmt.Errorf("sync payload missing integration id: %w", asynq.SkipRetry)
	}

	if payload.JobID != "" {
		return h.resumeSync(ctx, payload)
	}

	job, err := h.syncer.Execute(ctx, payload.IntegrationID)
	if err != nil {
		// a duplicate task must not be retried into the running job's slot
		if errors.Is(err, syncer.ErrAlreadyRunning) {
			h.logger.Warn("sync task skipped, job already running",
				zap.String("integration_id", payload.IntegrationID))

			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}

		return err
	}

	h.logger.Info("sync task finished",
		zap.String("integration_id", payload.IntegrationID),
		zap.String("state", string(job.State)),
		zap.Int("pages", job.PageCount),
		zap.Int("items", job.ItemsProcessed),
	)

	// job-level failures are recorded on the job document; the task itself
	// succeeded, so asynq must not retry it
	return nil
}

func (h *Handler) resumeSync(ctx context.Context, payload SyncPayload) error {
	err := h.syncer.Resume(ctx, payload.IntegrationID, payload.JobID)
	if errors.Is(err, syncer.ErrJobNotFound) {
		// the claim is gone or superseded; retrying cannot bring it back
		h.logger.Warn("sync task dropped, claim no longer held",
			zap.String("integration_id", payload.IntegrationID),
			zap.String("job_id", payload.JobID))

		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if err != nil {
		return err
	}

	h.logger.Info("sync task finished",
		zap.String("integration_id", payload.IntegrationID),
		zap.String("job_id", payload.JobID))

	return nil
}

// NewServer builds the asynq worker that consumes sync tasks.
func NewServer(cfg *Config) *asynq.Server {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Addr(),
			Password: cfg.Password,
			DB:       cfg.DB,
		},
		asynq.Config{
			Concurrency: cfg.Workers,
			RetryDelayFunc: func(_ int, _ error, _ *asynq.Task) time.Duration {
				return cfg.RetryInterval
			},
		},
	)

	return srv
}

// Mux wires task types to the handler.
func Mux(handler *Handler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeIntegrationSync, handler.ProcessTask)

	return mux
}
