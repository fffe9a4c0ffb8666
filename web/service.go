package web

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notiva/notiva-sync/syncer"
	"github.com/notiva/notiva-sync/toolserver"
)

// connectTestTimeout keeps the "test connection" probe short; bulk tool
// calls get their own, longer deadline inside the fetchers.
const connectTestTimeout = 5 * time.Second

// SyncEnqueuer hands a claimed job to a task queue. redis.Client
// implements it.
type SyncEnqueuer interface {
	EnqueueSync(ctx context.Context, integrationID, jobID string) error
}

// Service is the application layer behind the HTTP handlers. Handlers
// translate transport concerns; Service owns the calls into the engine.
type Service struct {
	syncer  *syncer.Syncer
	configs toolserver.ConfigStore
	tools   *toolserver.Client
	queue   SyncEnqueuer
	logger  *zap.Logger
}

func NewService(s *syncer.Syncer, configs toolserver.ConfigStore, tools *toolserver.Client, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		syncer:  s,
		configs: configs,
		tools:   tools,
		logger:  logger,
	}
}

// UseQueue routes new syncs through the task queue instead of an
// in-process goroutine. The claim still happens here, so the caller gets
// the job id and the 409 behavior either way.
func (s *Service) UseQueue(q SyncEnqueuer) {
	s.queue = q
}

func (s *Service) StartSync(ctx context.Context, integrationID string) (string, error) {
	if s.queue == nil {
		return s.syncer.Start(ctx, integrationID)
	}

	jobID, err := s.syncer.Begin(ctx, integrationID)
	if err != nil {
		return "", err
	}

	if err := s.queue.EnqueueSync(ctx, integrationID, jobID); err != nil {
		abortErr := fmt.Errorf("enqueueing sync task: %w", err)
		if err := s.syncer.Abort(ctx, integrationID, jobID, abortErr); err != nil {
			s.logger.Error("releasing job after enqueue failure",
				zap.String("integration_id", integrationID),
				zap.Error(err),
			)
		}

		return "", abortErr
	}

	return jobID, nil
}

func (s *Service) SyncStatus(ctx context.Context, integrationID string) (syncer.SyncJob, error) {
	return s.syncer.Status(ctx, integrationID)
}

func (s *Service) CancelSync(ctx context.Context, integrationID string) (bool, error) {
	return s.syncer.Cancel(ctx, integrationID)
}

func (s *Service) ListServers(ctx context.Context) ([]toolserver.ServerConfig, error) {
	return s.configs.Select(ctx)
}

func (s *Service) SaveServer(ctx context.Context, cfg *toolserver.ServerConfig) error {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	return s.configs.Save(ctx, cfg)
}

func (s *Service) DeleteServer(ctx context.Context, id string) error {
	if _, err := s.configs.Get(ctx, id); err != nil {
		return err
	}

	return s.configs.Delete(ctx, id)
}

// TestServer probes the configured tool server with a short initialize
// call. The client records the outcome on the config record either way.
func (s *Service) TestServer(ctx context.Context, id string) (toolserver.ServerInfo, error) {
	cfg, err := s.configs.Get(ctx, id)
	if err != nil {
		return toolserver.ServerInfo{}, err
	}

	return s.tools.Initialize(ctx, cfg, connectTestTimeout)
}
