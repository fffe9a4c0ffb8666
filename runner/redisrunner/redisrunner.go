// Package redisrunner consumes sync tasks from an asynq queue. It pairs
// with the database runner: the API enqueues, workers like this one drain.
package redisrunner

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/notiva/notiva-sync/cache"
	"github.com/notiva/notiva-sync/credentials"
	"github.com/notiva/notiva-sync/fetcher"
	"github.com/notiva/notiva-sync/gmail"
	"github.com/notiva/notiva-sync/metrics"
	"github.com/notiva/notiva-sync/notion"
	"github.com/notiva/notiva-sync/postgres"
	"github.com/notiva/notiva-sync/redis"
	"github.com/notiva/notiva-sync/runner"
	"github.com/notiva/notiva-sync/syncer"
	"github.com/notiva/notiva-sync/toolserver"
)

type redisrunner struct {
	cfg    *runner.Config
	conn   *sql.DB
	srv    *asynq.Server
	mux    *asynq.ServeMux
	client *redis.Client
	logger *zap.Logger
}

func New(cfg *runner.Config) (runner.Runner, error) {
	if cfg.RunMode != runner.RunModeRedis {
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}

	if cfg.Dsn == "" {
		return nil, fmt.Errorf("redis worker requires a postgres dsn for shared state")
	}

	conn, err := postgres.Open(cfg.Dsn)
	if err != nil {
		return nil, err
	}

	redisCfg, err := redis.NewConfig()
	if err != nil {
		return nil, err
	}

	client, err := redis.NewClient(redisCfg)
	if err != nil {
		return nil, err
	}

	logger := runner.NewLogger(cfg.Debug)
	counters := metrics.NewCounters()

	creds := credentials.NewManager(
		postgres.NewCredentialStore(conn),
		credentials.ProviderConfig{
			TokenURL:     cfg.GoogleTokenURL,
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
		},
		credentials.WithLogger(logger),
		credentials.WithCounters(counters),
	)

	configs := postgres.NewConfigStore(conn)

	tools := toolserver.NewClient(
		toolserver.WithStore(configs),
		toolserver.WithClientLogger(logger),
		toolserver.WithClientCounters(counters),
	)

	registry := fetcher.NewRegistry()

	registry.Register("gmail", func(integrationID string) (fetcher.PagedFetcher, error) {
		return gmail.New(integrationID, creds,
			gmail.WithLogger(logger),
			gmail.WithCounters(counters),
		), nil
	})

	registry.Register("notion", func(integrationID string) (fetcher.PagedFetcher, error) {
		if cfg.NotionServerID == "" || cfg.NotionDatabaseID == "" {
			return nil, fmt.Errorf("notion integration requires -notion-server and -notion-database")
		}

		server, err := configs.Get(context.Background(), cfg.NotionServerID)
		if err != nil {
			return nil, fmt.Errorf("loading notion server config: %w", err)
		}

		return notion.New(integrationID, tools, server, cfg.NotionDatabaseID,
			notion.WithLogger(logger),
		), nil
	})

	engine := syncer.New(
		postgres.NewJobRepository(conn),
		cache.NewLayer(postgres.NewCacheRepository(conn), logger),
		registry,
		syncer.WithLogger(logger),
		syncer.WithTelemetry(runner.Telemetry()),
	)

	handler := redis.NewHandler(engine, logger)

	ans := &redisrunner{
		cfg:    cfg,
		conn:   conn,
		srv:    redis.NewServer(redisCfg),
		mux:    redis.Mux(handler),
		client: client,
		logger: logger,
	}

	return ans, nil
}

func (r *redisrunner) Run(ctx context.Context) error {
	if err := r.client.IsHealthy(ctx); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}

	go func() {
		<-ctx.Done()
		r.srv.Shutdown()
	}()

	return r.srv.Run(r.mux)
}

func (r *redisrunner) Close(context.Context) error {
	_ = r.logger.Sync()
	_ = r.client.Close()

	return r.conn.Close()
}
