// Package databaserunner serves the same surface as the web runner but on a
// shared postgres database, so several instances can point at one store.
package databaserunner

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

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
	"github.com/notiva/notiva-sync/web"
)

type dbrunner struct {
	cfg    *runner.Config
	conn   *sql.DB
	jobs   *postgres.JobRepository
	svc    *web.Service
	queue  *redis.Client
	logger *zap.Logger
}

func New(cfg *runner.Config) (runner.Runner, error) {
	if cfg.RunMode != runner.RunModeDatabase {
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}

	conn, err := postgres.Open(cfg.Dsn)
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

	jobs := postgres.NewJobRepository(conn)

	engine := syncer.New(
		jobs,
		cache.NewLayer(postgres.NewCacheRepository(conn), logger),
		registry,
		syncer.WithLogger(logger),
		syncer.WithTelemetry(runner.Telemetry()),
	)

	ans := &dbrunner{
		cfg:    cfg,
		conn:   conn,
		jobs:   jobs,
		svc:    web.NewService(engine, configs, tools, logger),
		logger: logger,
	}

	// with -queue, this instance only claims and enqueues; redis workers
	// pick the jobs up with the same postgres state
	if cfg.UseQueue {
		redisCfg, err := redis.NewConfig()
		if err != nil {
			return nil, err
		}

		client, err := redis.NewClient(redisCfg)
		if err != nil {
			return nil, err
		}

		ans.queue = client
		ans.svc.UseQueue(client)
	}

	return ans, nil
}

func (d *dbrunner) Run(ctx context.Context) error {
	// no orphan reset here: another instance may legitimately hold
	// running jobs on the shared database

	egroup, ctx := errgroup.WithContext(ctx)

	egroup.Go(func() error {
		return web.Start(ctx, web.Config{
			Addr:    d.cfg.Addr,
			Debug:   d.cfg.Debug,
			Service: d.svc,
			Logger:  d.logger,
		})
	})

	return egroup.Wait()
}

func (d *dbrunner) Close(context.Context) error {
	_ = d.logger.Sync()

	if d.queue != nil {
		_ = d.queue.Close()
	}

	return d.conn.Close()
}
