// Package webrunner is the default run mode: a local sqlite database plus
// the HTTP job-control surface, everything in one process.
package webrunner

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/notiva/notiva-sync/cache"
	"github.com/notiva/notiva-sync/credentials"
	"github.com/notiva/notiva-sync/fetcher"
	"github.com/notiva/notiva-sync/gmail"
	"github.com/notiva/notiva-sync/metrics"
	"github.com/notiva/notiva-sync/notion"
	"github.com/notiva/notiva-sync/runner"
	"github.com/notiva/notiva-sync/sqlite"
	"github.com/notiva/notiva-sync/syncer"
	"github.com/notiva/notiva-sync/toolserver"
	"github.com/notiva/notiva-sync/web"
)

type webrunner struct {
	cfg    *runner.Config
	db     *sql.DB
	jobs   *sqlite.JobRepository
	svc    *web.Service
	logger *zap.Logger
}

func New(cfg *runner.Config) (runner.Runner, error) {
	if cfg.RunMode != runner.RunModeWeb {
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}

	if cfg.DataFolder == "" {
		return nil, fmt.Errorf("data folder is required")
	}

	if err := os.MkdirAll(cfg.DataFolder, os.ModePerm); err != nil {
		return nil, err
	}

	db, err := sqlite.Open(filepath.Join(cfg.DataFolder, "notiva.db"))
	if err != nil {
		return nil, err
	}

	logger := runner.NewLogger(cfg.Debug)

	ans := &webrunner{
		cfg:    cfg,
		db:     db,
		jobs:   sqlite.NewJobRepository(db),
		logger: logger,
	}

	ans.svc = buildService(cfg, db, ans.jobs, logger)

	return ans, nil
}

// buildService wires the engine: credential manager, tool client, fetcher
// registry, syncer and the web service on top.
func buildService(cfg *runner.Config, db *sql.DB, jobs syncer.JobRepository, logger *zap.Logger) *web.Service {
	counters := metrics.NewCounters()

	creds := credentials.NewManager(
		sqlite.NewCredentialStore(db),
		credentials.ProviderConfig{
			TokenURL:     cfg.GoogleTokenURL,
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
		},
		credentials.WithLogger(logger),
		credentials.WithCounters(counters),
	)

	configs := sqlite.NewConfigStore(db)

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
		jobs,
		cache.NewLayer(sqlite.NewCacheRepository(db), logger),
		registry,
		syncer.WithLogger(logger),
		syncer.WithTelemetry(runner.Telemetry()),
	)

	return web.NewService(engine, configs, tools, logger)
}

func (w *webrunner) Run(ctx context.Context) error {
	// jobs left running by a previous process can never complete
	if err := w.jobs.ResetOrphans(ctx); err != nil {
		return fmt.Errorf("recovering orphaned jobs: %w", err)
	}

	egroup, ctx := errgroup.WithContext(ctx)

	egroup.Go(func() error {
		return web.Start(ctx, web.Config{
			Addr:    w.cfg.Addr,
			Debug:   w.cfg.Debug,
			Service: w.svc,
			Logger:  w.logger,
		})
	})

	return egroup.Wait()
}

func (w *webrunner) Close(context.Context) error {
	_ = w.logger.Sync()

	return w.db.Close()
}
