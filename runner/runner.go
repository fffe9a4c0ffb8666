// Package runner selects and configures a run mode: the embedded web server,
// a shared postgres deployment, or a redis queue worker.
package runner

import (
	"context"
	"errors"
	"flag"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/notiva/notiva-sync/tlmt"
	"github.com/notiva/notiva-sync/tlmt/gonoop"
	"github.com/notiva/notiva-sync/tlmt/goposthog"
)

const (
	RunModeWeb = iota + 1
	RunModeDatabase
	RunModeRedis
)

var ErrInvalidRunMode = errors.New("invalid run mode")

type Runner interface {
	Run(context.Context) error
	Close(context.Context) error
}

type Config struct {
	Addr             string
	DataFolder       string
	Dsn              string
	RedisWorker      bool
	UseQueue         bool
	Debug            bool
	DisableTelemetry bool
	RunMode          int

	GoogleTokenURL     string
	GoogleClientID     string
	GoogleClientSecret string

	NotionServerID   string
	NotionDatabaseID string
}

const defaultGoogleTokenURL = "https://oauth2.googleapis.com/token"

func ParseConfig() *Config {
	cfg := Config{}

	flag.StringVar(&cfg.Addr, "addr", ":8080", "address to listen on for the web server")
	flag.StringVar(&cfg.DataFolder, "data-folder", "syncdata", "folder for the local sqlite database")
	flag.StringVar(&cfg.Dsn, "dsn", "", "postgres connection string [switches to database mode]")
	flag.BoolVar(&cfg.RedisWorker, "redis", false, "run as a redis queue worker")
	flag.BoolVar(&cfg.UseQueue, "queue", false, "enqueue syncs to redis instead of running them in-process [database mode]")
	flag.BoolVar(&cfg.Debug, "debug", false, "enable debug logging")
	flag.BoolVar(&cfg.DisableTelemetry, "disable-telemetry", false, "disable anonymous usage events")
	flag.StringVar(&cfg.GoogleClientID, "google-client-id", "", "google oauth client id")
	flag.StringVar(&cfg.GoogleClientSecret, "google-client-secret", "", "google oauth client secret")
	flag.StringVar(&cfg.NotionServerID, "notion-server", "", "tool server config id for notion integrations")
	flag.StringVar(&cfg.NotionDatabaseID, "notion-database", "", "notion database id to sync")

	flag.Parse()

	cfg.GoogleTokenURL = defaultGoogleTokenURL
	if v := os.Getenv("GOOGLE_TOKEN_URL"); v != "" {
		cfg.GoogleTokenURL = v
	}

	if cfg.GoogleClientID == "" {
		cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	}

	if cfg.GoogleClientSecret == "" {
		cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	}

	if cfg.NotionServerID == "" {
		cfg.NotionServerID = os.Getenv("NOTION_SERVER_ID")
	}

	if cfg.NotionDatabaseID == "" {
		cfg.NotionDatabaseID = os.Getenv("NOTION_DATABASE_ID")
	}

	if cfg.DisableTelemetry {
		os.Setenv("DISABLE_TELEMETRY", "1")
	}

	switch {
	case cfg.RedisWorker:
		cfg.RunMode = RunModeRedis
	case cfg.Dsn != "":
		cfg.RunMode = RunModeDatabase
	default:
		cfg.RunMode = RunModeWeb
	}

	return &cfg
}

func NewLogger(debug bool) *zap.Logger {
	if debug {
		logger, err := zap.NewDevelopment()
		if err == nil {
			return logger
		}
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop()
	}

	return logger
}

var (
	telemetryOnce sync.Once
	telemetry     tlmt.Telemetry
)

func Telemetry() tlmt.Telemetry {
	telemetryOnce.Do(func() {
		if os.Getenv("DISABLE_TELEMETRY") == "1" {
			telemetry = gonoop.New()

			return
		}

		key := os.Getenv("POSTHOG_API_KEY")
		if key == "" {
			telemetry = gonoop.New()

			return
		}

		val, err := goposthog.New(key, "https://eu.i.posthog.com")
		if err != nil || val == nil {
			telemetry = gonoop.New()

			return
		}

		telemetry = val
	})

	return telemetry
}
