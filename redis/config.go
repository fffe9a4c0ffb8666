// Package redis runs sync jobs through an asynq queue for deployments where
// the engine workers live on separate hosts from the API.
package redis

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Host          string
	Port          int
	Password      string
	DB            int
	Workers       int
	MaxRetries    int
	RetryInterval time.Duration
}

const (
	defaultHost          = "localhost"
	defaultPort          = 6379
	defaultWorkers       = 10
	defaultMaxRetries    = 3
	defaultRetryInterval = 5 * time.Second
)

// NewConfig reads REDIS_URL first, then falls back to the individual
// REDIS_HOST/REDIS_PORT/REDIS_PASSWORD/REDIS_DB variables.
func NewConfig() (*Config, error) {
	cfg := &Config{
		Host:          getEnvOrDefault("REDIS_HOST", defaultHost),
		Port:          defaultPort,
		Password:      os.Getenv("REDIS_PASSWORD"),
		Workers:       defaultWorkers,
		MaxRetries:    defaultMaxRetries,
		RetryInterval: defaultRetryInterval,
	}

	if raw := os.Getenv("REDIS_PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}

		cfg.Port = port
	}

	if raw := os.Getenv("REDIS_DB"); raw != "" {
		db, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}

		cfg.DB = db
	}

	if raw := os.Getenv("REDIS_WORKERS"); raw != "" {
		workers, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_WORKERS: %w", err)
		}

		cfg.Workers = workers
	}

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		parsed, err := url.Parse(redisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}

		if host := parsed.Hostname(); host != "" {
			cfg.Host = host
		}

		if port := parsed.Port(); port != "" {
			p, err := strconv.Atoi(port)
			if err != nil {
				return nil, fmt.Errorf("invalid port in REDIS_URL: %w", err)
			}

			cfg.Port = p
		}

		if pass, ok := parsed.User.Password(); ok {
			cfg.Password = pass
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("redis port out of range: %d", cfg.Port)
	}

	if cfg.Workers < 1 {
		return nil, fmt.Errorf("redis workers must be positive: %d", cfg.Workers)
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}
