package redis

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	goredis "github.com/redis/go-redis/v9"
)

// Client enqueues sync tasks and answers health checks.
type Client struct {
	client     *asynq.Client
	ping       *goredis.Client
	maxRetries int
}

func NewClient(cfg *Config) (*Client, error) {
	opt := asynq.RedisClientOpt{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	ping := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := ping.Ping(context.Background()).Err(); err != nil {
		_ = ping.Close()

		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Client{
		client:     asynq.NewClient(opt),
		ping:       ping,
		maxRetries: cfg.MaxRetries,
	}, nil
}

// EnqueueSync queues one sync run for a job slot the caller already claimed.
func (c *Client) EnqueueSync(ctx context.Context, integrationID, jobID string) error {
	taskType, payload, err := NewSyncTask(integrationID, jobID)
	if err != nil {
		return err
	}

	return c.EnqueueTask(ctx, taskType, payload, asynq.MaxRetry(c.maxRetries))
}

func (c *Client) EnqueueTask(ctx context.Context, taskType string, payload []byte, opts ...asynq.Option) error {
	task := asynq.NewTask(taskType, payload)

	if _, err := c.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueueing %s: %w", taskType, err)
	}

	return nil
}

func (c *Client) IsHealthy(ctx context.Context) error {
	return c.ping.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if err := c.client.Close(); err != nil {
		return err
	}

	return c.ping.Close()
}
