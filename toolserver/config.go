package toolserver

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrConfigNotFound = errors.New("server config not found")

type ServerType string

const (
	TypeStdio ServerType = "stdio"
	TypeHTTP  ServerType = "http"
)

// ServerConfig describes one callable tool endpoint. Exactly one variant's
// fields are populated, selected by Type: Command/Args/Env for stdio servers,
// URL/Headers for http servers.
type ServerConfig struct {
	ID   string     `json:"id"`
	Name string     `json:"name"`
	Type ServerType `json:"type"`

	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	LastConnectedAt *time.Time `json:"last_connected_at,omitempty"`
	LastError       string     `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *ServerConfig) Validate() error {
	switch c.Type {
	case TypeStdio:
		if c.Command == "" {
			return errors.New("stdio server requires a command")
		}

		if c.URL != "" {
			return errors.New("stdio server must not set a url")
		}
	case TypeHTTP:
		if c.URL == "" {
			return errors.New("http server requires a url")
		}

		if c.Command != "" {
			return errors.New("http server must not set a command")
		}
	default:
		return fmt.Errorf("unknown server type: %q", c.Type)
	}

	return nil
}

// ConfigStore persists server configs. MarkConnected and MarkError record
// the outcome of the most recent call on the config record, which the
// configuration UI reads.
type ConfigStore interface {
	Get(ctx context.Context, id string) (ServerConfig, error)
	Select(ctx context.Context) ([]ServerConfig, error)
	Save(ctx context.Context, cfg *ServerConfig) error
	Delete(ctx context.Context, id string) error
	MarkConnected(ctx context.Context, id string, at time.Time) error
	MarkError(ctx context.Context, id string, msg string) error
}
