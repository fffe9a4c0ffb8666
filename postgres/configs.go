package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/notiva/notiva-sync/toolserver"
)

var _ toolserver.ConfigStore = (*ConfigStore)(nil)

type ConfigStore struct {
	db *sql.DB
}

func NewConfigStore(db *sql.DB) *ConfigStore {
	return &ConfigStore{db: db}
}

type scannable interface {
	Scan(dest ...any) error
}

func scanConfig(row scannable) (toolserver.ServerConfig, error) {
	var (
		cfg             toolserver.ServerConfig
		typ             string
		args            []byte
		env             []byte
		headers         []byte
		lastConnectedAt sql.NullTime
	)

	err := row.Scan(&cfg.ID, &cfg.Name, &typ, &cfg.Command, &args, &env,
		&cfg.URL, &headers, &lastConnectedAt, &cfg.LastError, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return toolserver.ServerConfig{}, err
	}

	cfg.Type = toolserver.ServerType(typ)

	if err := json.Unmarshal(args, &cfg.Args); err != nil {
		return toolserver.ServerConfig{}, err
	}

	if err := json.Unmarshal(env, &cfg.Env); err != nil {
		return toolserver.ServerConfig{}, err
	}

	if err := json.Unmarshal(headers, &cfg.Headers); err != nil {
		return toolserver.ServerConfig{}, err
	}

	if lastConnectedAt.Valid {
		t := lastConnectedAt.Time.UTC()
		cfg.LastConnectedAt = &t
	}

	return cfg, nil
}

const configColumns = `id, name, type, command, args, env, url, headers,
	last_connected_at, last_error, created_at, updated_at`

func (s *ConfigStore) Get(ctx context.Context, id string) (toolserver.ServerConfig, error) {
	q := `SELECT ` + configColumns + ` FROM server_configs WHERE id = $1`

	cfg, err := scanConfig(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return toolserver.ServerConfig{}, toolserver.ErrConfigNotFound
	}

	return cfg, err
}

func (s *ConfigStore) Select(ctx context.Context) ([]toolserver.ServerConfig, error) {
	q := `SELECT ` + configColumns + ` FROM server_configs ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var ans []toolserver.ServerConfig

	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}

		ans = append(ans, cfg)
	}

	return ans, rows.Err()
}

func (s *ConfigStore) Save(ctx context.Context, cfg *toolserver.ServerConfig) error {
	args, err := json.Marshal(cfg.Args)
	if err != nil {
		return err
	}

	env, err := json.Marshal(cfg.Env)
	if err != nil {
		return err
	}

	headers, err := json.Marshal(cfg.Headers)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	createdAt := cfg.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	var lastConnectedAt sql.NullTime
	if cfg.LastConnectedAt != nil {
		lastConnectedAt = sql.NullTime{Time: cfg.LastConnectedAt.UTC(), Valid: true}
	}

	const q = `INSERT INTO server_configs
			(id, name, type, command, args, env, url, headers,
			 last_connected_at, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			command = excluded.command,
			args = excluded.args,
			env = excluded.env,
			url = excluded.url,
			headers = excluded.headers,
			last_connected_at = excluded.last_connected_at,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, q,
		cfg.ID, cfg.Name, string(cfg.Type), cfg.Command, args, env,
		cfg.URL, headers, lastConnectedAt, cfg.LastError,
		createdAt, now,
	)

	return err
}

func (s *ConfigStore) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM server_configs WHERE id = $1`

	_, err := s.db.ExecContext(ctx, q, id)

	return err
}

func (s *ConfigStore) MarkConnected(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE server_configs SET last_connected_at = $1, last_error = '' WHERE id = $2`

	_, err := s.db.ExecContext(ctx, q, at.UTC(), id)

	return err
}

func (s *ConfigStore) MarkError(ctx context.Context, id, msg string) error {
	const q = `UPDATE server_configs SET last_error = $1 WHERE id = $2`

	_, err := s.db.ExecContext(ctx, q, msg, id)

	return err
}
