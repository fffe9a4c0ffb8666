package sqlite

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

type configRow struct {
	id              string
	name            string
	typ             string
	command         string
	args            string
	env             string
	url             string
	headers         string
	lastConnectedAt sql.NullInt64
	lastError       string
	createdAt       int64
	updatedAt       int64
}

type scannable interface {
	Scan(dest ...any) error
}

func scanConfig(row scannable) (toolserver.ServerConfig, error) {
	var r configRow

	err := row.Scan(&r.id, &r.name, &r.typ, &r.command, &r.args, &r.env,
		&r.url, &r.headers, &r.lastConnectedAt, &r.lastError, &r.createdAt, &r.updatedAt)
	if err != nil {
		return toolserver.ServerConfig{}, err
	}

	cfg := toolserver.ServerConfig{
		ID:        r.id,
		Name:      r.name,
		Type:      toolserver.ServerType(r.typ),
		Command:   r.command,
		URL:       r.url,
		LastError: r.lastError,
		CreatedAt: time.Unix(r.createdAt, 0).UTC(),
		UpdatedAt: time.Unix(r.updatedAt, 0).UTC(),
	}

	if err := json.Unmarshal([]byte(r.args), &cfg.Args); err != nil {
		return toolserver.ServerConfig{}, err
	}

	if err := json.Unmarshal([]byte(r.env), &cfg.Env); err != nil {
		return toolserver.ServerConfig{}, err
	}

	if err := json.Unmarshal([]byte(r.headers), &cfg.Headers); err != nil {
		return toolserver.ServerConfig{}, err
	}

	if r.lastConnectedAt.Valid {
		t := time.Unix(r.lastConnectedAt.Int64, 0).UTC()
		cfg.LastConnectedAt = &t
	}

	return cfg, nil
}

const configColumns = `id, name, type, command, args, env, url, headers,
	last_connected_at, last_error, created_at, updated_at`

func (s *ConfigStore) Get(ctx context.Context, id string) (toolserver.ServerConfig, error) {
	q := `SELECT ` + configColumns + ` FROM server_configs WHERE id = ?`

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

	var lastConnectedAt sql.NullInt64
	if cfg.LastConnectedAt != nil {
		lastConnectedAt = sql.NullInt64{Int64: cfg.LastConnectedAt.Unix(), Valid: true}
	}

	const q = `INSERT INTO server_configs
			(id, name, type, command, args, env, url, headers,
			 last_connected_at, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
		cfg.ID, cfg.Name, string(cfg.Type), cfg.Command, string(args), string(env),
		cfg.URL, string(headers), lastConnectedAt, cfg.LastError,
		createdAt.Unix(), now.Unix(),
	)

	return err
}

func (s *ConfigStore) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM server_configs WHERE id = ?`

	_, err := s.db.ExecContext(ctx, q, id)

	return err
}

func (s *ConfigStore) MarkConnected(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE server_configs SET last_connected_at = ?, last_error = '' WHERE id = ?`

	_, err := s.db.ExecContext(ctx, q, at.Unix(), id)

	return err
}

func (s *ConfigStore) MarkError(ctx context.Context, id, msg string) error {
	const q = `UPDATE server_configs SET last_error = ? WHERE id = ?`

	_, err := s.db.ExecContext(ctx, q, msg, id)

	return err
}
