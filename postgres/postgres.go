// Package postgres backs the store interfaces with PostgreSQL for
// multi-instance deployments, where the atomic job claim has to hold across
// processes and not just within one.
package postgres

import (
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return db, CreateSchema(db)
}

func CreateSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS credentials (
			integration_id TEXT PRIMARY KEY,
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL,
			expires_at TIMESTAMPTZ,
			scopes JSONB NOT NULL DEFAULT '[]',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS sync_jobs (
			integration_id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			state TEXT NOT NULL,
			cursor TEXT NOT NULL DEFAULT '',
			page_count INT NOT NULL DEFAULT 0,
			items_processed INT NOT NULL DEFAULT 0,
			items_failed INT NOT NULL DEFAULT 0,
			cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
			message TEXT NOT NULL DEFAULT '',
			last_error TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS cache_records (
			integration_id TEXT NOT NULL,
			external_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			labels JSONB NOT NULL DEFAULT '[]',
			owner TEXT NOT NULL DEFAULT '',
			lifecycle TEXT NOT NULL DEFAULT '',
			load_error TEXT NOT NULL DEFAULT '',
			synced_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (integration_id, external_id)
		)`,
		`CREATE TABLE IF NOT EXISTS server_configs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			command TEXT NOT NULL DEFAULT '',
			args JSONB NOT NULL DEFAULT '[]',
			env JSONB NOT NULL DEFAULT '{}',
			url TEXT NOT NULL DEFAULT '',
			headers JSONB NOT NULL DEFAULT '{}',
			last_connected_at TIMESTAMPTZ,
			last_error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
