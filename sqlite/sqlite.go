// Package sqlite backs every store interface with a single local database
// file. It is the default storage for the web run mode.
package sqlite

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite" // sqlite driver
)

func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=1000",
		"PRAGMA foreign_keys=ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, err
		}
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return db, createSchema(db)
}

func createSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS credentials (
			integration_id TEXT PRIMARY KEY,
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL,
			expires_at INT,
			scopes TEXT NOT NULL,
			updated_at INT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sync_jobs (
			integration_id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			state TEXT NOT NULL,
			cursor TEXT NOT NULL DEFAULT '',
			page_count INT NOT NULL DEFAULT 0,
			items_processed INT NOT NULL DEFAULT 0,
			items_failed INT NOT NULL DEFAULT 0,
			cancel_requested INT NOT NULL DEFAULT 0,
			message TEXT NOT NULL DEFAULT '',
			last_error TEXT NOT NULL DEFAULT '',
			started_at INT NOT NULL,
			finished_at INT
		)`,
		`CREATE TABLE IF NOT EXISTS cache_records (
			integration_id TEXT NOT NULL,
			external_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			labels TEXT NOT NULL DEFAULT '[]',
			owner TEXT NOT NULL DEFAULT '',
			lifecycle TEXT NOT NULL DEFAULT '',
			load_error TEXT NOT NULL DEFAULT '',
			synced_at INT NOT NULL,
			created_at INT NOT NULL,
			updated_at INT NOT NULL,
			PRIMARY KEY (integration_id, external_id)
		)`,
		`CREATE TABLE IF NOT EXISTS server_configs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			command TEXT NOT NULL DEFAULT '',
			args TEXT NOT NULL DEFAULT '[]',
			env TEXT NOT NULL DEFAULT '{}',
			url TEXT NOT NULL DEFAULT '',
			headers TEXT NOT NULL DEFAULT '{}',
			last_connected_at INT,
			last_error TEXT NOT NULL DEFAULT '',
			created_at INT NOT NULL,
			updated_at INT NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
