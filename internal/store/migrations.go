package store

import (
	"context"
	"database/sql"
	"strings"
)

// sqliteSchema contains the SQLite DDL. Each statement is idempotent.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		subject       TEXT NOT NULL UNIQUE,
		username      TEXT NOT NULL DEFAULT '',
		role          TEXT NOT NULL DEFAULT 'user',
		created_at    TEXT NOT NULL,
		last_login_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS submissions (
		id             TEXT PRIMARY KEY,
		user_id        TEXT NOT NULL,
		status         TEXT NOT NULL DEFAULT 'SUBMITTED',
		model_type     TEXT NOT NULL,
		model_id       TEXT NOT NULL,
		display_name   TEXT NOT NULL DEFAULT '',
		params         TEXT NOT NULL DEFAULT '{}',
		engine_config  TEXT NOT NULL DEFAULT '{}',
		ip_hash        TEXT NOT NULL,
		priority_score INTEGER NOT NULL DEFAULT 0,
		error_msg      TEXT NOT NULL DEFAULT '',
		run_key        TEXT NOT NULL DEFAULT '',
		created_at     TEXT NOT NULL,
		started_at     TEXT,
		finished_at    TEXT
	)`,

	`CREATE INDEX IF NOT EXISTS idx_submissions_user_created ON submissions(user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_submissions_ip_created ON submissions(ip_hash, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_submissions_status ON submissions(status)`,
	`CREATE INDEX IF NOT EXISTS idx_submissions_model_lower ON submissions(lower(model_id))`,

	`CREATE TABLE IF NOT EXISTS leaderboard (
		model_id     TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		elo          REAL NOT NULL DEFAULT 0,
		rank         INTEGER NOT NULL DEFAULT 0,
		sample_count INTEGER NOT NULL DEFAULT 0,
		updated_at   TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_leaderboard_model_lower ON leaderboard(lower(model_id))`,
}

// sqliteAlterStatements are column additions; SQLite has no
// ADD COLUMN IF NOT EXISTS.
var sqliteAlterStatements = []struct {
	table    string
	column   string
	alterSQL string
	indexSQL string
}{
	{
		table:    "submissions",
		column:   "run_key",
		alterSQL: "ALTER TABLE submissions ADD COLUMN run_key TEXT NOT NULL DEFAULT ''",
		indexSQL: "CREATE INDEX IF NOT EXISTS idx_submissions_run_key ON submissions(run_key) WHERE run_key != ''",
	},
}

// postgresSchema contains the Postgres DDL.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		subject       TEXT NOT NULL UNIQUE,
		username      TEXT NOT NULL DEFAULT '',
		role          TEXT NOT NULL DEFAULT 'user',
		created_at    TIMESTAMPTZ NOT NULL,
		last_login_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS submissions (
		id             TEXT PRIMARY KEY,
		user_id        TEXT NOT NULL,
		status         TEXT NOT NULL DEFAULT 'SUBMITTED',
		model_type     TEXT NOT NULL,
		model_id       TEXT NOT NULL,
		display_name   TEXT NOT NULL DEFAULT '',
		params         JSONB NOT NULL DEFAULT '{}',
		engine_config  JSONB NOT NULL DEFAULT '{}',
		ip_hash        TEXT NOT NULL,
		priority_score INTEGER NOT NULL DEFAULT 0,
		error_msg      TEXT NOT NULL DEFAULT '',
		run_key        TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL,
		started_at     TIMESTAMPTZ,
		finished_at    TIMESTAMPTZ
	)`,

	`CREATE INDEX IF NOT EXISTS idx_submissions_user_created ON submissions(user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_submissions_ip_created ON submissions(ip_hash, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_submissions_status ON submissions(status)`,
	`CREATE INDEX IF NOT EXISTS idx_submissions_model_lower ON submissions(lower(model_id))`,

	`CREATE TABLE IF NOT EXISTS leaderboard (
		model_id     TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		elo          DOUBLE PRECISION NOT NULL DEFAULT 0,
		rank         INTEGER NOT NULL DEFAULT 0,
		sample_count INTEGER NOT NULL DEFAULT 0,
		updated_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_leaderboard_model_lower ON leaderboard(lower(model_id))`,
}

// migrateSQLite executes the SQLite DDL and column additions.
func migrateSQLite(ctx context.Context, db *sql.DB) error {
	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	for _, alter := range sqliteAlterStatements {
		if err := addColumnIfNotExists(ctx, db, alter.table, alter.column, alter.alterSQL); err != nil {
			return err
		}
		if alter.indexSQL != "" {
			if _, err := db.ExecContext(ctx, alter.indexSQL); err != nil {
				return err
			}
		}
	}

	return nil
}

// addColumnIfNotExists adds a column to a table if it doesn't already exist.
func addColumnIfNotExists(ctx context.Context, db *sql.DB, table, column, alterSQL string) error {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue *string
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if strings.EqualFold(name, column) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, alterSQL)
	return err
}
