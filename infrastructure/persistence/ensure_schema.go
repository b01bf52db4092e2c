package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS tiktok_accounts (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		open_id TEXT NOT NULL,
		display_name TEXT NULL,
		username TEXT NULL,
		avatar_url TEXT NULL,
		access_token TEXT NOT NULL,
		refresh_token TEXT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		refresh_expires_at TIMESTAMPTZ NULL,
		scopes TEXT NOT NULL DEFAULT '',
		connected_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (user_id, open_id)
	)`,
	`CREATE TABLE IF NOT EXISTS tiktok_publish_intents (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		open_id TEXT NOT NULL,
		payload JSONB NOT NULL,
		status TEXT NOT NULL,
		run_at TIMESTAMPTZ NOT NULL,
		job_id TEXT NULL,
		publish_id TEXT NULL,
		result_url TEXT NULL,
		idempotency_key TEXT NOT NULL UNIQUE,
		last_error TEXT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_tiktok_publish_intents_job_id ON tiktok_publish_intents (job_id)`,
	`CREATE INDEX IF NOT EXISTS ix_tiktok_publish_intents_publish_id ON tiktok_publish_intents (publish_id)`,
	`CREATE INDEX IF NOT EXISTS ix_tiktok_publish_intents_account ON tiktok_publish_intents (user_id, open_id, created_at DESC)`,
}

// EnsureTikTokSchema creates the account and intent tables and adds columns
// introduced after the first release. Safe to call at startup.
func EnsureTikTokSchema(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, ddl := range postgresSchema {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure tiktok schema: %w", err)
		}
	}

	checks := []struct {
		table  string
		column string
		ddl    string
	}{
		{"tiktok_accounts", "timezone_offset_minutes", "ALTER TABLE tiktok_accounts ADD COLUMN timezone_offset_minutes INTEGER NULL"},
		{"tiktok_publish_intents", "attempts", "ALTER TABLE tiktok_publish_intents ADD COLUMN attempts INTEGER NOT NULL DEFAULT 0"},
	}
	for _, c := range checks {
		exists, err := columnExists(ctx, db, c.table, c.column)
		if err != nil {
			return err
		}
		if !exists {
			if _, err := db.ExecContext(ctx, c.ddl); err != nil {
				return fmt.Errorf("adding column %s.%s failed: %w", c.table, c.column, err)
			}
		}
	}
	return nil
}

func columnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	row := db.QueryRowContext(ctx, `SELECT 1 FROM information_schema.columns WHERE table_name=$1 AND column_name=$2`, table, column)
	var one int
	if err := row.Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
