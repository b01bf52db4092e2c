package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// EnsureTikTokSchemaMSSQL creates the account and intent tables for SQL
// Server if they do not exist, then adds newer columns via COL_LENGTH checks.
func EnsureTikTokSchemaMSSQL(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ddl := []string{
		`IF NOT EXISTS (SELECT * FROM sys.objects WHERE object_id = OBJECT_ID(N'dbo.tiktok_accounts') AND type in (N'U'))
BEGIN
    CREATE TABLE dbo.[tiktok_accounts] (
        id BIGINT IDENTITY(1,1) PRIMARY KEY,
        user_id NVARCHAR(128) NOT NULL,
        open_id NVARCHAR(128) NOT NULL,
        display_name NVARCHAR(255) NULL,
        username NVARCHAR(255) NULL,
        avatar_url NVARCHAR(MAX) NULL,
        access_token NVARCHAR(MAX) NOT NULL,
        refresh_token NVARCHAR(MAX) NULL,
        expires_at DATETIME2 NOT NULL,
        refresh_expires_at DATETIME2 NULL,
        scopes NVARCHAR(MAX) NOT NULL,
        connected_at DATETIME2 NOT NULL,
        updated_at DATETIME2 NOT NULL
    );
    CREATE UNIQUE INDEX UX_tiktok_accounts_user_open ON dbo.[tiktok_accounts](user_id, open_id);
END`,
		`IF NOT EXISTS (SELECT * FROM sys.objects WHERE object_id = OBJECT_ID(N'dbo.tiktok_publish_intents') AND type in (N'U'))
BEGIN
    CREATE TABLE dbo.[tiktok_publish_intents] (
        id BIGINT IDENTITY(1,1) PRIMARY KEY,
        user_id NVARCHAR(128) NOT NULL,
        open_id NVARCHAR(128) NOT NULL,
        payload NVARCHAR(MAX) NOT NULL,
        status NVARCHAR(32) NOT NULL,
        run_at DATETIME2 NOT NULL,
        job_id NVARCHAR(255) NULL,
        publish_id NVARCHAR(255) NULL,
        result_url NVARCHAR(MAX) NULL,
        idempotency_key NVARCHAR(255) NOT NULL,
        last_error NVARCHAR(MAX) NULL,
        created_at DATETIME2 NOT NULL,
        updated_at DATETIME2 NOT NULL
    );
    CREATE UNIQUE INDEX UX_tiktok_publish_intents_key ON dbo.[tiktok_publish_intents](idempotency_key);
    CREATE INDEX IX_tiktok_publish_intents_job ON dbo.[tiktok_publish_intents](job_id);
    CREATE INDEX IX_tiktok_publish_intents_publish ON dbo.[tiktok_publish_intents](publish_id);
END`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure tiktok schema (mssql): %w", err)
		}
	}

	addIfMissing := func(table, column, alter string) error {
		q := fmt.Sprintf(`IF COL_LENGTH('%s', '%s') IS NULL BEGIN %s END`, table, column, alter)
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure column %s.%s: %w", table, column, err)
		}
		return nil
	}
	if err := addIfMissing("dbo.tiktok_accounts", "timezone_offset_minutes", "ALTER TABLE dbo.[tiktok_accounts] ADD timezone_offset_minutes INT NULL"); err != nil {
		return err
	}
	return addIfMissing("dbo.tiktok_publish_intents", "attempts", "ALTER TABLE dbo.[tiktok_publish_intents] ADD attempts INT NOT NULL DEFAULT 0")
}
