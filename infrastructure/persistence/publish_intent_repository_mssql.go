package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"tiktok-publisher/domain/model"
	"tiktok-publisher/domain/repository"
	"tiktok-publisher/infrastructure/logger"
)

var insertedIntentColumns = "inserted." + strings.ReplaceAll(intentColumns, ", ", ", inserted.")

type PublishIntentRepositoryMSSQL struct{ db *sql.DB }

func NewPublishIntentRepositoryMSSQL(db *sql.DB) repository.IPublishIntent {
	return &PublishIntentRepositoryMSSQL{db: db}
}

// merge upserts by idempotency key. matched is the extra condition under
// which an existing row is updated and set is its SET list.
func (r *PublishIntentRepositoryMSSQL) merge(ctx context.Context, i *model.PublishIntent, matched, set string) (int64, error) {
	payload, err := json.Marshal(i.Payload)
	if err != nil {
		return 0, err
	}
	i.OpenID = model.NormalizeOpenID(i.OpenID)
	stampIntent(i)
	q := `MERGE dbo.[tiktok_publish_intents] AS target
USING (VALUES (@p9)) AS src(idempotency_key)
ON target.idempotency_key = src.idempotency_key`
	if set != "" {
		q += `
WHEN MATCHED AND ` + matched + ` THEN UPDATE SET ` + set
	}
	q += `
WHEN NOT MATCHED THEN
    INSERT (user_id, open_id, payload, status, run_at, job_id, publish_id, result_url, idempotency_key, attempts, last_error, created_at, updated_at)
    VALUES (@p1,@p2,@p3,@p4,@p5,@p6,@p7,@p8,@p9,@p10,@p11,@p12,@p13);`
	res, err := r.db.ExecContext(ctx, q,
		i.UserID, i.OpenID, string(payload), string(i.Status), i.RunAt,
		toNullString(i.JobID), toNullString(i.PublishID), toNullString(i.ResultURL),
		i.IdempotencyKey, i.Attempts, toNullString(i.LastError), i.CreatedAt, i.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PublishIntentRepositoryMSSQL) CreateImmediate(ctx context.Context, i *model.PublishIntent) error {
	_, err := r.merge(ctx, i, "", "")
	return err
}

func (r *PublishIntentRepositoryMSSQL) UpsertQueued(ctx context.Context, i *model.PublishIntent) error {
	i.Status = model.IntentQueued
	n, err := r.merge(ctx, i, `target.user_id = @p1 AND target.status NOT IN ('PUBLISHED','INBOX','FAILED')`,
		`payload=@p3, updated_at=@p13`)
	return conflictIfUntouched(n, err)
}

func (r *PublishIntentRepositoryMSSQL) UpsertScheduled(ctx context.Context, i *model.PublishIntent) error {
	i.Status = model.IntentScheduled
	n, err := r.merge(ctx, i, `target.user_id = @p1 AND target.status <> 'RUNNING'`,
		`open_id=@p2, payload=@p3, run_at=@p5, job_id=@p6, status='SCHEDULED', publish_id=NULL, result_url=NULL, last_error=NULL, updated_at=@p13`)
	return conflictIfUntouched(n, err)
}

func (r *PublishIntentRepositoryMSSQL) MarkRunningByJobID(ctx context.Context, jobID string, runAt time.Time) (*model.PublishIntent, error) {
	row := r.db.QueryRowContext(ctx, `UPDATE dbo.[tiktok_publish_intents] SET status='RUNNING', attempts=attempts+1, updated_at=@p3
		OUTPUT `+insertedIntentColumns+`
		WHERE job_id=@p1 AND run_at=@p2 AND status IN ('QUEUED','SCHEDULED')`, jobID, runAt.UTC(), time.Now().UTC())
	i, err := scanIntent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrIntentNotPending
	}
	return i, err
}

func (r *PublishIntentRepositoryMSSQL) MarkCompletedByJobID(ctx context.Context, jobID string, status model.IntentStatus, publishID, resultURL *string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE dbo.[tiktok_publish_intents] SET status=@p2, publish_id=@p3, result_url=@p4, updated_at=@p5
		WHERE job_id=@p1 AND status NOT IN ('PUBLISHED','INBOX','FAILED')`,
		jobID, string(status), toNullString(publishID), toNullString(resultURL), time.Now().UTC())
	return err
}

func (r *PublishIntentRepositoryMSSQL) MarkFailedByJobID(ctx context.Context, jobID, message string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE dbo.[tiktok_publish_intents] SET status='FAILED', last_error=@p2, updated_at=@p3
		WHERE job_id=@p1 AND status NOT IN ('PUBLISHED','INBOX','FAILED')`, jobID, message, time.Now().UTC())
	return err
}

func (r *PublishIntentRepositoryMSSQL) MarkCompletedByPublishID(ctx context.Context, publishID string, status model.IntentStatus, resultURL *string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE dbo.[tiktok_publish_intents] SET status=@p2, result_url=@p3, updated_at=@p4
		WHERE publish_id=@p1 AND status NOT IN ('PUBLISHED','INBOX','FAILED')`,
		publishID, string(status), toNullString(resultURL), time.Now().UTC())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		logger.GetLogger().WithField("publishId", publishID).Debug("No open publish intent to complete")
	}
	return nil
}

func (r *PublishIntentRepositoryMSSQL) MarkFailedByPublishID(ctx context.Context, publishID, message string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE dbo.[tiktok_publish_intents] SET status='FAILED', last_error=@p2, updated_at=@p3
		WHERE publish_id=@p1 AND status NOT IN ('PUBLISHED','INBOX','FAILED')`, publishID, message, time.Now().UTC())
	return err
}

func (r *PublishIntentRepositoryMSSQL) GetByIdempotencyKey(ctx context.Context, key string) (*model.PublishIntent, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM dbo.[tiktok_publish_intents] WHERE idempotency_key=@p1`, key)
	i, err := scanIntent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return i, err
}

func (r *PublishIntentRepositoryMSSQL) ListIntents(ctx context.Context, userID string, openID *string) ([]*model.PublishIntent, error) {
	var rows *sql.Rows
	var err error
	if openID != nil && *openID != "" {
		rows, err = r.db.QueryContext(ctx, `SELECT `+intentColumns+` FROM dbo.[tiktok_publish_intents] WHERE user_id=@p1 AND open_id=@p2 ORDER BY created_at DESC`,
			userID, model.NormalizeOpenID(*openID))
	} else {
		rows, err = r.db.QueryContext(ctx, `SELECT `+intentColumns+` FROM dbo.[tiktok_publish_intents] WHERE user_id=@p1 ORDER BY created_at DESC`, userID)
	}
	if err != nil {
		return nil, err
	}
	return collectIntents(rows)
}

func (r *PublishIntentRepositoryMSSQL) ListStalledRunning(ctx context.Context, olderThan time.Time) ([]*model.PublishIntent, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+intentColumns+` FROM dbo.[tiktok_publish_intents] WHERE status='RUNNING' AND updated_at < @p1 ORDER BY updated_at ASC`, olderThan)
	if err != nil {
		return nil, err
	}
	return collectIntents(rows)
}

func (r *PublishIntentRepositoryMSSQL) DeleteByAccount(ctx context.Context, userID, openID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM dbo.[tiktok_publish_intents] WHERE user_id=@p1 AND open_id=@p2`, userID, model.NormalizeOpenID(openID))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
