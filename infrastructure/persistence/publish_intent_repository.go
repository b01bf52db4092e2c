package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"tiktok-publisher/domain/model"
	"tiktok-publisher/domain/repository"
	"tiktok-publisher/infrastructure/logger"
)

const intentColumns = `id, user_id, open_id, payload, status, run_at, job_id, publish_id, result_url, idempotency_key, attempts, last_error, created_at, updated_at`

// PublishIntentRepository stores publish intents in PostgreSQL. Every update
// is guarded so that a terminal intent is never modified.
type PublishIntentRepository struct{ db *sql.DB }

func NewPublishIntentRepository(db *sql.DB) repository.IPublishIntent {
	return &PublishIntentRepository{db: db}
}

// insert writes the intent and returns the number of rows inserted or
// updated by onConflict.
func (r *PublishIntentRepository) insert(ctx context.Context, i *model.PublishIntent, onConflict string) (int64, error) {
	payload, err := json.Marshal(i.Payload)
	if err != nil {
		return 0, err
	}
	i.OpenID = model.NormalizeOpenID(i.OpenID)
	stampIntent(i)
	q := `INSERT INTO tiktok_publish_intents (user_id, open_id, payload, status, run_at, job_id, publish_id, result_url, idempotency_key, attempts, last_error, created_at, updated_at)
		  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		  ON CONFLICT (idempotency_key) ` + onConflict
	res, err := r.db.ExecContext(ctx, q,
		i.UserID, i.OpenID, string(payload), string(i.Status), i.RunAt, i.JobID, i.PublishID, i.ResultURL,
		i.IdempotencyKey, i.Attempts, i.LastError, i.CreatedAt, i.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PublishIntentRepository) CreateImmediate(ctx context.Context, i *model.PublishIntent) error {
	_, err := r.insert(ctx, i, `DO NOTHING`)
	return err
}

func (r *PublishIntentRepository) UpsertQueued(ctx context.Context, i *model.PublishIntent) error {
	i.Status = model.IntentQueued
	n, err := r.insert(ctx, i, `DO UPDATE SET
			payload=EXCLUDED.payload,
			updated_at=EXCLUDED.updated_at
		  WHERE tiktok_publish_intents.user_id = EXCLUDED.user_id
			AND tiktok_publish_intents.status NOT IN ('PUBLISHED','INBOX','FAILED')`)
	return conflictIfUntouched(n, err)
}

// UpsertScheduled inserts the intent or resets the caller's existing one to
// SCHEDULED with the new payload and run time, clearing the previous outcome.
// A key owned by another user or currently RUNNING yields ErrIntentConflict.
func (r *PublishIntentRepository) UpsertScheduled(ctx context.Context, i *model.PublishIntent) error {
	i.Status = model.IntentScheduled
	n, err := r.insert(ctx, i, `DO UPDATE SET
			open_id=EXCLUDED.open_id,
			payload=EXCLUDED.payload,
			run_at=EXCLUDED.run_at,
			job_id=EXCLUDED.job_id,
			status='SCHEDULED',
			publish_id=NULL,
			result_url=NULL,
			last_error=NULL,
			updated_at=EXCLUDED.updated_at
		  WHERE tiktok_publish_intents.user_id = EXCLUDED.user_id
			AND tiktok_publish_intents.status <> 'RUNNING'`)
	return conflictIfUntouched(n, err)
}

func (r *PublishIntentRepository) MarkRunningByJobID(ctx context.Context, jobID string, runAt time.Time) (*model.PublishIntent, error) {
	row := r.db.QueryRowContext(ctx, `UPDATE tiktok_publish_intents SET status='RUNNING', attempts=attempts+1, updated_at=$3
		WHERE job_id=$1 AND run_at=$2 AND status IN ('QUEUED','SCHEDULED')
		RETURNING `+intentColumns, jobID, runAt.UTC(), time.Now().UTC())
	i, err := scanIntent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrIntentNotPending
	}
	return i, err
}

func (r *PublishIntentRepository) MarkCompletedByJobID(ctx context.Context, jobID string, status model.IntentStatus, publishID, resultURL *string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE tiktok_publish_intents SET status=$2, publish_id=$3, result_url=$4, updated_at=$5
		WHERE job_id=$1 AND status NOT IN ('PUBLISHED','INBOX','FAILED')`, jobID, string(status), publishID, resultURL, time.Now().UTC())
	return err
}

func (r *PublishIntentRepository) MarkFailedByJobID(ctx context.Context, jobID, message string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE tiktok_publish_intents SET status='FAILED', last_error=$2, updated_at=$3
		WHERE job_id=$1 AND status NOT IN ('PUBLISHED','INBOX','FAILED')`, jobID, message, time.Now().UTC())
	return err
}

func (r *PublishIntentRepository) MarkCompletedByPublishID(ctx context.Context, publishID string, status model.IntentStatus, resultURL *string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE tiktok_publish_intents SET status=$2, result_url=$3, updated_at=$4
		WHERE publish_id=$1 AND status NOT IN ('PUBLISHED','INBOX','FAILED')`, publishID, string(status), resultURL, time.Now().UTC())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		logger.GetLogger().WithField("publishId", publishID).Debug("No open publish intent to complete")
	}
	return nil
}

func (r *PublishIntentRepository) MarkFailedByPublishID(ctx context.Context, publishID, message string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE tiktok_publish_intents SET status='FAILED', last_error=$2, updated_at=$3
		WHERE publish_id=$1 AND status NOT IN ('PUBLISHED','INBOX','FAILED')`, publishID, message, time.Now().UTC())
	return err
}

func (r *PublishIntentRepository) GetByIdempotencyKey(ctx context.Context, key string) (*model.PublishIntent, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM tiktok_publish_intents WHERE idempotency_key=$1`, key)
	i, err := scanIntent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return i, err
}

func (r *PublishIntentRepository) ListIntents(ctx context.Context, userID string, openID *string) ([]*model.PublishIntent, error) {
	var rows *sql.Rows
	var err error
	if openID != nil && *openID != "" {
		rows, err = r.db.QueryContext(ctx, `SELECT `+intentColumns+` FROM tiktok_publish_intents WHERE user_id=$1 AND open_id=$2 ORDER BY created_at DESC`,
			userID, model.NormalizeOpenID(*openID))
	} else {
		rows, err = r.db.QueryContext(ctx, `SELECT `+intentColumns+` FROM tiktok_publish_intents WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	}
	if err != nil {
		return nil, err
	}
	return collectIntents(rows)
}

func (r *PublishIntentRepository) ListStalledRunning(ctx context.Context, olderThan time.Time) ([]*model.PublishIntent, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+intentColumns+` FROM tiktok_publish_intents WHERE status='RUNNING' AND updated_at < $1 ORDER BY updated_at ASC`, olderThan)
	if err != nil {
		return nil, err
	}
	return collectIntents(rows)
}

func (r *PublishIntentRepository) DeleteByAccount(ctx context.Context, userID, openID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tiktok_publish_intents WHERE user_id=$1 AND open_id=$2`, userID, model.NormalizeOpenID(openID))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func conflictIfUntouched(n int64, err error) error {
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrIntentConflict
	}
	return nil
}

func stampIntent(i *model.PublishIntent) {
	now := time.Now().UTC()
	if i.CreatedAt.IsZero() {
		i.CreatedAt = now
	}
	if i.UpdatedAt.IsZero() {
		i.UpdatedAt = now
	}
	if i.RunAt.IsZero() {
		i.RunAt = now
	}
}

func collectIntents(rows *sql.Rows) ([]*model.PublishIntent, error) {
	defer rows.Close()
	var list []*model.PublishIntent
	for rows.Next() {
		i, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, i)
	}
	return list, rows.Err()
}

func scanIntent(s rowScanner) (*model.PublishIntent, error) {
	i := &model.PublishIntent{}
	var payload, status string
	var jobID, publishID, resultURL, lastError sql.NullString
	if err := s.Scan(&i.ID, &i.UserID, &i.OpenID, &payload, &status, &i.RunAt, &jobID, &publishID, &resultURL,
		&i.IdempotencyKey, &i.Attempts, &lastError, &i.CreatedAt, &i.UpdatedAt); err != nil {
		return nil, err
	}
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &i.Payload); err != nil {
			return nil, err
		}
	}
	i.Status = model.IntentStatus(status)
	i.JobID = nullString(jobID)
	i.PublishID = nullString(publishID)
	i.ResultURL = nullString(resultURL)
	i.LastError = nullString(lastError)
	return i, nil
}
