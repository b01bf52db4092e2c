package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tiktok-publisher/domain/model"
	"tiktok-publisher/domain/repository"
)

type AccountRepositoryMSSQL struct{ db *sql.DB }

func NewAccountRepositoryMSSQL(db *sql.DB) repository.IAccount {
	return &AccountRepositoryMSSQL{db: db}
}

func (r *AccountRepositoryMSSQL) UpsertAccount(ctx context.Context, a *model.Account) error {
	a.OpenID = model.NormalizeOpenID(a.OpenID)
	now := time.Now().UTC()
	if a.ConnectedAt.IsZero() {
		a.ConnectedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = now
	}
	var refreshExp sql.NullTime
	if a.RefreshExpiresAt != nil {
		refreshExp = sql.NullTime{Time: *a.RefreshExpiresAt, Valid: true}
	}
	var tz sql.NullInt32
	if a.TimezoneOffsetMinutes != nil {
		tz = sql.NullInt32{Int32: int32(*a.TimezoneOffsetMinutes), Valid: true}
	}
	q := `MERGE dbo.[tiktok_accounts] AS target
USING (VALUES (@p1, @p2)) AS src(user_id, open_id)
ON target.user_id = src.user_id AND target.open_id = src.open_id
WHEN MATCHED THEN UPDATE SET
    display_name=@p3,
    username=@p4,
    avatar_url=@p5,
    access_token=@p6,
    refresh_token=@p7,
    expires_at=@p8,
    refresh_expires_at=@p9,
    scopes=@p10,
    timezone_offset_minutes=COALESCE(@p11, target.timezone_offset_minutes),
    updated_at=@p13
WHEN NOT MATCHED THEN
    INSERT (user_id, open_id, display_name, username, avatar_url, access_token, refresh_token, expires_at, refresh_expires_at, scopes, timezone_offset_minutes, connected_at, updated_at)
    VALUES (@p1,@p2,@p3,@p4,@p5,@p6,@p7,@p8,@p9,@p10,@p11,@p12,@p13);`
	_, err := r.db.ExecContext(ctx, q,
		a.UserID, a.OpenID,
		toNullString(a.DisplayName), toNullString(a.Username), toNullString(a.AvatarURL),
		a.AccessToken, toNullString(a.RefreshToken),
		a.ExpiresAt, refreshExp,
		model.JoinScopes(a.Scopes), tz,
		a.ConnectedAt, a.UpdatedAt,
	)
	return err
}

func (r *AccountRepositoryMSSQL) GetAccount(ctx context.Context, userID, openID string) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM dbo.[tiktok_accounts] WHERE user_id=@p1 AND open_id=@p2`,
		userID, model.NormalizeOpenID(openID))
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (r *AccountRepositoryMSSQL) ListAccounts(ctx context.Context, userID string) ([]*model.Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM dbo.[tiktok_accounts] WHERE user_id=@p1 ORDER BY connected_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

func (r *AccountRepositoryMSSQL) DeleteAccount(ctx context.Context, userID, openID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM dbo.[tiktok_accounts] WHERE user_id=@p1 AND open_id=@p2`, userID, model.NormalizeOpenID(openID))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// toNullString normalizes optional values for the MSSQL driver.
func toNullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
