package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tiktok-publisher/domain/model"
	"tiktok-publisher/domain/repository"
)

const accountColumns = `id, user_id, open_id, display_name, username, avatar_url, access_token, refresh_token, expires_at, refresh_expires_at, scopes, timezone_offset_minutes, connected_at, updated_at`

// AccountRepository stores connected TikTok accounts in PostgreSQL.
type AccountRepository struct{ db *sql.DB }

func NewAccountRepository(db *sql.DB) repository.IAccount { return &AccountRepository{db: db} }

func (r *AccountRepository) UpsertAccount(ctx context.Context, a *model.Account) error {
	a.OpenID = model.NormalizeOpenID(a.OpenID)
	now := time.Now().UTC()
	if a.ConnectedAt.IsZero() {
		a.ConnectedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = now
	}
	q := `INSERT INTO tiktok_accounts (user_id, open_id, display_name, username, avatar_url, access_token, refresh_token, expires_at, refresh_expires_at, scopes, timezone_offset_minutes, connected_at, updated_at)
		  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		  ON CONFLICT (user_id, open_id) DO UPDATE SET
			display_name=EXCLUDED.display_name,
			username=EXCLUDED.username,
			avatar_url=EXCLUDED.avatar_url,
			access_token=EXCLUDED.access_token,
			refresh_token=EXCLUDED.refresh_token,
			expires_at=EXCLUDED.expires_at,
			refresh_expires_at=EXCLUDED.refresh_expires_at,
			scopes=EXCLUDED.scopes,
			timezone_offset_minutes=COALESCE(EXCLUDED.timezone_offset_minutes, tiktok_accounts.timezone_offset_minutes),
			updated_at=EXCLUDED.updated_at`
	_, err := r.db.ExecContext(ctx, q,
		a.UserID, a.OpenID, a.DisplayName, a.Username, a.AvatarURL,
		a.AccessToken, a.RefreshToken, a.ExpiresAt, a.RefreshExpiresAt,
		model.JoinScopes(a.Scopes), a.TimezoneOffsetMinutes, a.ConnectedAt, a.UpdatedAt)
	return err
}

func (r *AccountRepository) GetAccount(ctx context.Context, userID, openID string) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM tiktok_accounts WHERE user_id=$1 AND open_id=$2`,
		userID, model.NormalizeOpenID(openID))
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (r *AccountRepository) ListAccounts(ctx context.Context, userID string) ([]*model.Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM tiktok_accounts WHERE user_id=$1 ORDER BY connected_at ASC`, userID)
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

func (r *AccountRepository) DeleteAccount(ctx context.Context, userID, openID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tiktok_accounts WHERE user_id=$1 AND open_id=$2`, userID, model.NormalizeOpenID(openID))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanAccount reads one row selected with accountColumns. Both SQL dialects
// share it.
func scanAccount(s rowScanner) (*model.Account, error) {
	a := &model.Account{}
	var displayName, username, avatarURL, refreshToken sql.NullString
	var refreshExpiresAt sql.NullTime
	var tz sql.NullInt32
	var scopes string
	if err := s.Scan(&a.ID, &a.UserID, &a.OpenID, &displayName, &username, &avatarURL,
		&a.AccessToken, &refreshToken, &a.ExpiresAt, &refreshExpiresAt, &scopes, &tz,
		&a.ConnectedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.DisplayName = nullString(displayName)
	a.Username = nullString(username)
	a.AvatarURL = nullString(avatarURL)
	a.RefreshToken = nullString(refreshToken)
	if refreshExpiresAt.Valid {
		t := refreshExpiresAt.Time
		a.RefreshExpiresAt = &t
	}
	if tz.Valid {
		v := int(tz.Int32)
		a.TimezoneOffsetMinutes = &v
	}
	a.Scopes = model.SplitScopes(scopes)
	return a, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
