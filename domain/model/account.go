package model

import (
	"strings"
	"time"
)

// Account is one TikTok identity connected by one application user.
type Account struct {
	ID                    int64      `json:"id"`
	UserID                string     `json:"user_id"`
	OpenID                string     `json:"open_id"`
	DisplayName           *string    `json:"display_name,omitempty"`
	Username              *string    `json:"username,omitempty"`
	AvatarURL             *string    `json:"avatar_url,omitempty"`
	AccessToken           string     `json:"-"`
	RefreshToken          *string    `json:"-"`
	ExpiresAt             time.Time  `json:"expires_at"`
	RefreshExpiresAt      *time.Time `json:"refresh_expires_at,omitempty"`
	Scopes                []string   `json:"scopes"`
	TimezoneOffsetMinutes *int       `json:"timezone_offset_minutes,omitempty"`
	ConnectedAt           time.Time  `json:"connected_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// ProfileHandle is the path segment used in public profile and video URLs.
func (a Account) ProfileHandle() string {
	if a.Username != nil && *a.Username != "" {
		return *a.Username
	}
	return a.OpenID
}

// NeedsRefresh reports whether the access token is inside the safety margin.
func (a Account) NeedsRefresh(now time.Time, margin time.Duration) bool {
	if a.ExpiresAt.IsZero() {
		return true
	}
	return !now.Before(a.ExpiresAt.Add(-margin))
}

// NormalizeOpenID strips dashes and surrounding whitespace from a platform id.
func NormalizeOpenID(openID string) string {
	return strings.TrimSpace(strings.ReplaceAll(openID, "-", ""))
}

// JoinScopes and SplitScopes convert between the stored and the in-memory
// representation of granted scopes.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, ",")
}

func SplitScopes(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// PendingAuthState is one in-flight OAuth handshake.
type PendingAuthState struct {
	State        string    `json:"state"         gorm:"size:64;primaryKey"`
	CodeVerifier string    `json:"code_verifier" gorm:"size:128"`
	SessionID    string    `json:"session_id"    gorm:"size:128;index"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"    gorm:"index"`
}

func (PendingAuthState) TableName() string {
	return "tiktok_pending_states"
}

func (s PendingAuthState) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
