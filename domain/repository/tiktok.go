package repository

import (
	"context"
	"errors"
	"time"

	"tiktok-publisher/domain/dto"
	"tiktok-publisher/domain/model"
)

// ITikTokClient is the outbound TikTok Open API surface.
type ITikTokClient interface {
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*dto.TokenBundle, error)
	RefreshToken(ctx context.Context, refreshToken string) (*dto.TokenBundle, error)
	FetchUserInfo(ctx context.Context, accessToken string) (*dto.UserInfo, error)
	InitPublish(ctx context.Context, accessToken, endpointPath string, body dto.PublishInitBody) (string, error)
	FetchPublishStatus(ctx context.Context, accessToken, publishID string) (*dto.StatusSnapshot, error)
}

// IAccount persists connected accounts. Implementations normalize open ids
// on every read and write. GetAccount returns (nil, nil) when no row exists.
type IAccount interface {
	UpsertAccount(ctx context.Context, account *model.Account) error
	GetAccount(ctx context.Context, userID, openID string) (*model.Account, error)
	ListAccounts(ctx context.Context, userID string) ([]*model.Account, error)
	DeleteAccount(ctx context.Context, userID, openID string) (bool, error)
}

// ErrIntentNotPending is returned by MarkRunningByJobID when no QUEUED or
// SCHEDULED intent carries the job id and run time.
var ErrIntentNotPending = errors.New("publish intent is not pending")

// ErrIntentConflict is returned by the upserts when the idempotency key is
// held by another user or by an intent that cannot be replaced.
var ErrIntentConflict = errors.New("idempotency key is held by another publish intent")

// IPublishIntent persists publish intents keyed by idempotency key. Mark*
// methods never move an intent out of a terminal status. UpsertScheduled
// resets any intent of the same user that is not RUNNING back to SCHEDULED.
type IPublishIntent interface {
	CreateImmediate(ctx context.Context, intent *model.PublishIntent) error
	UpsertQueued(ctx context.Context, intent *model.PublishIntent) error
	UpsertScheduled(ctx context.Context, intent *model.PublishIntent) error
	// MarkRunningByJobID claims the pending intent scheduled under jobID for
	// runAt and returns it as stored.
	MarkRunningByJobID(ctx context.Context, jobID string, runAt time.Time) (*model.PublishIntent, error)
	MarkCompletedByJobID(ctx context.Context, jobID string, status model.IntentStatus, publishID, resultURL *string) error
	MarkFailedByJobID(ctx context.Context, jobID, message string) error
	MarkCompletedByPublishID(ctx context.Context, publishID string, status model.IntentStatus, resultURL *string) error
	MarkFailedByPublishID(ctx context.Context, publishID, message string) error
	GetByIdempotencyKey(ctx context.Context, key string) (*model.PublishIntent, error)
	ListIntents(ctx context.Context, userID string, openID *string) ([]*model.PublishIntent, error)
	ListStalledRunning(ctx context.Context, olderThan time.Time) ([]*model.PublishIntent, error)
	DeleteByAccount(ctx context.Context, userID, openID string) (int64, error)
}

// IPendingState holds in-flight OAuth handshakes with a TTL.
type IPendingState interface {
	Save(ctx context.Context, state *model.PendingAuthState) error
	// Consume returns the state and deletes it. A missing or expired state
	// yields (nil, nil).
	Consume(ctx context.Context, state string) (*model.PendingAuthState, error)
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

// IDelayedQueue is the delayed job backend used by the scheduler.
type IDelayedQueue interface {
	Ready() bool
	// Enqueue adds a job under jobID to run after delay. A job already
	// pending under jobID is replaced by the new body and run time.
	Enqueue(ctx context.Context, jobID string, job model.ScheduledJob, delay time.Duration) error
	// Run processes due jobs one at a time until ctx is done.
	Run(ctx context.Context, handler func(ctx context.Context, jobID string, job model.ScheduledJob) error) error
}

// IIntentEvents fans out intent transitions.
type IIntentEvents interface {
	PublishIntentEvent(ctx context.Context, intent *model.IntentAudit)
}

// IBlobStore hands out direct-upload URLs for media.
type IBlobStore interface {
	PresignUpload(ctx context.Context, key, contentType string, expiry time.Duration) (uploadURL, publicURL string, err error)
}
