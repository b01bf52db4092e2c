package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"tiktok-publisher/domain/model"
	"tiktok-publisher/domain/repository"
	"tiktok-publisher/infrastructure/logger"
)

// IPostingUsecase publishes on behalf of a connected account and records the
// outcome as a publish intent.
type IPostingUsecase interface {
	Post(ctx context.Context, userID, openID string, req model.PostRequest) (*model.PublishResult, error)
	// PostAsync only initializes the publish. The intent stays QUEUED until a
	// status check observes a terminal state.
	PostAsync(ctx context.Context, userID, openID string, req model.PostRequest) (string, error)
	FetchStatus(ctx context.Context, userID, openID, publishID string) (*model.PublishResult, error)
}

type postingUsecase struct {
	accounts repository.IAccount
	intents  repository.IPublishIntent
	tokens   ITokenUsecase
	publish  IPublishUsecase
	poller   IStatusPoller
	events   repository.IIntentEvents
	opts     Options
}

func NewPostingUsecase(accounts repository.IAccount, intents repository.IPublishIntent, tokens ITokenUsecase, publish IPublishUsecase, poller IStatusPoller, events repository.IIntentEvents, opts Options) IPostingUsecase {
	return &postingUsecase{
		accounts: accounts,
		intents:  intents,
		tokens:   tokens,
		publish:  publish,
		poller:   poller,
		events:   events,
		opts:     opts.withDefaults(),
	}
}

func (u *postingUsecase) Post(ctx context.Context, userID, openID string, req model.PostRequest) (*model.PublishResult, error) {
	account, err := loadFreshAccount(ctx, u.accounts, u.tokens, userID, openID)
	if err != nil {
		return nil, err
	}

	result, err := u.publish.Post(ctx, account, req)
	if err != nil {
		u.recordImmediate(ctx, account, req, model.IntentFailed, nil, err)
		return nil, err
	}
	u.touch(ctx, account)

	status := model.IntentPublished
	if result.Status == model.ResultInbox {
		status = model.IntentInbox
	}
	u.recordImmediate(ctx, account, req, status, result, nil)
	return result, nil
}

func (u *postingUsecase) PostAsync(ctx context.Context, userID, openID string, req model.PostRequest) (string, error) {
	account, err := loadFreshAccount(ctx, u.accounts, u.tokens, userID, openID)
	if err != nil {
		return "", err
	}
	publishID, err := u.publish.InitPublish(ctx, account, req)
	if err != nil {
		return "", err
	}
	u.touch(ctx, account)

	now := u.opts.Now()
	intent := &model.PublishIntent{
		UserID:         account.UserID,
		OpenID:         account.OpenID,
		Payload:        req,
		Status:         model.IntentQueued,
		RunAt:          now,
		PublishID:      &publishID,
		IdempotencyKey: publishID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := u.intents.UpsertQueued(ctx, intent); err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while recording queued TikTok publish")
	} else {
		emit(ctx, u.events, intent, nil)
	}
	return publishID, nil
}

func (u *postingUsecase) FetchStatus(ctx context.Context, userID, openID, publishID string) (*model.PublishResult, error) {
	account, err := loadFreshAccount(ctx, u.accounts, u.tokens, userID, openID)
	if err != nil {
		return nil, err
	}
	snap, err := u.poller.PollOnce(ctx, account, publishID)
	if err != nil {
		return nil, err
	}

	result, done, failure := TerminalResult(account, publishID, snap)
	if !done {
		return &model.PublishResult{Status: model.ResultProcessing, PublishID: publishID}, nil
	}
	if failure != nil {
		// Reauth problems are the caller's to fix, not a publish outcome.
		if model.IsKind(failure, model.ErrReauthRequired) {
			return nil, failure
		}
		if err := u.intents.MarkFailedByPublishID(ctx, publishID, failure.Error()); err != nil {
			logger.GetLogger().WithField("error", err).Error("Error while marking TikTok publish failed")
		}
		emitStatus(ctx, u.events, account, publishID, model.IntentFailed, u.opts.Now(), failure)
		return &model.PublishResult{Status: model.ResultFailed, PublishID: publishID}, nil
	}

	status := model.IntentPublished
	if result.Status == model.ResultInbox {
		status = model.IntentInbox
	}
	var url *string
	if result.ReleaseURL != "" {
		url = &result.ReleaseURL
	}
	if err := u.intents.MarkCompletedByPublishID(ctx, publishID, status, url); err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while marking TikTok publish completed")
	}
	emitStatus(ctx, u.events, account, publishID, status, u.opts.Now(), nil)
	return result, nil
}

func (u *postingUsecase) touch(ctx context.Context, account *model.Account) {
	account.UpdatedAt = u.opts.Now()
	if err := u.accounts.UpsertAccount(ctx, account); err != nil {
		logger.GetLogger().WithField("error", err).Warn("Error while touching TikTok account")
	}
}

func (u *postingUsecase) recordImmediate(ctx context.Context, account *model.Account, req model.PostRequest, status model.IntentStatus, result *model.PublishResult, cause error) {
	now := u.opts.Now()
	intent := &model.PublishIntent{
		UserID:    account.UserID,
		OpenID:    account.OpenID,
		Payload:   req,
		Status:    status,
		RunAt:     now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if result != nil {
		if result.PublishID != "" {
			intent.PublishID = &result.PublishID
		}
		if result.ReleaseURL != "" {
			intent.ResultURL = &result.ReleaseURL
		}
	}
	if cause != nil {
		msg := cause.Error()
		intent.LastError = &msg
	}
	intent.IdempotencyKey = uuid.NewString()
	if intent.PublishID != nil {
		intent.IdempotencyKey = *intent.PublishID
	}
	if err := u.intents.CreateImmediate(ctx, intent); err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while recording TikTok publish")
		return
	}
	emit(ctx, u.events, intent, cause)
}

// loadFreshAccount resolves the account and makes sure its token is usable.
func loadFreshAccount(ctx context.Context, accounts repository.IAccount, tokens ITokenUsecase, userID, openID string) (*model.Account, error) {
	account, err := accounts.GetAccount(ctx, userID, openID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, model.NewPublishError(model.ErrAccountNotFound, "tiktok-account-not-found", "TikTok account not found")
	}
	return tokens.EnsureFresh(ctx, account)
}

func emit(ctx context.Context, events repository.IIntentEvents, intent *model.PublishIntent, cause error) {
	if events == nil {
		return
	}
	audit := &model.IntentAudit{
		IdempotencyKey: intent.IdempotencyKey,
		UserID:         intent.UserID,
		OpenID:         intent.OpenID,
		Status:         intent.Status,
		PublishID:      intent.PublishID,
		CreatedAt:      intent.UpdatedAt,
	}
	if cause != nil {
		msg := cause.Error()
		audit.Error = &msg
	}
	events.PublishIntentEvent(ctx, audit)
}

func emitStatus(ctx context.Context, events repository.IIntentEvents, account *model.Account, publishID string, status model.IntentStatus, at time.Time, cause error) {
	emit(ctx, events, &model.PublishIntent{
		IdempotencyKey: publishID,
		UserID:         account.UserID,
		OpenID:         account.OpenID,
		Status:         status,
		PublishID:      &publishID,
		UpdatedAt:      at,
	}, cause)
}

// errorMessage is what gets stored as an intent's last error.
func errorMessage(err error) string {
	var pe *model.PublishError
	if errors.As(err, &pe) {
		return pe.Error()
	}
	return err.Error()
}
