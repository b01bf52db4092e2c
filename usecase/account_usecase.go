package usecase

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"golang.org/x/oauth2"

	"tiktok-publisher/domain/dto"
	"tiktok-publisher/domain/model"
	"tiktok-publisher/domain/repository"
	"tiktok-publisher/infrastructure/logger"
)

// IAccountUsecase runs the connect handshake and manages connected accounts.
type IAccountUsecase interface {
	// Start registers a pending handshake for sessionID and returns the
	// authorize URL to redirect the browser to.
	Start(ctx context.Context, sessionID string) (string, error)
	Connect(ctx context.Context, userID string, req dto.ConnectRequest) (*model.Account, error)
	ListAccounts(ctx context.Context, userID string) ([]*model.Account, error)
	Disconnect(ctx context.Context, userID, openID string) (bool, error)
}

type accountUsecase struct {
	tokens   ITokenUsecase
	client   repository.ITikTokClient
	accounts repository.IAccount
	intents  repository.IPublishIntent
	states   repository.IPendingState
	opts     Options
}

func NewAccountUsecase(tokens ITokenUsecase, client repository.ITikTokClient, accounts repository.IAccount, intents repository.IPublishIntent, states repository.IPendingState, opts Options) IAccountUsecase {
	return &accountUsecase{
		tokens:   tokens,
		client:   client,
		accounts: accounts,
		intents:  intents,
		states:   states,
		opts:     opts.withDefaults(),
	}
}

func (u *accountUsecase) Start(ctx context.Context, sessionID string) (string, error) {
	state, err := randomState()
	if err != nil {
		return "", err
	}
	now := u.opts.Now()
	pending := &model.PendingAuthState{
		State:        state,
		CodeVerifier: oauth2.GenerateVerifier(),
		SessionID:    sessionID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(u.opts.StateTTL),
	}
	if err := u.states.Save(ctx, pending); err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while saving TikTok pending state")
		return "", err
	}
	return u.tokens.BuildAuthorizeURL(pending.State, pending.CodeVerifier), nil
}

func (u *accountUsecase) Connect(ctx context.Context, userID string, req dto.ConnectRequest) (*model.Account, error) {
	pending, err := u.states.Consume(ctx, req.State)
	if err != nil {
		return nil, err
	}
	now := u.opts.Now()
	if pending == nil || pending.Expired(now) {
		return nil, model.NewPublishError(model.ErrInvalidState, "tiktok-state-invalid", "Invalid or expired TikTok authorization state")
	}
	if pending.SessionID != userID {
		return nil, model.NewPublishError(model.ErrInvalidState, "tiktok-state-session", "TikTok authorization state does not belong to this session")
	}

	bundle, err := u.tokens.ExchangeCode(ctx, req.Code, pending.CodeVerifier)
	if err != nil {
		return nil, err
	}
	if err := u.tokens.RequireScopes(ConnectScopes, bundle.Scopes); err != nil {
		return nil, err
	}
	info, err := u.client.FetchUserInfo(ctx, bundle.AccessToken)
	if err != nil {
		return nil, err
	}

	openID := info.OpenID
	if openID == "" && bundle.OpenID != nil {
		openID = *bundle.OpenID
	}
	openID = model.NormalizeOpenID(openID)
	if openID == "" {
		return nil, model.NewPublishError(model.ErrAuthExchangeFailed, "tiktok-missing-open-id",
			"TikTok did not return the open_id for this account. Please ensure the app is approved for the user.info.basic scope and try connecting again.")
	}

	account := &model.Account{
		UserID:                userID,
		OpenID:                openID,
		DisplayName:           info.DisplayName,
		Username:              firstNonNil(info.Username, info.DisplayName, &openID),
		AvatarURL:             info.AvatarURL,
		AccessToken:           bundle.AccessToken,
		RefreshToken:          bundle.RefreshToken,
		ExpiresAt:             expiryFrom(now, bundle.ExpiresIn),
		Scopes:                bundle.Scopes,
		TimezoneOffsetMinutes: req.Timezone,
		ConnectedAt:           now,
		UpdatedAt:             now,
	}
	refreshExpiresAt := expiryFrom(now, bundle.RefreshExpiresIn)
	account.RefreshExpiresAt = &refreshExpiresAt

	if err := u.accounts.UpsertAccount(ctx, account); err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while saving TikTok account")
		return nil, err
	}
	logger.GetLogger().WithField("userId", userID).WithField("openId", openID).Info("TikTok account connected")
	return account, nil
}

func (u *accountUsecase) ListAccounts(ctx context.Context, userID string) ([]*model.Account, error) {
	return u.accounts.ListAccounts(ctx, userID)
}

func (u *accountUsecase) Disconnect(ctx context.Context, userID, openID string) (bool, error) {
	deleted, err := u.accounts.DeleteAccount(ctx, userID, openID)
	if err != nil {
		return false, err
	}
	if deleted {
		if n, err := u.intents.DeleteByAccount(ctx, userID, openID); err != nil {
			logger.GetLogger().WithField("error", err).Warn("Error while deleting intents of disconnected TikTok account")
		} else if n > 0 {
			logger.GetLogger().WithField("count", n).Info("Deleted intents of disconnected TikTok account")
		}
	}
	return deleted, nil
}

// randomState returns 16 random bytes, hex encoded.
func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func firstNonNil(values ...*string) *string {
	for _, v := range values {
		if v != nil && *v != "" {
			return v
		}
	}
	return nil
}
