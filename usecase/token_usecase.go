package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/google/go-querystring/query"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"tiktok-publisher/domain/dto"
	"tiktok-publisher/domain/model"
	"tiktok-publisher/domain/repository"
	"tiktok-publisher/infrastructure/logger"
)

// ConnectScopes must all be granted for a connect to succeed.
var ConnectScopes = []string{"user.info.basic", "video.upload", "video.publish"}

// PublishScopes are checked before every publish init.
var PublishScopes = []string{"user.info.basic", "user.info.profile", "video.upload", "video.publish"}

// ITokenUsecase owns authorization URLs, code exchange and token refresh for
// connected TikTok accounts.
type ITokenUsecase interface {
	BuildAuthorizeURL(state, codeVerifier string) string
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*dto.TokenBundle, error)
	// EnsureFresh returns an account whose access token is valid for at least
	// the refresh margin, refreshing and persisting it first when needed.
	EnsureFresh(ctx context.Context, account *model.Account) (*model.Account, error)
	RequireScopes(required, granted []string) error
	RequestedScopes() []string
}

type tokenUsecase struct {
	client    repository.ITikTokClient
	accounts  repository.IAccount
	opts      Options
	refreshes singleflight.Group
}

func NewTokenUsecase(client repository.ITikTokClient, accounts repository.IAccount, opts Options) ITokenUsecase {
	return &tokenUsecase{client: client, accounts: accounts, opts: opts.withDefaults()}
}

type authorizeQuery struct {
	ClientKey           string `url:"client_key"`
	Scope               string `url:"scope"`
	ResponseType        string `url:"response_type"`
	RedirectURI         string `url:"redirect_uri"`
	State               string `url:"state"`
	CodeChallenge       string `url:"code_challenge"`
	CodeChallengeMethod string `url:"code_challenge_method"`
	ForceVerify         string `url:"force_verify,omitempty"`
}

func (u *tokenUsecase) BuildAuthorizeURL(state, codeVerifier string) string {
	q := authorizeQuery{
		ClientKey:           u.opts.ClientKey,
		Scope:               strings.Join(u.RequestedScopes(), ","),
		ResponseType:        "code",
		RedirectURI:         u.opts.RedirectURI,
		State:               state,
		CodeChallenge:       oauth2.S256ChallengeFromVerifier(codeVerifier),
		CodeChallengeMethod: "S256",
	}
	if u.opts.ForceVerify {
		q.ForceVerify = "1"
	}
	values, err := query.Values(q)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while encoding TikTok authorize query")
		return u.opts.AuthorizeURL
	}
	return u.opts.AuthorizeURL + "?" + values.Encode()
}

// RequestedScopes is the connect minimum followed by configured extras, in
// order and without duplicates.
func (u *tokenUsecase) RequestedScopes() []string {
	seen := make(map[string]struct{}, len(ConnectScopes)+len(u.opts.ExtraScopes))
	out := make([]string, 0, len(ConnectScopes)+len(u.opts.ExtraScopes))
	for _, list := range [][]string{ConnectScopes, u.opts.ExtraScopes} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

func (u *tokenUsecase) ExchangeCode(ctx context.Context, code, codeVerifier string) (*dto.TokenBundle, error) {
	bundle, err := u.client.ExchangeCode(ctx, code, codeVerifier)
	if err != nil {
		if model.KindOf(err) != model.ErrAuthExchangeFailed {
			return nil, model.WrapPublishError(model.ErrAuthExchangeFailed, "TikTok token exchange failed", err)
		}
		return nil, err
	}
	logger.GetLogger().WithField("scopes", strings.Join(bundle.Scopes, ",")).Debug("TikTok token scopes granted")
	return bundle, nil
}

func (u *tokenUsecase) RequireScopes(required, granted []string) error {
	have := make(map[string]struct{}, len(granted))
	for _, s := range granted {
		have[strings.TrimSpace(s)] = struct{}{}
	}
	var missing []string
	for _, s := range required {
		if _, ok := have[s]; !ok {
			missing = append(missing, s)
		}
	}
	if len(missing) > 0 {
		return model.InsufficientScopes(missing)
	}
	return nil
}

func (u *tokenUsecase) EnsureFresh(ctx context.Context, account *model.Account) (*model.Account, error) {
	if !account.NeedsRefresh(u.opts.Now(), u.opts.RefreshMargin) {
		return account, nil
	}
	if account.RefreshToken == nil || *account.RefreshToken == "" {
		return nil, model.NewPublishError(model.ErrReauthRequired, "tiktok-refresh-missing", "TikTok access token expired and no refresh token available")
	}

	// The shared flight is detached from any one caller's cancellation.
	key := account.UserID + ":" + model.NormalizeOpenID(account.OpenID)
	ch := u.refreshes.DoChan(key, func() (interface{}, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return u.refresh(flightCtx, account)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		refreshed := *res.Val.(*model.Account)
		return &refreshed, nil
	}
}

func (u *tokenUsecase) refresh(ctx context.Context, account *model.Account) (*model.Account, error) {
	now := u.opts.Now()

	// Another caller may have refreshed between our read and this flight.
	if current, err := u.accounts.GetAccount(ctx, account.UserID, account.OpenID); err == nil && current != nil {
		if !current.NeedsRefresh(now, u.opts.RefreshMargin) {
			return current, nil
		}
		if current.RefreshToken != nil && *current.RefreshToken != "" {
			account = current
		}
	}

	log := logger.GetLogger().WithField("openId", account.OpenID).WithField("userId", account.UserID)
	log.Debug("Refreshing TikTok token")

	bundle, err := u.client.RefreshToken(ctx, *account.RefreshToken)
	if err != nil {
		log.WithField("error", err).Warn("TikTok token refresh failed")
		if model.KindOf(err) != model.ErrReauthRequired {
			return nil, model.WrapPublishError(model.ErrReauthRequired, "Unable to refresh TikTok token", err)
		}
		return nil, err
	}
	info, err := u.client.FetchUserInfo(ctx, bundle.AccessToken)
	if err != nil {
		return nil, err
	}

	updated := *account
	updated.AccessToken = bundle.AccessToken
	if bundle.RefreshToken != nil && *bundle.RefreshToken != "" {
		updated.RefreshToken = bundle.RefreshToken
	}
	updated.ExpiresAt = expiryFrom(now, bundle.ExpiresIn)
	if bundle.RefreshExpiresIn != nil && *bundle.RefreshExpiresIn > 0 {
		at := now.Add(time.Duration(*bundle.RefreshExpiresIn) * time.Second)
		updated.RefreshExpiresAt = &at
	}
	if len(bundle.Scopes) > 0 {
		updated.Scopes = bundle.Scopes
	}
	if info.DisplayName != nil {
		updated.DisplayName = info.DisplayName
	}
	if info.Username != nil {
		updated.Username = info.Username
	}
	if info.AvatarURL != nil {
		updated.AvatarURL = info.AvatarURL
	}
	updated.UpdatedAt = now

	if err := u.accounts.UpsertAccount(ctx, &updated); err != nil {
		log.WithField("error", err).Error("Error while saving refreshed TikTok account")
		return nil, err
	}
	return &updated, nil
}

// expiryFrom applies a one hour default when the platform omits expires_in.
func expiryFrom(now time.Time, seconds *int64) time.Time {
	secs := int64(defaultExpiresInSeconds)
	if seconds != nil && *seconds > 0 {
		secs = *seconds
	}
	return now.Add(time.Duration(secs) * time.Second)
}
