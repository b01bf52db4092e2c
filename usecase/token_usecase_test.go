package usecase_test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tiktok-publisher/domain/dto"
	"tiktok-publisher/domain/model"
	"tiktok-publisher/usecase"
)

func tokenOptions(clock *fakeClock) usecase.Options {
	return usecase.Options{
		ClientKey:   "client-key",
		RedirectURI: "https://app.example.com/integrations/social/tiktok/callback",
		Now:         clock.Now,
		Sleep:       clock.Sleep,
	}
}

func TestBuildAuthorizeURL(t *testing.T) {
	clock := newFakeClock()
	opts := tokenOptions(clock)
	opts.ExtraScopes = []string{"user.info.profile", "video.publish", " "}
	uc := usecase.NewTokenUsecase(new(MockTikTokClient), new(MockAccountRepository), opts)

	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	raw := uc.BuildAuthorizeURL("state-123", verifier)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "www.tiktok.com", parsed.Host)
	assert.Equal(t, "/v2/auth/authorize/", parsed.Path)

	q := parsed.Query()
	sum := sha256.Sum256([]byte(verifier))
	assert.Equal(t, "client-key", q.Get("client_key"))
	assert.Equal(t, "user.info.basic,video.upload,video.publish,user.info.profile", q.Get("scope"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, opts.RedirectURI, q.Get("redirect_uri"))
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), q.Get("code_challenge"))
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.False(t, q.Has("force_verify"))

	// Same inputs, same URL.
	assert.Equal(t, raw, uc.BuildAuthorizeURL("state-123", verifier))
}

func TestBuildAuthorizeURL_ForceVerify(t *testing.T) {
	opts := tokenOptions(newFakeClock())
	opts.ForceVerify = true
	uc := usecase.NewTokenUsecase(new(MockTikTokClient), new(MockAccountRepository), opts)

	parsed, err := url.Parse(uc.BuildAuthorizeURL("s", "v"))
	require.NoError(t, err)
	assert.Equal(t, "1", parsed.Query().Get("force_verify"))
}

func TestRequireScopes(t *testing.T) {
	uc := usecase.NewTokenUsecase(new(MockTikTokClient), new(MockAccountRepository), tokenOptions(newFakeClock()))

	assert.NoError(t, uc.RequireScopes(usecase.PublishScopes, []string{"video.publish", "user.info.basic", "video.upload", "user.info.profile"}))

	err := uc.RequireScopes(usecase.PublishScopes, []string{"user.info.basic", "video.upload"})
	require.Error(t, err)
	var pe *model.PublishError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, model.ErrInsufficientScopes, pe.Kind)
	assert.Equal(t, []string{"user.info.profile", "video.publish"}, pe.Missing)
	assert.Equal(t, "Missing TikTok permissions: user.info.profile, video.publish", err.Error())
}

func TestExchangeCode_WrapsFailures(t *testing.T) {
	client := new(MockTikTokClient)
	client.On("ExchangeCode", mock.Anything, "code", "verifier").Return(nil, errors.New("connection reset")).Once()
	uc := usecase.NewTokenUsecase(client, new(MockAccountRepository), tokenOptions(newFakeClock()))

	_, err := uc.ExchangeCode(context.Background(), "code", "verifier")
	assert.True(t, model.IsKind(err, model.ErrAuthExchangeFailed))
	client.AssertExpectations(t)
}

func TestEnsureFresh_ValidTokenIsReturnedUntouched(t *testing.T) {
	clock := newFakeClock()
	client := new(MockTikTokClient)
	accounts := new(MockAccountRepository)
	uc := usecase.NewTokenUsecase(client, accounts, tokenOptions(clock))

	account := &model.Account{UserID: "u1", OpenID: "o1", AccessToken: "at", ExpiresAt: clock.Now().Add(61 * time.Second)}
	got, err := uc.EnsureFresh(context.Background(), account)

	require.NoError(t, err)
	assert.Same(t, account, got)
	client.AssertNotCalled(t, "RefreshToken", mock.Anything, mock.Anything)
}

func TestEnsureFresh_RefreshesInsideMargin(t *testing.T) {
	clock := newFakeClock()
	client := new(MockTikTokClient)
	accounts := new(MockAccountRepository)
	uc := usecase.NewTokenUsecase(client, accounts, tokenOptions(clock))

	account := &model.Account{
		UserID:       "u1",
		OpenID:       "o1",
		AccessToken:  "old",
		RefreshToken: strPtr("rt"),
		ExpiresAt:    clock.Now().Add(59 * time.Second),
		Scopes:       []string{"video.publish"},
		Username:     strPtr("before"),
	}
	accounts.On("GetAccount", mock.Anything, "u1", "o1").Return(account, nil).Once()
	client.On("RefreshToken", mock.Anything, "rt").Return(&dto.TokenBundle{
		AccessToken:      "new",
		RefreshToken:     strPtr("rt2"),
		RefreshExpiresIn: int64Ptr(86400),
		Scopes:           []string{"video.publish", "video.upload"},
	}, nil).Once()
	client.On("FetchUserInfo", mock.Anything, "new").Return(&dto.UserInfo{Username: strPtr("after")}, nil).Once()
	accounts.On("UpsertAccount", mock.Anything, mock.MatchedBy(func(a *model.Account) bool {
		return a.AccessToken == "new" && *a.RefreshToken == "rt2"
	})).Return(nil).Once()

	got, err := uc.EnsureFresh(context.Background(), account)

	require.NoError(t, err)
	assert.Equal(t, "new", got.AccessToken)
	// expires_in omitted: one hour.
	assert.Equal(t, clock.Now().Add(time.Hour), got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Sub(clock.Now()) >= 60*time.Second)
	assert.Equal(t, clock.Now().Add(24*time.Hour), *got.RefreshExpiresAt)
	assert.Equal(t, []string{"video.publish", "video.upload"}, got.Scopes)
	assert.Equal(t, "after", *got.Username)
	assert.Equal(t, "old", account.AccessToken)
	client.AssertExpectations(t)
	accounts.AssertExpectations(t)
}

func TestEnsureFresh_NoRefreshToken(t *testing.T) {
	clock := newFakeClock()
	uc := usecase.NewTokenUsecase(new(MockTikTokClient), new(MockAccountRepository), tokenOptions(clock))

	_, err := uc.EnsureFresh(context.Background(), &model.Account{UserID: "u1", OpenID: "o1", ExpiresAt: clock.Now()})
	assert.True(t, model.IsKind(err, model.ErrReauthRequired))
}

func TestEnsureFresh_RefreshRejected(t *testing.T) {
	clock := newFakeClock()
	client := new(MockTikTokClient)
	accounts := new(MockAccountRepository)
	uc := usecase.NewTokenUsecase(client, accounts, tokenOptions(clock))

	account := &model.Account{UserID: "u1", OpenID: "o1", RefreshToken: strPtr("rt"), ExpiresAt: clock.Now().Add(-time.Minute)}
	accounts.On("GetAccount", mock.Anything, "u1", "o1").Return(nil, nil).Once()
	client.On("RefreshToken", mock.Anything, "rt").Return(nil, errors.New("boom")).Once()

	_, err := uc.EnsureFresh(context.Background(), account)
	assert.True(t, model.IsKind(err, model.ErrReauthRequired))
	accounts.AssertNotCalled(t, "UpsertAccount", mock.Anything, mock.Anything)
}

type countingRefreshClient struct {
	MockTikTokClient
	mu       sync.Mutex
	refreshN int
}

func (c *countingRefreshClient) RefreshToken(_ context.Context, _ string) (*dto.TokenBundle, error) {
	c.mu.Lock()
	c.refreshN++
	c.mu.Unlock()
	return &dto.TokenBundle{AccessToken: "fresh", ExpiresIn: int64Ptr(7200)}, nil
}

func (c *countingRefreshClient) FetchUserInfo(_ context.Context, _ string) (*dto.UserInfo, error) {
	return &dto.UserInfo{}, nil
}

func TestEnsureFresh_ConcurrentCallersRefreshOnce(t *testing.T) {
	clock := newFakeClock()
	stale := &model.Account{UserID: "u1", OpenID: "o1", AccessToken: "stale", RefreshToken: strPtr("rt"), ExpiresAt: clock.Now()}
	accounts := newMemoryAccounts(stale)
	client := &countingRefreshClient{}
	uc := usecase.NewTokenUsecase(client, accounts, tokenOptions(clock))

	var wg sync.WaitGroup
	tokens := make([]string, 8)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			copyOfStale := *stale
			got, err := uc.EnsureFresh(context.Background(), &copyOfStale)
			if assert.NoError(t, err) {
				tokens[i] = got.AccessToken
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, client.refreshN)
	for _, tok := range tokens {
		assert.Equal(t, "fresh", tok)
	}
}

type blockingRefreshClient struct {
	MockTikTokClient
	started chan struct{}
	release chan struct{}
	ctxErr  error
}

func (c *blockingRefreshClient) RefreshToken(ctx context.Context, _ string) (*dto.TokenBundle, error) {
	close(c.started)
	<-c.release
	c.ctxErr = ctx.Err()
	return &dto.TokenBundle{AccessToken: "fresh", ExpiresIn: int64Ptr(7200)}, nil
}

func (c *blockingRefreshClient) FetchUserInfo(_ context.Context, _ string) (*dto.UserInfo, error) {
	return &dto.UserInfo{}, nil
}

func TestEnsureFresh_CancelledCallerDoesNotFailWaiters(t *testing.T) {
	clock := newFakeClock()
	stale := &model.Account{UserID: "u1", OpenID: "o1", AccessToken: "stale", RefreshToken: strPtr("rt"), ExpiresAt: clock.Now()}
	client := &blockingRefreshClient{started: make(chan struct{}), release: make(chan struct{})}
	uc := usecase.NewTokenUsecase(client, newMemoryAccounts(stale), tokenOptions(clock))

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		a := *stale
		_, err := uc.EnsureFresh(first, &a)
		firstErr <- err
	}()
	<-client.started

	type outcome struct {
		account *model.Account
		err     error
	}
	second := make(chan outcome, 1)
	go func() {
		a := *stale
		got, err := uc.EnsureFresh(context.Background(), &a)
		second <- outcome{got, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)
	close(client.release)

	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, "fresh", res.account.AccessToken)
	assert.NoError(t, client.ctxErr)
}
