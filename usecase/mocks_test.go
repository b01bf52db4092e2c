package usecase_test

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"tiktok-publisher/domain/dto"
	"tiktok-publisher/domain/model"
)

type MockTikTokClient struct {
	mock.Mock
}

func (m *MockTikTokClient) ExchangeCode(ctx context.Context, code, codeVerifier string) (*dto.TokenBundle, error) {
	args := m.Called(ctx, code, codeVerifier)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.TokenBundle), args.Error(1)
}

func (m *MockTikTokClient) RefreshToken(ctx context.Context, refreshToken string) (*dto.TokenBundle, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.TokenBundle), args.Error(1)
}

func (m *MockTikTokClient) FetchUserInfo(ctx context.Context, accessToken string) (*dto.UserInfo, error) {
	args := m.Called(ctx, accessToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.UserInfo), args.Error(1)
}

func (m *MockTikTokClient) InitPublish(ctx context.Context, accessToken, endpointPath string, body dto.PublishInitBody) (string, error) {
	args := m.Called(ctx, accessToken, endpointPath, body)
	return args.String(0), args.Error(1)
}

func (m *MockTikTokClient) FetchPublishStatus(ctx context.Context, accessToken, publishID string) (*dto.StatusSnapshot, error) {
	args := m.Called(ctx, accessToken, publishID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.StatusSnapshot), args.Error(1)
}

type MockAccountRepository struct {
	mock.Mock
}

func (m *MockAccountRepository) UpsertAccount(ctx context.Context, account *model.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockAccountRepository) GetAccount(ctx context.Context, userID, openID string) (*model.Account, error) {
	args := m.Called(ctx, userID, openID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *MockAccountRepository) ListAccounts(ctx context.Context, userID string) ([]*model.Account, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Account), args.Error(1)
}

func (m *MockAccountRepository) DeleteAccount(ctx context.Context, userID, openID string) (bool, error) {
	args := m.Called(ctx, userID, openID)
	return args.Bool(0), args.Error(1)
}

type MockIntentRepository struct {
	mock.Mock
}

func (m *MockIntentRepository) CreateImmediate(ctx context.Context, intent *model.PublishIntent) error {
	return m.Called(ctx, intent).Error(0)
}

func (m *MockIntentRepository) UpsertQueued(ctx context.Context, intent *model.PublishIntent) error {
	return m.Called(ctx, intent).Error(0)
}

func (m *MockIntentRepository) UpsertScheduled(ctx context.Context, intent *model.PublishIntent) error {
	return m.Called(ctx, intent).Error(0)
}

func (m *MockIntentRepository) MarkRunningByJobID(ctx context.Context, jobID string, runAt time.Time) (*model.PublishIntent, error) {
	args := m.Called(ctx, jobID, runAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PublishIntent), args.Error(1)
}

func (m *MockIntentRepository) MarkCompletedByJobID(ctx context.Context, jobID string, status model.IntentStatus, publishID, resultURL *string) error {
	return m.Called(ctx, jobID, status, publishID, resultURL).Error(0)
}

func (m *MockIntentRepository) MarkFailedByJobID(ctx context.Context, jobID, message string) error {
	return m.Called(ctx, jobID, message).Error(0)
}

func (m *MockIntentRepository) MarkCompletedByPublishID(ctx context.Context, publishID string, status model.IntentStatus, resultURL *string) error {
	return m.Called(ctx, publishID, status, resultURL).Error(0)
}

func (m *MockIntentRepository) MarkFailedByPublishID(ctx context.Context, publishID, message string) error {
	return m.Called(ctx, publishID, message).Error(0)
}

func (m *MockIntentRepository) GetByIdempotencyKey(ctx context.Context, key string) (*model.PublishIntent, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PublishIntent), args.Error(1)
}

func (m *MockIntentRepository) ListIntents(ctx context.Context, userID string, openID *string) ([]*model.PublishIntent, error) {
	args := m.Called(ctx, userID, openID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.PublishIntent), args.Error(1)
}

func (m *MockIntentRepository) ListStalledRunning(ctx context.Context, olderThan time.Time) ([]*model.PublishIntent, error) {
	args := m.Called(ctx, olderThan)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.PublishIntent), args.Error(1)
}

func (m *MockIntentRepository) DeleteByAccount(ctx context.Context, userID, openID string) (int64, error) {
	args := m.Called(ctx, userID, openID)
	return args.Get(0).(int64), args.Error(1)
}

type MockPendingState struct {
	mock.Mock
}

func (m *MockPendingState) Save(ctx context.Context, state *model.PendingAuthState) error {
	return m.Called(ctx, state).Error(0)
}

func (m *MockPendingState) Consume(ctx context.Context, state string) (*model.PendingAuthState, error) {
	args := m.Called(ctx, state)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PendingAuthState), args.Error(1)
}

func (m *MockPendingState) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

type MockDelayedQueue struct {
	mock.Mock
}

func (m *MockDelayedQueue) Ready() bool {
	return m.Called().Bool(0)
}

func (m *MockDelayedQueue) Enqueue(ctx context.Context, jobID string, job model.ScheduledJob, delay time.Duration) error {
	return m.Called(ctx, jobID, job, delay).Error(0)
}

func (m *MockDelayedQueue) Run(ctx context.Context, handler func(ctx context.Context, jobID string, job model.ScheduledJob) error) error {
	return m.Called(ctx, handler).Error(0)
}

// recordingEvents collects intent events in order.
type recordingEvents struct {
	mu     sync.Mutex
	events []model.IntentAudit
}

func (r *recordingEvents) PublishIntentEvent(_ context.Context, intent *model.IntentAudit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *intent)
}

func (r *recordingEvents) statuses() []model.IntentStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.IntentStatus, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Status)
	}
	return out
}

// memoryAccounts is a goroutine-safe account store for refresh races.
type memoryAccounts struct {
	mu       sync.Mutex
	accounts map[string]model.Account
	upserts  int
}

func newMemoryAccounts(seed ...*model.Account) *memoryAccounts {
	m := &memoryAccounts{accounts: map[string]model.Account{}}
	for _, a := range seed {
		m.accounts[a.UserID+":"+a.OpenID] = *a
	}
	return m
}

func (m *memoryAccounts) UpsertAccount(_ context.Context, account *model.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account.UserID+":"+model.NormalizeOpenID(account.OpenID)] = *account
	m.upserts++
	return nil
}

func (m *memoryAccounts) GetAccount(_ context.Context, userID, openID string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID+":"+model.NormalizeOpenID(openID)]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *memoryAccounts) ListAccounts(_ context.Context, userID string) ([]*model.Account, error) {
	return nil, nil
}

func (m *memoryAccounts) DeleteAccount(_ context.Context, userID, openID string) (bool, error) {
	return false, nil
}

// fakeClock advances only when sleep is called.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func strPtr(s string) *string { return &s }

func int64Ptr(v int64) *int64 { return &v }

func boolPtr(v bool) *bool { return &v }
