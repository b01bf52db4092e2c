package http_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"tiktok-publisher/domain/dto"
	"tiktok-publisher/domain/model"
)

type MockAccountUsecase struct{ mock.Mock }

func (m *MockAccountUsecase) Start(ctx context.Context, sessionID string) (string, error) {
	args := m.Called(ctx, sessionID)
	return args.String(0), args.Error(1)
}

func (m *MockAccountUsecase) Connect(ctx context.Context, userID string, req dto.ConnectRequest) (*model.Account, error) {
	args := m.Called(ctx, userID, req)
	if acc, ok := args.Get(0).(*model.Account); ok {
		return acc, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccountUsecase) ListAccounts(ctx context.Context, userID string) ([]*model.Account, error) {
	args := m.Called(ctx, userID)
	if list, ok := args.Get(0).([]*model.Account); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccountUsecase) Disconnect(ctx context.Context, userID, openID string) (bool, error) {
	args := m.Called(ctx, userID, openID)
	return args.Bool(0), args.Error(1)
}

type MockPostingUsecase struct{ mock.Mock }

func (m *MockPostingUsecase) Post(ctx context.Context, userID, openID string, req model.PostRequest) (*model.PublishResult, error) {
	args := m.Called(ctx, userID, openID, req)
	if res, ok := args.Get(0).(*model.PublishResult); ok {
		return res, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPostingUsecase) PostAsync(ctx context.Context, userID, openID string, req model.PostRequest) (string, error) {
	args := m.Called(ctx, userID, openID, req)
	return args.String(0), args.Error(1)
}

func (m *MockPostingUsecase) FetchStatus(ctx context.Context, userID, openID, publishID string) (*model.PublishResult, error) {
	args := m.Called(ctx, userID, openID, publishID)
	if res, ok := args.Get(0).(*model.PublishResult); ok {
		return res, args.Error(1)
	}
	return nil, args.Error(1)
}

type MockScheduleUsecase struct{ mock.Mock }

func (m *MockScheduleUsecase) ScheduleAt(ctx context.Context, userID, openID string, req model.PostRequest, runAt, idempotencyKey string) (*model.ScheduleHandle, error) {
	args := m.Called(ctx, userID, openID, req, runAt, idempotencyKey)
	if h, ok := args.Get(0).(*model.ScheduleHandle); ok {
		return h, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockScheduleUsecase) Execute(ctx context.Context, jobID string, job model.ScheduledJob) error {
	return m.Called(ctx, jobID, job).Error(0)
}

func (m *MockScheduleUsecase) ListIntents(ctx context.Context, userID string, openID *string) ([]*model.PublishIntent, error) {
	args := m.Called(ctx, userID, openID)
	if list, ok := args.Get(0).([]*model.PublishIntent); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockScheduleUsecase) ListStalled(ctx context.Context, olderThan time.Duration) ([]*model.PublishIntent, error) {
	args := m.Called(ctx, olderThan)
	if list, ok := args.Get(0).([]*model.PublishIntent); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

type MockHistory struct{ mock.Mock }

func (m *MockHistory) History(ctx context.Context, userID, key string) ([]model.IntentAudit, error) {
	args := m.Called(ctx, userID, key)
	if list, ok := args.Get(0).([]model.IntentAudit); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

type MockFilesUsecase struct{ mock.Mock }

func (m *MockFilesUsecase) Presign(ctx context.Context, userID string, req dto.PresignRequest) (*dto.PresignResponse, error) {
	args := m.Called(ctx, userID, req)
	if res, ok := args.Get(0).(*dto.PresignResponse); ok {
		return res, args.Error(1)
	}
	return nil, args.Error(1)
}
