package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tiktok-publisher/domain/dto"
	"tiktok-publisher/domain/model"
	"tiktok-publisher/usecase"
)

func newPoller(client *MockTikTokClient, clock *fakeClock) usecase.IStatusPoller {
	return usecase.NewStatusPoller(client, usecase.Options{Now: clock.Now, Sleep: clock.Sleep})
}

func TestPollUntilTerminal_CompletesAfterKPlusOneFetches(t *testing.T) {
	for _, k := range []int{0, 1, 4} {
		clock := newFakeClock()
		client := new(MockTikTokClient)
		if k > 0 {
			client.On("FetchPublishStatus", mock.Anything, "at", "p1").Return(&dto.StatusSnapshot{Status: dto.PlatformStatusProcessing}, nil).Times(k)
		}
		client.On("FetchPublishStatus", mock.Anything, "at", "p1").Return(&dto.StatusSnapshot{Status: dto.PlatformStatusComplete, PostID: strPtr("999")}, nil).Once()

		result, err := newPoller(client, clock).PollUntilTerminal(context.Background(), readyAccount(), "p1", 5, time.Second)

		require.NoError(t, err)
		assert.Equal(t, model.ResultSuccess, result.Status)
		client.AssertNumberOfCalls(t, "FetchPublishStatus", k+1)
		assert.Len(t, clock.sleeps, k)
	}
}

func TestPollUntilTerminal_TimesOut(t *testing.T) {
	clock := newFakeClock()
	client := new(MockTikTokClient)
	client.On("FetchPublishStatus", mock.Anything, "at", "p1").Return(&dto.StatusSnapshot{Status: dto.PlatformStatusProcessing}, nil)

	_, err := newPoller(client, clock).PollUntilTerminal(context.Background(), readyAccount(), "p1", 3, 2*time.Second)

	assert.True(t, model.IsKind(err, model.ErrPollingTimeout))
	assert.Equal(t, "TikTok did not finish processing the post in time", err.Error())
	client.AssertNumberOfCalls(t, "FetchPublishStatus", 3)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, clock.sleeps)
}

func TestPollUntilTerminal_UsesDefaults(t *testing.T) {
	clock := newFakeClock()
	client := new(MockTikTokClient)
	client.On("FetchPublishStatus", mock.Anything, "at", "p1").Return(&dto.StatusSnapshot{Status: dto.PlatformStatusProcessing}, nil)

	_, err := newPoller(client, clock).PollUntilTerminal(context.Background(), readyAccount(), "p1", 0, 0)

	assert.True(t, model.IsKind(err, model.ErrPollingTimeout))
	client.AssertNumberOfCalls(t, "FetchPublishStatus", 30)
	require.Len(t, clock.sleeps, 29)
	assert.Equal(t, 10*time.Second, clock.sleeps[0])
}

func TestPollUntilTerminal_Inbox(t *testing.T) {
	client := new(MockTikTokClient)
	client.On("FetchPublishStatus", mock.Anything, "at", "p1").Return(&dto.StatusSnapshot{Status: dto.PlatformStatusInbox}, nil).Once()

	result, err := newPoller(client, newFakeClock()).PollUntilTerminal(context.Background(), readyAccount(), "p1", 5, time.Second)

	require.NoError(t, err)
	assert.Equal(t, model.ResultInbox, result.Status)
	assert.Equal(t, "p1", result.PostID)
}

func TestPollUntilTerminal_Failed(t *testing.T) {
	client := new(MockTikTokClient)
	failure := model.NewPublishError(model.ErrPolicyBlocked, "spam_risk", "TikTok flagged the content as potential spam")
	client.On("FetchPublishStatus", mock.Anything, "at", "p1").Return(&dto.StatusSnapshot{Status: dto.PlatformStatusFailed, Failure: failure}, nil).Once()

	_, err := newPoller(client, newFakeClock()).PollUntilTerminal(context.Background(), readyAccount(), "p1", 5, time.Second)

	assert.True(t, model.IsKind(err, model.ErrPolicyBlocked))
}

func TestPollUntilTerminal_CompleteWithoutPostIDFallsBackToProfile(t *testing.T) {
	client := new(MockTikTokClient)
	client.On("FetchPublishStatus", mock.Anything, "at", "p1").Return(&dto.StatusSnapshot{Status: dto.PlatformStatusComplete}, nil).Once()

	account := readyAccount()
	account.Username = nil
	result, err := newPoller(client, newFakeClock()).PollUntilTerminal(context.Background(), account, "p1", 5, time.Second)

	require.NoError(t, err)
	assert.Equal(t, "https://www.tiktok.com/@open1", result.ReleaseURL)
	assert.Equal(t, "p1", result.PostID)
}

func TestPollUntilTerminal_StopsWhenSleepIsCancelled(t *testing.T) {
	client := new(MockTikTokClient)
	client.On("FetchPublishStatus", mock.Anything, "at", "p1").Return(&dto.StatusSnapshot{Status: dto.PlatformStatusProcessing}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	poller := usecase.NewStatusPoller(client, usecase.Options{})

	_, err := poller.PollUntilTerminal(ctx, readyAccount(), "p1", 5, time.Hour)

	assert.ErrorIs(t, err, context.Canceled)
	client.AssertNumberOfCalls(t, "FetchPublishStatus", 1)
}
