package servicebus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiktok-publisher/domain/model"
)

func TestNewServiceBus_RequiresNamespace(t *testing.T) {
	client, err := NewServiceBus(context.Background(), "")
	assert.Nil(t, client)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestDelayedQueue_NotReadyWithoutClient(t *testing.T) {
	q := NewDelayedQueue(nil, "tiktok-posts")
	assert.False(t, q.Ready())
	assert.ErrorIs(t, q.Enqueue(context.Background(), "j", model.ScheduledJob{}, time.Minute), ErrNotConfigured)
	assert.ErrorIs(t, q.Run(context.Background(), nil), ErrNotConfigured)
}

func TestBuildMessage(t *testing.T) {
	at := time.Date(2024, 6, 1, 14, 10, 0, 0, time.FixedZone("CEST", 2*3600))
	job := model.ScheduledJob{
		IdempotencyKey: "k1",
		UserID:         "u1",
		OpenID:         "open1",
		Body:           model.PostRequest{Caption: "hi", Media: []model.MediaItem{{Type: model.MediaPhoto, URL: "https://x/1.jpg"}}},
		RunAt:          at.UTC(),
	}

	message, err := buildMessage("slidescockpit-k1", job, at, 42)
	require.NoError(t, err)

	assert.Equal(t, "slidescockpit-k1-42", *message.MessageID)
	assert.Equal(t, "application/json", *message.ContentType)
	assert.Equal(t, time.Date(2024, 6, 1, 12, 10, 0, 0, time.UTC), *message.ScheduledEnqueueTime)
	assert.Equal(t, "slidescockpit-k1", message.ApplicationProperties["jobId"])
	assert.Equal(t, "u1", message.ApplicationProperties["userId"])

	var decoded model.ScheduledJob
	require.NoError(t, json.Unmarshal(message.Body, &decoded))
	assert.Equal(t, job, decoded)
}

func TestJobIDOf(t *testing.T) {
	assert.Equal(t, "slidescockpit-k1", jobIDOf(&azservicebus.ReceivedMessage{
		MessageID:             "slidescockpit-k1-42",
		ApplicationProperties: map[string]any{"jobId": "slidescockpit-k1"},
	}))
	assert.Equal(t, "legacy", jobIDOf(&azservicebus.ReceivedMessage{MessageID: "legacy"}))
}

type scheduledCall struct {
	messageID string
	at        time.Time
}

type fakeSender struct {
	next      int64
	scheduled []scheduledCall
	cancelled [][]int64
	closed    int
}

func (f *fakeSender) ScheduleMessages(_ context.Context, messages []*azservicebus.Message, at time.Time, _ *azservicebus.ScheduleMessagesOptions) ([]int64, error) {
	var seqs []int64
	for _, m := range messages {
		f.next++
		f.scheduled = append(f.scheduled, scheduledCall{messageID: *m.MessageID, at: at})
		seqs = append(seqs, f.next)
	}
	return seqs, nil
}

func (f *fakeSender) CancelScheduledMessages(_ context.Context, seqs []int64, _ *azservicebus.CancelScheduledMessagesOptions) error {
	f.cancelled = append(f.cancelled, seqs)
	return nil
}

func (f *fakeSender) Close(context.Context) error {
	f.closed++
	return nil
}

func TestDelayedQueue_EnqueueReplacesScheduledMessage(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	sender := &fakeSender{}
	q := NewDelayedQueue(nil, "tiktok-posts")
	q.now = func() time.Time { return now }
	q.newSender = func() (messageScheduler, error) { return sender, nil }
	require.True(t, q.Ready())

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "slidescockpit-k1", model.ScheduledJob{IdempotencyKey: "k1"}, 10*time.Minute))
	now = now.Add(time.Second)
	require.NoError(t, q.Enqueue(ctx, "slidescockpit-k1", model.ScheduledJob{IdempotencyKey: "k1"}, time.Hour))

	require.Len(t, sender.scheduled, 2)
	assert.NotEqual(t, sender.scheduled[0].messageID, sender.scheduled[1].messageID)
	assert.Equal(t, now.Add(time.Hour), sender.scheduled[1].at)
	assert.Equal(t, [][]int64{{1}}, sender.cancelled)
	assert.Equal(t, int64(2), q.scheduled["slidescockpit-k1"])
	assert.Equal(t, 2, sender.closed)

	seq := int64(2)
	q.forget("slidescockpit-k1", &seq)
	assert.Empty(t, q.scheduled)
}
