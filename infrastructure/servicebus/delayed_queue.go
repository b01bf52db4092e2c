package servicebus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"

	"tiktok-publisher/domain/model"
	"tiktok-publisher/domain/repository"
	"tiktok-publisher/infrastructure/logger"
)

var ErrNotConfigured = errors.New("service bus namespace not configured")

// NewServiceBus authenticates against the namespace with the default Azure
// credential chain.
func NewServiceBus(_ context.Context, namespace string) (*azservicebus.Client, error) {
	if namespace == "" {
		return nil, ErrNotConfigured
	}
	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, err
	}
	return azservicebus.NewClient(namespace, credential, nil)
}

// messageScheduler is the part of *azservicebus.Sender the queue uses.
type messageScheduler interface {
	ScheduleMessages(ctx context.Context, messages []*azservicebus.Message, scheduledEnqueueTime time.Time, options *azservicebus.ScheduleMessagesOptions) ([]int64, error)
	CancelScheduledMessages(ctx context.Context, sequenceNumbers []int64, options *azservicebus.CancelScheduledMessagesOptions) error
	Close(ctx context.Context) error
}

// DelayedQueue schedules jobs as scheduled messages. Re-enqueueing a job
// cancels the message this process scheduled for it before. A message
// scheduled elsewhere cannot be cancelled, so it is left for the handler to
// discard as superseded.
type DelayedQueue struct {
	client    *azservicebus.Client
	queueName string
	now       func() time.Time
	newSender func() (messageScheduler, error)

	mu        sync.Mutex
	scheduled map[string]int64
}

func NewDelayedQueue(client *azservicebus.Client, queueName string) *DelayedQueue {
	q := &DelayedQueue{client: client, queueName: queueName, now: time.Now, scheduled: map[string]int64{}}
	if client != nil {
		q.newSender = func() (messageScheduler, error) {
			return client.NewSender(queueName, nil)
		}
	}
	return q
}

var _ repository.IDelayedQueue = (*DelayedQueue)(nil)

func (q *DelayedQueue) Ready() bool {
	return q != nil && q.newSender != nil
}

// buildMessage gives every send its own MessageID so duplicate detection
// never drops a rescheduled job. The job id travels as a property.
func buildMessage(jobID string, job model.ScheduledJob, enqueueAt time.Time, revision int64) (*azservicebus.Message, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	contentType := "application/json"
	messageID := jobID + "-" + strconv.FormatInt(revision, 10)
	at := enqueueAt.UTC()
	return &azservicebus.Message{
		Body:                 body,
		MessageID:            &messageID,
		ContentType:          &contentType,
		ScheduledEnqueueTime: &at,
		ApplicationProperties: map[string]any{
			"jobId":  jobID,
			"userId": job.UserID,
			"openId": job.OpenID,
		},
	}, nil
}

// jobIDOf reads the job id of a received message.
func jobIDOf(message *azservicebus.ReceivedMessage) string {
	if id, ok := message.ApplicationProperties["jobId"].(string); ok && id != "" {
		return id
	}
	return message.MessageID
}

func (q *DelayedQueue) Enqueue(ctx context.Context, jobID string, job model.ScheduledJob, delay time.Duration) error {
	if !q.Ready() {
		return ErrNotConfigured
	}
	if delay < 0 {
		delay = 0
	}
	now := q.now()
	enqueueAt := now.Add(delay).UTC()
	message, err := buildMessage(jobID, job, enqueueAt, now.UnixNano())
	if err != nil {
		return err
	}

	sender, err := q.newSender()
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while making new sender service bus.")
		return err
	}
	defer func(sender messageScheduler, ctx context.Context) {
		if err := sender.Close(ctx); err != nil {
			logger.GetLogger().WithField("error", err).Error("Error while closing sender.")
		}
	}(sender, context.Background())

	q.mu.Lock()
	previous, replacing := q.scheduled[jobID]
	q.mu.Unlock()
	if replacing {
		if err := sender.CancelScheduledMessages(ctx, []int64{previous}, nil); err != nil {
			logger.GetLogger().WithField("error", err).WithField("jobId", jobID).Warn("Error while cancelling replaced scheduled message")
		}
	}

	sequenceNumbers, err := sender.ScheduleMessages(ctx, []*azservicebus.Message{message}, enqueueAt, nil)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while sending message.")
		return fmt.Errorf("schedule %s: %w", jobID, err)
	}
	q.mu.Lock()
	if len(sequenceNumbers) > 0 {
		q.scheduled[jobID] = sequenceNumbers[0]
	} else {
		delete(q.scheduled, jobID)
	}
	q.mu.Unlock()

	logger.GetLogger().WithField("jobId", jobID).WithField("enqueueAt", enqueueAt).Info("Scheduled message sent")
	return nil
}

// forget drops the tracked sequence number once its message is delivered.
func (q *DelayedQueue) forget(jobID string, sequenceNumber *int64) {
	if sequenceNumber == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.scheduled[jobID] == *sequenceNumber {
		delete(q.scheduled, jobID)
	}
}

// Run receives one message at a time. Handler failures are dead-lettered
// with the error as the description.
func (q *DelayedQueue) Run(ctx context.Context, handler func(ctx context.Context, jobID string, job model.ScheduledJob) error) error {
	if !q.Ready() || q.client == nil {
		return ErrNotConfigured
	}
	receiver, err := q.client.NewReceiverForQueue(q.queueName, nil)
	if err != nil {
		return err
	}
	defer func(receiver *azservicebus.Receiver, ctx context.Context) {
		if err := receiver.Close(ctx); err != nil {
			logger.GetLogger().WithField("error", err).Error("Error while closing receiver.")
		}
	}(receiver, context.Background())

	logger.GetLogger().WithField("queue", q.queueName).Info("Service bus worker started")
	for {
		messages, err := receiver.ReceiveMessages(ctx, 1, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.GetLogger().WithField("error", err).Error("Error while receiving messages.")
			continue
		}
		for _, message := range messages {
			q.settle(ctx, receiver, message, handler)
		}
	}
}

func (q *DelayedQueue) settle(ctx context.Context, receiver *azservicebus.Receiver, message *azservicebus.ReceivedMessage, handler func(ctx context.Context, jobID string, job model.ScheduledJob) error) {
	jobID := jobIDOf(message)
	q.forget(jobID, message.SequenceNumber)

	var job model.ScheduledJob
	err := json.Unmarshal(message.Body, &job)
	if err != nil {
		err = fmt.Errorf("decode job payload: %w", err)
	} else {
		err = handler(ctx, jobID, job)
	}

	if err == nil {
		if err := receiver.CompleteMessage(ctx, message, nil); err != nil {
			logger.GetLogger().WithField("error", err).Error("Error while completing message.")
		}
		return
	}

	reason := "ScheduledPostFailed"
	description := err.Error()
	logger.GetLogger().WithField("error", err).WithField("jobId", jobID).Error("Scheduled job failed, dead-lettering")
	if dlErr := receiver.DeadLetterMessage(ctx, message, &azservicebus.DeadLetterOptions{
		Reason:           &reason,
		ErrorDescription: &description,
	}); dlErr != nil {
		logger.GetLogger().WithField("error", dlErr).Error("Error while dead-lettering message.")
	}
}
