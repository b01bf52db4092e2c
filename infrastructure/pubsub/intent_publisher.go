package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"

	"tiktok-publisher/domain/model"
	"tiktok-publisher/domain/repository"
	"tiktok-publisher/infrastructure/logger"
)

var ErrProjectNotConfigured = errors.New("pubsub project id not configured")

func NewPubSub(ctx context.Context, projectID string) (*pubsub.Client, error) {
	if projectID == "" {
		return nil, ErrProjectNotConfigured
	}
	return pubsub.NewClient(ctx, projectID)
}

// IntentPublisher forwards intent transitions to a topic so downstream
// consumers can alert on failures.
type IntentPublisher struct {
	client    *pubsub.Client
	topicName string

	once  sync.Once
	topic *pubsub.Topic
	err   error
}

func NewIntentPublisher(client *pubsub.Client, topicName string) repository.IIntentEvents {
	return &IntentPublisher{client: client, topicName: topicName}
}

// ensureTopic creates the topic on first use if it does not exist.
func (p *IntentPublisher) ensureTopic(ctx context.Context) (*pubsub.Topic, error) {
	p.once.Do(func() {
		topic := p.client.Topic(p.topicName)
		exists, err := topic.Exists(ctx)
		if err != nil {
			p.err = err
			return
		}
		if !exists {
			logger.GetLogger().WithField("topic", p.topicName).Info("Topic doesn't exist - creating it")
			if topic, err = p.client.CreateTopic(ctx, p.topicName); err != nil {
				p.err = err
				return
			}
		}
		p.topic = topic
	})
	return p.topic, p.err
}

func (p *IntentPublisher) PublishIntentEvent(ctx context.Context, intent *model.IntentAudit) {
	if p.client == nil || intent == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	topic, err := p.ensureTopic(ctx)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while resolving intent topic")
		return
	}
	data, err := json.Marshal(intent)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while encoding intent event")
		return
	}

	serverID, err := topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"status":         string(intent.Status),
			"idempotencyKey": intent.IdempotencyKey,
		},
	}).Get(ctx)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while publishing intent event")
		return
	}
	logger.GetLogger().WithField("server ID", serverID).WithField("status", intent.Status).Debug("Intent event published")
}

// Stop flushes pending publishes.
func (p *IntentPublisher) Stop() {
	if p.topic != nil {
		p.topic.Stop()
	}
}
