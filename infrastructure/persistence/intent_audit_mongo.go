package persistence

import (
	"context"
	"time"

	"tiktok-publisher/domain/model"
	"tiktok-publisher/infrastructure/logger"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const intentAuditCollection = "tiktok_intent_audit"

// IIntentAuditRepository is the append-only trail of intent transitions.
type IIntentAuditRepository interface {
	PublishIntentEvent(ctx context.Context, event *model.IntentAudit)
	History(ctx context.Context, userID, idempotencyKey string) ([]model.IntentAudit, error)
}

type IntentAuditRepository struct {
	collection *mongo.Collection
}

func NewIntentAuditRepository(client *mongo.Client, database string) IIntentAuditRepository {
	return &IntentAuditRepository{collection: client.Database(database).Collection(intentAuditCollection)}
}

// PublishIntentEvent appends one transition. Failures are logged; the audit
// trail never blocks a publish.
func (r *IntentAuditRepository) PublishIntentEvent(ctx context.Context, event *model.IntentAudit) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := r.collection.InsertOne(ctx, event); err != nil {
		logger.GetLogger().WithField("error", err).WithField("idempotencyKey", event.IdempotencyKey).Error("Error while writing intent audit")
	}
}

func (r *IntentAuditRepository) History(ctx context.Context, userID, idempotencyKey string) ([]model.IntentAudit, error) {
	filter := bson.D{{Key: "userId", Value: userID}, {Key: "idempotencyKey", Value: idempotencyKey}}
	cursor, err := r.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while fetching intent audit")
		return nil, err
	}
	defer func(cursor *mongo.Cursor, ctx context.Context) {
		if err := cursor.Close(ctx); err != nil {
			logger.GetLogger().WithField("error", err).Error("Error while closing cursor")
		}
	}(cursor, ctx)

	history := []model.IntentAudit{}
	for cursor.Next(ctx) {
		var event model.IntentAudit
		if err := cursor.Decode(&event); err != nil {
			logger.GetLogger().WithField("error", err).Error("Error while decoding")
			continue
		}
		history = append(history, event)
	}
	return history, cursor.Err()
}
