package usecase

import (
	"context"

	"tiktok-publisher/domain/model"
	"tiktok-publisher/domain/repository"
)

// IntentEventFanout forwards every intent event to each non-nil sink.
type IntentEventFanout []repository.IIntentEvents

func (f IntentEventFanout) PublishIntentEvent(ctx context.Context, intent *model.IntentAudit) {
	for _, sink := range f {
		if sink != nil {
			sink.PublishIntentEvent(ctx, intent)
		}
	}
}
