package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"tiktok-publisher/domain/model"
	"tiktok-publisher/domain/repository"
	"tiktok-publisher/infrastructure/logger"
)

const pendingStatePrefix = "tiktok:oauth:state:"

// PendingStateCache stores OAuth handshakes as JSON values whose Redis TTL
// matches the state expiry.
type PendingStateCache struct {
	client *redis.Client
	now    func() time.Time
}

func NewPendingStateCache(client *redis.Client) repository.IPendingState {
	return &PendingStateCache{client: client, now: time.Now}
}

func (c *PendingStateCache) Save(ctx context.Context, state *model.PendingAuthState) error {
	ttl := state.ExpiresAt.Sub(c.now())
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, pendingStatePrefix+state.State, data, ttl).Err()
}

func (c *PendingStateCache) Consume(ctx context.Context, state string) (*model.PendingAuthState, error) {
	data, err := c.client.GetDel(ctx, pendingStatePrefix+state).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var found model.PendingAuthState
	if err := json.Unmarshal(data, &found); err != nil {
		logger.GetLogger().WithField("error", err).Warn("Discarding unreadable TikTok pending state")
		return nil, nil
	}
	if found.Expired(c.now()) {
		return nil, nil
	}
	return &found, nil
}

// SweepExpired is a no-op; Redis expires keys on its own.
func (c *PendingStateCache) SweepExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}
