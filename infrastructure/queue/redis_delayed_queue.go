package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"tiktok-publisher/domain/model"
	"tiktok-publisher/domain/repository"
	"tiktok-publisher/infrastructure/logger"
)

const (
	KeepCompleted = 500
	KeepFailed    = 1000

	defaultPollInterval = time.Second
)

// RedisDelayedQueue keeps due times in a sorted set and payloads in a hash.
// A job is claimed by whoever removes it from the sorted set, so several
// instances can share one queue while each worker runs one job at a time.
type RedisDelayedQueue struct {
	client       *redis.Client
	name         string
	now          func() time.Time
	pollInterval time.Duration
}

type failedJob struct {
	JobID    string    `json:"jobId"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failedAt"`
}

func NewRedisDelayedQueue(client *redis.Client, name string) *RedisDelayedQueue {
	return &RedisDelayedQueue{
		client:       client,
		name:         name,
		now:          time.Now,
		pollInterval: defaultPollInterval,
	}
}

var _ repository.IDelayedQueue = (*RedisDelayedQueue)(nil)

func (q *RedisDelayedQueue) delayedKey() string   { return q.name + ":delayed" }
func (q *RedisDelayedQueue) jobsKey() string      { return q.name + ":jobs" }
func (q *RedisDelayedQueue) completedKey() string { return q.name + ":completed" }
func (q *RedisDelayedQueue) failedKey() string    { return q.name + ":failed" }

func (q *RedisDelayedQueue) Ready() bool {
	return q != nil && q.client != nil
}

// Enqueue stores the job under jobID, replacing the due time and payload of
// a job still pending under the same id.
func (q *RedisDelayedQueue) Enqueue(ctx context.Context, jobID string, job model.ScheduledJob, delay time.Duration) error {
	if !q.Ready() {
		return errors.New("redis queue not initialised")
	}
	if delay < 0 {
		delay = 0
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	due := q.now().Add(delay).UnixMilli()

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(due), Member: jobID})
		pipe.HSet(ctx, q.jobsKey(), jobID, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", jobID, err)
	}
	logger.GetLogger().WithField("jobId", jobID).WithField("delayMs", delay.Milliseconds()).Info("Delayed job enqueued")
	return nil
}

// Run polls for due jobs until ctx is done.
func (q *RedisDelayedQueue) Run(ctx context.Context, handler func(ctx context.Context, jobID string, job model.ScheduledJob) error) error {
	if !q.Ready() {
		return errors.New("redis queue not initialised")
	}
	logger.GetLogger().WithField("queue", q.name).Info("Delayed queue worker started")

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()
	for {
		for {
			processed, err := q.processNext(ctx, handler)
			if err != nil {
				logger.GetLogger().WithField("error", err).Error("Error while polling delayed queue")
				break
			}
			if !processed {
				break
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// processNext claims and runs at most one due job.
func (q *RedisDelayedQueue) processNext(ctx context.Context, handler func(ctx context.Context, jobID string, job model.ScheduledJob) error) (bool, error) {
	if ctx.Err() != nil {
		return false, nil
	}
	due, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(q.now().UnixMilli(), 10),
		Count: 1,
	}).Result()
	if err != nil || len(due) == 0 {
		return false, err
	}
	jobID := due[0]

	removed, err := q.client.ZRem(ctx, q.delayedKey(), jobID).Result()
	if err != nil {
		return false, err
	}
	if removed == 0 {
		// claimed by another instance
		return true, nil
	}

	payload, err := q.client.HGet(ctx, q.jobsKey(), jobID).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, err
	}
	q.client.HDel(ctx, q.jobsKey(), jobID)

	var job model.ScheduledJob
	if err := json.Unmarshal(payload, &job); err != nil {
		q.fail(ctx, jobID, fmt.Errorf("decode job payload: %w", err))
		return true, nil
	}
	if err := handler(ctx, jobID, job); err != nil {
		q.fail(ctx, jobID, err)
		return true, nil
	}
	q.complete(ctx, jobID)
	return true, nil
}

func (q *RedisDelayedQueue) complete(ctx context.Context, jobID string) {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, q.completedKey(), jobID)
		pipe.LTrim(ctx, q.completedKey(), 0, KeepCompleted-1)
		return nil
	})
	if err != nil {
		logger.GetLogger().WithField("error", err).WithField("jobId", jobID).Warn("Error while recording completed job")
	}
}

func (q *RedisDelayedQueue) fail(ctx context.Context, jobID string, cause error) {
	logger.GetLogger().WithField("error", cause).WithField("jobId", jobID).Error("Delayed job failed")
	entry, _ := json.Marshal(failedJob{JobID: jobID, Error: cause.Error(), FailedAt: q.now().UTC()})
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, q.failedKey(), entry)
		pipe.LTrim(ctx, q.failedKey(), 0, KeepFailed-1)
		return nil
	})
	if err != nil {
		logger.GetLogger().WithField("error", err).WithField("jobId", jobID).Warn("Error while recording failed job")
	}
}
