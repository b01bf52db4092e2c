package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"

	"tiktok-publisher/domain/model"
	"tiktok-publisher/domain/repository"
	"tiktok-publisher/infrastructure/logger"
)

const (
	StateSweepInterval   = time.Minute
	StalledCheckInterval = 5 * time.Minute
	StalledAfter         = 15 * time.Minute
)

// StalledIntents lists RUNNING intents not updated for longer than olderThan.
type StalledIntents interface {
	ListStalled(ctx context.Context, olderThan time.Duration) ([]*model.PublishIntent, error)
}

// Sweeper runs housekeeping for the publishing pipeline: expired OAuth states
// are deleted and intents stuck in RUNNING are reported.
type Sweeper struct {
	scheduler *gocron.Scheduler
	states    repository.IPendingState
	stalled   StalledIntents
	now       func() time.Time
}

func NewSweeper(states repository.IPendingState, stalled StalledIntents) *Sweeper {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	s.WaitForScheduleAll()
	return &Sweeper{scheduler: s, states: states, stalled: stalled, now: time.Now}
}

// Start registers the jobs and runs the scheduler in the background.
func (s *Sweeper) Start(ctx context.Context) error {
	if s.states != nil {
		if _, err := s.scheduler.Every(StateSweepInterval).Tag("pending_state_sweep").Do(func() { s.SweepStates(ctx) }); err != nil {
			return err
		}
	}
	if s.stalled != nil {
		if _, err := s.scheduler.Every(StalledCheckInterval).Tag("stalled_intents").Do(func() { s.ReportStalled(ctx) }); err != nil {
			return err
		}
	}
	s.scheduler.StartAsync()
	logger.GetLogger().WithField("jobs", s.scheduler.Len()).Info("Sweeper started")
	return nil
}

func (s *Sweeper) Stop() {
	s.scheduler.Stop()
}

func (s *Sweeper) SweepStates(ctx context.Context) int64 {
	n, err := s.states.SweepExpired(ctx, s.now())
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while sweeping expired TikTok states")
		return 0
	}
	if n > 0 {
		logger.GetLogger().WithField("deleted", n).Info("Expired TikTok states swept")
	}
	return n
}

func (s *Sweeper) ReportStalled(ctx context.Context) int {
	intents, err := s.stalled.ListStalled(ctx, StalledAfter)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while listing stalled publish intents")
		return 0
	}
	for _, intent := range intents {
		logger.GetLogger().WithFields(map[string]interface{}{
			"idempotencyKey": intent.IdempotencyKey,
			"userId":         intent.UserID,
			"openId":         intent.OpenID,
			"attempts":       intent.Attempts,
			"updatedAt":      intent.UpdatedAt,
		}).Warn("Publish intent stalled in RUNNING")
	}
	return len(intents)
}
