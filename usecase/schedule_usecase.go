package usecase

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"tiktok-publisher/domain/model"
	"tiktok-publisher/domain/repository"
	"tiktok-publisher/infrastructure/logger"
)

const isoMillis = "2006-01-02T15:04:05.000Z07:00"

var (
	jobKeyUnsafe = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
	validate     = validator.New()
)

// runAtLayouts are tried in order when parsing a schedule time.
var runAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// IScheduleUsecase persists future publishes, hands them to the delayed queue
// and records what happens when they run.
type IScheduleUsecase interface {
	ScheduleAt(ctx context.Context, userID, openID string, req model.PostRequest, runAt, idempotencyKey string) (*model.ScheduleHandle, error)
	// Execute is the queue worker entry point for one due job.
	Execute(ctx context.Context, jobID string, job model.ScheduledJob) error
	ListIntents(ctx context.Context, userID string, openID *string) ([]*model.PublishIntent, error)
	ListStalled(ctx context.Context, olderThan time.Duration) ([]*model.PublishIntent, error)
}

type scheduleUsecase struct {
	accounts repository.IAccount
	intents  repository.IPublishIntent
	queue    repository.IDelayedQueue
	tokens   ITokenUsecase
	publish  IPublishUsecase
	events   repository.IIntentEvents
	opts     Options
}

func NewScheduleUsecase(accounts repository.IAccount, intents repository.IPublishIntent, queue repository.IDelayedQueue, tokens ITokenUsecase, publish IPublishUsecase, events repository.IIntentEvents, opts Options) IScheduleUsecase {
	return &scheduleUsecase{
		accounts: accounts,
		intents:  intents,
		queue:    queue,
		tokens:   tokens,
		publish:  publish,
		events:   events,
		opts:     opts.withDefaults(),
	}
}

// JobID derives the queue job id from the idempotency key so that the same
// key always maps to the same job.
func JobID(group, idempotencyKey string) string {
	return group + "-" + jobKeyUnsafe.ReplaceAllString(idempotencyKey, "-")
}

// ParseRunAt accepts RFC 3339 timestamps and a few zone-less forms, read as
// UTC.
func ParseRunAt(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range runAtLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", value)
}

func (u *scheduleUsecase) ScheduleAt(ctx context.Context, userID, openID string, req model.PostRequest, runAt, idempotencyKey string) (*model.ScheduleHandle, error) {
	when, err := ParseRunAt(runAt)
	if err != nil {
		return nil, &model.PublishError{Kind: model.ErrInvalidSchedule, Code: "invalid-publish-at", Hint: "Invalid publishAt", Err: err}
	}
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey == "" {
		return nil, model.NewPublishError(model.ErrInvalidSchedule, "missing-idempotency-key", "idempotencyKey is required")
	}
	if u.queue == nil || !u.queue.Ready() {
		return nil, model.NewPublishError(model.ErrQueueUnavailable, "queue-unavailable", "Scheduling queue is not configured")
	}

	when = when.Truncate(time.Millisecond)
	openID = model.NormalizeOpenID(openID)
	jobID := JobID(u.opts.JobGroup, idempotencyKey)
	now := u.opts.Now()
	intent := &model.PublishIntent{
		UserID:         userID,
		OpenID:         openID,
		Payload:        req,
		Status:         model.IntentScheduled,
		RunAt:          when,
		JobID:          &jobID,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := u.intents.UpsertScheduled(ctx, intent); err != nil {
		if errors.Is(err, repository.ErrIntentConflict) {
			logger.GetLogger().WithField("idempotencyKey", idempotencyKey).Warn("Idempotency key is held by another TikTok post")
			return nil, &model.PublishError{
				Kind: model.ErrIntentConflict,
				Code: "idempotency-key-in-use",
				Hint: "idempotencyKey is in use by a post that is running or belongs to another user",
				Err:  err,
			}
		}
		logger.GetLogger().WithField("error", err).Error("Error while saving scheduled TikTok post")
		return nil, err
	}

	delay := when.Sub(now)
	if delay < 0 {
		delay = 0
	}
	job := model.ScheduledJob{IdempotencyKey: idempotencyKey, UserID: userID, OpenID: openID, Body: req, RunAt: when}
	if err := u.queue.Enqueue(ctx, jobID, job, delay); err != nil {
		logger.GetLogger().WithField("error", err).WithField("jobId", jobID).Error("Error while enqueueing scheduled TikTok post")
		if markErr := u.intents.MarkFailedByJobID(ctx, jobID, err.Error()); markErr != nil {
			logger.GetLogger().WithField("error", markErr).Error("Error while marking unscheduled TikTok post failed")
		}
		return nil, model.WrapPublishError(model.ErrQueueUnavailable, "Scheduling queue rejected the job", err)
	}
	emit(ctx, u.events, intent, nil)

	logger.GetLogger().WithField("jobId", jobID).WithField("delayMs", delay.Milliseconds()).Info("Scheduled TikTok post")
	return &model.ScheduleHandle{Scheduled: true, RunAt: when.Format(isoMillis), JobKey: jobID}, nil
}

func (u *scheduleUsecase) Execute(ctx context.Context, jobID string, job model.ScheduledJob) error {
	log := logger.GetLogger().WithField("jobId", jobID).WithField("userId", job.UserID).WithField("openId", job.OpenID)
	log.Info("Executing scheduled TikTok post")

	intent, err := u.intents.MarkRunningByJobID(ctx, jobID, job.RunAt)
	if err != nil {
		if errors.Is(err, repository.ErrIntentNotPending) {
			log.Warn("Scheduled TikTok post already ran or was superseded, skipping")
			return nil
		}
		log.WithField("error", err).Error("Error while marking scheduled TikTok post running")
		return err
	}
	// The stored intent wins over the queued copy.
	if intent != nil {
		job.UserID = intent.UserID
		job.OpenID = intent.OpenID
		job.Body = intent.Payload
	}
	u.emitJob(ctx, job, model.IntentRunning, nil, nil)

	result, err := u.run(ctx, job)
	if err != nil {
		log.WithField("error", err).Warn("Scheduled TikTok post failed")
		if markErr := u.intents.MarkFailedByJobID(ctx, jobID, errorMessage(err)); markErr != nil {
			log.WithField("error", markErr).Error("Error while marking scheduled TikTok post failed")
		}
		u.emitJob(ctx, job, model.IntentFailed, nil, err)
		return err
	}

	status := model.IntentPublished
	if result.Status == model.ResultInbox {
		status = model.IntentInbox
	}
	var publishID, resultURL *string
	if result.PublishID != "" {
		publishID = &result.PublishID
	}
	if result.ReleaseURL != "" {
		resultURL = &result.ReleaseURL
	}
	if err := u.intents.MarkCompletedByJobID(ctx, jobID, status, publishID, resultURL); err != nil {
		log.WithField("error", err).Error("Error while marking scheduled TikTok post completed")
		return err
	}
	u.emitJob(ctx, job, status, publishID, nil)
	log.WithField("status", status).Info("Scheduled TikTok post finished")
	return nil
}

func (u *scheduleUsecase) run(ctx context.Context, job model.ScheduledJob) (*model.PublishResult, error) {
	if err := validate.Struct(job); err != nil {
		return nil, model.WrapPublishError(model.ErrClientRequest, "Scheduled job payload is invalid", err)
	}
	account, err := loadFreshAccount(ctx, u.accounts, u.tokens, job.UserID, job.OpenID)
	if err != nil {
		return nil, err
	}
	result, err := u.publish.Post(ctx, account, job.Body)
	if err != nil {
		return nil, err
	}
	account.UpdatedAt = u.opts.Now()
	if err := u.accounts.UpsertAccount(ctx, account); err != nil {
		logger.GetLogger().WithField("error", err).Warn("Error while touching TikTok account")
	}
	return result, nil
}

func (u *scheduleUsecase) emitJob(ctx context.Context, job model.ScheduledJob, status model.IntentStatus, publishID *string, cause error) {
	emit(ctx, u.events, &model.PublishIntent{
		IdempotencyKey: job.IdempotencyKey,
		UserID:         job.UserID,
		OpenID:         job.OpenID,
		Status:         status,
		PublishID:      publishID,
		UpdatedAt:      u.opts.Now(),
	}, cause)
}

func (u *scheduleUsecase) ListIntents(ctx context.Context, userID string, openID *string) ([]*model.PublishIntent, error) {
	return u.intents.ListIntents(ctx, userID, openID)
}

func (u *scheduleUsecase) ListStalled(ctx context.Context, olderThan time.Duration) ([]*model.PublishIntent, error) {
	return u.intents.ListStalledRunning(ctx, u.opts.Now().Add(-olderThan))
}
