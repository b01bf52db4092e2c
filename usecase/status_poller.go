package usecase

import (
	"context"
	"time"

	"tiktok-publisher/domain/dto"
	"tiktok-publisher/domain/model"
	"tiktok-publisher/domain/repository"
	"tiktok-publisher/infrastructure/logger"
)

const profileBaseURL = "https://www.tiktok.com/@"

// IStatusPoller turns the platform's asynchronous publish job into a result.
type IStatusPoller interface {
	PollOnce(ctx context.Context, account *model.Account, publishID string) (*dto.StatusSnapshot, error)
	PollUntilTerminal(ctx context.Context, account *model.Account, publishID string, maxAttempts int, interval time.Duration) (*model.PublishResult, error)
}

type statusPoller struct {
	client repository.ITikTokClient
	opts   Options
}

func NewStatusPoller(client repository.ITikTokClient, opts Options) IStatusPoller {
	return &statusPoller{client: client, opts: opts.withDefaults()}
}

func (p *statusPoller) PollOnce(ctx context.Context, account *model.Account, publishID string) (*dto.StatusSnapshot, error) {
	return p.client.FetchPublishStatus(ctx, account.AccessToken, publishID)
}

func (p *statusPoller) PollUntilTerminal(ctx context.Context, account *model.Account, publishID string, maxAttempts int, interval time.Duration) (*model.PublishResult, error) {
	if maxAttempts <= 0 {
		maxAttempts = p.opts.StatusAttempts
	}
	if interval <= 0 {
		interval = p.opts.StatusInterval
	}
	log := logger.GetLogger().WithField("publishId", publishID)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		snap, err := p.PollOnce(ctx, account, publishID)
		if err != nil {
			return nil, err
		}
		log.WithField("attempt", attempt).WithField("status", snap.Status).Debug("TikTok publish status")

		if result, done, err := TerminalResult(account, publishID, snap); done {
			return result, err
		}
		if attempt == maxAttempts {
			break
		}
		if err := p.opts.Sleep(ctx, interval); err != nil {
			return nil, err
		}
	}
	return nil, model.PollingTimeout(publishID, maxAttempts)
}

// TerminalResult maps a terminal snapshot to its result or error. done is
// false while the job is still processing.
func TerminalResult(account *model.Account, publishID string, snap *dto.StatusSnapshot) (*model.PublishResult, bool, error) {
	switch snap.Status {
	case dto.PlatformStatusComplete:
		profile := profileBaseURL + account.ProfileHandle()
		if snap.PostID != nil && *snap.PostID != "" {
			return &model.PublishResult{
				Status:     model.ResultSuccess,
				PostID:     *snap.PostID,
				PublishID:  publishID,
				ReleaseURL: profile + "/video/" + *snap.PostID,
			}, true, nil
		}
		return &model.PublishResult{Status: model.ResultSuccess, PostID: publishID, PublishID: publishID, ReleaseURL: profile}, true, nil
	case dto.PlatformStatusInbox:
		return &model.PublishResult{Status: model.ResultInbox, PostID: publishID, PublishID: publishID}, true, nil
	case dto.PlatformStatusFailed:
		if snap.Failure != nil {
			return nil, true, snap.Failure
		}
		return nil, true, model.NewPublishError(model.ErrClientRequest, "tiktok-post-failed", "TikTok marked the publish as failed")
	}
	return nil, false, nil
}
