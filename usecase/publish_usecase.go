package usecase

import (
	"context"
	"errors"

	"tiktok-publisher/domain/dto"
	"tiktok-publisher/domain/model"
	"tiktok-publisher/domain/repository"
	"tiktok-publisher/infrastructure/logger"
)

const (
	photoInitPath       = "/v2/post/publish/content/init/"
	videoInitPath       = "/v2/post/publish/video/init/"
	inboxVideoInitPath  = "/v2/post/publish/inbox/video/init/"
	sourcePullFromURL   = "PULL_FROM_URL"
	defaultPrivacyLevel = "SELF_ONLY"
)

// IPublishUsecase submits publish requests for an account whose token is
// already fresh.
type IPublishUsecase interface {
	InitPublish(ctx context.Context, account *model.Account, req model.PostRequest) (string, error)
	// Post initializes a publish and waits for a terminal status.
	Post(ctx context.Context, account *model.Account, req model.PostRequest) (*model.PublishResult, error)
}

type publishUsecase struct {
	client repository.ITikTokClient
	tokens ITokenUsecase
	poller IStatusPoller
	opts   Options
}

func NewPublishUsecase(client repository.ITikTokClient, tokens ITokenUsecase, poller IStatusPoller, opts Options) IPublishUsecase {
	return &publishUsecase{client: client, tokens: tokens, poller: poller, opts: opts.withDefaults()}
}

func (u *publishUsecase) InitPublish(ctx context.Context, account *model.Account, req model.PostRequest) (string, error) {
	if err := u.tokens.RequireScopes(PublishScopes, account.Scopes); err != nil {
		return "", err
	}
	if len(req.Media) == 0 {
		return "", model.NewPublishError(model.ErrEmptyMedia, "tiktok-missing-media", "No media provided for TikTok post")
	}

	isPhoto := req.IsPhoto()
	settings := req.Settings
	if settings == nil {
		settings = &model.PostingSettings{}
	}
	method := settings.ContentPostingMethod
	if method == "" {
		method = u.opts.ContentPostingMethod
	}
	mode := ResolvePostMode(req.PostMode, method, isPhoto)
	path := InitEndpoint(mode, isPhoto)
	body := BuildInitBody(req, mode)

	id, err := u.client.InitPublish(ctx, account.AccessToken, path, body)
	if err != nil {
		logger.GetLogger().WithField("error", err).WithField("code", codeOf(err)).Warn("TikTok post init failed")
		return "", err
	}
	logger.GetLogger().WithField("publishId", id).WithField("postMode", mode).WithField("mediaType", body.MediaType).Info("TikTok publish initialized")
	return id, nil
}

func (u *publishUsecase) Post(ctx context.Context, account *model.Account, req model.PostRequest) (*model.PublishResult, error) {
	id, err := u.InitPublish(ctx, account, req)
	if err != nil {
		return nil, err
	}
	return u.poller.PollUntilTerminal(ctx, account, id, u.opts.StatusAttempts, u.opts.StatusInterval)
}

// ResolvePostMode picks DIRECT_POST or MEDIA_UPLOAD. An explicit mode wins,
// then the legacy PUBLISH/INBOX aliases, then the posting method, then the
// media type.
func ResolvePostMode(requested, postingMethod string, isPhoto bool) string {
	switch requested {
	case model.PostModeDirectPost, model.PostModeMediaUpload:
		return requested
	case model.PostModePublish:
		return model.PostModeDirectPost
	case model.PostModeInbox:
		return model.PostModeMediaUpload
	}
	switch postingMethod {
	case model.PostingMethodDirectPost, model.PostingMethodURL:
		return model.PostModeDirectPost
	case model.PostingMethodUpload, model.PostingMethodMediaUpload:
		return model.PostModeMediaUpload
	}
	if isPhoto {
		return model.PostModeMediaUpload
	}
	return model.PostModeDirectPost
}

// InitEndpoint is the content-init path for the resolved mode and media type.
func InitEndpoint(mode string, isPhoto bool) string {
	switch {
	case isPhoto:
		return photoInitPath
	case mode == model.PostModeMediaUpload:
		return inboxVideoInitPath
	default:
		return videoInitPath
	}
}

// BuildInitBody renders the content-init request with defaults applied.
func BuildInitBody(req model.PostRequest, mode string) dto.PublishInitBody {
	s := req.Settings
	if s == nil {
		s = &model.PostingSettings{}
	}
	isPhoto := req.IsPhoto()

	info := dto.PostInfo{
		PrivacyLevel:       s.PrivacyLevel,
		DisableDuet:        !boolOr(s.Duet, false),
		DisableComment:     !boolOr(s.Comment, false),
		DisableStitch:      !boolOr(s.Stitch, false),
		IsAIGC:             boolOr(s.VideoMadeWithAI, false),
		BrandContentToggle: boolOr(s.BrandContentToggle, false),
		BrandOrganicToggle: boolOr(s.BrandOrganicToggle, false),
		Description:        req.Caption,
	}
	if info.PrivacyLevel == "" {
		info.PrivacyLevel = defaultPrivacyLevel
	}

	title := req.Caption
	if isPhoto && s.Title != nil {
		title = *s.Title
	}
	if title != "" {
		info.Title = &title
	}
	if isPhoto && boolOr(s.AutoAddMusic, true) {
		music := true
		info.AutoAddMusic = &music
	}

	body := dto.PublishInitBody{PostInfo: info, PostMode: mode}
	if isPhoto {
		images := make([]string, 0, len(req.Media))
		for _, m := range req.Media {
			images = append(images, m.URL)
		}
		body.MediaType = "PHOTO"
		body.SourceInfo = dto.PhotoSourceInfo{Source: sourcePullFromURL, PhotoCoverIndex: 0, PhotoImages: images}
	} else {
		primary := req.Media[0]
		body.MediaType = "VIDEO"
		body.SourceInfo = dto.VideoSourceInfo{Source: sourcePullFromURL, VideoURL: primary.URL, VideoCoverTimestampMs: primary.ThumbnailTimestampMs}
	}
	return body
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

func codeOf(err error) string {
	var pe *model.PublishError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
