package model

import (
	"time"
)

type IntentStatus string

const (
	IntentQueued    IntentStatus = "QUEUED"
	IntentScheduled IntentStatus = "SCHEDULED"
	IntentRunning   IntentStatus = "RUNNING"
	IntentPublished IntentStatus = "PUBLISHED"
	IntentInbox     IntentStatus = "INBOX"
	IntentFailed    IntentStatus = "FAILED"
)

func (s IntentStatus) Terminal() bool {
	return s == IntentPublished || s == IntentInbox || s == IntentFailed
}

type MediaType string

const (
	MediaPhoto MediaType = "photo"
	MediaVideo MediaType = "video"
)

// PostMode values accepted on a request. PUBLISH and INBOX are legacy aliases.
const (
	PostModeDirectPost  = "DIRECT_POST"
	PostModeMediaUpload = "MEDIA_UPLOAD"
	PostModePublish     = "PUBLISH"
	PostModeInbox       = "INBOX"
)

// Content posting methods.
const (
	PostingMethodDirectPost  = "DIRECT_POST"
	PostingMethodUpload      = "UPLOAD"
	PostingMethodMediaUpload = "MEDIA_UPLOAD"
	PostingMethodURL         = "URL"
)

type MediaItem struct {
	Type                 MediaType `json:"type"                           binding:"required,oneof=photo video" validate:"required,oneof=photo video"`
	URL                  string    `json:"url"                            binding:"required,url"               validate:"required,url"`
	ThumbnailTimestampMs *int64    `json:"thumbnailTimestampMs,omitempty" binding:"omitempty,min=0"            validate:"omitempty,min=0"`
}

type PostingSettings struct {
	ContentPostingMethod string  `json:"contentPostingMethod,omitempty" binding:"omitempty,oneof=DIRECT_POST UPLOAD MEDIA_UPLOAD URL"`
	Title                *string `json:"title,omitempty"`
	PrivacyLevel         string  `json:"privacyLevel,omitempty"         binding:"omitempty,oneof=PUBLIC FRIENDS SELF_ONLY PUBLIC_TO_EVERYONE MUTUAL_FOLLOW_FRIENDS FOLLOWER_OF_CREATOR"`
	Duet                 *bool   `json:"duet,omitempty"`
	Comment              *bool   `json:"comment,omitempty"`
	Stitch               *bool   `json:"stitch,omitempty"`
	VideoMadeWithAI      *bool   `json:"videoMadeWithAi,omitempty"`
	BrandContentToggle   *bool   `json:"brandContentToggle,omitempty"`
	BrandOrganicToggle   *bool   `json:"brandOrganicToggle,omitempty"`
	AutoAddMusic         *bool   `json:"autoAddMusic,omitempty"`
}

// PostRequest is the caller-facing description of one publish.
type PostRequest struct {
	Caption  string           `json:"caption,omitempty"`
	PostMode string           `json:"postMode,omitempty" binding:"omitempty,oneof=INBOX PUBLISH DIRECT_POST MEDIA_UPLOAD" validate:"omitempty,oneof=INBOX PUBLISH DIRECT_POST MEDIA_UPLOAD"`
	Media    []MediaItem      `json:"media"              binding:"required,min=1,dive"                               validate:"required,min=1,dive"`
	Settings *PostingSettings `json:"settings,omitempty"`
}

// IsPhoto reports whether the request publishes in photo mode, which is
// decided by the first media item.
func (r PostRequest) IsPhoto() bool {
	return len(r.Media) > 0 && r.Media[0].Type == MediaPhoto
}

type ResultStatus string

const (
	ResultSuccess    ResultStatus = "success"
	ResultInbox      ResultStatus = "inbox"
	ResultProcessing ResultStatus = "processing"
	ResultFailed     ResultStatus = "failed"
)

// PublishResult is the terminal outcome of one publish.
type PublishResult struct {
	Status     ResultStatus `json:"status"`
	PostID     string       `json:"postId,omitempty"`
	PublishID  string       `json:"publishId,omitempty"`
	ReleaseURL string       `json:"releaseUrl,omitempty"`
}

// PublishIntent is the persisted record behind immediate and scheduled posts.
type PublishIntent struct {
	ID             int64        `json:"id"`
	UserID         string       `json:"user_id"`
	OpenID         string       `json:"open_id"`
	Payload        PostRequest  `json:"payload"`
	Status         IntentStatus `json:"status"`
	RunAt          time.Time    `json:"run_at"`
	JobID          *string      `json:"job_id,omitempty"`
	PublishID      *string      `json:"publish_id,omitempty"`
	ResultURL      *string      `json:"result_url,omitempty"`
	IdempotencyKey string       `json:"idempotency_key"`
	Attempts       int          `json:"attempts"`
	LastError      *string      `json:"last_error,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// IntentAudit is an append-only trail of intent transitions.
type IntentAudit struct {
	IdempotencyKey string       `json:"idempotency_key" bson:"idempotencyKey"`
	UserID         string       `json:"user_id"         bson:"userId"`
	OpenID         string       `json:"open_id"         bson:"openId"`
	Status         IntentStatus `json:"status"          bson:"status"`
	PublishID      *string      `json:"publish_id"      bson:"publishId,omitempty"`
	Error          *string      `json:"error"           bson:"error,omitempty"`
	CreatedAt      time.Time    `json:"created_at"      bson:"createdAt"`
}

// ScheduledJob is the payload carried by the delayed queue.
type ScheduledJob struct {
	IdempotencyKey string      `json:"idempotencyKey" validate:"required"`
	UserID         string      `json:"userId"         validate:"required"`
	OpenID         string      `json:"openId"         validate:"required"`
	Body           PostRequest `json:"body"           validate:"required"`
	RunAt          time.Time   `json:"runAt"`
}

// ScheduleHandle is returned once a scheduled post has been accepted.
type ScheduleHandle struct {
	Scheduled bool   `json:"scheduled"`
	RunAt     string `json:"runAt"`
	JobKey    string `json:"jobKey"`
}
