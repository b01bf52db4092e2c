package dto

import "tiktok-publisher/domain/model"

// Res is the envelope used for middleware rejections.
type Res struct {
	ResponseCode    string      `json:"responseCode"`
	ResponseMessage string      `json:"responseMessage"`
	Data            interface{} `json:"data,omitempty"`
}

// TokenBundle is the normalized result of a code exchange or refresh.
type TokenBundle struct {
	AccessToken      string
	RefreshToken     *string
	ExpiresIn        *int64
	RefreshExpiresIn *int64
	Scopes           []string
	OpenID           *string
}

// UserInfo is the subset of the TikTok profile kept on the account.
type UserInfo struct {
	OpenID      string
	DisplayName *string
	Username    *string
	AvatarURL   *string
}

// StatusSnapshot is one observation of the platform's publish job. Failure is
// set only when Status is FAILED.
type StatusSnapshot struct {
	Status   string
	PostID   *string
	RawError string
	Failure  *model.PublishError
}

const (
	PlatformStatusProcessing = "PROCESSING"
	PlatformStatusComplete   = "PUBLISH_COMPLETE"
	PlatformStatusFailed     = "FAILED"
	PlatformStatusInbox      = "SEND_TO_USER_INBOX"
)

// PostInfo and the source info types mirror the content-init request body.
type PostInfo struct {
	PrivacyLevel       string  `json:"privacy_level"`
	DisableDuet        bool    `json:"disable_duet"`
	DisableComment     bool    `json:"disable_comment"`
	DisableStitch      bool    `json:"disable_stitch"`
	IsAIGC             bool    `json:"is_aigc"`
	BrandContentToggle bool    `json:"brand_content_toggle"`
	BrandOrganicToggle bool    `json:"brand_organic_toggle"`
	Title              *string `json:"title,omitempty"`
	Description        string  `json:"description"`
	AutoAddMusic       *bool   `json:"auto_add_music,omitempty"`
}

type PhotoSourceInfo struct {
	Source          string   `json:"source"`
	PhotoCoverIndex int      `json:"photo_cover_index"`
	PhotoImages     []string `json:"photo_images"`
}

type VideoSourceInfo struct {
	Source                string `json:"source"`
	VideoURL              string `json:"video_url"`
	VideoCoverTimestampMs *int64 `json:"video_cover_timestamp_ms,omitempty"`
}

type PublishInitBody struct {
	PostInfo   PostInfo    `json:"post_info"`
	SourceInfo interface{} `json:"source_info"`
	PostMode   string      `json:"post_mode"`
	MediaType  string      `json:"media_type"`
}

// ConnectRequest completes the OAuth handshake.
type ConnectRequest struct {
	Code     string `json:"code"     binding:"required"`
	State    string `json:"state"    binding:"required"`
	Timezone *int   `json:"timezone"`
}

// ScheduleRequest is the inbound scheduling API body.
type ScheduleRequest struct {
	PublishAt      string            `json:"publishAt"      binding:"required"`
	IdempotencyKey string            `json:"idempotencyKey" binding:"required"`
	Post           model.PostRequest `json:"post"           binding:"required"`
}

// PresignRequest asks for a direct upload URL. Either Key or FileName must be
// set; FileName gets a per-user unique key.
type PresignRequest struct {
	Key          string `json:"key"          form:"key"`
	FileName     string `json:"fileName"     form:"fileName"`
	ContentType  string `json:"contentType"  form:"contentType"`
	ExpiresInSec int    `json:"expiresInSec" form:"expiresInSec" binding:"omitempty,min=60,max=3600"`
}

type PresignResponse struct {
	UploadURL string `json:"uploadUrl"`
	PublicURL string `json:"publicUrl"`
	Key       string `json:"key"`
	ExpiresIn int    `json:"expiresIn"`
}
