package tiktok

import (
	"strings"

	"tiktok-publisher/domain/model"
)

type errorRule struct {
	signals []string
	kind    model.ErrorKind
	hint    string
}

// Order matters: the first matching rule wins.
var errorRules = []errorRule{
	{[]string{"access_token_invalid"}, model.ErrReauthRequired, "Access token invalid, please re-authenticate your TikTok account"},
	{[]string{"scope_not_authorized"}, model.ErrReauthRequired, "Missing required permissions, please re-authorize with TikTok"},
	{[]string{"scope_permission_missed"}, model.ErrReauthRequired, "Additional TikTok permissions required, please re-authorize"},
	{[]string{"rate_limit_exceeded"}, model.ErrPlatformTransient, "TikTok API rate limit exceeded, please try again later"},
	{[]string{"file_format_check_failed"}, model.ErrClientRequest, "Invalid file format, please check TikTok video specifications"},
	{[]string{"duration_check_failed"}, model.ErrClientRequest, "Video duration is invalid for TikTok"},
	{[]string{"frame_rate_check_failed"}, model.ErrClientRequest, "Video frame rate is invalid for TikTok"},
	{[]string{"video_pull_failed"}, model.ErrClientRequest, "TikTok could not download the video from the provided URL"},
	{[]string{"photo_pull_failed"}, model.ErrClientRequest, "TikTok could not download the photo from the provided URL"},
	{[]string{"spam_risk"}, model.ErrPolicyBlocked, "TikTok flagged the content as potential spam"},
	{[]string{"reached_active_user_cap"}, model.ErrPolicyBlocked, "Daily active user quota reached for TikTok"},
	{[]string{"unaudited_client_can_only_post_to_private_accounts"}, model.ErrPolicyBlocked, "TikTok app is not approved for public posting. Contact support."},
	{[]string{"invalid_file_upload", "invalid_params"}, model.ErrClientRequest, "TikTok rejected the request due to invalid media or parameters"},
	{[]string{"internal"}, model.ErrPlatform, "TikTok servers reported an internal error. Please try again later."},
}

// TranslateError classifies a serialized TikTok error payload. It has no side
// effects. Unmatched input yields ErrUnknown with the input as the hint.
func TranslateError(body string) *model.PublishError {
	normalized := strings.ToLower(body)
	for _, rule := range errorRules {
		for _, signal := range rule.signals {
			if strings.Contains(normalized, signal) {
				return model.NewPublishError(rule.kind, signal, rule.hint)
			}
		}
	}
	return model.NewPublishError(model.ErrUnknown, "", body)
}
