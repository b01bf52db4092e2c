package tiktok

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"tiktok-publisher/domain/dto"
	"tiktok-publisher/domain/model"
	"tiktok-publisher/domain/repository"
	"tiktok-publisher/infrastructure/logger"
)

const (
	AuthURL  = "https://www.tiktok.com/v2/auth/authorize/"
	TokenURL = "https://open.tiktokapis.com/v2/oauth/token/"
	APIBase  = "https://open.tiktokapis.com"

	userInfoPath      = "/v2/user/info/"
	publishStatusPath = "/v2/post/publish/status/fetch/"
	userInfoFields    = "open_id,display_name,avatar_url,username,union_id"

	maxResponseBodyBytes = 1 << 20
)

// Endpoint is the TikTok OAuth endpoint. TikTok names the client id
// "client_key", so requests are built by hand rather than with oauth2.Config.
var Endpoint = oauth2.Endpoint{
	AuthURL:   AuthURL,
	TokenURL:  TokenURL,
	AuthStyle: oauth2.AuthStyleInParams,
}

// Client talks to the TikTok Open API.
type Client struct {
	httpClient   *http.Client
	clientKey    string
	clientSecret string
	redirectURI  string
	endpoint     oauth2.Endpoint
	apiBase      string
}

type ClientConfig struct {
	ClientKey    string
	ClientSecret string
	RedirectURI  string
	// APIBase and TokenURL override the production hosts (tests).
	APIBase  string
	TokenURL string
}

func NewClient(httpClient *http.Client, cfg ClientConfig) repository.ITikTokClient {
	if httpClient == nil {
		httpClient = &http.Client{Transport: NewRetryTransport(nil)}
	}
	endpoint := Endpoint
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	base := APIBase
	if cfg.APIBase != "" {
		base = strings.TrimRight(cfg.APIBase, "/")
	}
	return &Client{
		httpClient:   httpClient,
		clientKey:    cfg.ClientKey,
		clientSecret: cfg.ClientSecret,
		redirectURI:  cfg.RedirectURI,
		endpoint:     endpoint,
		apiBase:      base,
	}
}

type tokenPayload struct {
	AccessToken      string          `json:"access_token"`
	RefreshToken     string          `json:"refresh_token"`
	ExpiresIn        *int64          `json:"expires_in"`
	RefreshExpiresIn *int64          `json:"refresh_expires_in"`
	Scope            json.RawMessage `json:"scope"`
	OpenID           string          `json:"open_id"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
	Message          string          `json:"message"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	LogID   string `json:"log_id"`
}

func (c *Client) ExchangeCode(ctx context.Context, code, codeVerifier string) (*dto.TokenBundle, error) {
	form := url.Values{}
	form.Set("client_key", c.clientKey)
	form.Set("client_secret", c.clientSecret)
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", c.redirectURI)
	form.Set("code_verifier", codeVerifier)

	payload, raw, err := c.fetchToken(ctx, form)
	if err != nil {
		return nil, model.WrapPublishError(model.ErrAuthExchangeFailed, "TikTok token exchange failed", err)
	}
	if payload.AccessToken == "" {
		hint := firstNonEmpty(payload.ErrorDescription, payload.Message, payload.Error, "TikTok did not return an access token")
		return nil, &model.PublishError{Kind: model.ErrAuthExchangeFailed, Code: payload.Error, Hint: hint, Err: fmt.Errorf("token response: %s", raw)}
	}
	return toBundle(payload, ""), nil
}

func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*dto.TokenBundle, error) {
	form := url.Values{}
	form.Set("client_key", c.clientKey)
	form.Set("client_secret", c.clientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	payload, _, err := c.fetchToken(ctx, form)
	if err != nil {
		return nil, model.WrapPublishError(model.ErrReauthRequired, "Unable to refresh TikTok token", err)
	}
	if payload.AccessToken == "" {
		hint := firstNonEmpty(payload.ErrorDescription, payload.Message, "TikTok refresh did not return an access token")
		return nil, &model.PublishError{Kind: model.ErrReauthRequired, Code: payload.Error, Hint: hint}
	}
	return toBundle(payload, refreshToken), nil
}

func (c *Client) fetchToken(ctx context.Context, form url.Values) (*tokenPayload, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read token response: %w", err)
	}

	payload := &tokenPayload{}
	// Some deployments wrap the token fields in "data".
	var envelope struct {
		Data *tokenPayload `json:"data"`
	}
	if jsonErr := json.Unmarshal(body, &envelope); jsonErr == nil && envelope.Data != nil && envelope.Data.AccessToken != "" {
		payload = envelope.Data
	} else if jsonErr := json.Unmarshal(body, payload); jsonErr != nil {
		return nil, string(body), fmt.Errorf("decode token response (http %d): %w", resp.StatusCode, jsonErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, string(body), fmt.Errorf("token endpoint http %d: %s", resp.StatusCode, firstNonEmpty(payload.ErrorDescription, payload.Message, payload.Error, string(body)))
	}
	return payload, string(body), nil
}

func toBundle(p *tokenPayload, previousRefresh string) *dto.TokenBundle {
	b := &dto.TokenBundle{
		AccessToken:      p.AccessToken,
		ExpiresIn:        p.ExpiresIn,
		RefreshExpiresIn: p.RefreshExpiresIn,
		Scopes:           parseScopes(p.Scope),
	}
	switch {
	case p.RefreshToken != "":
		rt := p.RefreshToken
		b.RefreshToken = &rt
	case previousRefresh != "":
		b.RefreshToken = &previousRefresh
	}
	if p.OpenID != "" {
		id := model.NormalizeOpenID(p.OpenID)
		b.OpenID = &id
	}
	return b
}

// parseScopes accepts a comma/space separated string or a JSON array.
func parseScopes(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return model.SplitScopes(strings.Join(list, ","))
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return model.SplitScopes(s)
	}
	return nil
}

func (c *Client) FetchUserInfo(ctx context.Context, accessToken string) (*dto.UserInfo, error) {
	q := url.Values{}
	q.Set("fields", userInfoFields)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+userInfoPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	status, body, err := c.do(req)
	if err != nil {
		return nil, model.WrapPublishError(model.ErrReauthRequired, "Unable to fetch TikTok user profile", err)
	}
	var payload struct {
		Data struct {
			User *struct {
				OpenID      string `json:"open_id"`
				DisplayName string `json:"display_name"`
				Username    string `json:"username"`
				AvatarURL   string `json:"avatar_url"`
			} `json:"user"`
		} `json:"data"`
		Error   apiError `json:"error"`
		Message string   `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || !is2xx(status) || payload.Data.User == nil {
		hint := firstNonEmpty(payload.Message, payload.Error.Message, "Unable to fetch TikTok user profile")
		return nil, &model.PublishError{Kind: model.ErrReauthRequired, Code: payload.Error.Code, Hint: hint}
	}
	u := payload.Data.User
	return &dto.UserInfo{
		OpenID:      model.NormalizeOpenID(u.OpenID),
		DisplayName: optional(u.DisplayName),
		Username:    optional(u.Username),
		AvatarURL:   optional(u.AvatarURL),
	}, nil
}

func (c *Client) InitPublish(ctx context.Context, accessToken, endpointPath string, body dto.PublishInitBody) (string, error) {
	status, raw, err := c.postJSON(ctx, accessToken, endpointPath, body)
	if err != nil {
		return "", model.WrapPublishError(model.ErrPlatformTransient, "TikTok publish request failed", err)
	}
	var payload struct {
		Data struct {
			PublishID json.Number `json:"publish_id"`
		} `json:"data"`
	}
	_ = json.Unmarshal(raw, &payload)
	if !is2xx(status) || payload.Data.PublishID == "" {
		return "", translateResponse(raw, "Failed to start TikTok publish flow")
	}
	return payload.Data.PublishID.String(), nil
}

func (c *Client) FetchPublishStatus(ctx context.Context, accessToken, publishID string) (*dto.StatusSnapshot, error) {
	status, raw, err := c.postJSON(ctx, accessToken, publishStatusPath, map[string]string{"publish_id": publishID})
	if err != nil {
		return nil, model.WrapPublishError(model.ErrPlatformTransient, "TikTok status request failed", err)
	}
	logger.GetLogger().WithFields(map[string]interface{}{
		"publishId": publishID,
		"http":      status,
		"body":      string(raw),
	}).Debug("tiktok publish status response")

	var payload struct {
		Data *struct {
			Status                   string            `json:"status"`
			FailReason               string            `json:"fail_reason"`
			PubliclyAvailablePostID  []json.RawMessage `json:"publicly_available_post_id"`
			PublicalyAvailablePostID []json.RawMessage `json:"publicaly_available_post_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || !is2xx(status) || payload.Data == nil || payload.Data.Status == "" {
		return nil, translateResponse(raw, "Failed to retrieve TikTok publish status")
	}

	snap := &dto.StatusSnapshot{Status: payload.Data.Status}
	if id := firstPostID(payload.Data.PubliclyAvailablePostID); id != "" {
		snap.PostID = &id
	} else if id := firstPostID(payload.Data.PublicalyAvailablePostID); id != "" {
		snap.PostID = &id
	}
	if snap.Status == dto.PlatformStatusFailed {
		snap.RawError = string(raw)
		snap.Failure = failedPublishError(raw, payload.Data.FailReason)
	}
	return snap, nil
}

// failedPublishError classifies a FAILED status. Reasons the translator does
// not know are treated as a rejected request.
func failedPublishError(raw []byte, reason string) *model.PublishError {
	perr := TranslateError(string(raw))
	if perr.Kind != model.ErrUnknown {
		return perr
	}
	code := reason
	if code == "" {
		code = "tiktok-post-failed"
	}
	return model.NewPublishError(model.ErrClientRequest, code, firstNonEmpty(extractErrorMessage(raw), "TikTok marked the publish as failed"))
}

func (c *Client) postJSON(ctx context.Context, accessToken, path string, body interface{}) (int, []byte, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+path, bytes.NewReader(encoded))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return c.do(req)
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// translateResponse classifies an error body. Unknown errors surface the
// platform's own message, else the raw body.
func translateResponse(raw []byte, fallback string) *model.PublishError {
	serialized := strings.TrimSpace(string(raw))
	if serialized == "" {
		serialized = "{}"
	}
	perr := TranslateError(serialized)
	if perr.Kind == model.ErrUnknown {
		if msg := extractErrorMessage(raw); msg != "" {
			perr.Hint = msg
		} else if serialized == "{}" {
			perr.Hint = fallback
		}
	}
	return perr
}

func extractErrorMessage(raw []byte) string {
	var payload struct {
		Message     string    `json:"message"`
		Description string    `json:"description"`
		Error       *apiError `json:"error"`
		Errors      []struct {
			Message string `json:"message"`
		} `json:"errors"`
		Data struct {
			Error *apiError `json:"error"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	switch {
	case strings.TrimSpace(payload.Message) != "":
		return payload.Message
	case payload.Error != nil && payload.Error.Message != "":
		return payload.Error.Message
	case len(payload.Errors) > 0 && payload.Errors[0].Message != "":
		return payload.Errors[0].Message
	case payload.Data.Error != nil && payload.Data.Error.Message != "":
		return payload.Data.Error.Message
	case strings.TrimSpace(payload.Description) != "":
		return payload.Description
	}
	return ""
}

func firstPostID(ids []json.RawMessage) string {
	if len(ids) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(ids[0], &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(ids[0], &n); err == nil {
		return n.String()
	}
	return ""
}

func is2xx(status int) bool { return status >= 200 && status <= 299 }

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
