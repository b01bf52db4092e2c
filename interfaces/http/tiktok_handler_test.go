package http_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tiktok-publisher/domain/dto"
	"tiktok-publisher/domain/model"
	handler "tiktok-publisher/interfaces/http"
)

type fixture struct {
	accounts *MockAccountUsecase
	posting  *MockPostingUsecase
	schedule *MockScheduleUsecase
	history  *MockHistory
	router   *gin.Engine
}

func newFixture(withHistory bool) *fixture {
	gin.SetMode(gin.TestMode)
	f := &fixture{
		accounts: new(MockAccountUsecase),
		posting:  new(MockPostingUsecase),
		schedule: new(MockScheduleUsecase),
		history:  new(MockHistory),
	}
	var history handler.IntentHistory
	if withHistory {
		history = f.history
	}
	h := handler.NewTikTokHandler(f.accounts, f.posting, f.schedule, history)

	f.router = gin.New()
	api := f.router.Group("/api", func(c *gin.Context) {
		if id := c.GetHeader("x-user-id"); id != "" {
			c.Set("user_id", id)
		}
	})
	tiktok := api.Group("/integrations/social/tiktok")
	tiktok.GET("", h.Start)
	tiktok.POST("/connect", h.Connect)
	tiktok.GET("/accounts", h.ListAccounts)
	tiktok.GET("/posts", h.ListPosts)
	tiktok.GET("/posts/:key/history", h.History)
	tiktok.DELETE("/:openId/disconnect", h.Disconnect)
	tiktok.POST("/:openId/post", h.Post)
	tiktok.GET("/:openId/post/status/:publishId", h.PostStatus)
	tiktok.GET("/:openId/posts", h.ListPosts)
	tiktok.POST("/:openId/schedule", h.Schedule)
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-user-id", "u1")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

const postBody = `{"caption":"hi","media":[{"type":"video","url":"https://cdn.example.com/a.mp4"}]}`

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestStart_ReturnsAuthorizeURL(t *testing.T) {
	f := newFixture(false)
	f.accounts.On("Start", mock.Anything, "u1").Return("https://www.tiktok.com/v2/auth/authorize/?state=abc", nil)

	w := f.do(http.MethodGet, "/api/integrations/social/tiktok", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://www.tiktok.com/v2/auth/authorize/?state=abc", decode(t, w)["url"])
}

func TestStart_RequiresUser(t *testing.T) {
	f := newFixture(false)
	req := httptest.NewRequest(http.MethodGet, "/api/integrations/social/tiktok", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	f.accounts.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)
}

func TestConnect_InvalidStateIsBadRequest(t *testing.T) {
	f := newFixture(false)
	f.accounts.On("Connect", mock.Anything, "u1", dto.ConnectRequest{Code: "c", State: "s"}).
		Return(nil, model.NewPublishError(model.ErrInvalidState, "invalid-state", "Invalid or expired state"))

	w := f.do(http.MethodPost, "/api/integrations/social/tiktok/connect", `{"code":"c","state":"s"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, "invalid_state", body["kind"])
	assert.Equal(t, "invalid-state", body["code"])
}

func TestConnect_MissingFields(t *testing.T) {
	f := newFixture(false)
	w := f.do(http.MethodPost, "/api/integrations/social/tiktok/connect", `{"code":"c"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConnect_Success(t *testing.T) {
	f := newFixture(false)
	f.accounts.On("Connect", mock.Anything, "u1", mock.Anything).Return(&model.Account{UserID: "u1", OpenID: "open1"}, nil)

	w := f.do(http.MethodPost, "/api/integrations/social/tiktok/connect", `{"code":"c","state":"s"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["success"])
}

func TestListAccounts_EmptyIsArray(t *testing.T) {
	f := newFixture(false)
	f.accounts.On("ListAccounts", mock.Anything, "u1").Return(nil, nil)

	w := f.do(http.MethodGet, "/api/integrations/social/tiktok/accounts", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())
}

func TestDisconnect(t *testing.T) {
	f := newFixture(false)
	f.accounts.On("Disconnect", mock.Anything, "u1", "open1").Return(true, nil)

	w := f.do(http.MethodDelete, "/api/integrations/social/tiktok/open1/disconnect", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"deleted":true}`, w.Body.String())
}

func TestPost_Sync(t *testing.T) {
	f := newFixture(false)
	f.posting.On("Post", mock.Anything, "u1", "open1", mock.AnythingOfType("model.PostRequest")).
		Return(&model.PublishResult{Status: model.ResultSuccess, PostID: "p1", PublishID: "pub1", ReleaseURL: "https://www.tiktok.com/@me/video/p1"}, nil)

	w := f.do(http.MethodPost, "/api/integrations/social/tiktok/open1/post", postBody)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"postId":"p1","releaseUrl":"https://www.tiktok.com/@me/video/p1","status":"success"}`, w.Body.String())
	f.posting.AssertNotCalled(t, "PostAsync", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPost_Async(t *testing.T) {
	for _, flag := range []string{"1", "true", "TRUE"} {
		f := newFixture(false)
		f.posting.On("PostAsync", mock.Anything, "u1", "open1", mock.Anything).Return("pub-9", nil)

		w := f.do(http.MethodPost, "/api/integrations/social/tiktok/open1/post?async="+flag, postBody)

		assert.Equal(t, http.StatusOK, w.Code, flag)
		assert.JSONEq(t, `{"accepted":true,"publishId":"pub-9","status":"processing"}`, w.Body.String())
	}
}

func TestPost_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{model.InsufficientScopes([]string{"video.publish"}), http.StatusBadRequest},
		{model.NewPublishError(model.ErrReauthRequired, "access_token_invalid", "Reconnect"), http.StatusBadRequest},
		{model.NewPublishError(model.ErrAccountNotFound, "account-not-found", "TikTok account not found"), http.StatusNotFound},
		{model.NewPublishError(model.ErrPlatformTransient, "rate_limit_exceeded", "Try later"), http.StatusBadGateway},
		{model.PollingTimeout("pub1", 30), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		f := newFixture(false)
		f.posting.On("Post", mock.Anything, "u1", "open1", mock.Anything).Return(nil, tc.err)

		w := f.do(http.MethodPost, "/api/integrations/social/tiktok/open1/post", postBody)
		assert.Equal(t, tc.status, w.Code, tc.err.Error())
	}
}

func TestPost_MissingScopesListed(t *testing.T) {
	f := newFixture(false)
	f.posting.On("Post", mock.Anything, "u1", "open1", mock.Anything).Return(nil, model.InsufficientScopes([]string{"video.publish"}))

	w := f.do(http.MethodPost, "/api/integrations/social/tiktok/open1/post", postBody)

	body := decode(t, w)
	assert.Equal(t, []interface{}{"video.publish"}, body["missing"])
	assert.Equal(t, "insufficient_scopes", body["kind"])
}

func TestPost_EmptyMediaRejectedByBinding(t *testing.T) {
	f := newFixture(false)
	w := f.do(http.MethodPost, "/api/integrations/social/tiktok/open1/post", `{"caption":"x","media":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	f.posting.AssertNotCalled(t, "Post", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPostStatus(t *testing.T) {
	f := newFixture(false)
	f.posting.On("FetchStatus", mock.Anything, "u1", "open1", "pub1").Return(&model.PublishResult{Status: model.ResultProcessing, PublishID: "pub1"}, nil)

	w := f.do(http.MethodGet, "/api/integrations/social/tiktok/open1/post/status/pub1", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "processing", decode(t, w)["status"])
}

func TestListPosts_AllAndPerAccount(t *testing.T) {
	f := newFixture(false)
	f.schedule.On("ListIntents", mock.Anything, "u1", (*string)(nil)).Return([]*model.PublishIntent{{IdempotencyKey: "k1"}}, nil)
	f.schedule.On("ListIntents", mock.Anything, "u1", mock.MatchedBy(func(id *string) bool { return id != nil && *id == "open1" })).
		Return(nil, nil)

	w := f.do(http.MethodGet, "/api/integrations/social/tiktok/posts", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"idempotency_key":"k1"`)

	w = f.do(http.MethodGet, "/api/integrations/social/tiktok/open1/posts", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())
}

func TestSchedule(t *testing.T) {
	f := newFixture(false)
	f.schedule.On("ScheduleAt", mock.Anything, "u1", "open1", mock.AnythingOfType("model.PostRequest"), "2030-01-01T10:00:00Z", "key-1").
		Return(&model.ScheduleHandle{Scheduled: true, RunAt: "2030-01-01T10:00:00Z", JobKey: "key-1"}, nil)

	w := f.do(http.MethodPost, "/api/integrations/social/tiktok/open1/schedule",
		`{"publishAt":"2030-01-01T10:00:00Z","idempotencyKey":"key-1","post":`+postBody+`}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"scheduled":true,"runAt":"2030-01-01T10:00:00Z","jobKey":"key-1"}`, w.Body.String())
}

func TestSchedule_QueueUnavailable(t *testing.T) {
	f := newFixture(false)
	f.schedule.On("ScheduleAt", mock.Anything, "u1", "open1", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, model.NewPublishError(model.ErrQueueUnavailable, "queue-unavailable", "Scheduling is not available"))

	w := f.do(http.MethodPost, "/api/integrations/social/tiktok/open1/schedule",
		`{"publishAt":"2030-01-01T10:00:00Z","idempotencyKey":"key-1","post":`+postBody+`}`)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHistory(t *testing.T) {
	f := newFixture(true)
	f.history.On("History", mock.Anything, "u1", "key-1").Return([]model.IntentAudit{{IdempotencyKey: "key-1", Status: model.IntentPublished}}, nil)

	w := f.do(http.MethodGet, "/api/integrations/social/tiktok/posts/key-1/history", "")

	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "key-1", body["idempotencyKey"])
	assert.Len(t, body["events"], 1)
}

func TestHistory_NotConfigured(t *testing.T) {
	f := newFixture(false)
	w := f.do(http.MethodGet, "/api/integrations/social/tiktok/posts/key-1/history", "")
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestSchedule_IdempotencyKeyInUse(t *testing.T) {
	f := newFixture(false)
	f.schedule.On("ScheduleAt", mock.Anything, "u1", "open1", mock.Anything, mock.Anything, "key-1").
		Return(nil, model.NewPublishError(model.ErrIntentConflict, "idempotency-key-in-use", "idempotencyKey is in use"))

	w := f.do(http.MethodPost, "/api/integrations/social/tiktok/open1/schedule",
		`{"publishAt":"2030-01-01T10:00:00Z","idempotencyKey":"key-1","post":`+postBody+`}`)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "idempotency-key-in-use", decode(t, w)["code"])
}
