package http

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"tiktok-publisher/domain/dto"
	"tiktok-publisher/domain/model"
	"tiktok-publisher/usecase"
)

var asyncFlag = regexp.MustCompile(`(?i)^(1|true)$`)

// IntentHistory returns the audit trail of one intent.
type IntentHistory interface {
	History(ctx context.Context, userID, idempotencyKey string) ([]model.IntentAudit, error)
}

type ITikTokHandler interface {
	Start(ctx *gin.Context)
	Connect(ctx *gin.Context)
	ListAccounts(ctx *gin.Context)
	Disconnect(ctx *gin.Context)
	Post(ctx *gin.Context)
	PostStatus(ctx *gin.Context)
	ListPosts(ctx *gin.Context)
	Schedule(ctx *gin.Context)
	History(ctx *gin.Context)
}

type TikTokHandler struct {
	accounts usecase.IAccountUsecase
	posting  usecase.IPostingUsecase
	schedule usecase.IScheduleUsecase
	history  IntentHistory
}

// NewTikTokHandler wires the TikTok routes. history may be nil when no audit
// store is configured.
func NewTikTokHandler(accounts usecase.IAccountUsecase, posting usecase.IPostingUsecase, schedule usecase.IScheduleUsecase, history IntentHistory) ITikTokHandler {
	return &TikTokHandler{accounts: accounts, posting: posting, schedule: schedule, history: history}
}

func (h *TikTokHandler) Start(ctx *gin.Context) {
	uid, ok := userID(ctx)
	if !ok {
		return
	}
	url, err := h.accounts.Start(ctx.Request.Context(), uid)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *TikTokHandler) Connect(ctx *gin.Context) {
	uid, ok := userID(ctx)
	if !ok {
		return
	}
	var req dto.ConnectRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	account, err := h.accounts.Connect(ctx.Request.Context(), uid, req)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true, "account": account})
}

func (h *TikTokHandler) ListAccounts(ctx *gin.Context) {
	uid, ok := userID(ctx)
	if !ok {
		return
	}
	accounts, err := h.accounts.ListAccounts(ctx.Request.Context(), uid)
	if err != nil {
		writeError(ctx, err)
		return
	}
	if accounts == nil {
		accounts = []*model.Account{}
	}
	ctx.JSON(http.StatusOK, accounts)
}

func (h *TikTokHandler) Disconnect(ctx *gin.Context) {
	uid, ok := userID(ctx)
	if !ok {
		return
	}
	deleted, err := h.accounts.Disconnect(ctx.Request.Context(), uid, strings.TrimSpace(ctx.Param("openId")))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true, "deleted": deleted})
}

func (h *TikTokHandler) Post(ctx *gin.Context) {
	uid, ok := userID(ctx)
	if !ok {
		return
	}
	var req model.PostRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	openID := ctx.Param("openId")

	if asyncFlag.MatchString(strings.TrimSpace(ctx.Query("async"))) {
		publishID, err := h.posting.PostAsync(ctx.Request.Context(), uid, openID, req)
		if err != nil {
			writeError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"accepted": true, "publishId": publishID, "status": model.ResultProcessing})
		return
	}

	result, err := h.posting.Post(ctx.Request.Context(), uid, openID, req)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":    true,
		"postId":     result.PostID,
		"releaseUrl": result.ReleaseURL,
		"status":     result.Status,
	})
}

func (h *TikTokHandler) PostStatus(ctx *gin.Context) {
	uid, ok := userID(ctx)
	if !ok {
		return
	}
	result, err := h.posting.FetchStatus(ctx.Request.Context(), uid, ctx.Param("openId"), ctx.Param("publishId"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// ListPosts serves both the per-account and the all-accounts listing.
func (h *TikTokHandler) ListPosts(ctx *gin.Context) {
	uid, ok := userID(ctx)
	if !ok {
		return
	}
	var openID *string
	if id := strings.TrimSpace(ctx.Param("openId")); id != "" {
		openID = &id
	}
	intents, err := h.schedule.ListIntents(ctx.Request.Context(), uid, openID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	if intents == nil {
		intents = []*model.PublishIntent{}
	}
	ctx.JSON(http.StatusOK, intents)
}

func (h *TikTokHandler) Schedule(ctx *gin.Context) {
	uid, ok := userID(ctx)
	if !ok {
		return
	}
	var req dto.ScheduleRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	handle, err := h.schedule.ScheduleAt(ctx.Request.Context(), uid, strings.TrimSpace(ctx.Param("openId")), req.Post, req.PublishAt, req.IdempotencyKey)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, handle)
}

func (h *TikTokHandler) History(ctx *gin.Context) {
	uid, ok := userID(ctx)
	if !ok {
		return
	}
	if h.history == nil {
		ctx.JSON(http.StatusNotImplemented, gin.H{"error": "intent audit store not configured"})
		return
	}
	events, err := h.history.History(ctx.Request.Context(), uid, ctx.Param("key"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	if events == nil {
		events = []model.IntentAudit{}
	}
	ctx.JSON(http.StatusOK, gin.H{"idempotencyKey": ctx.Param("key"), "events": events})
}
