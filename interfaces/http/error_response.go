package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tiktok-publisher/domain/model"
	"tiktok-publisher/infrastructure/logger"
)

// StatusFor maps a usecase error to the HTTP status returned to the caller.
func StatusFor(err error) int {
	var pe *model.PublishError
	if !errors.As(err, &pe) {
		return http.StatusInternalServerError
	}
	switch pe.Kind {
	case model.ErrAccountNotFound:
		return http.StatusNotFound
	case model.ErrQueueUnavailable:
		return http.StatusServiceUnavailable
	case model.ErrIntentConflict:
		return http.StatusConflict
	case model.ErrReauthRequired, model.ErrInsufficientScopes, model.ErrClientRequest,
		model.ErrPolicyBlocked, model.ErrEmptyMedia, model.ErrAuthExchangeFailed,
		model.ErrInvalidSchedule, model.ErrInvalidState:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func writeError(ctx *gin.Context, err error) {
	status := StatusFor(err)
	body := gin.H{"error": err.Error()}

	var pe *model.PublishError
	if errors.As(err, &pe) {
		body["kind"] = pe.Kind
		if pe.Code != "" {
			body["code"] = pe.Code
		}
		if pe.Hint != "" {
			body["hint"] = pe.Hint
		}
		if len(pe.Missing) > 0 {
			body["missing"] = pe.Missing
		}
	}

	entry := logger.GetLogger().WithField("path", ctx.FullPath()).WithField("status", status).WithField("error", err)
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Warn("Request rejected")
	}
	ctx.JSON(status, body)
}

func userID(ctx *gin.Context) (string, bool) {
	id := ctx.GetString("user_id")
	if id == "" {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized: missing user_id"})
		return "", false
	}
	return id, true
}
