package realtime

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"tiktok-publisher/domain/model"
)

// IntentStatusEvent is the SSE payload for publish intent transitions.
type IntentStatusEvent struct {
	Type           string  `json:"type"`
	IdempotencyKey string  `json:"idempotency_key"`
	OpenID         string  `json:"open_id"`
	Status         string  `json:"status"`
	PublishID      *string `json:"publish_id,omitempty"`
	Error          *string `json:"error,omitempty"`
}

// Hub maintains per-user subscribers listening for intent events.
type Hub struct {
	mu    sync.RWMutex
	users map[string]map[chan IntentStatusEvent]struct{}
}

func NewIntentHub() *Hub {
	return &Hub{users: make(map[string]map[chan IntentStatusEvent]struct{})}
}

// Serve registers an SSE stream for the authenticated user (user_id set by middleware).
func (h *Hub) Serve(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // disable nginx buffering

	ch := make(chan IntentStatusEvent, 8)
	h.addSubscriber(userID, ch)
	defer h.removeSubscriber(userID, ch)

	_, _ = c.Writer.Write([]byte(":ok\n\n"))
	c.Writer.Flush()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case evt := <-ch:
			c.SSEvent(evt.Type, evt)
			c.Writer.Flush()
		}
	}
}

func (h *Hub) addSubscriber(userID string, ch chan IntentStatusEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.users[userID] == nil {
		h.users[userID] = make(map[chan IntentStatusEvent]struct{})
	}
	h.users[userID][ch] = struct{}{}
}

func (h *Hub) removeSubscriber(userID string, ch chan IntentStatusEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs := h.users[userID]; subs != nil {
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(h.users, userID)
		}
	}
}

// Subscribers reports how many streams the user has open.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// PublishIntentEvent broadcasts to every stream of the intent's owner without
// blocking on slow readers.
func (h *Hub) PublishIntentEvent(_ context.Context, intent *model.IntentAudit) {
	if intent == nil {
		return
	}
	evt := IntentStatusEvent{
		Type:           "intent_status",
		IdempotencyKey: intent.IdempotencyKey,
		OpenID:         intent.OpenID,
		Status:         string(intent.Status),
		PublishID:      intent.PublishID,
		Error:          intent.Error,
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.users[intent.UserID] {
		select {
		case ch <- evt:
		default:
		}
	}
}
