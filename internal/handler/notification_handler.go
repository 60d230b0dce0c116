package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/chapterhub/internal/middleware"
	"github.com/hitoshi/chapterhub/internal/model"
	"github.com/hitoshi/chapterhub/internal/notification"
)

// NotificationServiceInterface は通知ハンドラーが必要とするサービスインターフェース。
type NotificationServiceInterface interface {
	List(ctx context.Context, token string, limit int) ([]*model.Notification, error)
	MarkRead(ctx context.Context, token, notificationID string) error
}

// NotificationHandler は通知のHTTPハンドラー。
type NotificationHandler struct {
	service NotificationServiceInterface
}

// NewNotificationHandler はNotificationHandlerを生成する。
func NewNotificationHandler(service NotificationServiceInterface) *NotificationHandler {
	return &NotificationHandler{service: service}
}

// List は通知を新しい順で返す。
// GET /api/notifications?limit=50
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", notification.DefaultLimit)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	notifications, err := h.service.List(r.Context(), tokenOf(r), limit)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	out := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		out = append(out, toNotificationResponse(n))
	}
	writeJSON(w, http.StatusOK, out)
}

// MarkRead は通知を既読にする。
// POST /api/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.service.MarkRead(r.Context(), tokenOf(r), chi.URLParam(r, "id")); err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeNoContent(w)
}
