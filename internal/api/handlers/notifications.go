package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"carebase/internal/core"
	"carebase/internal/db"
	"carebase/internal/types"
)

// NotificationRepo defines the data access contract for the in-app
// notification feed.
type NotificationRepo interface {
	List(ctx context.Context, orgID string, params db.ListNotificationsParams) ([]*types.Notification, types.PageInfo, error)
	MarkRead(ctx context.Context, id string, orgID string) error
	MarkAllRead(ctx context.Context, orgID string) (int, error)
	CountUnread(ctx context.Context, orgID string) (int, error)
}

// NotificationHandler serves the in-app notification feed.
type NotificationHandler struct {
	repo   NotificationRepo
	logger *slog.Logger
}

// NewNotificationHandler creates a NotificationHandler.
func NewNotificationHandler(repo NotificationRepo, l *slog.Logger) *NotificationHandler {
	if l == nil {
		l = slog.Default()
	}
	return &NotificationHandler{repo: repo, logger: l}
}

// Routes returns the route registrar for the notification endpoints. All
// staff roles may read and acknowledge notifications.
func (h *NotificationHandler) Routes() func(r chi.Router) {
	return func(r chi.Router) {
		r.Get("/notifications", h.List)
		r.Get("/notifications/unread-count", h.UnreadCount)
		r.Post("/notifications/{id}/read", h.MarkRead)
		r.Post("/notifications/read-all", h.MarkAllRead)
	}
}

// List handles GET /v1/notifications with optional unread_only and level
// filters.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	params := db.ListNotificationsParams{
		UnreadOnly: r.URL.Query().Get("unread_only") == "true",
		Limit:      limit,
		Cursor:     r.URL.Query().Get("cursor"),
	}

	if levelStr := r.URL.Query().Get("level"); levelStr != "" {
		level := types.NotificationLevel(levelStr)
		switch level {
		case types.LevelInfo, types.LevelWarning, types.LevelCritical:
			params.Level = level
		default:
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationInvalidField,
				"level must be one of: info, warning, critical",
				nil,
			))
			return
		}
	}

	notifications, pageInfo, err := h.repo.List(r.Context(), orgID, params)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: notifications, Meta: listMeta(pageInfo)})
}

// UnreadCount handles GET /v1/notifications/unread-count. Polled by the
// dashboard badge.
func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	count, err := h.repo.CountUnread(r.Context(), orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]int{"unread": count}})
}

// MarkRead handles POST /v1/notifications/{id}/read. Marking an already-read
// notification is a no-op, not an error.
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	if err := h.repo.MarkRead(r.Context(), chi.URLParam(r, "id"), orgID); err != nil {
		core.Error(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// MarkAllRead handles POST /v1/notifications/read-all and reports how many
// notifications were affected.
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	affected, err := h.repo.MarkAllRead(r.Context(), orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]int{"marked_read": affected}})
}
