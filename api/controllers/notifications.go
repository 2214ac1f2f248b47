package controllers

import (
	"net/http"

	"github.com/selimbenhamida/revend-backend/api/middleware"
	"github.com/selimbenhamida/revend-backend/api/responses"
	"github.com/selimbenhamida/revend-backend/api/validators"
	"github.com/selimbenhamida/revend-backend/internal/notifications"
	"github.com/selimbenhamida/revend-backend/pkg/logger"
	"github.com/selimbenhamida/revend-backend/pkg/pagination"
)

type broadcastPromotionRequest struct {
	Title   string `json:"title" validate:"required,max=120"`
	Message string `json:"message" validate:"required,max=2000"`
}

// ListNotifications pages through the caller's notifications, newest first.
func ListNotifications(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userID := middleware.UserIDFromContext(r.Context())
		page, err := svc.List(r.Context(), notifications.ListParams{
			UserID:     userID,
			Limit:      limit,
			Cursor:     r.URL.Query().Get("cursor"),
			UnreadOnly: validators.ParseQueryBool(r, "unread"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// MarkNotificationRead flags one notification as read. Re-reading is a no-op.
func MarkNotificationRead(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		notificationID, err := validators.PathUUID(r, "notificationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userID := middleware.UserIDFromContext(r.Context())
		if err := svc.MarkRead(r.Context(), userID, notificationID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

// MarkAllNotificationsRead flags every unread notification for the caller.
func MarkAllNotificationsRead(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		updated, err := svc.MarkAllRead(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int64{"updated": updated})
	}
}

// BroadcastPromotion fans a promotional message out to every known customer.
func BroadcastPromotion(dispatcher notifications.Dispatcher, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req broadcastPromotionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		delivered, err := dispatcher.NotifyPromotion(r.Context(), req.Title, req.Message)
		if err != nil && delivered == 0 {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		// Partial failure still reports what went out.
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]int{"delivered": delivered})
	}
}
