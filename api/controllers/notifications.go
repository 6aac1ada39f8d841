package controllers

import (
	"net/http"

	"github.com/angelmondragon/lackmarkt-backend/api/middleware"
	"github.com/angelmondragon/lackmarkt-backend/api/responses"
	"github.com/angelmondragon/lackmarkt-backend/api/validators"
	"github.com/angelmondragon/lackmarkt-backend/internal/notifications"
	"github.com/angelmondragon/lackmarkt-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/lackmarkt-backend/pkg/errors"
	"github.com/angelmondragon/lackmarkt-backend/pkg/logger"
	"github.com/angelmondragon/lackmarkt-backend/pkg/pagination"
)

// inbox wraps a notifications action with the identity check every inbox
// route shares. The caller only ever sees their own notifications.
func inbox(svc notifications.Service, logg *logger.Logger, action func(*http.Request, auth.Identity) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notifications service unavailable"))
			return
		}
		actor, err := middleware.RequireIdentity(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out, err := action(r, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, out)
	}
}

// ListNotifications pages through the caller's inbox, newest first,
// optionally narrowed to unread rows or one type.
func ListNotifications(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return inbox(svc, logg, func(r *http.Request, actor auth.Identity) (any, error) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			return nil, err
		}
		unread, err := validators.ParseQueryBool(r, "unreadOnly")
		if err != nil {
			return nil, err
		}
		return svc.List(r.Context(), notifications.ListParams{
			UserID:     actor.UserID,
			Limit:      limit,
			Cursor:     validators.ParseQueryString(r, "cursor"),
			UnreadOnly: unread,
			Type:       validators.ParseQueryString(r, "type"),
		})
	})
}

func MarkNotificationRead(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return inbox(svc, logg, func(r *http.Request, actor auth.Identity) (any, error) {
		id, err := validators.ParseUUIDParam(r, "notificationId")
		if err != nil {
			return nil, err
		}
		if err := svc.MarkRead(r.Context(), actor.UserID, id); err != nil {
			return nil, err
		}
		return map[string]bool{"read": true}, nil
	})
}

func MarkAllNotificationsRead(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return inbox(svc, logg, func(r *http.Request, actor auth.Identity) (any, error) {
		n, err := svc.MarkAllRead(r.Context(), actor.UserID)
		if err != nil {
			return nil, err
		}
		return map[string]int64{"updated": n}, nil
	})
}
