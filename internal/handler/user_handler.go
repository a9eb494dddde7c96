package handler

import (
	"errors"
	"net/http"

	"relaychat/internal/app/db"
	"relaychat/internal/pkg/auth/jwt"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/resp"
)

// HandleGetUserProfile returns the authenticated account and whether it currently holds a live session.
func HandleGetUserProfile(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)
		if identity == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		userID, err := identity.UserID()
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		record, err := deps.Store.FindUserByID(r.Context(), userID)
		if err != nil {
			if errors.Is(err, db.ErrUserNotFound) {
				logx.Warn("get_user_profile: user not found", "id", userID)
				resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
				return
			}
			logx.Error(err, "get_user_profile: lookup failed", "id", userID)
			resp.RespondError(w, r, errs.NewError(errs.ErrStorageFailed))
			return
		}

		view := userView(deps, record)

		_, online := deps.Chat.Hub.LookupByUser(record.ID)
		view["online"] = online
		view["channels"] = deps.Chat.Hub.ChannelsOf(record.ID)

		resp.RespondSuccess(w, r, map[string]any{
			"user": view,
		})
	}
}
