/*
Package handler provides read-only dashboard views over the live chat registry and message store.
*/
package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/resp"
)

type messageView struct {
	ID        int64     `json:"id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// channelIDParam parses the {id} route parameter. Channel ids are positive.
func channelIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// HandleActiveChannels lists channels that currently have members.
func HandleActiveChannels(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp.RespondSuccess(w, r, map[string]any{
			"channels": deps.Chat.Hub.ActiveChannels(),
		})
	}
}

// HandleChannelMembers lists the live members of a channel.
func HandleChannelMembers(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := channelIDParam(r)
		if !ok {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		ch, ok := deps.Chat.Hub.Channel(id)
		if !ok {
			resp.RespondError(w, r, errs.NewError(errs.ErrChannelNotFound))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"channel": ch,
			"members": deps.Chat.Hub.MembersOf(id),
		})
	}
}

// HandleChannelMessages returns the most recent stored messages of a channel, oldest first.
// Stored history is served even after the channel has emptied out.
func HandleChannelMessages(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := channelIDParam(r)
		if !ok {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		limit := deps.Config.HistoryLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
				return
			}
			limit = min(n, deps.Config.HistoryLimit)
		}

		records, err := deps.Store.ListRecentMessages(r.Context(), id, limit)
		if err != nil {
			logx.Error(err, "dashboard: failed to list messages", "channel_id", id)
			resp.RespondError(w, r, errs.NewError(errs.ErrStorageFailed))
			return
		}

		messages := make([]messageView, 0, len(records))
		for _, m := range records {
			messages = append(messages, messageView{
				ID:        m.ID,
				Sender:    m.Sender,
				Content:   m.Content,
				Timestamp: m.CreatedAt.UTC(),
			})
		}

		resp.RespondSuccess(w, r, map[string]any{
			"channel_id": id,
			"messages":   messages,
		})
	}
}
