/*
Package handler provides the HTTP handler function for WebSocket connection upgrading and initialization.

This file contains the HandleWebSocket function, which is responsible for rate limiting, upgrading
the HTTP connection to WebSocket and running the chat session until the connection ends.
*/
package handler

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"relaychat/internal/app/chat"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/limiter"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
// Identity is established by the hello message after the upgrade, not by the request.
func HandleWebSocket(upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := limiter.ClientIP(r.RemoteAddr)

		if !rateLimiter.GetLimiter(ip).Allow() {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", logx.AnonymizeIP(ip))
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		wsConn := chat.NewWSConn(conn, r.RemoteAddr)
		logx.Info("WebSocket connection established, awaiting hello", "handle", wsConn.Handle())

		session := chat.NewSession(wsConn, deps.Chat, deps.ChatRouter)
		if err := session.Run(r.Context()); err != nil {
			switch {
			case errors.Is(err, chat.ErrHandshake), errors.Is(err, chat.ErrAuthentication), errors.Is(err, chat.ErrHandshakeTimeout):
				logx.Info("WebSocket session rejected", "handle", wsConn.Handle(), "reason", err.Error())
			default:
				logx.Warn("WebSocket session ended with error", "handle", wsConn.Handle(), "error", err.Error())
			}
		}
	}
}
