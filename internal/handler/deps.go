package handler

import (
	"github.com/prometheus/client_golang/prometheus"

	"relaychat/internal/app/chat"
	"relaychat/internal/app/db"
	"relaychat/internal/configs"
	"relaychat/internal/pkg/pow"
)

// AppDeps carries everything the HTTP handlers need.
type AppDeps struct {
	Config *configs.AppConfig
	Store  db.Store

	// Chat is shared by every WebSocket session.
	Chat *chat.Services

	ChatRouter *chat.Router

	Pow *pow.Manager

	// Gatherer backs /metrics.
	Gatherer prometheus.Gatherer
}
