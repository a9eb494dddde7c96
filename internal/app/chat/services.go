package chat

import (
	"context"

	"relaychat/internal/app/db"
	"relaychat/internal/configs"
)

// Store is the persistence the chat core needs. db.Store satisfies it.
type Store interface {
	FindUserByID(ctx context.Context, id int64) (db.UserRecord, error)
	FindUserByUsername(ctx context.Context, username string) (db.UserRecord, error)
	CreateGuestUser(ctx context.Context) (db.UserRecord, error)
	AppendMessage(ctx context.Context, channelID int64, msg db.NewMessage) (int64, error)
	ListRecentMessages(ctx context.Context, channelID int64, limit int) ([]db.MessageRecord, error)
}

// Verifier resolves a bearer token to a user id.
type Verifier interface {
	Verify(ctx context.Context, token string) (int64, error)
}

// Services are the collaborators shared by every session and handler.
type Services struct {
	Hub      *Hub
	Store    Store
	Verifier Verifier
	Config   *configs.AppConfig

	// Metrics may be nil.
	Metrics *Metrics
}
