package db

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUserNotFound is returned when no user matches the lookup.
	ErrUserNotFound = errors.New("db: user not found")

	// ErrUserExists is returned when a username is already taken.
	ErrUserExists = errors.New("db: username already exists")
)

// guestNameAttempts bounds the search for a free guest username.
const guestNameAttempts = 8

// UserRecord is a stored user. Guest records returned by CreateGuestUser have ID 0.
type UserRecord struct {
	ID           int64
	Username     string
	PasswordHash string
	IsSuperuser  bool
	CreatedAt    time.Time
}

// MessageRecord is a stored chat message.
type MessageRecord struct {
	ID        int64
	ChannelID int64

	// SenderID is nil for messages sent by guests.
	SenderID *int64

	Sender    string
	Content   string
	CreatedAt time.Time
}

// NewMessage is the input to AppendMessage.
type NewMessage struct {
	SenderID *int64
	Sender   string
	Content  string
	SentAt   time.Time
}

// Store is the persistence collaborator of the chat core and the REST surface.
type Store interface {
	// FindUserByID returns ErrUserNotFound for unknown ids.
	FindUserByID(ctx context.Context, id int64) (UserRecord, error)

	// FindUserByUsername returns ErrUserNotFound for unknown usernames.
	FindUserByUsername(ctx context.Context, username string) (UserRecord, error)

	// CreateUser returns ErrUserExists when the username is taken.
	CreateUser(ctx context.Context, username, passwordHash string, superuser bool) (UserRecord, error)

	// CreateGuestUser picks a guest username not used by any registered user.
	// Guests are not persisted.
	CreateGuestUser(ctx context.Context) (UserRecord, error)

	AppendMessage(ctx context.Context, channelID int64, msg NewMessage) (int64, error)

	// ListRecentMessages returns up to limit of the newest messages, oldest first.
	ListRecentMessages(ctx context.Context, channelID int64, limit int) ([]MessageRecord, error)

	Ping(ctx context.Context) error
	Close()
}

// usernameLookup is the part of a Store needed to pick a guest name.
type usernameLookup interface {
	FindUserByUsername(ctx context.Context, username string) (UserRecord, error)
}
