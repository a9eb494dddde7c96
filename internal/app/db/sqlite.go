package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a single-writer SQLite database.
type SQLiteStore struct {
	conn *sql.DB
}

// NewSQLiteStore opens the database at dsn and executes database migrations.
// ":memory:" opens a private in-memory database.
func NewSQLiteStore(ctx context.Context, dsn string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer; an in-memory database also lives on a single connection.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := runMigrations(conn, goose.DialectSQLite3, "migrations/sqlite"); err != nil {
		conn.Close()
		return nil, err
	}

	return &SQLiteStore{conn: conn}, nil
}

const liteUserColumns = `id, username, password_hash, is_superuser, created_at`

func scanLiteUser(row *sql.Row) (UserRecord, error) {
	var (
		u         UserRecord
		createdAt int64
	)
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsSuperuser, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return UserRecord{}, ErrUserNotFound
	}
	if err != nil {
		return UserRecord{}, fmt.Errorf("db: scan user: %w", err)
	}
	u.CreatedAt = time.UnixMilli(createdAt).UTC()
	return u, nil
}

func (s *SQLiteStore) FindUserByID(ctx context.Context, id int64) (UserRecord, error) {
	return scanLiteUser(s.conn.QueryRowContext(ctx,
		`SELECT `+liteUserColumns+` FROM users WHERE id = ?`, id))
}

func (s *SQLiteStore) FindUserByUsername(ctx context.Context, username string) (UserRecord, error) {
	return scanLiteUser(s.conn.QueryRowContext(ctx,
		`SELECT `+liteUserColumns+` FROM users WHERE username = ?`, username))
}

func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string, superuser bool) (UserRecord, error) {
	now := time.Now().UTC()

	res, err := s.conn.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, is_superuser, created_at) VALUES (?, ?, ?, ?)`,
		username, passwordHash, superuser, now.UnixMilli())
	if err != nil {
		if IsUniqueViolation(err) {
			return UserRecord{}, ErrUserExists
		}
		return UserRecord{}, fmt.Errorf("db: create user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return UserRecord{}, fmt.Errorf("db: create user: %w", err)
	}

	return UserRecord{
		ID:           id,
		Username:     username,
		PasswordHash: passwordHash,
		IsSuperuser:  superuser,
		CreatedAt:    time.UnixMilli(now.UnixMilli()).UTC(),
	}, nil
}

func (s *SQLiteStore) CreateGuestUser(ctx context.Context) (UserRecord, error) {
	return newGuest(ctx, s)
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, channelID int64, msg NewMessage) (int64, error) {
	sentAt := msg.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}

	res, err := s.conn.ExecContext(ctx,
		`INSERT INTO messages (channel_id, sender_id, sender, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		channelID, msg.SenderID, msg.Sender, msg.Content, sentAt.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("db: append message: %w", err)
	}

	return res.LastInsertId()
}

func (s *SQLiteStore) ListRecentMessages(ctx context.Context, channelID int64, limit int) ([]MessageRecord, error) {
	if limit <= 0 {
		return []MessageRecord{}, nil
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, channel_id, sender_id, sender, content, created_at FROM (
			SELECT * FROM messages WHERE channel_id = ? ORDER BY id DESC LIMIT ?
		 ) ORDER BY id ASC`,
		channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("db: list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]MessageRecord, 0, limit)
	for rows.Next() {
		var (
			m         MessageRecord
			senderID  sql.NullInt64
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.ChannelID, &senderID, &m.Sender, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("db: list messages: %w", err)
		}
		if senderID.Valid {
			id := senderID.Int64
			m.SenderID = &id
		}
		m.CreatedAt = time.UnixMilli(createdAt).UTC()
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

func (s *SQLiteStore) Close() {
	s.conn.Close()
}
