package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore initializes a PostgreSQL connection pool and executes database migrations.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer sqlDB.Close()

	if err := runMigrations(sqlDB, goose.DialectPostgres, "migrations/postgres"); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

const pgUserColumns = `id, username, password_hash, is_superuser, created_at`

func scanPgUser(row pgx.Row) (UserRecord, error) {
	var u UserRecord
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsSuperuser, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserRecord{}, ErrUserNotFound
	}
	if err != nil {
		return UserRecord{}, fmt.Errorf("db: scan user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) FindUserByID(ctx context.Context, id int64) (UserRecord, error) {
	return scanPgUser(s.pool.QueryRow(ctx,
		`SELECT `+pgUserColumns+` FROM users WHERE id = $1`, id))
}

func (s *PostgresStore) FindUserByUsername(ctx context.Context, username string) (UserRecord, error) {
	return scanPgUser(s.pool.QueryRow(ctx,
		`SELECT `+pgUserColumns+` FROM users WHERE username = $1`, username))
}

func (s *PostgresStore) CreateUser(ctx context.Context, username, passwordHash string, superuser bool) (UserRecord, error) {
	u, err := scanPgUser(s.pool.QueryRow(ctx,
		`INSERT INTO users (username, password_hash, is_superuser) VALUES ($1, $2, $3)
		 RETURNING `+pgUserColumns,
		username, passwordHash, superuser))
	if err != nil && IsUniqueViolation(err) {
		return UserRecord{}, ErrUserExists
	}
	return u, err
}

func (s *PostgresStore) CreateGuestUser(ctx context.Context) (UserRecord, error) {
	return newGuest(ctx, s)
}

func (s *PostgresStore) AppendMessage(ctx context.Context, channelID int64, msg NewMessage) (int64, error) {
	sentAt := msg.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}

	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (channel_id, sender_id, sender, content, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		channelID, msg.SenderID, msg.Sender, msg.Content, sentAt.UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("db: append message: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) ListRecentMessages(ctx context.Context, channelID int64, limit int) ([]MessageRecord, error) {
	if limit <= 0 {
		return []MessageRecord{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, channel_id, sender_id, sender, content, created_at FROM (
			SELECT * FROM messages WHERE channel_id = $1 ORDER BY id DESC LIMIT $2
		 ) recent ORDER BY id ASC`,
		channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("db: list messages: %w", err)
	}

	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (MessageRecord, error) {
		var m MessageRecord
		err := row.Scan(&m.ID, &m.ChannelID, &m.SenderID, &m.Sender, &m.Content, &m.CreatedAt)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("db: list messages: %w", err)
	}
	return messages, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
