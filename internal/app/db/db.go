/*
Package db provides the persistence store used by the chat core and the REST surface.

Two backends implement Store: PostgreSQL through a pgx connection pool, and SQLite
through modernc.org/sqlite for development and tests. Both apply their embedded goose
migrations when opened.
*/
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"

	"relaychat/internal/configs"
	"relaychat/internal/pkg/logx"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var embedMigrations embed.FS

// gooseMu serializes goose, which keeps its dialect and base FS in package globals.
var gooseMu sync.Mutex

// Open connects to the configured backend and migrates it.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case configs.DriverPostgres:
		return NewPostgresStore(ctx, dsn)
	case configs.DriverSQLite:
		return NewSQLiteStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", driver)
	}
}

// runMigrations applies all pending migrations for dialect from the embedded file system.
func runMigrations(db *sql.DB, dialect goose.Dialect, dir string) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(string(dialect)); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	logx.Info("Database migrations applied successfully.", "dialect", string(dialect))
	return nil
}
