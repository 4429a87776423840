// Package store implements the typing store (C6): the stateful,
// transactional heart of the core — start-session and finish-session
// transactions, best-score updates, keystroke persistence, and
// leaderboard reads, all invoking the pure C1–C5 components inside
// serializable transactions.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joeycumines/logiface"
	islog "github.com/joeycumines/logiface-slog"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// Logger is the structured-event type the store logs with.
type Logger = logiface.Logger[*islog.Event]

// Store wraps a SQLite connection to the typing contest database. A
// single connection is intentional: it gives every transaction the
// row-locking semantics §5 calls for "for free", since the driver itself
// serializes all writes onto one goroutine-safe connection rather than
// requiring SELECT ... FOR UPDATE. Contention per user/contest is low, so
// this trades a small amount of cross-contest write throughput for a much
// simpler correctness argument than optimistic retries or explicit row
// locking would give.
type Store struct {
	conn *sql.DB
	log  *Logger
}

// Open creates a new Store and runs all pending migrations. If log is nil,
// Open builds a default text logger to stderr.
func Open(path string, log *Logger) (*Store, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	migrationsFS, err := fs.Sub(MigrationFS, "migrations")
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrations sub-fs: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, conn, migrationsFS)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create migration provider: %w", err)
	}

	if _, err := provider.Up(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	if log == nil {
		log = islog.L.New(islog.L.WithSlogHandler(slog.NewTextHandler(os.Stderr, nil)))
	}

	return &Store{conn: conn, log: log}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Conn returns the underlying *sql.DB, for callers (tests, admin CRUD)
// that need direct access.
func (s *Store) Conn() *sql.DB {
	return s.conn
}
