// Package sqlite implements a SQLite-backed storage.Repository using
// database/sql and the pure-Go modernc driver. Upserts use the
// INSERT ... ON CONFLICT form.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"s3etl/internal/config"
	"s3etl/internal/storage"
	sqliteddl "s3etl/internal/storage/sqlite/ddl"
)

// Config holds SQLite repository configuration derived from storage.Config.
type Config struct {
	// DSN is a SQLite connection string or file path, e.g.:
	//   "file:etl.db?cache=shared"
	//   "etl.db"
	DSN     string
	Options config.Options
}

// Dialect renders SQLite SQL.
type Dialect struct{}

func (Dialect) Name() string                  { return "sqlite" }
func (Dialect) QuoteIdent(name string) string { return sqliteddl.QuoteIdent(name) }
func (Dialect) Placeholder(int) string        { return "?" }
func (Dialect) MaxParams() int                { return 999 }
func (Dialect) Limit(n int) string            { return fmt.Sprintf("LIMIT %d", n) }

func (d Dialect) UpsertSQL(table string, columns, keys []string, rows int, policy storage.ConflictPolicy) (string, error) {
	return storage.OnConflictSQL(d, table, columns, keys, rows, policy), nil
}

// Repository is a SQLite-backed implementation of storage.Repository.
type Repository struct {
	*storage.SQLRepository
}

// NewRepository opens a SQLite database and returns a Repository plus a
// Close function for cleanup.
//
// A single connection is used unless options.max_open_conns says otherwise:
// SQLite serializes writers anyway, and ":memory:" databases are
// per-connection.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, nil, fmt.Errorf("sqlite: DSN must not be empty")
	}

	db, err := sql.Open("sqlite", withTimeFormat(cfg.DSN))
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	storage.ApplyPool(db, cfg.Options)

	// Apply a basic ping with context to fail fast on invalid DSNs.
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	// Enable foreign keys by default; ignore error if driver doesn't support it.
	_, _ = db.ExecContext(ctx, "PRAGMA foreign_keys = ON;")
	if ms := cfg.Options.Int("busy_timeout_ms", 5000); ms > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d;", ms))
	}

	closeFn := func() { db.Close() }
	return &Repository{SQLRepository: storage.NewSQLRepository(db, Dialect{})}, closeFn, nil
}

// withTimeFormat makes the driver store time.Time as sortable
// "YYYY-MM-DD HH:MM:SS.fff-07:00" text.
func withTimeFormat(dsn string) string {
	if strings.Contains(dsn, "_time_format=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_time_format=sqlite"
}
