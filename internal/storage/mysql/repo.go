// Package mysql implements a MySQL repository on database/sql and
// go-sql-driver/mysql. Upserts use INSERT ... ON DUPLICATE KEY UPDATE.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"s3etl/internal/config"
	"s3etl/internal/storage"
	myddl "s3etl/internal/storage/mysql/ddl"
)

// Config holds MySQL repository configuration.
type Config struct {
	DSN     string
	Options config.Options
}

// Dialect renders MySQL SQL.
type Dialect struct{}

func (Dialect) Name() string                  { return "mysql" }
func (Dialect) QuoteIdent(name string) string { return myddl.QuoteIdent(name) }
func (Dialect) Placeholder(int) string        { return "?" }
func (Dialect) MaxParams() int                { return 65535 }
func (Dialect) Limit(n int) string            { return fmt.Sprintf("LIMIT %d", n) }

// UpsertSQL renders the multi-row INSERT with MySQL's duplicate-key handling.
// Conflicts are detected on any unique key; keys only select the update set.
func (d Dialect) UpsertSQL(table string, columns, keys []string, rows int, policy storage.ConflictPolicy) (string, error) {
	stmt := storage.InsertValues(d, table, columns, rows)
	switch policy {
	case storage.PolicyAppend:
		return stmt, nil
	case storage.PolicyIgnore:
		return "INSERT IGNORE" + strings.TrimPrefix(stmt, "INSERT"), nil
	case storage.PolicyUpdate:
		nonKey := storage.NonKey(columns, keys)
		if len(nonKey) == 0 {
			return "INSERT IGNORE" + strings.TrimPrefix(stmt, "INSERT"), nil
		}
		sets := make([]string, len(nonKey))
		for i, c := range nonKey {
			q := d.QuoteIdent(c)
			sets[i] = q + " = VALUES(" + q + ")"
		}
		return stmt + " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", "), nil
	default:
		return "", fmt.Errorf("mysql: unknown conflict policy %q", policy)
	}
}

// Repository is a MySQL-backed implementation of storage.Repository.
type Repository struct {
	*storage.SQLRepository
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	mc, err := normalizeDSN(cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql: connector: %w", err)
	}
	db := sql.OpenDB(connector)
	storage.ApplyPool(db, cfg.Options)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("mysql: ping: %w", err)
	}
	closeFn := func() { _ = db.Close() }
	return &Repository{SQLRepository: storage.NewSQLRepository(db, Dialect{})}, closeFn, nil
}

// normalizeDSN parses dsn and forces DATE/DATETIME to scan as time.Time in
// UTC. The driver's default collation is already utf8mb4.
func normalizeDSN(dsn string) (*mysql.Config, error) {
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql dsn: %w", err)
	}
	mc.ParseTime = true
	mc.Loc = time.UTC
	return mc, nil
}
