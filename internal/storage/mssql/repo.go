// Package mssql implements a Microsoft SQL Server repository on database/sql
// and go-mssqldb. Upserts use MERGE over a VALUES source; the append policy
// goes through the driver's bulk copy API.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"s3etl/internal/config"
	"s3etl/internal/storage"
	msddl "s3etl/internal/storage/mssql/ddl"
)

// Config holds MSSQL repository configuration.
type Config struct {
	DSN     string
	Options config.Options
}

// Dialect renders T-SQL.
type Dialect struct{}

func (Dialect) Name() string                  { return "mssql" }
func (Dialect) QuoteIdent(name string) string { return msddl.QuoteIdent(name) }
func (Dialect) Placeholder(n int) string      { return fmt.Sprintf("@p%d", n) }

// MaxParams stays under SQL Server's 2100 parameter limit.
func (Dialect) MaxParams() int { return 2000 }

func (Dialect) Limit(n int) string { return fmt.Sprintf("OFFSET 0 ROWS FETCH NEXT %d ROWS ONLY", n) }

// UpsertSQL renders a MERGE keyed on keys. Ignore drops the WHEN MATCHED
// branch; append is a plain multi-row INSERT.
func (d Dialect) UpsertSQL(table string, columns, keys []string, rows int, policy storage.ConflictPolicy) (string, error) {
	if policy == storage.PolicyAppend {
		return storage.InsertValues(d, table, columns, rows), nil
	}
	if policy != storage.PolicyUpdate && policy != storage.PolicyIgnore {
		return "", fmt.Errorf("mssql: unknown conflict policy %q", policy)
	}

	on := make([]string, len(keys))
	for i, k := range keys {
		q := d.QuoteIdent(k)
		on[i] = "tgt." + q + " = src." + q
	}
	srcCols := make([]string, len(columns))
	for i, c := range columns {
		srcCols[i] = "src." + d.QuoteIdent(c)
	}
	cols := storage.QuoteList(d, columns)

	var sb strings.Builder
	fmt.Fprintf(&sb, "MERGE INTO %s WITH (HOLDLOCK) AS tgt USING (VALUES %s) AS src (%s) ON %s",
		storage.QuoteFQN(d, table), storage.Tuples(len(columns), rows), cols, strings.Join(on, " AND "))
	if nonKey := storage.NonKey(columns, keys); policy == storage.PolicyUpdate && len(nonKey) > 0 {
		sets := make([]string, len(nonKey))
		for i, c := range nonKey {
			q := d.QuoteIdent(c)
			sets[i] = "tgt." + q + " = src." + q
		}
		sb.WriteString(" WHEN MATCHED THEN UPDATE SET ")
		sb.WriteString(strings.Join(sets, ", "))
	}
	fmt.Fprintf(&sb, " WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s);", cols, strings.Join(srcCols, ", "))
	return sb.String(), nil
}

// Repository is an MSSQL-backed implementation of storage.Repository.
type Repository struct {
	*storage.SQLRepository
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	// Validate DSN early to fail fast on obvious mistakes.
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, nil, fmt.Errorf("mssql dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sql.Open: %w", err)
	}
	storage.ApplyPool(db, cfg.Options)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	base := storage.NewSQLRepository(db, Dialect{})
	base.BulkCopy = copyIn
	closeFn := func() { _ = db.Close() }
	return &Repository{SQLRepository: base}, closeFn, nil
}

// copyIn streams rows into table with the TDS bulk copy API inside tx.
func copyIn(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(table, mssql.BulkOptions{}, columns...))
	if err != nil {
		return 0, fmt.Errorf("prepare bulk: %w", err)
	}
	for i := range rows {
		if _, err := stmt.ExecContext(ctx, rows[i]...); err != nil {
			_ = stmt.Close()
			return 0, fmt.Errorf("bulk row %d: %w", i, err)
		}
	}
	res, err := stmt.ExecContext(ctx)
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("bulk finalize: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
