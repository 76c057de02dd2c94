// Package postgres implements a Postgres repository using pgx v5. Upserts
// use INSERT ... ON CONFLICT; the append policy streams rows with COPY.
package postgres

import (
	"context"
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"s3etl/internal/config"
	"s3etl/internal/storage"
	pgddl "s3etl/internal/storage/postgres/ddl"
)

// Config holds Postgres repository configuration.
type Config struct {
	DSN     string // connection string for pgxpool
	Options config.Options
}

// Dialect renders Postgres SQL.
type Dialect struct{}

func (Dialect) Name() string                  { return "postgres" }
func (Dialect) QuoteIdent(name string) string { return pgddl.QuoteIdent(name) }
func (Dialect) Placeholder(n int) string      { return fmt.Sprintf("$%d", n) }
func (Dialect) MaxParams() int                { return 65535 }
func (Dialect) Limit(n int) string            { return fmt.Sprintf("LIMIT %d", n) }

func (d Dialect) UpsertSQL(table string, columns, keys []string, rows int, policy storage.ConflictPolicy) (string, error) {
	return storage.OnConflictSQL(d, table, columns, keys, rows, policy), nil
}

// Repository is a Postgres-backed implementation of storage.Repository.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool config: %w", err)
	}
	if n := cfg.Options.Int("max_open_conns", 0); n > 0 {
		pcfg.MaxConns = int32(n)
	}
	if d := cfg.Options.Duration("conn_max_lifetime", 0); d > 0 {
		pcfg.MaxConnLifetime = d
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	closeFn := func() { pool.Close() }
	return &Repository{pool: pool}, closeFn, nil
}

// querier is the subset shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

func (r *Repository) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	return execOn(ctx, r.pool, sql, args...)
}

func (r *Repository) Query(ctx context.Context, sql string, args ...any) ([]storage.Row, error) {
	return queryOn(ctx, r.pool, sql, args...)
}

func (r *Repository) Dialect() storage.Dialect { return Dialect{} }

func (r *Repository) Ping(ctx context.Context) error { return r.pool.Ping(ctx) }

func (r *Repository) Close() { r.pool.Close() }

// WithTx runs fn inside a pgx transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

// BulkUpsert writes req in a single transaction.
func (r *Repository) BulkUpsert(ctx context.Context, req storage.UpsertRequest) (int64, error) {
	var n int64
	err := r.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		n, err = storage.BulkUpsert(ctx, tx, Dialect{}, req)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	return execOn(ctx, t.tx, sql, args...)
}

func (t *pgTx) Query(ctx context.Context, sql string, args ...any) ([]storage.Row, error) {
	return queryOn(ctx, t.tx, sql, args...)
}

// CopyFrom streams rows with the COPY protocol.
func (t *pgTx) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	n, err := t.tx.CopyFrom(ctx, splitFQN(table), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return n, fmt.Errorf("postgres: copy %s: %w", table, err)
	}
	return n, nil
}

func execOn(ctx context.Context, q querier, sql string, args ...any) (int64, error) {
	if strings.TrimSpace(sql) == "" {
		return 0, nil
	}
	tag, err := q.Exec(ctx, storage.Rebind(Dialect{}, sql), args...)
	if err != nil {
		return 0, fmt.Errorf("postgres: exec: %w", err)
	}
	return tag.RowsAffected(), nil
}

func queryOn(ctx context.Context, q querier, sql string, args ...any) ([]storage.Row, error) {
	rows, err := q.Query(ctx, storage.Rebind(Dialect{}, sql), args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query: %w", err)
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	cols := make([]string, len(fds))
	for i, fd := range fds {
		cols[i] = fd.Name
	}
	var out []storage.Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("postgres: values: %w", err)
		}
		for i, v := range vals {
			// NUMERIC and friends decode to pgtype structs; flatten them.
			if dv, ok := v.(driver.Valuer); ok {
				if plain, err := dv.Value(); err == nil {
					vals[i] = plain
				}
			}
		}
		out = append(out, storage.MakeRow(cols, vals))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows: %w", err)
	}
	return out, nil
}

// splitFQN converts "schema.table" into a pgx.Identifier {"schema","table"}.
func splitFQN(fqn string) pgx.Identifier {
	parts := strings.Split(fqn, ".")
	id := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			id = append(id, p)
		}
	}
	return id
}
