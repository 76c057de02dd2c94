package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"s3etl/internal/config"
)

// SQLRepository implements Repository over database/sql. The MySQL, SQL
// Server and SQLite backends embed it and supply their Dialect.
type SQLRepository struct {
	DB *sql.DB
	D  Dialect
	// BulkCopy, when set, is the backend's native bulk-load path; transactions
	// expose it as a Copier.
	BulkCopy func(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any) (int64, error)
}

// NewSQLRepository wraps an open pool.
func NewSQLRepository(db *sql.DB, d Dialect) *SQLRepository {
	return &SQLRepository{DB: db, D: d}
}

// ApplyPool sets pool limits from backend options
// (max_open_conns, max_idle_conns, conn_max_lifetime).
func ApplyPool(db *sql.DB, opts config.Options) {
	if n := opts.Int("max_open_conns", 0); n > 0 {
		db.SetMaxOpenConns(n)
	}
	if n := opts.Int("max_idle_conns", 0); n > 0 {
		db.SetMaxIdleConns(n)
	}
	if d := opts.Duration("conn_max_lifetime", 0); d > 0 {
		db.SetConnMaxLifetime(d)
	}
}

func (r *SQLRepository) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execOn(ctx, r.DB, r.D, query, args...)
}

func (r *SQLRepository) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	return queryOn(ctx, r.DB, r.D, query, args...)
}

func (r *SQLRepository) Dialect() Dialect { return r.D }

func (r *SQLRepository) Ping(ctx context.Context) error { return r.DB.PingContext(ctx) }

func (r *SQLRepository) Close() { _ = r.DB.Close() }

// WithTx runs fn inside a database/sql transaction.
func (r *SQLRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	sqlTx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", r.D.Name(), err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()
	var tx Tx = &txExecer{tx: sqlTx, d: r.D}
	if r.BulkCopy != nil {
		tx = &copyTx{txExecer: txExecer{tx: sqlTx, d: r.D}, copyFn: r.BulkCopy}
	}
	if err := fn(ctx, tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			log.Printf("%s: rollback failed: %v", r.D.Name(), rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", r.D.Name(), err)
	}
	return nil
}

// BulkUpsert writes req in a single transaction.
func (r *SQLRepository) BulkUpsert(ctx context.Context, req UpsertRequest) (int64, error) {
	var n int64
	err := r.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		n, err = BulkUpsert(ctx, tx, r.D, req)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

type txExecer struct {
	tx *sql.Tx
	d  Dialect
}

func (t *txExecer) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execOn(ctx, t.tx, t.d, query, args...)
}

func (t *txExecer) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	return queryOn(ctx, t.tx, t.d, query, args...)
}

type copyTx struct {
	txExecer
	copyFn func(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any) (int64, error)
}

func (c *copyTx) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	return c.copyFn(ctx, c.tx, table, columns, rows)
}

type sqlConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func execOn(ctx context.Context, c sqlConn, d Dialect, query string, args ...any) (int64, error) {
	if strings.TrimSpace(query) == "" {
		return 0, nil
	}
	res, err := c.ExecContext(ctx, Rebind(d, query), args...)
	if err != nil {
		return 0, fmt.Errorf("%s: exec: %w", d.Name(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func queryOn(ctx context.Context, c sqlConn, d Dialect, query string, args ...any) ([]Row, error) {
	rows, err := c.QueryContext(ctx, Rebind(d, query), args...)
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", d.Name(), err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%s: columns: %w", d.Name(), err)
	}
	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", d.Name(), err)
		}
		out = append(out, MakeRow(cols, vals))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", d.Name(), err)
	}
	return out, nil
}

// MakeRow pairs column names with scanned values. Byte slices become strings.
func MakeRow(cols []string, vals []any) Row {
	row := make(Row, len(cols))
	for i, c := range cols {
		v := vals[i]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		row[strings.ToLower(c)] = v
	}
	return row
}
