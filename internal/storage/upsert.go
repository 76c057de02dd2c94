package storage

import (
	"context"
	"fmt"
	"strings"
)

// ConflictPolicy decides what happens when a row collides with an existing
// row on the key columns.
type ConflictPolicy string

const (
	// PolicyUpdate overwrites the non-key columns of the existing row.
	PolicyUpdate ConflictPolicy = "update"
	// PolicyIgnore keeps the existing row and drops the incoming one.
	PolicyIgnore ConflictPolicy = "ignore"
	// PolicyAppend inserts without a conflict clause; a unique violation
	// fails the statement.
	PolicyAppend ConflictPolicy = "append"
)

// ParsePolicy maps a config string to a ConflictPolicy. Empty means update.
func ParsePolicy(s string) (ConflictPolicy, error) {
	switch p := ConflictPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyUpdate, nil
	case PolicyUpdate, PolicyIgnore, PolicyAppend:
		return p, nil
	default:
		return "", fmt.Errorf("unknown conflict policy %q", s)
	}
}

// Dialect renders backend-specific SQL.
type Dialect interface {
	Name() string
	QuoteIdent(name string) string
	// Placeholder returns the n-th (1-based) bind parameter marker.
	Placeholder(n int) string
	// UpsertSQL renders one statement writing rows tuples of len(columns)
	// values, using '?' placeholders in row-major order.
	UpsertSQL(table string, columns, keys []string, rows int, policy ConflictPolicy) (string, error)
	// MaxParams bounds the bind parameters of a single statement.
	MaxParams() int
	// Limit renders the clause that follows ORDER BY to return at most n rows.
	Limit(n int) string
}

// Copier is implemented by transactions that support a native bulk-load
// path. BulkUpsert uses it for PolicyAppend.
type Copier interface {
	CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
}

// UpsertRequest is a batch of positional rows aligned to Columns.
type UpsertRequest struct {
	Table   string
	Columns []string
	Keys    []string
	Policy  ConflictPolicy
	Rows    [][]any
}

// maxRowsPerStatement keeps VALUES lists under SQL Server's 1000-row limit
// and statements at a size every backend parses comfortably.
const maxRowsPerStatement = 1000

func (req UpsertRequest) validate() error {
	if strings.TrimSpace(req.Table) == "" {
		return fmt.Errorf("upsert: table must not be empty")
	}
	if len(req.Columns) == 0 {
		return fmt.Errorf("upsert %s: columns must not be empty", req.Table)
	}
	if _, err := ParsePolicy(string(req.Policy)); err != nil {
		return fmt.Errorf("upsert %s: %w", req.Table, err)
	}
	if req.Policy != PolicyAppend && len(req.Keys) == 0 {
		return fmt.Errorf("upsert %s: policy %q requires key columns", req.Table, req.Policy)
	}
	for _, k := range req.Keys {
		if indexOf(req.Columns, k) < 0 {
			return fmt.Errorf("upsert %s: key column %q not in columns", req.Table, k)
		}
	}
	return nil
}

// BulkUpsert writes req.Rows through ex using d's multi-row upsert form,
// splitting rows so no statement exceeds d.MaxParams. For PolicyIgnore it
// returns the rows the driver reports as inserted, so conflicting rows are
// not counted. For the other policies it returns the number of rows
// submitted; MySQL reports an updated row as two affected rows.
func BulkUpsert(ctx context.Context, ex Execer, d Dialect, req UpsertRequest) (int64, error) {
	if req.Policy == "" {
		req.Policy = PolicyUpdate
	}
	if err := req.validate(); err != nil {
		return 0, err
	}
	if c, ok := ex.(Copier); ok && req.Policy == PolicyAppend {
		return c.CopyFrom(ctx, req.Table, req.Columns, req.Rows)
	}
	ncols := len(req.Columns)
	per := d.MaxParams() / ncols
	if per < 1 {
		per = 1
	}
	if per > maxRowsPerStatement {
		per = maxRowsPerStatement
	}

	var written int64
	for start := 0; start < len(req.Rows); start += per {
		end := start + per
		if end > len(req.Rows) {
			end = len(req.Rows)
		}
		chunk := req.Rows[start:end]
		query, err := d.UpsertSQL(req.Table, req.Columns, req.Keys, len(chunk), req.Policy)
		if err != nil {
			return written, err
		}
		args := make([]any, 0, len(chunk)*ncols)
		for i, row := range chunk {
			if len(row) != ncols {
				return written, fmt.Errorf("upsert %s: row %d has %d values, want %d", req.Table, start+i, len(row), ncols)
			}
			args = append(args, row...)
		}
		n, err := ex.Exec(ctx, query, args...)
		if err != nil {
			return written, fmt.Errorf("upsert %s rows %d-%d: %w", req.Table, start, end-1, err)
		}
		if req.Policy == PolicyIgnore {
			written += n
		} else {
			written += int64(len(chunk))
		}
	}
	return written, nil
}

// InsertValues renders "INSERT INTO t (a, b) VALUES (?, ?), (?, ?)".
func InsertValues(d Dialect, table string, columns []string, rows int) string {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(QuoteFQN(d, table))
	sb.WriteString(" (")
	sb.WriteString(QuoteList(d, columns))
	sb.WriteString(") VALUES ")
	sb.WriteString(Tuples(len(columns), rows))
	return sb.String()
}

// Tuples renders rows parenthesized groups of ncols '?' markers.
func Tuples(ncols, rows int) string {
	one := "(" + strings.TrimSuffix(strings.Repeat("?, ", ncols), ", ") + ")"
	var sb strings.Builder
	sb.Grow(rows * (len(one) + 2))
	for i := 0; i < rows; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(one)
	}
	return sb.String()
}

// OnConflictSQL renders the INSERT ... ON CONFLICT form shared by Postgres
// and SQLite.
func OnConflictSQL(d Dialect, table string, columns, keys []string, rows int, policy ConflictPolicy) string {
	stmt := InsertValues(d, table, columns, rows)
	switch policy {
	case PolicyAppend:
		return stmt
	case PolicyIgnore:
		return stmt + " ON CONFLICT (" + QuoteList(d, keys) + ") DO NOTHING"
	}
	sets := make([]string, 0, len(columns))
	for _, c := range NonKey(columns, keys) {
		q := d.QuoteIdent(c)
		sets = append(sets, q+" = EXCLUDED."+q)
	}
	if len(sets) == 0 {
		return stmt + " ON CONFLICT (" + QuoteList(d, keys) + ") DO NOTHING"
	}
	return stmt + " ON CONFLICT (" + QuoteList(d, keys) + ") DO UPDATE SET " + strings.Join(sets, ", ")
}

// NonKey returns columns minus keys, preserving order.
func NonKey(columns, keys []string) []string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		if indexOf(keys, c) < 0 {
			out = append(out, c)
		}
	}
	return out
}

// QuoteList quotes and comma-joins names.
func QuoteList(d Dialect, names []string) string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = d.QuoteIdent(n)
	}
	return strings.Join(out, ", ")
}

// QuoteFQN quotes each dotted segment of a possibly schema-qualified name.
func QuoteFQN(d Dialect, fqn string) string {
	parts := strings.Split(fqn, ".")
	for i, p := range parts {
		parts[i] = d.QuoteIdent(strings.TrimSpace(p))
	}
	return strings.Join(parts, ".")
}

// Rebind rewrites '?' markers outside quoted literals into d's placeholders.
func Rebind(d Dialect, query string) string {
	if d.Placeholder(1) == "?" || !strings.Contains(query, "?") {
		return query
	}
	var (
		sb    strings.Builder
		n     int
		quote rune
	)
	sb.Grow(len(query) + 16)
	for _, r := range query {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '?':
			n++
			sb.WriteString(d.Placeholder(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
