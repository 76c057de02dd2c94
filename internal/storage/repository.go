// Package storage contains storage-agnostic contracts and utilities: the
// Repository interface every backend implements, a kind-keyed factory,
// dialect-aware multi-row upserts, and the batched transactional loader.
//
// SQL passed to Exec and Query uses '?' placeholders; repositories rebind them
// to the backend's native form before execution.
package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"s3etl/internal/config"
)

// Row is one result row keyed by lower-cased column name.
type Row map[string]any

// String returns the column as text; nil becomes "".
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}

// Int64 returns the column as an integer. Drivers disagree on the Go type of
// COUNT and SUM results, so numeric text is parsed as well.
func (r Row) Int64(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case []byte:
		return parseInt(string(v))
	case string:
		return parseInt(v)
	default:
		return 0
	}
}

// Time returns the column as a time; text timestamps in the common SQL
// layouts are parsed.
func (r Row) Time(col string) time.Time {
	switch v := r[col].(type) {
	case time.Time:
		return v
	case string:
		return parseTime(v)
	case []byte:
		return parseTime(string(v))
	default:
		return time.Time{}
	}
}

func parseInt(s string) int64 {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, l := range timeLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Execer runs statements. Exec returns rows affected as reported by the driver.
type Execer interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	Query(ctx context.Context, query string, args ...any) ([]Row, error)
}

// Tx is an Execer bound to an open transaction.
type Tx interface {
	Execer
}

// Repository is the contract every storage backend implements.
type Repository interface {
	Execer
	// WithTx runs fn in a transaction. fn's error rolls back; nil commits.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// BulkUpsert writes rows in its own transaction and returns the number
	// of rows submitted.
	BulkUpsert(ctx context.Context, req UpsertRequest) (int64, error)
	Dialect() Dialect
	Ping(ctx context.Context) error
	Close()
}

// Config carries what a backend factory needs to open a Repository.
type Config struct {
	Kind    string
	DSN     string
	Options config.Options
}

// Factory opens a Repository for a Config.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the factory for a storage kind. Backends
// call it from init.
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = f
}

// New opens a Repository using the factory registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	regMu.RLock()
	f, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// ListKinds returns a sorted snapshot of registered kinds.
func ListKinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
