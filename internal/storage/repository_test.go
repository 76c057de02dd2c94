package storage

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"
)

// fakeDialect renders '?' placeholders and a recognizable upsert form.
type fakeDialect struct{ max int }

func (fakeDialect) Name() string               { return "fake" }
func (fakeDialect) QuoteIdent(s string) string { return `"` + s + `"` }
func (fakeDialect) Placeholder(n int) string   { return fmt.Sprintf("$%d", n) }
func (fakeDialect) Limit(n int) string         { return fmt.Sprintf("LIMIT %d", n) }
func (d fakeDialect) MaxParams() int {
	if d.max == 0 {
		return 100
	}
	return d.max
}
func (d fakeDialect) UpsertSQL(table string, cols, keys []string, rows int, p ConflictPolicy) (string, error) {
	return OnConflictSQL(d, table, cols, keys, rows, p), nil
}

type execCall struct {
	query string
	args  []any
}

// fakeRepo is a minimal Repository that records statements. Statements are
// staged per transaction and only kept on commit.
type fakeRepo struct {
	mu        sync.Mutex
	closed    bool
	committed []execCall
	failOn    int // fail the n-th Exec (1-based); 0 never
	execs     int
}

type fakeTx struct {
	r      *fakeRepo
	staged []execCall
}

func (t *fakeTx) Exec(_ context.Context, q string, args ...any) (int64, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	t.r.execs++
	if t.r.failOn > 0 && t.r.execs == t.r.failOn {
		return 0, errors.New("injected failure")
	}
	t.staged = append(t.staged, execCall{query: q, args: args})
	return 1, nil
}

func (t *fakeTx) Query(context.Context, string, ...any) ([]Row, error) { return nil, nil }

func (f *fakeRepo) Exec(ctx context.Context, q string, args ...any) (int64, error) {
	tx := &fakeTx{r: f}
	n, err := tx.Exec(ctx, q, args...)
	f.committed = append(f.committed, tx.staged...)
	return n, err
}
func (f *fakeRepo) Query(context.Context, string, ...any) ([]Row, error) { return nil, nil }
func (f *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	tx := &fakeTx{r: f}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	f.mu.Lock()
	f.committed = append(f.committed, tx.staged...)
	f.mu.Unlock()
	return nil
}
func (f *fakeRepo) BulkUpsert(ctx context.Context, req UpsertRequest) (int64, error) {
	var n int64
	err := f.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		n, err = BulkUpsert(ctx, tx, f.Dialect(), req)
		return err
	})
	return n, err
}
func (f *fakeRepo) Dialect() Dialect           { return fakeDialect{} }
func (f *fakeRepo) Ping(context.Context) error { return nil }
func (f *fakeRepo) Close()                     { f.closed = true }

// TestRegisterAndNew_Success verifies that registering a backend enables New()
// to return the corresponding repository.
func TestRegisterAndNew_Success(t *testing.T) {
	t.Parallel()

	kind := "fake"
	Register(kind, func(ctx context.Context, cfg Config) (Repository, error) {
		return &fakeRepo{}, nil
	})

	repo, err := New(context.Background(), Config{Kind: kind})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if repo == nil {
		t.Fatalf("New returned nil repo")
	}

	// Ensure ListKinds contains the registered kind.
	kinds := ListKinds()
	found := false
	for _, k := range kinds {
		if k == kind {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("registered kind %q not present in ListKinds: %v", kind, kinds)
	}
}

// TestNew_Unsupported verifies that unsupported kinds return a helpful error.
func TestNew_Unsupported(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{Kind: "does-not-exist"})
	if err == nil {
		t.Fatalf("expected error for unsupported kind")
	}
	if got, want := err.Error(), "unsupported storage.kind=does-not-exist"; got != want {
		t.Fatalf("error = %q, want %q", got, want)
	}
}

// TestRegister_Override verifies that re-registering a kind overrides the
// previous factory (useful for tests and dynamic wiring).
func TestRegister_Override(t *testing.T) {
	t.Parallel()

	kind := "override"
	calls := 0

	Register(kind, func(ctx context.Context, cfg Config) (Repository, error) {
		calls++
		return &fakeRepo{}, nil
	})
	Register(kind, func(ctx context.Context, cfg Config) (Repository, error) {
		calls += 10
		return &fakeRepo{}, nil
	})

	_, err := New(context.Background(), Config{Kind: kind})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if calls != 10 { // only the second factory should have been used
		t.Fatalf("factory call count = %d, want 10", calls)
	}
}

// TestListKinds_Snapshot performs a shallow sanity check that ListKinds returns
// a copy (mutations by caller do not affect internal registry).
func TestListKinds_Snapshot(t *testing.T) {
	t.Parallel()

	k := "snap"
	Register(k, func(ctx context.Context, cfg Config) (Repository, error) { return &fakeRepo{}, nil })

	a := ListKinds()
	if len(a) == 0 {
		t.Fatalf("ListKinds empty after registration")
	}
	// Mutate the returned slice; registry should be unaffected.
	a[0] = "mutated"

	b := ListKinds()
	if reflect.DeepEqual(a, b) {
		t.Fatalf("ListKinds returned same slice; want snapshot copy")
	}
}

// TestRegister_AllowsErrors shows factories can return errors that bubble up.
func TestRegister_AllowsErrors(t *testing.T) {
	t.Parallel()

	kind := "errkind"
	want := errors.New("boom")

	Register(kind, func(ctx context.Context, cfg Config) (Repository, error) {
		return nil, want
	})

	_, err := New(context.Background(), Config{Kind: kind})
	if !errors.Is(err, want) {
		t.Fatalf("want %v, got %v", want, err)
	}
}

func TestRow_TypedAccess(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	r := Row{
		"n":   int64(4),
		"sum": []byte("12"),
		"dec": "3.0",
		"s":   []byte("abc"),
		"at":  "2024-03-01 10:00:00",
		"t":   ts,
		"nil": nil,
	}
	if r.Int64("n") != 4 || r.Int64("sum") != 12 || r.Int64("dec") != 3 || r.Int64("missing") != 0 {
		t.Fatalf("Int64 conversions wrong: %v", r)
	}
	if r.String("s") != "abc" || r.String("nil") != "" {
		t.Fatalf("String conversions wrong")
	}
	if !r.Time("at").Equal(ts) || !r.Time("t").Equal(ts) {
		t.Fatalf("Time: at=%v t=%v", r.Time("at"), r.Time("t"))
	}
}
