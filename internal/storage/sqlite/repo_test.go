package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"s3etl/internal/ddl"
	"s3etl/internal/records"
	"s3etl/internal/storage"
)

func openTestRepo(t *testing.T) storage.Repository {
	t.Helper()
	repo, err := storage.New(context.Background(), storage.Config{
		Kind: "sqlite",
		DSN:  filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(repo.Close)
	return repo
}

var memberTable = ddl.TableDef{
	FQN: "member_data",
	Columns: []ddl.ColumnDef{
		{Name: "id", Kind: "integer", PrimaryKey: true, AutoIncrement: true},
		{Name: "member_id", Kind: "string"},
		{Name: "first_name", Kind: "text", Nullable: true},
		{Name: "dob", Kind: "date", Nullable: true},
	},
	Indexes: []ddl.IndexDef{{Name: "uq_member_data", Columns: []string{"member_id"}, Unique: true}},
}

func members(names ...string) *records.Set {
	s := &records.Set{Columns: []string{"member_id", "first_name"}}
	for i, n := range names {
		s.Rows = append(s.Rows, records.Record{"member_id": []string{"M0001", "M0002", "M0003"}[i], "first_name": n})
	}
	return s
}

func firstNames(t *testing.T, repo storage.Repository) map[string]string {
	t.Helper()
	rows, err := repo.Query(context.Background(), "SELECT member_id, first_name FROM member_data ORDER BY member_id")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	out := map[string]string{}
	for _, r := range rows {
		out[r.String("member_id")] = r.String("first_name")
	}
	return out
}

func TestLoad_Policies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := openTestRepo(t)
	if err := storage.EnsureTables(ctx, repo, "sqlite", []ddl.TableDef{memberTable}); err != nil {
		t.Fatalf("EnsureTables: %v", err)
	}
	// Idempotent.
	if err := storage.EnsureTables(ctx, repo, "sqlite", []ddl.TableDef{memberTable}); err != nil {
		t.Fatalf("EnsureTables again: %v", err)
	}

	load := func(set *records.Set, p storage.ConflictPolicy) error {
		_, err := storage.Load(ctx, repo, storage.LoadRequest{
			Table: "member_data", Set: set, Keys: []string{"member_id"}, Policy: p, BatchSize: 1,
		})
		return err
	}

	if err := load(members("Ann", "Bob"), storage.PolicyUpdate); err != nil {
		t.Fatalf("initial load: %v", err)
	}
	if err := load(members("Ann2"), storage.PolicyIgnore); err != nil {
		t.Fatalf("ignore load: %v", err)
	}
	if got := firstNames(t, repo)["M0001"]; got != "Ann" {
		t.Fatalf("ignore policy overwrote row: %q", got)
	}
	if err := load(members("Ann3"), storage.PolicyUpdate); err != nil {
		t.Fatalf("update load: %v", err)
	}
	got := firstNames(t, repo)
	if got["M0001"] != "Ann3" || got["M0002"] != "Bob" || len(got) != 2 {
		t.Fatalf("after update: %v", got)
	}

	err := load(members("Dup"), storage.PolicyAppend)
	var le *storage.LoadError
	if !errors.As(err, &le) {
		t.Fatalf("append over unique key: err=%v want *LoadError", err)
	}
}

func TestLoad_IgnoreCountsInsertedRows(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := openTestRepo(t)
	if err := storage.EnsureTables(ctx, repo, "sqlite", []ddl.TableDef{memberTable}); err != nil {
		t.Fatalf("EnsureTables: %v", err)
	}
	load := func(set *records.Set, p storage.ConflictPolicy) int64 {
		t.Helper()
		n, err := storage.Load(ctx, repo, storage.LoadRequest{
			Table: "member_data", Set: set, Keys: []string{"member_id"}, Policy: p, BatchSize: 2,
		})
		if err != nil {
			t.Fatalf("load %s: %v", p, err)
		}
		return n
	}

	if n := load(members("Ann"), storage.PolicyIgnore); n != 1 {
		t.Fatalf("first ignore load rows=%d want 1", n)
	}
	if n := load(members("Bob"), storage.PolicyIgnore); n != 0 {
		t.Fatalf("conflicting ignore load rows=%d want 0", n)
	}
	// M0001 conflicts, M0002 and M0003 are new; spans two statements.
	if n := load(members("Cid", "Dee", "Eve"), storage.PolicyIgnore); n != 2 {
		t.Fatalf("mixed ignore load rows=%d want 2", n)
	}
	if n := load(members("Fay"), storage.PolicyUpdate); n != 1 {
		t.Fatalf("update load rows=%d want 1", n)
	}
	got := firstNames(t, repo)
	if got["M0001"] != "Fay" || got["M0002"] != "Dee" || got["M0003"] != "Eve" {
		t.Fatalf("rows: %v", got)
	}
}

func TestLoad_RollbackLeavesNoRows(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := openTestRepo(t)
	if err := storage.EnsureTables(ctx, repo, "sqlite", []ddl.TableDef{memberTable}); err != nil {
		t.Fatalf("EnsureTables: %v", err)
	}
	_, err := storage.Load(ctx, repo, storage.LoadRequest{
		Table: "member_data", Set: members("Ann", "Bob", "Cy"), Keys: []string{"member_id"}, BatchSize: 1,
		AfterLoad: func(context.Context, storage.Tx, int64) error { return errors.New("boom") },
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := firstNames(t, repo); len(got) != 0 {
		t.Fatalf("rows visible after rollback: %v", got)
	}
}

func TestQuery_ScansTimes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := openTestRepo(t)
	if _, err := repo.Exec(ctx, "CREATE TABLE ev (at TIMESTAMP, n INTEGER)"); err != nil {
		t.Fatalf("create: %v", err)
	}
	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	if _, err := repo.Exec(ctx, "INSERT INTO ev (at, n) VALUES (?, ?)", at, int64(3)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	rows, err := repo.Query(ctx, "SELECT at, n, COUNT(*) AS c FROM ev WHERE at >= ?", at.Add(-time.Hour))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 1 || !rows[0].Time("at").Equal(at) || rows[0].Int64("n") != 3 || rows[0].Int64("c") != 1 {
		t.Fatalf("rows=%v", rows)
	}
}

func TestFactory_UsesHook(t *testing.T) {
	// Not parallel: swaps the package-level hook.
	orig := newRepository
	t.Cleanup(func() { newRepository = orig })

	var gotDSN string
	newRepository = func(ctx context.Context, cfg Config) (*Repository, func(), error) {
		gotDSN = cfg.DSN
		return nil, nil, errors.New("no db in this test")
	}
	if _, err := storage.New(context.Background(), storage.Config{Kind: "sqlite", DSN: "x.db"}); err == nil {
		t.Fatalf("expected hook error")
	}
	if gotDSN != "x.db" {
		t.Fatalf("hook DSN=%q", gotDSN)
	}
}

func TestWithTimeFormat(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"a.db":                     "a.db?_time_format=sqlite",
		"file:a.db?cache=shared":   "file:a.db?cache=shared&_time_format=sqlite",
		"a.db?_time_format=sqlite": "a.db?_time_format=sqlite",
	}
	for in, want := range tests {
		if got := withTimeFormat(in); got != want {
			t.Fatalf("withTimeFormat(%q)=%q want %q", in, got, want)
		}
	}
}
