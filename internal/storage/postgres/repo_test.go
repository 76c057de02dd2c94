package postgres

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/jackc/pgx/v5"

	"s3etl/internal/storage"
)

func TestUpsertSQL_Rebound(t *testing.T) {
	t.Parallel()

	d := Dialect{}
	q, err := d.UpsertSQL("public.plan_details", []string{"group_number", "plan_detail", "description"}, []string{"group_number", "plan_detail"}, 2, storage.PolicyUpdate)
	if err != nil {
		t.Fatalf("UpsertSQL: %v", err)
	}
	got := storage.Rebind(d, q)
	want := `INSERT INTO "public"."plan_details" ("group_number", "plan_detail", "description") VALUES ($1, $2, $3), ($4, $5, $6) ` +
		`ON CONFLICT ("group_number", "plan_detail") DO UPDATE SET "description" = EXCLUDED."description"`
	if got != want {
		t.Fatalf("\n got: %s\nwant: %s", got, want)
	}
}

func TestSplitFQN(t *testing.T) {
	t.Parallel()

	if got := splitFQN("public.member_data"); !reflect.DeepEqual(got, pgx.Identifier{"public", "member_data"}) {
		t.Fatalf("splitFQN=%v", got)
	}
	if got := splitFQN("member_data"); !reflect.DeepEqual(got, pgx.Identifier{"member_data"}) {
		t.Fatalf("splitFQN=%v", got)
	}
}

func TestFactory_UsesHook(t *testing.T) {
	orig := newRepository
	t.Cleanup(func() { newRepository = orig })

	want := errors.New("no server")
	var gotDSN string
	newRepository = func(_ context.Context, cfg Config) (*Repository, func(), error) {
		gotDSN = cfg.DSN
		return nil, nil, want
	}
	_, err := storage.New(context.Background(), storage.Config{Kind: "postgres", DSN: "postgres://u@h/db"})
	if !errors.Is(err, want) || gotDSN != "postgres://u@h/db" {
		t.Fatalf("err=%v dsn=%q", err, gotDSN)
	}
}

func TestNewRepository_BadDSN(t *testing.T) {
	t.Parallel()

	if _, _, err := NewRepository(context.Background(), Config{DSN: "postgres://%zz"}); err == nil {
		t.Fatalf("expected config error")
	}
}
