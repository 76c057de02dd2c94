package mysql

import (
	"context"
	"errors"
	"testing"
	"time"

	"s3etl/internal/storage"
)

func TestUpsertSQL(t *testing.T) {
	t.Parallel()

	d := Dialect{}
	cols := []string{"member_id", "benefit", "used"}
	keys := []string{"member_id", "benefit"}

	tests := []struct {
		policy storage.ConflictPolicy
		want   string
	}{
		{storage.PolicyUpdate, "INSERT INTO `t` (`member_id`, `benefit`, `used`) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE `used` = VALUES(`used`)"},
		{storage.PolicyIgnore, "INSERT IGNORE INTO `t` (`member_id`, `benefit`, `used`) VALUES (?, ?, ?)"},
		{storage.PolicyAppend, "INSERT INTO `t` (`member_id`, `benefit`, `used`) VALUES (?, ?, ?)"},
	}
	for _, tc := range tests {
		got, err := d.UpsertSQL("t", cols, keys, 1, tc.policy)
		if err != nil {
			t.Fatalf("%s: %v", tc.policy, err)
		}
		if got != tc.want {
			t.Fatalf("%s:\n got: %s\nwant: %s", tc.policy, got, tc.want)
		}
	}
}

func TestNormalizeDSN(t *testing.T) {
	t.Parallel()

	mc, err := normalizeDSN("root:pw@tcp(db:3306)/hma")
	if err != nil {
		t.Fatalf("normalizeDSN: %v", err)
	}
	if !mc.ParseTime || mc.Loc != time.UTC || mc.DBName != "hma" || mc.Addr != "db:3306" {
		t.Fatalf("config=%+v", mc)
	}

	mc, err = normalizeDSN("root:pw@tcp(db:3306)/hma?parseTime=false")
	if err != nil {
		t.Fatalf("normalizeDSN: %v", err)
	}
	if !mc.ParseTime {
		t.Fatalf("parseTime must be forced on")
	}

	if _, err := normalizeDSN("not a dsn"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestFactory_UsesHook(t *testing.T) {
	orig := newRepository
	t.Cleanup(func() { newRepository = orig })

	want := errors.New("unreachable")
	newRepository = func(context.Context, Config) (*Repository, func(), error) { return nil, nil, want }
	if _, err := storage.New(context.Background(), storage.Config{Kind: "mysql", DSN: "u:p@/db"}); !errors.Is(err, want) {
		t.Fatalf("err=%v want %v", err, want)
	}
}
