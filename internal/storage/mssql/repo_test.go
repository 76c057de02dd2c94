package mssql

import (
	"context"
	"strings"
	"testing"

	"s3etl/internal/storage"
)

func TestUpsertSQL_Merge(t *testing.T) {
	t.Parallel()

	d := Dialect{}
	got, err := d.UpsertSQL("dbo.member_data", []string{"member_id", "first_name"}, []string{"member_id"}, 2, storage.PolicyUpdate)
	if err != nil {
		t.Fatalf("UpsertSQL: %v", err)
	}
	want := "MERGE INTO [dbo].[member_data] WITH (HOLDLOCK) AS tgt USING (VALUES (?, ?), (?, ?)) AS src ([member_id], [first_name]) " +
		"ON tgt.[member_id] = src.[member_id] " +
		"WHEN MATCHED THEN UPDATE SET tgt.[first_name] = src.[first_name] " +
		"WHEN NOT MATCHED THEN INSERT ([member_id], [first_name]) VALUES (src.[member_id], src.[first_name]);"
	if got != want {
		t.Fatalf("\n got: %s\nwant: %s", got, want)
	}

	ignore, err := d.UpsertSQL("t", []string{"k", "v"}, []string{"k"}, 1, storage.PolicyIgnore)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(ignore, "WHEN MATCHED") {
		t.Fatalf("ignore must not update: %s", ignore)
	}
	if _, err := d.UpsertSQL("t", []string{"k"}, []string{"k"}, 1, "merge"); err == nil {
		t.Fatalf("expected unknown policy error")
	}
}

func TestRebindAndLimit(t *testing.T) {
	t.Parallel()

	d := Dialect{}
	if got := storage.Rebind(d, "SELECT * FROM t WHERE a = ? AND b = ?"); got != "SELECT * FROM t WHERE a = @p1 AND b = @p2" {
		t.Fatalf("Rebind=%q", got)
	}
	if got := d.Limit(10); got != "OFFSET 0 ROWS FETCH NEXT 10 ROWS ONLY" {
		t.Fatalf("Limit=%q", got)
	}
}

func TestNewRepository_BadDSN(t *testing.T) {
	t.Parallel()

	if _, _, err := NewRepository(context.Background(), Config{DSN: "sqlserver://%zz"}); err == nil {
		t.Fatalf("expected DSN error")
	}
}
