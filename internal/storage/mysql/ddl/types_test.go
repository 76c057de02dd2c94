package ddl

import (
	"strings"
	"testing"

	base "s3etl/internal/ddl"
)

func TestFlavor_CreateTable(t *testing.T) {
	t.Parallel()

	stmts, err := Flavor.CreateTable(base.TableDef{
		FQN: "import_log",
		Columns: []base.ColumnDef{
			{Name: "id", Kind: "integer", PrimaryKey: true, AutoIncrement: true},
			{Name: "s3_bucket", Kind: "string"},
			{Name: "etag", Kind: "string", Nullable: true},
		},
		Indexes: []base.IndexDef{{Name: "ix_import_log_etag", Columns: []string{"s3_bucket", "etag"}}},
	})
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if len(stmts) != 1 {
		t.Fatalf("want a single statement with inline index, got %q", stmts)
	}
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS `import_log` (",
		"`id` BIGINT AUTO_INCREMENT,",
		"`s3_bucket` VARCHAR(255) NOT NULL,",
		"INDEX `ix_import_log_etag` (`s3_bucket`, `etag`)",
		") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;",
	} {
		if !strings.Contains(stmts[0], want) {
			t.Fatalf("missing %q in:\n%s", want, stmts[0])
		}
	}
}

func TestMapType(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{"string": "VARCHAR(255)", "text": "TEXT", "decimal": "DOUBLE", "timestamp": "DATETIME(6)"} {
		if got := MapType(in); got != want {
			t.Fatalf("MapType(%q)=%q want %q", in, got, want)
		}
	}
}
