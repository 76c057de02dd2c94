package ledger

import "s3etl/internal/ddl"

// Ledger table names.
const (
	JobsTable    = "etl_jobs"
	QualityTable = "data_quality_logs"
	ImportTable  = "import_log"
)

// Tables returns the ledger table layouts.
func Tables() []ddl.TableDef {
	return []ddl.TableDef{
		{
			FQN: JobsTable,
			Columns: []ddl.ColumnDef{
				{Name: "job_id", Kind: "string", PrimaryKey: true},
				{Name: "job_type", Kind: "string"},
				{Name: "source_file", Kind: "text", Nullable: true},
				{Name: "status", Kind: "string"},
				{Name: "records_processed", Kind: "integer", Default: "0"},
				{Name: "records_failed", Kind: "integer", Default: "0"},
				{Name: "error_message", Kind: "text", Nullable: true},
				{Name: "started_at", Kind: "timestamp", Nullable: true},
				{Name: "completed_at", Kind: "timestamp", Nullable: true},
				{Name: "created_at", Kind: "timestamp"},
			},
			Indexes: []ddl.IndexDef{{Name: "ix_etl_jobs_created", Columns: []string{"created_at"}}},
		},
		{
			FQN: QualityTable,
			Columns: []ddl.ColumnDef{
				{Name: "id", Kind: "integer", PrimaryKey: true, AutoIncrement: true},
				{Name: "job_id", Kind: "string"},
				{Name: "check_type", Kind: "string"},
				{Name: "table_name", Kind: "string"},
				{Name: "check_result", Kind: "string"},
				{Name: "details", Kind: "text", Nullable: true},
				{Name: "created_at", Kind: "timestamp"},
			},
			Indexes: []ddl.IndexDef{
				{Name: "ix_dql_job", Columns: []string{"job_id"}},
				{Name: "ix_dql_created", Columns: []string{"created_at"}},
			},
		},
		{
			FQN: ImportTable,
			Columns: []ddl.ColumnDef{
				{Name: "id", Kind: "integer", PrimaryKey: true, AutoIncrement: true},
				{Name: "s3_bucket", Kind: "string"},
				{Name: "s3_key", Kind: "text"},
				{Name: "etag", Kind: "string", Nullable: true},
				{Name: "file_bytes", Kind: "integer", Default: "0"},
				{Name: "loaded_rows", Kind: "integer", Default: "0"},
				{Name: "status", Kind: "string"},
				{Name: "message", Kind: "text", Nullable: true},
				{Name: "created_at", Kind: "timestamp"},
			},
			Indexes: []ddl.IndexDef{{Name: "ix_import_log_etag", Columns: []string{"s3_bucket", "etag"}}},
		},
	}
}
