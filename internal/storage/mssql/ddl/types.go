// Package ddl contains MSSQL-specific helpers for generating DDL.
//
// It maps logical column kinds into SQL Server types. The mapping is
// conservative and biased toward Unicode text.
package ddl

import (
	"strings"

	base "s3etl/internal/ddl"
)

// MapType maps a logical kind into a SQL Server column type. Unknown kinds
// fall back to NVARCHAR(MAX); "string" is bounded so it can be indexed.
func MapType(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "int", "integer", "bigint":
		return "BIGINT"
	case "bool", "boolean":
		return "BIT"
	case "date":
		return "DATE"
	case "timestamp", "datetime", "timestamptz":
		return "DATETIME2"
	case "float", "double", "numeric", "decimal":
		return "DECIMAL(38, 10)"
	case "string":
		return "NVARCHAR(255)"
	case "":
		return ""
	default:
		return "NVARCHAR(MAX)"
	}
}

// QuoteIdent wraps name in brackets, doubling embedded closing brackets.
func QuoteIdent(name string) string {
	return `[` + strings.ReplaceAll(name, `]`, `]]`) + `]`
}

// Flavor renders CREATE TABLE for SQL Server, guarded by OBJECT_ID since
// T-SQL has no CREATE TABLE IF NOT EXISTS.
var Flavor = base.Flavor{
	Name:          "mssql",
	QuoteIdent:    QuoteIdent,
	MapType:       MapType,
	AutoIncrement: func(t string) string { return t + " IDENTITY(1,1)" },
	InlineIndexes: true,
	CreateIfMissing: func(q, body string) string {
		lit := strings.ReplaceAll(q, "'", "''")
		return "IF OBJECT_ID(N'" + lit + "', N'U') IS NULL\nBEGIN\n  CREATE TABLE " + q + " " + body + ";\nEND;"
	},
}
