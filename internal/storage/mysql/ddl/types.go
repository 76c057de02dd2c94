// Package ddl contains MySQL-specific helpers for generating DDL.
package ddl

import (
	"strings"

	base "s3etl/internal/ddl"
)

// MapType maps a logical kind to a MySQL column type. Key columns use
// "string" so they fit in an index.
func MapType(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "int", "integer", "bigint":
		return "BIGINT"
	case "bool", "boolean":
		return "TINYINT(1)"
	case "decimal", "float", "double", "numeric":
		return "DOUBLE"
	case "date":
		return "DATE"
	case "timestamp", "datetime":
		return "DATETIME(6)"
	case "json":
		return "JSON"
	case "string":
		return "VARCHAR(255)"
	case "":
		return ""
	default:
		return "TEXT"
	}
}

// QuoteIdent wraps name in backticks, doubling embedded backticks.
func QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// Flavor renders CREATE TABLE for MySQL with indexes declared inline.
var Flavor = base.Flavor{
	Name:          "mysql",
	QuoteIdent:    QuoteIdent,
	MapType:       MapType,
	AutoIncrement: func(t string) string { return t + " AUTO_INCREMENT" },
	InlineIndexes: true,
	CreateIfMissing: func(q, body string) string {
		return "CREATE TABLE IF NOT EXISTS " + q + " " + body + " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;"
	},
}
