// Package ddl contains SQLite-specific helpers for generating DDL.
package ddl

import (
	"strings"

	base "s3etl/internal/ddl"
)

// MapType maps a logical kind to a SQLite declared type. Dates and
// timestamps keep DATE/TIMESTAMP so the driver scans them back as time.Time.
//
//	"int"/"integer"/"bigint"/"bool" -> INTEGER
//	"decimal"/"float"/"double"      -> REAL
//	"date"                          -> DATE
//	"timestamp"                     -> TIMESTAMP
//	everything else                 -> TEXT
func MapType(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "int", "integer", "bigint", "bool", "boolean":
		return "INTEGER"
	case "decimal", "float", "double", "numeric":
		return "REAL"
	case "date":
		return "DATE"
	case "timestamp", "datetime":
		return "TIMESTAMP"
	case "":
		return ""
	default:
		return "TEXT"
	}
}

// QuoteIdent wraps name in double quotes, doubling embedded quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Flavor renders CREATE TABLE for SQLite. An INTEGER PRIMARY KEY column is
// the rowid alias, so auto-increment needs no extra keyword.
var Flavor = base.Flavor{
	Name:          "sqlite",
	QuoteIdent:    QuoteIdent,
	MapType:       MapType,
	AutoIncrement: func(string) string { return "INTEGER" },
}
