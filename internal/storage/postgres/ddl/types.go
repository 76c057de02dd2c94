// Package ddl contains Postgres-specific helpers for generating DDL.
package ddl

import (
	"strings"

	base "s3etl/internal/ddl"
)

// MapType normalizes a logical kind into a Postgres SQL type.
//
//	"int"/"integer"/"bigint"  -> BIGINT
//	"bool"/"boolean"          -> BOOLEAN
//	"decimal"/"float"         -> DOUBLE PRECISION
//	"date"                    -> DATE
//	"timestamp"/"timestamptz" -> TIMESTAMPTZ
//	"json"                    -> JSONB
//	"string"                  -> VARCHAR(255)
//	everything else           -> TEXT
func MapType(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "int", "integer", "bigint":
		return "BIGINT"
	case "bool", "boolean":
		return "BOOLEAN"
	case "decimal", "float", "double", "numeric":
		return "DOUBLE PRECISION"
	case "date":
		return "DATE"
	case "timestamp", "timestamptz":
		return "TIMESTAMPTZ"
	case "json":
		return "JSONB"
	case "string":
		return "VARCHAR(255)"
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

// Flavor renders CREATE TABLE for Postgres with identity columns.
var Flavor = base.Flavor{
	Name:          "postgres",
	QuoteIdent:    QuoteIdent,
	MapType:       MapType,
	AutoIncrement: func(t string) string { return t + " GENERATED BY DEFAULT AS IDENTITY" },
}
