// Package ddl defines a small, backend-agnostic model for CREATE TABLE
// statements and a renderer that backends parameterize with their dialect
// (identifier quoting, type mapping, "create if missing" form).
//
// Columns carry a logical Kind (string, text, integer, decimal, date,
// timestamp, json, boolean). Each backend maps kinds to concrete SQL types;
// SQLType overrides the mapping when set.
package ddl

import (
	"fmt"
	"strings"
)

// ColumnDef describes one column.
type ColumnDef struct {
	Name string
	// Kind is the logical type; see package doc.
	Kind string
	// SQLType, when non-empty, is emitted verbatim instead of mapping Kind.
	SQLType       string
	Nullable      bool
	PrimaryKey    bool
	AutoIncrement bool
	// Default is a raw SQL expression.
	Default string
}

// IndexDef describes a secondary index. Unique indexes are rendered as table
// constraints.
type IndexDef struct {
	Name    string
	Columns []string
	Unique  bool
}

// TableDef holds the table name (optionally schema-qualified) and its
// ordered columns and indexes.
type TableDef struct {
	FQN     string
	Columns []ColumnDef
	Indexes []IndexDef
}

// Flavor captures what differs between SQL dialects when creating tables.
type Flavor struct {
	Name       string
	QuoteIdent func(string) string
	MapType    func(kind string) string
	// AutoIncrement renders an auto-generated integer column type.
	AutoIncrement func(sqlType string) string
	// InlineIndexes renders non-unique indexes inside CREATE TABLE
	// (MySQL, SQL Server). Otherwise they become CREATE INDEX IF NOT EXISTS.
	InlineIndexes bool
	// CreateIfMissing wraps the CREATE TABLE body. Nil means the standard
	// "CREATE TABLE IF NOT EXISTS <t> (...)".
	CreateIfMissing func(quotedFQN, body string) string
}

// QuoteFQN quotes each dotted segment of fqn with quote.
func QuoteFQN(fqn string, quote func(string) string) string {
	parts := strings.Split(fqn, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, quote(p))
	}
	return strings.Join(out, ".")
}

// CreateTable renders the statements that create t when it does not exist:
// the CREATE TABLE itself followed by any out-of-line indexes.
func (f Flavor) CreateTable(t TableDef) ([]string, error) {
	fqn := strings.TrimSpace(t.FQN)
	if fqn == "" {
		return nil, fmt.Errorf("%s ddl: table FQN must not be empty", f.Name)
	}
	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("%s ddl: at least one column is required", f.Name)
	}

	defs := make([]string, 0, len(t.Columns)+len(t.Indexes)+1)
	var pks []string
	for _, c := range t.Columns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, fmt.Errorf("%s ddl: column with empty name in table %s", f.Name, fqn)
		}
		typ := strings.TrimSpace(c.SQLType)
		if typ == "" {
			typ = f.MapType(c.Kind)
		}
		if typ == "" {
			return nil, fmt.Errorf("%s ddl: column %s has no type", f.Name, name)
		}
		if c.AutoIncrement && f.AutoIncrement != nil {
			typ = f.AutoIncrement(typ)
		}

		var sb strings.Builder
		sb.WriteString(f.QuoteIdent(name))
		sb.WriteByte(' ')
		sb.WriteString(typ)
		if !c.Nullable && !c.AutoIncrement {
			sb.WriteString(" NOT NULL")
		}
		if def := strings.TrimSpace(c.Default); def != "" {
			sb.WriteString(" DEFAULT ")
			sb.WriteString(def)
		}
		defs = append(defs, sb.String())
		if c.PrimaryKey {
			pks = append(pks, f.QuoteIdent(name))
		}
	}
	if len(pks) > 0 {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pks, ", ")))
	}

	quoted := QuoteFQN(fqn, f.QuoteIdent)
	var after []string
	for _, ix := range t.Indexes {
		if len(ix.Columns) == 0 {
			return nil, fmt.Errorf("%s ddl: index %s has no columns", f.Name, ix.Name)
		}
		cols := f.quoteList(ix.Columns)
		switch {
		case ix.Unique:
			defs = append(defs, fmt.Sprintf("CONSTRAINT %s UNIQUE (%s)", f.QuoteIdent(ix.Name), cols))
		case f.InlineIndexes:
			defs = append(defs, fmt.Sprintf("INDEX %s (%s)", f.QuoteIdent(ix.Name), cols))
		default:
			after = append(after, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s);", f.QuoteIdent(ix.Name), quoted, cols))
		}
	}

	body := "(\n  " + strings.Join(defs, ",\n  ") + "\n)"
	var stmt string
	if f.CreateIfMissing != nil {
		stmt = f.CreateIfMissing(quoted, body)
	} else {
		stmt = fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s %s;", quoted, body)
	}
	return append([]string{stmt}, after...), nil
}

func (f Flavor) quoteList(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = f.QuoteIdent(c)
	}
	return strings.Join(out, ", ")
}
