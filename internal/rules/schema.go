package rules

import (
	"fmt"
	"strings"

	"s3etl/internal/ddl"
)

// TableDef derives the target table layout from the rule: a surrogate id,
// one column per projected column typed by its coercion, and a unique
// constraint over the key columns that upserts conflict on.
func (r TableRule) TableDef() (ddl.TableDef, error) {
	if len(r.Columns) == 0 {
		return ddl.TableDef{}, fmt.Errorf("rule %s: columns must be listed to create table %s", r.Name, r.Table)
	}
	keys := make(map[string]bool, len(r.KeyColumns))
	for _, k := range r.KeyColumns {
		keys[strings.ToLower(k)] = true
	}

	td := ddl.TableDef{FQN: r.Table}
	td.Columns = append(td.Columns, ddl.ColumnDef{Name: "id", Kind: "integer", PrimaryKey: true, AutoIncrement: true})
	for _, c := range r.Columns {
		isKey := keys[strings.ToLower(c)]
		td.Columns = append(td.Columns, ddl.ColumnDef{
			Name:     c,
			Kind:     columnKind(r.Coercions[c], isKey),
			Nullable: !isKey,
		})
	}
	if len(r.KeyColumns) > 0 {
		td.Indexes = append(td.Indexes, ddl.IndexDef{
			Name:    "uq_" + strings.ReplaceAll(r.Table, ".", "_"),
			Columns: r.KeyColumns,
			Unique:  true,
		})
	}
	return td, nil
}

// TableDefs returns the layouts of every rule that lists its columns.
func (g *Registry) TableDefs() ([]ddl.TableDef, error) {
	var out []ddl.TableDef
	for _, r := range g.Rules() {
		if len(r.Columns) == 0 {
			continue
		}
		td, err := r.TableDef()
		if err != nil {
			return nil, err
		}
		out = append(out, td)
	}
	return out, nil
}

func columnKind(k CoercionKind, key bool) string {
	switch k {
	case Date:
		return "date"
	case Integer:
		return "integer"
	case Decimal:
		return "decimal"
	}
	if key {
		return "string"
	}
	return "text"
}
