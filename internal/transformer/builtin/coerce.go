package builtin

import (
	"s3etl/internal/records"
	"s3etl/internal/rules"
)

// Coerce converts declared columns to their kind. Values that do not parse
// become nil; already-typed values pass through, so re-coercion is safe.
type Coerce struct {
	Kinds map[string]rules.CoercionKind
}

func (Coerce) Name() string { return "coerce" }

func (c Coerce) Apply(in *records.Set) *records.Set {
	for field, kind := range c.Kinds {
		if !in.HasColumn(field) {
			continue
		}
		for _, r := range in.Rows {
			v, _ := rules.Coerce(kind, r[field])
			r[field] = v
		}
	}
	return in
}

// Derive fills a target column from a pattern capture over a source column,
// for rows where the target is null. The target column is added when the
// source file does not carry it.
type Derive struct {
	Derivations []rules.Derivation
}

func (Derive) Name() string { return "derive" }

func (d Derive) Apply(in *records.Set) *records.Set {
	for _, dv := range d.Derivations {
		if !in.HasColumn(dv.Source) {
			continue
		}
		in.AddColumn(dv.Target)
		for _, r := range in.Rows {
			if !records.IsNull(r[dv.Target]) {
				continue
			}
			s, ok := r[dv.Source].(string)
			if !ok {
				continue
			}
			if v, ok := dv.Extract(s); ok {
				r[dv.Target] = v
			}
		}
	}
	return in
}

// Defaults replaces nulls with fixed values, adding missing columns.
type Defaults struct {
	Values map[string]any
}

func (Defaults) Name() string { return "defaults" }

func (d Defaults) Apply(in *records.Set) *records.Set {
	for col, def := range d.Values {
		in.AddColumn(col)
		for _, r := range in.Rows {
			if records.IsNull(r[col]) {
				r[col] = def
			}
		}
	}
	return in
}
