// Package builtin contains the reusable steps transformer chains are built
// from. Every step mutates the set it is given and returns it.
package builtin

import (
	"strings"

	"s3etl/internal/records"
)

// Normalize replaces no-break spaces with ASCII spaces, trims strings and
// turns empty strings into nil.
type Normalize struct{}

func (Normalize) Name() string { return "normalize" }

func (Normalize) Apply(in *records.Set) *records.Set {
	for _, r := range in.Rows {
		for k, v := range r {
			if s, ok := v.(string); ok {
				s = strings.TrimSpace(strings.ReplaceAll(s, " ", " "))
				if s == "" {
					r[k] = nil
				} else {
					r[k] = s
				}
			}
		}
	}
	return in
}

// LowerColumns lower-cases and trims column names. When two columns fold to
// the same name the first one wins and the other is dropped.
type LowerColumns struct{}

func (LowerColumns) Name() string { return "lower_columns" }

func (LowerColumns) Apply(in *records.Set) *records.Set {
	cols := make([]string, 0, len(in.Columns))
	from := make(map[string]string, len(in.Columns))
	for _, c := range in.Columns {
		lc := strings.ToLower(strings.TrimSpace(c))
		if _, dup := from[lc]; dup {
			continue
		}
		from[lc] = c
		cols = append(cols, lc)
	}
	for i, r := range in.Rows {
		nr := make(records.Record, len(cols))
		for _, lc := range cols {
			nr[lc] = r[from[lc]]
		}
		in.Rows[i] = nr
	}
	in.Columns = cols
	return in
}

// Project restricts the set to Columns in that order. Columns absent from
// the source are added as nil.
type Project struct {
	Columns []string
}

func (Project) Name() string { return "project" }

func (p Project) Apply(in *records.Set) *records.Set {
	if len(p.Columns) == 0 {
		return in
	}
	for i, r := range in.Rows {
		nr := make(records.Record, len(p.Columns))
		for _, c := range p.Columns {
			nr[c] = r[c]
		}
		in.Rows[i] = nr
	}
	in.Columns = append([]string(nil), p.Columns...)
	return in
}
