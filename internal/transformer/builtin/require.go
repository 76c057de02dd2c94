package builtin

import "s3etl/internal/records"

// Require removes any record missing a value for one of the specified fields.
type Require struct {
	Fields []string
}

func (Require) Name() string { return "require" }

// Apply filters in place, keeping only records that have every required
// field present and non-null.
func (r Require) Apply(in *records.Set) *records.Set {
	out := in.Rows[:0]
	for _, rec := range in.Rows {
		ok := true
		for _, f := range r.Fields {
			if records.IsNull(rec[f]) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, rec)
		}
	}
	in.Rows = out
	return in
}
