// Package records defines the row model shared by the extractor, validator,
// transformer and loader.
//
// A Record maps a column name to a scalar value. Values are one of string,
// int64, float64, time.Time or nil (SQL NULL). A Set carries the ordered
// column list observed in the source header next to its rows, so that the
// loader can build positional statements without re-sorting map keys.
package records

import (
	"fmt"
	"strings"
	"time"
)

// Record is a single row keyed by column name.
type Record map[string]any

// Set is an ordered collection of records extracted from one source object.
type Set struct {
	// Source is the object key (or path) the rows came from.
	Source string
	// Columns is the header order. Every record in Rows uses these keys.
	Columns []string
	Rows    []Record
}

// Len returns the number of rows.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Rows)
}

// HasColumn reports whether name is present in the header (exact match).
func (s *Set) HasColumn(name string) bool {
	return s.ColumnIndex(name) >= 0
}

// ColumnIndex returns the header position of name, or -1.
func (s *Set) ColumnIndex(name string) int {
	for i, c := range s.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// FoldColumn returns the header column equal to name under case folding.
func (s *Set) FoldColumn(name string) (string, bool) {
	for _, c := range s.Columns {
		if strings.EqualFold(c, name) {
			return c, true
		}
	}
	return "", false
}

// AddColumn appends name to the header if it is not already present.
// Existing rows get a nil value for the new column.
func (s *Set) AddColumn(name string) {
	if s.HasColumn(name) {
		return
	}
	s.Columns = append(s.Columns, name)
	for _, r := range s.Rows {
		if _, ok := r[name]; !ok {
			r[name] = nil
		}
	}
}

// Clone returns a deep copy of the set header and rows. Values are scalars so
// a shallow copy of each record map is sufficient.
func (s *Set) Clone() *Set {
	if s == nil {
		return nil
	}
	out := &Set{
		Source:  s.Source,
		Columns: append([]string(nil), s.Columns...),
		Rows:    make([]Record, len(s.Rows)),
	}
	for i, r := range s.Rows {
		cp := make(Record, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out.Rows[i] = cp
	}
	return out
}

// Values returns the row values aligned to columns. Missing keys are nil.
func (r Record) Values(columns []string) []any {
	out := make([]any, len(columns))
	for i, c := range columns {
		out[i] = r[c]
	}
	return out
}

// IsNull reports whether v should be treated as a missing value.
// Empty strings count as null, matching how the extractor emits blank cells.
func IsNull(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case *string:
		return t == nil
	}
	return false
}

// Key renders v into a stable string used for equality checks (duplicate
// detection, dedupe keys). nil renders as "\x00" so it never equals "".
func Key(v any) string {
	switch t := v.(type) {
	case nil:
		return "\x00"
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(t)
	}
}
