// Package quality validates extracted record sets against their table rule
// and runs database-level data quality checks over loaded tables.
package quality

import (
	"fmt"
	"log"
	"strings"

	"s3etl/internal/records"
	"s3etl/internal/rules"
)

// CheckValidation is the check type logged for every validated file.
const CheckValidation = "dataframe_validation"

// Outcome summarizes one validation pass. Its JSON form is what the ledger
// stores as quality details.
type Outcome struct {
	IsValid       bool           `json:"is_valid"`
	TotalRows     int            `json:"total_rows"`
	TotalColumns  int            `json:"total_columns"`
	NullCounts    map[string]int `json:"null_counts"`
	DuplicateRows int            `json:"duplicate_rows"`
	Issues        []string       `json:"issues"`
	CoerceFailed  map[string]int `json:"coercion_failures,omitempty"`
}

// MissingColumnError aborts a file whose header lacks required columns.
type MissingColumnError struct {
	Columns []string
	// Row is the offending row index; 0 is the header line.
	Row int
	Key string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("%s: row %d: missing required columns [%s]", e.Key, e.Row, strings.Join(e.Columns, ", "))
}

// Validate checks set against rule and returns a coerced copy of it.
//
// Duplicate rows are counted on raw values. Declared coercions are applied
// best-effort: a value that cannot be converted becomes nil and shows up in
// NullCounts, it never fails the file. Missing required columns produce a
// *MissingColumnError together with the Outcome describing them.
func Validate(set *records.Set, rule rules.TableRule) (*records.Set, Outcome, error) {
	out := Outcome{
		IsValid:      true,
		TotalRows:    set.Len(),
		TotalColumns: len(set.Columns),
		NullCounts:   map[string]int{},
		Issues:       []string{},
	}
	out.DuplicateRows = countDuplicates(set)

	var missing []string
	for _, c := range rule.RequiredColumns {
		if _, ok := set.FoldColumn(c); !ok {
			missing = append(missing, c)
			out.Issues = append(out.Issues, fmt.Sprintf("Missing %s column", c))
		}
	}
	if len(missing) > 0 {
		out.IsValid = false
		countNulls(set, out.NullCounts)
		return nil, out, &MissingColumnError{Columns: missing, Row: 0, Key: set.Source}
	}

	coerced := set.Clone()
	for col, kind := range rule.Coercions {
		name, ok := coerced.FoldColumn(col)
		if !ok {
			continue
		}
		for _, r := range coerced.Rows {
			v, ok := rules.Coerce(kind, r[name])
			if !ok {
				if out.CoerceFailed == nil {
					out.CoerceFailed = map[string]int{}
				}
				out.CoerceFailed[name]++
			}
			r[name] = v
		}
	}
	countNulls(coerced, out.NullCounts)

	for _, c := range rule.NotNullColumns {
		name, ok := coerced.FoldColumn(c)
		if !ok {
			continue
		}
		if out.NullCounts[name] > 0 {
			out.IsValid = false
			out.Issues = append(out.Issues, fmt.Sprintf("Null values in %s", c))
		}
	}
	if len(out.CoerceFailed) > 0 {
		log.Printf("validate: key=%s coercion_failures=%v", set.Source, out.CoerceFailed)
	}
	return coerced, out, nil
}

// Result maps IsValid to a ledger verdict string.
func (o Outcome) Result() string {
	if o.IsValid {
		return "pass"
	}
	return "fail"
}

func countNulls(set *records.Set, into map[string]int) {
	for _, c := range set.Columns {
		into[c] = 0
	}
	for _, r := range set.Rows {
		for _, c := range set.Columns {
			if records.IsNull(r[c]) {
				into[c]++
			}
		}
	}
}

func countDuplicates(set *records.Set) int {
	seen := make(map[string]struct{}, set.Len())
	dups := 0
	var sb strings.Builder
	for _, r := range set.Rows {
		sb.Reset()
		for _, c := range set.Columns {
			sb.WriteString(records.Key(r[c]))
			sb.WriteByte('\x1f')
		}
		k := sb.String()
		if _, ok := seen[k]; ok {
			dups++
			continue
		}
		seen[k] = struct{}{}
	}
	return dups
}
