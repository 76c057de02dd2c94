// Package rules maps source file names to target tables and carries the
// per-table contract: required columns, coercions, derivations and keys.
//
// A TableRule is a plain value. Behavior that differs between tables is
// expressed as data on the rule (coercion kinds, derivation patterns,
// defaults), so adding a table means registering a new TableRule, not
// writing new code.
package rules

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
)

// Derivation fills Target from a regular-expression capture over Source
// when the file does not provide Target itself. The first capture group is
// used; with no groups the whole match is used.
type Derivation struct {
	Target  string
	Source  string
	Pattern *regexp.Regexp
}

// Extract applies the pattern to s. ok is false when nothing matched.
func (d Derivation) Extract(s string) (string, bool) {
	if d.Pattern == nil {
		return "", false
	}
	m := d.Pattern.FindStringSubmatch(s)
	switch {
	case m == nil:
		return "", false
	case len(m) > 1:
		return m[1], true
	default:
		return m[0], true
	}
}

// TableRule describes how files matching Patterns are loaded into Table.
type TableRule struct {
	// Name identifies the rule in logs; defaults to Table.
	Name string
	// Patterns are matched, lowercased, as substrings of the lowercase file
	// stem. Order matters only across rules (first rule wins).
	Patterns []string
	Table    string

	// RequiredColumns must be present in the header (case-insensitive).
	RequiredColumns []string
	// NotNullColumns must not contain nulls after coercion.
	NotNullColumns []string
	// KeyColumns identify a row for upserts.
	KeyColumns []string
	// Columns, when set, is the projection written to Table. Otherwise every
	// source column is written.
	Columns []string

	Coercions   map[string]CoercionKind
	Derivations []Derivation
	// Defaults replace nulls after coercion (e.g. counters default to 0).
	Defaults map[string]any
}

// JobType is the ledger job type for files handled by r.
func (r TableRule) JobType() string { return "csv_to_" + r.Table }

// Validate checks that the rule is internally consistent.
func (r TableRule) Validate() error {
	var errs []error
	if strings.TrimSpace(r.Table) == "" {
		errs = append(errs, errors.New("table is required"))
	}
	if len(r.Patterns) == 0 {
		errs = append(errs, errors.New("at least one pattern is required"))
	}
	for _, p := range r.Patterns {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, errors.New("empty pattern"))
		}
	}
	for col, k := range r.Coercions {
		if !k.Valid() {
			errs = append(errs, fmt.Errorf("column %s: unknown coercion %q", col, k))
		}
	}
	for _, d := range r.Derivations {
		if d.Target == "" || d.Source == "" || d.Pattern == nil {
			errs = append(errs, fmt.Errorf("derivation %q: target, source and pattern are required", d.Target))
		}
	}
	if len(r.Columns) > 0 {
		for _, k := range r.KeyColumns {
			if !containsFold(r.Columns, k) {
				errs = append(errs, fmt.Errorf("key column %s is not in columns", k))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("rule %s: %w", r.label(), errors.Join(errs...))
	}
	return nil
}

func (r TableRule) label() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Table
}

// Registry is an ordered list of rules. It is built once at startup and only
// read afterwards.
type Registry struct {
	rules []TableRule
}

// NewRegistry returns a registry holding rules in the given order.
func NewRegistry(rules ...TableRule) (*Registry, error) {
	reg := &Registry{}
	for _, r := range rules {
		if err := reg.Register(r); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Register appends r. Registration order is the match order.
func (g *Registry) Register(r TableRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.Name == "" {
		r.Name = r.Table
	}
	g.rules = append(g.rules, r)
	return nil
}

// Resolve returns the first rule with a pattern contained in the normalized
// name of key (lowercase base name without extension).
func (g *Registry) Resolve(key string) (TableRule, bool) {
	stem := Stem(key)
	for _, r := range g.rules {
		for _, p := range r.Patterns {
			if strings.Contains(stem, strings.ToLower(p)) {
				return r, true
			}
		}
	}
	return TableRule{}, false
}

// Rules returns the registered rules in match order.
func (g *Registry) Rules() []TableRule {
	return append([]TableRule(nil), g.rules...)
}

// Tables returns the distinct target tables in first-seen order.
func (g *Registry) Tables() []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range g.rules {
		if !seen[r.Table] {
			seen[r.Table] = true
			out = append(out, r.Table)
		}
	}
	return out
}

// Stem lowercases the base name of key and drops its extension.
func Stem(key string) string {
	base := path.Base(strings.ReplaceAll(key, "\\", "/"))
	return strings.ToLower(strings.TrimSuffix(base, path.Ext(base)))
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
