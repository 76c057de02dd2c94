package rules

import (
	"fmt"
	"regexp"

	"s3etl/internal/config"
)

var memberIDPattern = regexp.MustCompile(`(M\d{4})`)

// Default returns the built-in MBA rules in match order.
func Default() *Registry {
	reg, err := NewRegistry(
		TableRule{
			Name:            "member_data",
			Patterns:        []string{"MemberData", "memberdata"},
			Table:           "member_data",
			RequiredColumns: []string{"member_id"},
			NotNullColumns:  []string{"member_id"},
			KeyColumns:      []string{"member_id"},
			Columns:         []string{"member_id", "first_name", "last_name", "dob"},
			Coercions: map[string]CoercionKind{
				"member_id":  Text,
				"first_name": Text,
				"last_name":  Text,
				"dob":        Date,
			},
		},
		TableRule{
			Name:            "deductibles_oop",
			Patterns:        []string{"deductibles_oop"},
			Table:           "deductibles_oop",
			RequiredColumns: []string{"Metric"},
			KeyColumns:      []string{"metric"},
			Columns:         []string{"metric", "member_id", "m1001", "m1002", "m1003", "m1004", "m1005"},
			Coercions: map[string]CoercionKind{
				"m1001": Decimal,
				"m1002": Decimal,
				"m1003": Decimal,
				"m1004": Decimal,
				"m1005": Decimal,
			},
			Derivations: []Derivation{
				{Target: "member_id", Source: "metric", Pattern: memberIDPattern},
			},
		},
		TableRule{
			Name:       "benefit_accumulator",
			Patterns:   []string{"benefit_accumulator"},
			Table:      "benefit_accumulator",
			KeyColumns: []string{"member_id", "benefit"},
			Columns:    []string{"member_id", "benefit", "used", "remaining"},
			Coercions: map[string]CoercionKind{
				"used":      Integer,
				"remaining": Integer,
			},
			Defaults: map[string]any{"used": int64(0), "remaining": int64(0)},
		},
		TableRule{
			Name:       "plan_details",
			Patterns:   []string{"plan_details"},
			Table:      "plan_details",
			KeyColumns: []string{"group_number", "plan_detail"},
			Columns:    []string{"group_number", "plan_detail", "description"},
			Coercions: map[string]CoercionKind{
				"group_number": Decimal,
				"plan_detail":  Decimal,
			},
		},
	)
	if err != nil {
		panic(fmt.Sprintf("rules: built-in rules are invalid: %v", err))
	}
	return reg
}

// FromConfig builds a registry from the tables section of the config file,
// in declared order. An empty list yields Default().
func FromConfig(tables []config.Table) (*Registry, error) {
	if len(tables) == 0 {
		return Default(), nil
	}
	reg := &Registry{}
	for i, t := range tables {
		r := TableRule{
			Name:            t.Name,
			Patterns:        t.Patterns,
			Table:           t.Table,
			RequiredColumns: t.Required,
			NotNullColumns:  t.NotNull,
			KeyColumns:      t.Keys,
			Columns:         t.Columns,
			Defaults:        t.Defaults,
		}
		if len(t.Coerce) > 0 {
			r.Coercions = make(map[string]CoercionKind, len(t.Coerce))
			for col, kind := range t.Coerce {
				k, err := ParseKind(kind)
				if err != nil {
					return nil, fmt.Errorf("tables[%d].coerce.%s: %w", i, col, err)
				}
				r.Coercions[col] = k
			}
		}
		for j, d := range t.Derive {
			re, err := regexp.Compile(d.Pattern)
			if err != nil {
				return nil, fmt.Errorf("tables[%d].derive[%d]: %w", i, j, err)
			}
			r.Derivations = append(r.Derivations, Derivation{Target: d.Target, Source: d.Source, Pattern: re})
		}
		if err := reg.Register(r); err != nil {
			return nil, fmt.Errorf("tables[%d]: %w", i, err)
		}
	}
	return reg, nil
}
