// Package transformer applies per-table normalization to extracted record
// sets. A Chain is a pure function of its input set and the table rule: it
// copies the set once and never performs I/O.
package transformer

import (
	"fmt"

	"s3etl/internal/records"
	"s3etl/internal/rules"
	"s3etl/internal/transformer/builtin"
)

// Transformer rewrites a record set. Implementations may mutate their input;
// Chain hands each step a private copy.
type Transformer interface {
	Apply(*records.Set) *records.Set
}

// Chain is an ordered list of transformers.
type Chain []Transformer

// Stats reports how many rows each step removed.
type Stats struct {
	In      int
	Out     int
	Dropped map[string]int
}

// Apply runs the chain over a copy of in.
func (c Chain) Apply(in *records.Set) *records.Set {
	out, _ := c.Run(in)
	return out
}

// Run is Apply plus per-step drop counts.
func (c Chain) Run(in *records.Set) (*records.Set, Stats) {
	st := Stats{In: in.Len(), Dropped: map[string]int{}}
	out := in.Clone()
	for _, t := range c {
		before := out.Len()
		out = t.Apply(out)
		if d := before - out.Len(); d > 0 {
			st.Dropped[stepName(t)] += d
		}
	}
	st.Out = out.Len()
	return out, st
}

func stepName(t Transformer) string {
	if n, ok := t.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", t)
}

// ForRule builds the chain for a table rule: lower-case the header, tidy
// text, re-apply declared coercions, derive and default columns, restrict to
// the declared projection, drop rows without a key and collapse rows that
// share a key (last one wins).
func ForRule(rule rules.TableRule) Chain {
	return ForRuleWith(rule, builtin.KeepLast)
}

// ForRuleWith is ForRule with an explicit duplicate-key policy.
func ForRuleWith(rule rules.TableRule, dedupPolicy string) Chain {
	c := Chain{
		builtin.LowerColumns{},
		builtin.Normalize{},
	}
	if len(rule.Coercions) > 0 {
		c = append(c, builtin.Coerce{Kinds: rule.Coercions})
	}
	if len(rule.Derivations) > 0 {
		c = append(c, builtin.Derive{Derivations: rule.Derivations})
	}
	if len(rule.Defaults) > 0 {
		c = append(c, builtin.Defaults{Values: rule.Defaults})
	}
	if len(rule.Columns) > 0 {
		c = append(c, builtin.Project{Columns: rule.Columns})
	}
	if len(rule.KeyColumns) > 0 {
		c = append(c,
			builtin.Require{Fields: rule.KeyColumns},
			builtin.DeDup{Keys: rule.KeyColumns, Policy: dedupPolicy},
		)
	}
	return c
}
