package builtin

import (
	"sort"
	"strings"

	"s3etl/internal/records"
)

// Duplicate-key policies understood by DeDup.
const (
	KeepFirst    = "keep-first"
	KeepLast     = "keep-last"
	MostComplete = "most-complete"
)

// DeDup collapses rows that share the same Keys before they reach the
// database, so a multi-row upsert never names one key twice. The winner is
// chosen by Policy:
//
//   - keep-first: the earliest occurrence
//   - keep-last: the latest occurrence (default)
//   - most-complete: the row with the most non-null values; ties go to the
//     later row
//
// Rows missing a key column are passed through after the winners.
type DeDup struct {
	Keys   []string
	Policy string
	// PreferFields weigh extra in most-complete scoring.
	PreferFields []string
}

func (DeDup) Name() string { return "dedup" }

func (d DeDup) Apply(in *records.Set) *records.Set {
	if in.Len() == 0 || len(d.Keys) == 0 {
		return in
	}
	policy := strings.ToLower(strings.TrimSpace(d.Policy))
	if policy == "" {
		policy = KeepLast
	}

	type slot struct {
		rec   records.Record
		index int
		score int
	}
	winners := make(map[string]slot, len(in.Rows))

	prefer := make(map[string]struct{}, len(d.PreferFields))
	for _, f := range d.PreferFields {
		prefer[f] = struct{}{}
	}

	keyOf := func(r records.Record) (string, bool) {
		var b strings.Builder
		for i, k := range d.Keys {
			v, ok := r[k]
			if !ok {
				return "", false
			}
			if i > 0 {
				b.WriteByte('\x1f')
			}
			b.WriteString(records.Key(v))
		}
		return b.String(), true
	}

	scoreOf := func(r records.Record) int {
		score, bonus := 0, 0
		for k, v := range r {
			if records.IsNull(v) {
				continue
			}
			score++
			if _, ok := prefer[k]; ok {
				bonus++
			}
		}
		return score*10 + bonus
	}

	var passthrough []records.Record
	for i, r := range in.Rows {
		key, ok := keyOf(r)
		if !ok {
			passthrough = append(passthrough, r)
			continue
		}
		switch policy {
		case KeepFirst:
			if _, exists := winners[key]; !exists {
				winners[key] = slot{rec: r, index: i}
			}
		case MostComplete:
			s := slot{rec: r, index: i, score: scoreOf(r)}
			if prev, exists := winners[key]; !exists || s.score >= prev.score {
				winners[key] = s
			}
		default:
			winners[key] = slot{rec: r, index: i}
		}
	}

	// Winners keep their original relative order.
	slots := make([]slot, 0, len(winners))
	for _, s := range winners {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].index < slots[j].index })

	out := make([]records.Record, 0, len(slots)+len(passthrough))
	for _, s := range slots {
		out = append(out, s.rec)
	}
	in.Rows = append(out, passthrough...)
	return in
}
