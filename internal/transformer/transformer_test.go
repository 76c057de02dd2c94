package transformer

import (
	"reflect"
	"sync/atomic"
	"testing"

	"s3etl/internal/records"
	"s3etl/internal/rules"
)

// addField sets key on every row; used to verify mutation flows through Chain.
type addField struct {
	key string
	val any
}

func (t addField) Apply(in *records.Set) *records.Set {
	in.AddColumn(t.key)
	for _, r := range in.Rows {
		r[t.key] = t.val
	}
	return in
}

// dropOdd removes every second row.
type dropOdd struct{}

func (dropOdd) Name() string { return "drop_odd" }

func (dropOdd) Apply(in *records.Set) *records.Set {
	out := in.Rows[:0]
	for i, r := range in.Rows {
		if i%2 == 0 {
			out = append(out, r)
		}
	}
	in.Rows = out
	return in
}

// counter counts Apply calls and stamps rank so order can be checked.
type counter struct {
	calls *int32
	rank  int
}

func (t counter) Apply(in *records.Set) *records.Set {
	atomic.AddInt32(t.calls, 1)
	for _, r := range in.Rows {
		r["rank"] = t.rank
	}
	return in
}

func makeSet(n int) *records.Set {
	s := &records.Set{Columns: []string{"id"}}
	for i := 0; i < n; i++ {
		s.Rows = append(s.Rows, records.Record{"id": i})
	}
	return s
}

func TestChain_DoesNotMutateInput(t *testing.T) {
	t.Parallel()
	in := makeSet(3)
	out := Chain{addField{key: "x", val: 1}}.Apply(in)

	if in.HasColumn("x") {
		t.Fatal("input header mutated")
	}
	if _, ok := in.Rows[0]["x"]; ok {
		t.Fatal("input row mutated")
	}
	if out.Rows[2]["x"] != 1 {
		t.Fatalf("output missing field: %#v", out.Rows[2])
	}
}

func TestChain_OrderAndCalls(t *testing.T) {
	t.Parallel()
	var calls int32
	c := Chain{counter{calls: &calls, rank: 1}, counter{calls: &calls, rank: 2}}
	out := c.Apply(makeSet(2))
	if calls != 2 {
		t.Fatalf("calls=%d want 2", calls)
	}
	if out.Rows[0]["rank"] != 2 {
		t.Fatalf("last step should win, got rank=%v", out.Rows[0]["rank"])
	}
}

func TestChain_RunStats(t *testing.T) {
	t.Parallel()
	out, st := Chain{dropOdd{}, addField{key: "y", val: true}}.Run(makeSet(5))
	if st.In != 5 || st.Out != 3 || out.Len() != 3 {
		t.Fatalf("stats=%+v len=%d", st, out.Len())
	}
	if !reflect.DeepEqual(st.Dropped, map[string]int{"drop_odd": 2}) {
		t.Fatalf("dropped=%v", st.Dropped)
	}
}

func TestChain_Empty(t *testing.T) {
	t.Parallel()
	out, st := Chain(nil).Run(makeSet(1))
	if out.Len() != 1 || st.Out != 1 || len(st.Dropped) != 0 {
		t.Fatalf("out=%d stats=%+v", out.Len(), st)
	}
}

func rule(t *testing.T, table string) rules.TableRule {
	t.Helper()
	for _, r := range rules.Default().Rules() {
		if r.Table == table {
			return r
		}
	}
	t.Fatalf("no built-in rule for %s", table)
	return rules.TableRule{}
}

func TestForRule_Deductibles(t *testing.T) {
	t.Parallel()
	in := &records.Set{
		Columns: []string{"Metric", "M1001", "M1002"},
		Rows: []records.Record{
			{"Metric": "Deductible M0001", "M1001": "100.5", "M1002": " "},
			{"Metric": "Deductible M0001", "M1001": "200", "M1002": "1"},
			{"Metric": "  ", "M1001": "5", "M1002": "5"},
		},
	}
	out, st := ForRule(rule(t, "deductibles_oop")).Run(in)

	wantCols := []string{"metric", "member_id", "m1001", "m1002", "m1003", "m1004", "m1005"}
	if !reflect.DeepEqual(out.Columns, wantCols) {
		t.Fatalf("columns=%v", out.Columns)
	}
	if out.Len() != 1 {
		t.Fatalf("rows=%d want 1: %#v", out.Len(), out.Rows)
	}
	r := out.Rows[0]
	if r["member_id"] != "M0001" || r["m1001"] != 200.0 || r["m1002"] != 1.0 {
		t.Fatalf("row=%#v", r)
	}
	if st.Dropped["require"] != 1 || st.Dropped["dedup"] != 1 {
		t.Fatalf("dropped=%v", st.Dropped)
	}
}

func TestForRule_AccumulatorDefaults(t *testing.T) {
	t.Parallel()
	in := &records.Set{
		Columns: []string{"member_id", "benefit", "used"},
		Rows:    []records.Record{{"member_id": "M0001", "benefit": "dental", "used": ""}},
	}
	out := ForRule(rule(t, "benefit_accumulator")).Apply(in)
	want := records.Record{"member_id": "M0001", "benefit": "dental", "used": int64(0), "remaining": int64(0)}
	if !reflect.DeepEqual(out.Rows[0], want) {
		t.Fatalf("row=%#v want %#v", out.Rows[0], want)
	}
}
