package quality

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"s3etl/internal/ledger"
	"s3etl/internal/rules"
	"s3etl/internal/storage"
)

// Check types logged by Checker.Run.
const (
	CheckReferential  = "referential_integrity"
	CheckCompleteness = "completeness"
)

// Orphans counts child rows whose key has no parent row.
type Orphans struct {
	Table  string `json:"table"`
	Column string `json:"column"`
	Count  int64  `json:"orphans"`
}

// Completeness counts nulls per column of one table.
type Completeness struct {
	Table string           `json:"table"`
	Total int64            `json:"total_records"`
	Nulls map[string]int64 `json:"nulls"`
}

// TableCount is a row count; Err is set when the table could not be read.
type TableCount struct {
	Table string
	Count int64
	Err   string
}

// Summary is the report printed by the CLI.
type Summary struct {
	Tables     []TableCount
	RecentJobs []ledger.Job
	Quality24h []ledger.QualityCount
}

// Checker runs data quality checks over the loaded tables. ParentTable and
// ParentKey name the table every other rule table references
// (member_data.member_id for the built-in rules).
type Checker struct {
	Repo        storage.Repository
	Ledger      *ledger.Ledger
	Rules       *rules.Registry
	ParentTable string
	ParentKey   string
	Now         func() time.Time
}

// NewChecker returns a Checker with the built-in parent table.
func NewChecker(repo storage.Repository, l *ledger.Ledger, reg *rules.Registry) *Checker {
	return &Checker{Repo: repo, Ledger: l, Rules: reg, ParentTable: "member_data", ParentKey: "member_id", Now: time.Now}
}

func (c *Checker) rule(table string) (rules.TableRule, bool) {
	for _, r := range c.Rules.Rules() {
		if r.Table == table {
			return r, true
		}
	}
	return rules.TableRule{}, false
}

// ReferentialIntegrity counts, for every rule table carrying the parent key
// column, the non-null keys with no matching parent row.
func (c *Checker) ReferentialIntegrity(ctx context.Context) ([]Orphans, error) {
	if _, ok := c.rule(c.ParentTable); !ok {
		return nil, fmt.Errorf("quality: parent table %s has no rule", c.ParentTable)
	}
	d := c.Repo.Dialect()
	key := d.QuoteIdent(c.ParentKey)
	var out []Orphans
	for _, r := range c.Rules.Rules() {
		if r.Table == c.ParentTable || !containsFold(r.Columns, c.ParentKey) {
			continue
		}
		q := fmt.Sprintf(
			"SELECT COUNT(*) AS n FROM %s ch LEFT JOIN %s p ON ch.%s = p.%s WHERE ch.%s IS NOT NULL AND p.%s IS NULL",
			storage.QuoteFQN(d, r.Table), storage.QuoteFQN(d, c.ParentTable), key, key, key, key)
		rows, err := c.Repo.Query(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("quality: orphans in %s: %w", r.Table, err)
		}
		o := Orphans{Table: r.Table, Column: c.ParentKey}
		if len(rows) > 0 {
			o.Count = rows[0].Int64("n")
		}
		out = append(out, o)
	}
	return out, nil
}

// Completeness counts nulls in every non-key column of the parent table.
func (c *Checker) Completeness(ctx context.Context) (Completeness, error) {
	r, ok := c.rule(c.ParentTable)
	if !ok {
		return Completeness{}, fmt.Errorf("quality: parent table %s has no rule", c.ParentTable)
	}
	d := c.Repo.Dialect()
	cols := storage.NonKey(r.Columns, r.KeyColumns)
	parts := []string{"COUNT(*) AS total"}
	for i, col := range cols {
		parts = append(parts, fmt.Sprintf("SUM(CASE WHEN %s IS NULL THEN 1 ELSE 0 END) AS n%d", d.QuoteIdent(col), i))
	}
	rows, err := c.Repo.Query(ctx, "SELECT "+strings.Join(parts, ", ")+" FROM "+storage.QuoteFQN(d, r.Table))
	if err != nil {
		return Completeness{}, fmt.Errorf("quality: completeness of %s: %w", r.Table, err)
	}
	res := Completeness{Table: r.Table, Nulls: make(map[string]int64, len(cols))}
	if len(rows) > 0 {
		res.Total = rows[0].Int64("total")
		for i, col := range cols {
			res.Nulls[col] = rows[0].Int64(fmt.Sprintf("n%d", i))
		}
	}
	return res, nil
}

// Summary collects row counts for every rule table, the ten most recent jobs
// and the quality verdicts of the last 24 hours. A table that cannot be
// counted is reported, not fatal.
func (c *Checker) Summary(ctx context.Context) (*Summary, error) {
	d := c.Repo.Dialect()
	s := &Summary{}
	for _, t := range c.Rules.Tables() {
		tc := TableCount{Table: t}
		rows, err := c.Repo.Query(ctx, "SELECT COUNT(*) AS n FROM "+storage.QuoteFQN(d, t))
		switch {
		case err != nil:
			tc.Count = -1
			tc.Err = err.Error()
		case len(rows) > 0:
			tc.Count = rows[0].Int64("n")
		}
		s.Tables = append(s.Tables, tc)
	}
	var err error
	if s.RecentJobs, err = c.Ledger.RecentJobs(ctx, 10); err != nil {
		return nil, err
	}
	if s.Quality24h, err = c.Ledger.QualitySummary(ctx, c.Now().Add(-24*time.Hour)); err != nil {
		return nil, err
	}
	return s, nil
}

// Run executes the referential and completeness checks under a ledger job
// and logs one quality entry per check. A check fails when it finds orphans
// or nulls.
func (c *Checker) Run(ctx context.Context) (string, error) {
	jobID, err := c.Ledger.CreateJob(ctx, "data_quality_check", c.ParentTable)
	if err != nil {
		return "", err
	}
	fail := func(err error) (string, error) {
		if uerr := c.Ledger.UpdateJob(ctx, jobID, ledger.StatusFailed, 0, 0, err.Error()); uerr != nil {
			log.Printf("quality: job=%s update failed: %v", jobID, uerr)
		}
		return jobID, err
	}

	orphans, err := c.ReferentialIntegrity(ctx)
	if err != nil {
		return fail(err)
	}
	var checked int64
	for _, o := range orphans {
		res := ledger.ResultPass
		if o.Count > 0 {
			res = ledger.ResultFail
		}
		if err := c.Ledger.LogQuality(ctx, ledger.QualityEntry{JobID: jobID, CheckType: CheckReferential, TableName: o.Table, Result: res, Details: o}); err != nil {
			return fail(err)
		}
		log.Printf("quality: check=%s table=%s orphans=%d", CheckReferential, o.Table, o.Count)
		checked++
	}

	comp, err := c.Completeness(ctx)
	if err != nil {
		return fail(err)
	}
	res := ledger.ResultPass
	for _, n := range comp.Nulls {
		if n > 0 {
			res = ledger.ResultFail
		}
	}
	if err := c.Ledger.LogQuality(ctx, ledger.QualityEntry{JobID: jobID, CheckType: CheckCompleteness, TableName: comp.Table, Result: res, Details: comp}); err != nil {
		return fail(err)
	}
	log.Printf("quality: check=%s table=%s total=%d nulls=%v", CheckCompleteness, comp.Table, comp.Total, comp.Nulls)
	checked++

	if err := c.Ledger.UpdateJob(ctx, jobID, ledger.StatusCompleted, checked, 0, ""); err != nil {
		return jobID, err
	}
	return jobID, nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
