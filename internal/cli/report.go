package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"s3etl/internal/ledger"
	"s3etl/internal/quality"
)

func newReportCommand(opts *RootOptions) *cobra.Command {
	var imports int
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show table counts, recent jobs and the last day's quality results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, opts, imports)
		},
	}
	cmd.Flags().IntVar(&imports, "imports", 10, "number of recent import_log rows to show (0 hides them)")
	return cmd
}

func newQualityCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "quality",
		Short: "Run referential integrity and completeness checks",
		Long: `Count child rows whose member key has no parent row and nulls in the
parent table's key columns. Each check is logged to data_quality_logs
under a data_quality_check job.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuality(cmd, opts)
		},
	}
}

type reportOutput struct {
	*quality.Summary
	Imports []ledger.ImportEntry `json:",omitempty"`
}

func runReport(cmd *cobra.Command, opts *RootOptions, imports int) error {
	if err := opts.check(); err != nil {
		return err
	}
	ctx := cmd.Context()
	reg, err := opts.registry()
	if err != nil {
		return err
	}
	repo, err := opts.openRepo(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()
	l := ledger.New(repo)

	sum, err := quality.NewChecker(repo, l, reg).Summary(ctx)
	if err != nil {
		return err
	}
	out := reportOutput{Summary: sum}
	if imports > 0 {
		if out.Imports, err = l.RecentImports(ctx, imports); err != nil {
			return err
		}
	}

	w := opts.out(cmd)
	if opts.Format == "json" {
		return writeJSON(w, out)
	}

	fmt.Fprintln(w, "Tables")
	t := newTable(w, "TABLE", "ROWS")
	for _, tc := range sum.Tables {
		if tc.Err != "" {
			t.row(tc.Table, "error: "+tc.Err)
			continue
		}
		t.row(tc.Table, tc.Count)
	}
	if err := t.flush(); err != nil {
		return err
	}

	fmt.Fprintln(w, "\nRecent jobs")
	t = newTable(w, "JOB", "STATUS", "PROCESSED", "FAILED", "STARTED", "SOURCE")
	for _, j := range sum.RecentJobs {
		t.row(j.ID, j.Status, j.RecordsProcessed, j.RecordsFailed, j.StartedAt.UTC().Format(time.RFC3339), j.SourceFile)
	}
	if err := t.flush(); err != nil {
		return err
	}

	fmt.Fprintln(w, "\nQuality (24h)")
	t = newTable(w, "CHECK", "RESULT", "COUNT")
	for _, q := range sum.Quality24h {
		t.row(q.CheckType, q.Result, q.Count)
	}
	if err := t.flush(); err != nil {
		return err
	}

	if imports > 0 {
		fmt.Fprintln(w, "\nRecent imports")
		t = newTable(w, "KEY", "STATUS", "ROWS", "ETAG", "AT")
		for _, e := range out.Imports {
			t.row(e.Key, e.Status, e.LoadedRows, dash(e.ETag), e.CreatedAt.UTC().Format(time.RFC3339))
		}
		return t.flush()
	}
	return nil
}

func runQuality(cmd *cobra.Command, opts *RootOptions) error {
	if err := opts.check(); err != nil {
		return err
	}
	ctx := cmd.Context()
	reg, err := opts.registry()
	if err != nil {
		return err
	}
	repo, err := opts.openRepo(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()
	l := ledger.New(repo)

	flush := opts.setupMetrics()
	defer flush()

	jobID, err := quality.NewChecker(repo, l, reg).Run(ctx)
	if err != nil {
		return err
	}
	job, err := l.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	w := opts.out(cmd)
	if opts.Format == "json" {
		return writeJSON(w, job)
	}
	fmt.Fprintf(w, "quality job %s: %s (%d checks)\n", job.ID, job.Status, job.RecordsProcessed)
	return nil
}
