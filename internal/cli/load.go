package cli

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"s3etl/internal/config"
	"s3etl/internal/ledger"
	csvparser "s3etl/internal/parser/csv"
	"s3etl/internal/pipeline"
	"s3etl/internal/storage"
	"s3etl/internal/transformer/builtin"
)

type loadOptions struct {
	scope  string
	bucket string
	prefix string
	policy string
	dedup  string
}

func newLoadCommand(opts *RootOptions) *cobra.Command {
	lo := &loadOptions{}
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load every new CSV under the scope's prefix",
		Long: `List <bucket>/<prefix>csv/ for the scope and run each CSV through
extract, validate, transform and load. Files already loaded (same bucket
and ETag) are skipped. The command fails only when the batch itself
cannot run; per-file failures are reported.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd, opts, lo)
		},
	}
	f := cmd.Flags()
	f.StringVar(&lo.scope, "scope", config.ScopeMBA, "source scope (mba|policy)")
	f.StringVar(&lo.bucket, "bucket", "", "bucket override")
	f.StringVar(&lo.prefix, "prefix", "", "key prefix override (default <scope prefix>csv/)")
	f.StringVar(&lo.policy, "policy", "", "conflict policy override (update|ignore|append)")
	f.StringVar(&lo.dedup, "dedup", "", "duplicate-key policy (keep-first|keep-last|most-complete)")
	return cmd
}

// pipelineOptions maps the pipeline config section onto orchestrator options.
func pipelineOptions(cfg *config.Config, policyOverride string) (pipeline.Options, error) {
	p := policyOverride
	if p == "" {
		p = cfg.Pipeline.ConflictPolicy
	}
	policy, err := storage.ParsePolicy(p)
	if err != nil {
		return pipeline.Options{}, err
	}
	return pipeline.Options{
		Extension: cfg.Pipeline.Extension,
		Policy:    policy,
		BatchSize: cfg.Pipeline.BatchSize,
		Parser:    csvparser.OptionsFrom(cfg.Pipeline.Parser),
	}, nil
}

// newOrchestrator opens the store and repository and wires a pipeline. The
// returned close releases the repository.
func newOrchestrator(cmd *cobra.Command, opts *RootOptions, popt pipeline.Options) (*pipeline.Orchestrator, func(), error) {
	store, err := opts.openStore()
	if err != nil {
		return nil, nil, err
	}
	reg, err := opts.registry()
	if err != nil {
		return nil, nil, err
	}
	repo, err := opts.openRepo(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	o := pipeline.New(store, repo, ledger.New(repo), reg, popt)
	return o, repo.Close, nil
}

func runLoad(cmd *cobra.Command, opts *RootOptions, lo *loadOptions) error {
	if err := opts.check(); err != nil {
		return err
	}
	cfg := opts.cfg
	bucket := lo.bucket
	if bucket == "" {
		b, err := cfg.Bucket(lo.scope)
		if err != nil {
			return err
		}
		bucket = b
	}
	prefix := lo.prefix
	if prefix == "" {
		p, err := cfg.CSVPrefix(lo.scope)
		if err != nil {
			return err
		}
		prefix = p
	}
	popt, err := pipelineOptions(cfg, lo.policy)
	if err != nil {
		return err
	}
	switch lo.dedup {
	case "", builtin.KeepFirst, builtin.KeepLast, builtin.MostComplete:
		popt.DedupPolicy = lo.dedup
	default:
		return fmt.Errorf("unknown dedup policy %q", lo.dedup)
	}

	flush := opts.setupMetrics()
	defer flush()

	o, closeRepo, err := newOrchestrator(cmd, opts, popt)
	if err != nil {
		return err
	}
	defer closeRepo()

	start := time.Now()
	rep, err := o.ProcessBatch(cmd.Context(), bucket, prefix)
	if rep != nil {
		if perr := printBatch(cmd, opts, rep); perr != nil {
			return perr
		}
	}
	if err != nil {
		if errors.Is(err, cmd.Context().Err()) {
			log.Printf("load: canceled after %s", time.Since(start).Truncate(time.Millisecond))
		}
		return err
	}
	if opts.Verbose {
		log.Printf("load: completed in %s", time.Since(start).Truncate(time.Millisecond))
	}
	return nil
}

func printBatch(cmd *cobra.Command, opts *RootOptions, rep *pipeline.BatchReport) error {
	w := opts.out(cmd)
	if opts.Format == "json" {
		return writeJSON(w, rep)
	}
	fmt.Fprintf(w, "%s: total=%d successful=%d failed=%d skipped=%d\n",
		pipeline.SourceFile{Bucket: rep.Bucket, Key: rep.Prefix}.URI(),
		rep.TotalFiles, rep.Successful, rep.Failed, rep.Skipped)
	if len(rep.Details) == 0 {
		return nil
	}
	t := newTable(w, "KEY", "STATUS", "TABLE", "RECORDS", "JOB", "DETAIL")
	for _, d := range rep.Details {
		detail := d.Reason
		if d.Error != "" {
			detail = d.Error
		}
		t.row(d.Key, d.Status, dash(d.Table), d.Records, dash(d.JobID), dash(detail))
	}
	return t.flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
