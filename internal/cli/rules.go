package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"s3etl/internal/config"
	csvparser "s3etl/internal/parser/csv"
	"s3etl/internal/probe"
)

func newRulesCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect table rules",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the effective table rules in match order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesList(cmd, opts)
		},
	})

	var (
		scope  string
		bucket string
		rows   int
	)
	suggest := &cobra.Command{
		Use:   "suggest <key>",
		Short: "Sample an object and propose a table rule for it",
		Long: `Read the head of an object, infer a coercion kind per column and
candidate key columns, and print a tables: entry for the config file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesSuggest(cmd, opts, scope, bucket, args[0], rows)
		},
	}
	suggest.Flags().StringVar(&scope, "scope", config.ScopeMBA, "scope whose bucket holds the key")
	suggest.Flags().StringVar(&bucket, "bucket", "", "bucket override")
	suggest.Flags().IntVar(&rows, "rows", probe.DefaultSampleRows, "rows to inspect")
	cmd.AddCommand(suggest)
	return cmd
}

func runRulesList(cmd *cobra.Command, opts *RootOptions) error {
	reg, err := opts.registry()
	if err != nil {
		return err
	}
	w := opts.out(cmd)
	if opts.Format == "json" {
		return writeJSON(w, reg.Rules())
	}
	t := newTable(w, "RULE", "PATTERNS", "TABLE", "KEYS", "REQUIRED")
	for _, r := range reg.Rules() {
		t.row(r.Name, strings.Join(r.Patterns, ","), r.Table, dash(strings.Join(r.KeyColumns, ",")), dash(strings.Join(r.RequiredColumns, ",")))
	}
	return t.flush()
}

func runRulesSuggest(cmd *cobra.Command, opts *RootOptions, scope, bucket, key string, rows int) error {
	if err := opts.check(); err != nil {
		return err
	}
	if bucket == "" {
		b, err := opts.cfg.Bucket(scope)
		if err != nil {
			return err
		}
		bucket = b
	}
	store, err := opts.openStore()
	if err != nil {
		return err
	}
	res, err := probe.Probe(cmd.Context(), store, bucket, key, probe.Options{
		SampleRows: rows,
		Parser:     csvparser.OptionsFrom(opts.cfg.Pipeline.Parser),
	})
	if err != nil {
		return err
	}

	w := opts.out(cmd)
	if opts.Format == "json" {
		return writeJSON(w, res)
	}
	fmt.Fprintf(w, "# %s: %d sampled row(s)", key, res.Rows)
	if res.Truncated {
		fmt.Fprint(w, ", sample truncated")
	}
	fmt.Fprintln(w)
	for _, c := range res.Columns {
		if c.Normalized != c.Name {
			fmt.Fprintf(w, "# column %q would read better as %q\n", c.Name, c.Normalized)
		}
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string][]config.Table{"tables": {res.Rule}}); err != nil {
		return err
	}
	return enc.Close()
}
