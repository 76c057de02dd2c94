package cli

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"s3etl/internal/upload"
)

type uploadOptions struct {
	dir         string
	scope       string
	prefix      string
	include     string
	exclude     string
	withType    bool
	dryRun      bool
	overwrite   bool
	noDupCheck  bool
	concurrency int
	retries     int
	rate        float64
}

func newUploadCommand(opts *RootOptions) *cobra.Command {
	uo := &uploadOptions{}
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload local files into the scope buckets",
		Long: `Discover files under --dir and upload them to <bucket>/<prefix><type>/<name>.
The scope comes from --scope or, per file, from an "mba" or "policy"
directory in its path. Objects that already exist with the same size are
skipped; a different size fails unless --overwrite is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, opts, uo)
		},
	}
	f := cmd.Flags()
	f.StringVar(&uo.dir, "dir", "", "local directory to scan (required)")
	f.StringVar(&uo.scope, "scope", "", "scope for every file (mba|policy); detected from the path when empty")
	f.StringVar(&uo.prefix, "prefix", "", "key prefix override (default <scope>/)")
	f.StringVar(&uo.include, "include", "", "comma-separated extensions to include")
	f.StringVar(&uo.exclude, "exclude", "", "comma-separated extensions to exclude")
	f.BoolVar(&uo.withType, "with-type", true, "insert the file type directory into the key")
	f.BoolVar(&uo.dryRun, "dry-run", false, "report what would be uploaded")
	f.BoolVar(&uo.overwrite, "overwrite", false, "replace existing objects with a different size")
	f.BoolVar(&uo.noDupCheck, "no-check-duplicate", false, "skip the existence check")
	f.IntVar(&uo.concurrency, "concurrency", 0, "parallel uploads (1..32)")
	f.IntVar(&uo.retries, "retries", 0, "attempts per file")
	f.Float64Var(&uo.rate, "rate", 0, "max uploads started per second (0 = unlimited)")
	_ = cmd.MarkFlagRequired("dir")
	return cmd
}

// uploaderOptions layers changed flags over the upload config section.
func uploaderOptions(cmd *cobra.Command, opts *RootOptions, uo *uploadOptions) upload.Options {
	c := opts.cfg.Upload
	o := upload.Options{
		Concurrency:    c.Concurrency,
		Retries:        c.Retries,
		RatePerSec:     c.RatePerSec,
		DryRun:         c.DryRun,
		CheckDuplicate: c.CheckDuplicate,
		Overwrite:      c.Overwrite,
		SSE:            opts.cfg.AWS.SSE,
	}
	f := cmd.Flags()
	if f.Changed("concurrency") {
		o.Concurrency = uo.concurrency
	}
	if f.Changed("retries") {
		o.Retries = uo.retries
	}
	if f.Changed("rate") {
		o.RatePerSec = uo.rate
	}
	if f.Changed("dry-run") {
		o.DryRun = uo.dryRun
	}
	if f.Changed("overwrite") {
		o.Overwrite = uo.overwrite
	}
	if uo.noDupCheck {
		o.CheckDuplicate = false
	}
	return o
}

func extensions(flag string, cfg []string) map[string]bool {
	if flag == "" {
		flag = strings.Join(cfg, ",")
	}
	return upload.ParseExtensions(flag)
}

func runUpload(cmd *cobra.Command, opts *RootOptions, uo *uploadOptions) error {
	if err := opts.check(); err != nil {
		return err
	}
	cfg := opts.cfg
	files, err := upload.Discover(uo.dir,
		extensions(uo.include, cfg.Upload.Include),
		extensions(uo.exclude, cfg.Upload.Exclude),
		uo.scope)
	if err != nil {
		return err
	}

	byScope := map[string][]upload.Item{}
	var undetected int
	for _, p := range files {
		scope := strings.ToLower(uo.scope)
		if scope == "" {
			scope = upload.DetectScope(p, uo.dir)
		}
		if scope == "" {
			log.Printf("upload: file=%s scope=unknown skipped", p)
			undetected++
			continue
		}
		prefix := uo.prefix
		if prefix == "" {
			if prefix, err = cfg.Prefix(scope); err != nil {
				return err
			}
		}
		byScope[scope] = append(byScope[scope], upload.Item{Path: p, Key: upload.BuildKey(scope, p, prefix, uo.withType)})
	}

	store, err := opts.openStore()
	if err != nil {
		return err
	}
	flush := opts.setupMetrics()
	defer flush()

	scopes := make([]string, 0, len(byScope))
	for s := range byScope {
		scopes = append(scopes, s)
	}
	sort.Strings(scopes)

	uopt := uploaderOptions(cmd, opts, uo)
	var all []upload.Result
	for _, s := range scopes {
		bucket, err := cfg.Bucket(s)
		if err != nil {
			return err
		}
		res, err := upload.NewUploader(store, bucket, uopt).Upload(cmd.Context(), byScope[s])
		all = append(all, res...)
		if err != nil {
			_ = printUploads(cmd, opts, all, undetected)
			return err
		}
	}
	return printUploads(cmd, opts, all, undetected)
}

func printUploads(cmd *cobra.Command, opts *RootOptions, res []upload.Result, undetected int) error {
	w := opts.out(cmd)
	if opts.Format == "json" {
		type row struct {
			Path     string        `json:"path"`
			Key      string        `json:"key"`
			Status   upload.Status `json:"status"`
			Bytes    int64         `json:"bytes"`
			Attempts int           `json:"attempts"`
			Message  string        `json:"message,omitempty"`
		}
		out := make([]row, 0, len(res))
		for _, r := range res {
			out = append(out, row{r.Path, r.Key, r.Status, r.Bytes, r.Attempts, r.Message})
		}
		return writeJSON(w, out)
	}
	counts := map[upload.Status]int{}
	t := newTable(w, "FILE", "KEY", "STATUS", "BYTES", "DETAIL")
	for _, r := range res {
		counts[r.Status]++
		t.row(r.Path, r.Key, r.Status, r.Bytes, dash(r.Message))
	}
	if err := t.flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "uploaded=%d skipped=%d dry_run=%d failed=%d unscoped=%d\n",
		counts[upload.StatusUploaded], counts[upload.StatusSkipped], counts[upload.StatusDryRun],
		counts[upload.StatusFailed], undetected)
	return nil
}
