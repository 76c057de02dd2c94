package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"s3etl/internal/upload"
)

type dupsOptions struct {
	dir       string
	recursive bool
	cacheFile string
	check     string
	scope     string
}

func newDupsCommand(opts *RootOptions) *cobra.Command {
	do := &dupsOptions{}
	cmd := &cobra.Command{
		Use:   "dups",
		Short: "Find duplicate files before uploading",
		Long: `Group the files under --dir by content hash and report every group with
more than one member. With --check, report the local copies of one file
instead and, when --scope is set, the remote objects sharing its name or
size.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDups(cmd, opts, do)
		},
	}
	f := cmd.Flags()
	f.StringVar(&do.dir, "dir", "", "directory to scan (required)")
	f.BoolVar(&do.recursive, "recursive", true, "scan subdirectories")
	f.StringVar(&do.cacheFile, "cache-file", "", "hash cache file (default upload.cache_file)")
	f.StringVar(&do.check, "check", "", "report duplicates of this file only")
	f.StringVar(&do.scope, "scope", "", "with --check, also search this scope's bucket")
	_ = cmd.MarkFlagRequired("dir")
	return cmd
}

func runDups(cmd *cobra.Command, opts *RootOptions, do *dupsOptions) error {
	cache := do.cacheFile
	if cache == "" {
		cache = opts.cfg.Upload.CacheFile
	}
	d := upload.NewDetector(cache)
	w := opts.out(cmd)

	if do.check == "" {
		groups, err := d.Scan(do.dir, do.recursive)
		if err != nil {
			return err
		}
		dups := upload.Duplicates(groups)
		if opts.Format == "json" {
			return writeJSON(w, dups)
		}
		_, err = fmt.Fprintln(w, upload.Report(dups, do.dir))
		return err
	}

	local, err := d.FindLocal(do.check, []string{do.dir})
	if err != nil {
		return err
	}
	var remote []upload.Similar
	if do.scope != "" {
		if err := opts.check(); err != nil {
			return err
		}
		bucket, err := opts.cfg.Bucket(do.scope)
		if err != nil {
			return err
		}
		prefix, err := opts.cfg.Prefix(do.scope)
		if err != nil {
			return err
		}
		store, err := opts.openStore()
		if err != nil {
			return err
		}
		if remote, err = upload.FindSimilar(cmd.Context(), store, bucket, prefix, do.check); err != nil {
			return err
		}
	}

	if opts.Format == "json" {
		return writeJSON(w, map[string]any{"file": do.check, "local": local, "remote": remote})
	}
	fmt.Fprintf(w, "%s: %d local duplicate(s)\n", do.check, len(local))
	for _, p := range local {
		fmt.Fprintf(w, "  - %s\n", p)
	}
	if do.scope != "" {
		fmt.Fprintf(w, "%d similar remote object(s)\n", len(remote))
		t := newTable(w, "KEY", "SIZE", "MATCH")
		for _, s := range remote {
			t.row(s.Key, s.Size, s.Similarity)
		}
		return t.flush()
	}
	return nil
}
