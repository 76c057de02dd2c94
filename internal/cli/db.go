package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"s3etl/internal/ledger"
	"s3etl/internal/storage"
)

func newDBCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database utilities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the target tables and the ledger tables",
		Long: `Create every table named by the table rules plus the ledger tables
(etl_jobs, data_quality_logs, import_log). Existing tables are left alone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, opts)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "ping",
		Short: "Check the database connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBPing(cmd, opts)
		},
	})
	return cmd
}

func runDBInit(cmd *cobra.Command, opts *RootOptions) error {
	if err := opts.check(); err != nil {
		return err
	}
	ctx := cmd.Context()
	reg, err := opts.registry()
	if err != nil {
		return err
	}
	defs, err := reg.TableDefs()
	if err != nil {
		return err
	}
	repo, err := opts.openRepo(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	kind := opts.cfg.Storage.Kind
	if err := storage.EnsureTables(ctx, repo, kind, defs); err != nil {
		return err
	}
	if err := ledger.New(repo).EnsureSchema(ctx, kind); err != nil {
		return err
	}
	fmt.Fprintf(opts.out(cmd), "schema applied: %d table(s) + ledger on %s\n", len(defs), kind)
	return nil
}

func runDBPing(cmd *cobra.Command, opts *RootOptions) error {
	if err := opts.check(); err != nil {
		return err
	}
	repo, err := opts.openRepo(cmd.Context())
	if err != nil {
		return err
	}
	defer repo.Close()
	if err := repo.Ping(cmd.Context()); err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	fmt.Fprintf(opts.out(cmd), "database connection ok (%s)\n", opts.cfg.Storage.Kind)
	return nil
}
