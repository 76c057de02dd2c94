// Package cli implements the s3etl command tree.
//
// Every command loads the layered configuration (defaults, YAML file,
// environment) in the root's PersistentPreRunE and then applies its own
// flags on top. Commands write results to cmd.OutOrStdout() and logs to the
// standard logger, so tests can capture both.
package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"s3etl/internal/blobstore"
	"s3etl/internal/config"
	"s3etl/internal/metrics"
	"s3etl/internal/metrics/datadog"
	"s3etl/internal/metrics/prompush"
	"s3etl/internal/rules"
	"s3etl/internal/storage"

	// register all backends with the storage factory.
	_ "s3etl/internal/storage/all"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string // "text" | "json"

	// Overrides applied after the config file and environment.
	StorageKind    string
	DSN            string
	Store          string
	LocalRoot      string
	MetricsBackend string

	// Getenv is os.Getenv unless a test replaces it.
	Getenv func(string) string

	cfg *config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{Getenv: os.Getenv})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "s3etl",
		Short: "Load CSV files from S3 into a SQL database",
		Long: `s3etl lists CSV objects under a bucket prefix, validates and transforms
them according to table rules, and loads them into MySQL, PostgreSQL,
SQL Server or SQLite. Every attempt is recorded in a job ledger so that a
file is loaded at most once.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.Verbose {
				log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
			}
			log.SetOutput(cmd.ErrOrStderr())
			return opts.load()
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "YAML config file (optional)")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logs")
	pf.StringVar(&opts.Format, "format", "text", "output format (text|json)")
	pf.StringVar(&opts.StorageKind, "storage", "", "storage kind override (mysql|postgres|mssql|sqlite)")
	pf.StringVar(&opts.DSN, "dsn", "", "database DSN override")
	pf.StringVar(&opts.Store, "store", "", "object store override (s3|local)")
	pf.StringVar(&opts.LocalRoot, "local-root", "", "directory for the local object store")
	pf.StringVar(&opts.MetricsBackend, "metrics-backend", "", "metrics backend override (none|prometheus|datadog)")

	cmd.AddCommand(newDBCommand(opts))
	cmd.AddCommand(newLoadCommand(opts))
	cmd.AddCommand(newHandleEventCommand(opts))
	cmd.AddCommand(newUploadCommand(opts))
	cmd.AddCommand(newDupsCommand(opts))
	cmd.AddCommand(newReportCommand(opts))
	cmd.AddCommand(newQualityCommand(opts))
	cmd.AddCommand(newConfigCommand(opts))
	cmd.AddCommand(newRulesCommand(opts))
	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// load reads the layered config and applies the global flag overrides. It
// does not validate; commands call check when they need a usable config.
func (o *RootOptions) load() error {
	getenv := o.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg, err := config.Load(o.ConfigPath, getenv)
	if err != nil {
		return err
	}
	if o.StorageKind != "" {
		cfg.Storage.Kind = o.StorageKind
	}
	if o.DSN != "" {
		cfg.Storage.DSN = o.DSN
	}
	if o.Store != "" {
		cfg.AWS.Store = o.Store
	}
	if o.LocalRoot != "" {
		cfg.AWS.LocalRoot = o.LocalRoot
	}
	if o.MetricsBackend != "" {
		cfg.Metrics.Backend = o.MetricsBackend
	}
	o.cfg = cfg
	return nil
}

func (o *RootOptions) check() error {
	for _, iss := range config.Validate(o.cfg) {
		if iss.Severity == config.SeverityWarning {
			log.Printf("config: %s", iss.Error())
		}
	}
	return config.Check(o.cfg)
}

// openRepo opens the configured storage backend.
func (o *RootOptions) openRepo(ctx context.Context) (storage.Repository, error) {
	s := o.cfg.Storage
	repo, err := storage.New(ctx, storage.Config{Kind: s.Kind, DSN: o.cfg.DSN(), Options: s.Options})
	if err != nil {
		return nil, fmt.Errorf("open storage kind=%s: %w", s.Kind, err)
	}
	if o.Verbose {
		log.Printf("storage: kind=%s opened", s.Kind)
	}
	return repo, nil
}

// openStore builds the object store selected by aws.store.
func (o *RootOptions) openStore() (blobstore.Store, error) {
	a := o.cfg.AWS
	switch a.Store {
	case "local":
		return blobstore.NewLocal(a.LocalRoot), nil
	case "", "s3":
		return blobstore.NewS3(blobstore.S3Config{
			Endpoint:        a.Endpoint,
			Region:          a.Region,
			UseSSL:          a.UseSSL,
			AccessKeyID:     a.AccessKeyID,
			SecretAccessKey: a.SecretAccessKey,
			Profile:         a.Profile,
		})
	default:
		return nil, fmt.Errorf("unknown object store %q", a.Store)
	}
}

func (o *RootOptions) registry() (*rules.Registry, error) {
	return rules.FromConfig(o.cfg.Tables)
}

// setupMetrics installs the configured metrics backend and returns the
// flush to defer. A backend that fails to start is logged and metrics stay
// disabled.
func (o *RootOptions) setupMetrics() func() {
	m := o.cfg.Metrics
	var (
		b   metrics.Backend
		err error
	)
	switch m.Backend {
	case "prometheus":
		b, err = prompush.NewBackend(m.Job, m.PushgatewayURL)
	case "datadog":
		addr := m.DatadogAddr
		if addr == "" {
			addr = "127.0.0.1:8125"
		}
		b, err = datadog.NewBackend(datadog.Config{Addr: addr, GlobalTags: []string{"service:" + m.Job}})
	case "", "none":
		if o.Verbose {
			log.Printf("metrics: disabled (backend=%q)", m.Backend)
		}
		return func() {}
	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", m.Backend)
		return func() {}
	}
	if err != nil {
		log.Printf("metrics: failed to init %s backend: %v; using nop", m.Backend, err)
		return func() {}
	}
	log.Printf("metrics: backend=%s job=%s", m.Backend, m.Job)
	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}
}

func (o *RootOptions) out(cmd *cobra.Command) io.Writer { return cmd.OutOrStdout() }
