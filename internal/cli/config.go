package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"s3etl/internal/config"
)

func newConfigCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and list every issue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd, opts)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd, opts)
		},
	})
	return cmd
}

func runConfigValidate(cmd *cobra.Command, opts *RootOptions) error {
	issues := config.Validate(opts.cfg)
	w := opts.out(cmd)
	if opts.Format == "json" {
		if err := writeJSON(w, issues); err != nil {
			return err
		}
	} else {
		for _, iss := range issues {
			fmt.Fprintf(w, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		}
	}
	if err := config.Check(opts.cfg); err != nil {
		return err
	}
	if opts.Format != "json" {
		fmt.Fprintln(w, "configuration is valid")
	}
	return nil
}

func runConfigShow(cmd *cobra.Command, opts *RootOptions) error {
	c := *opts.cfg
	if c.AWS.SecretAccessKey != "" {
		c.AWS.SecretAccessKey = "****"
	}
	if c.Storage.Password != "" {
		c.Storage.Password = "****"
	}
	w := opts.out(cmd)
	if opts.Format == "json" {
		return writeJSON(w, c)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}
