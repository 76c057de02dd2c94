package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"s3etl/internal/trigger"
)

func newHandleEventCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "handle-event <event.json|->",
		Short: "Process the objects named by an S3 event notification",
		Long: `Decode an S3 event notification (a file, or stdin with "-") and run each
record through the pipeline. The response is printed as JSON; its status
is "error" when any record failed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHandleEvent(cmd, opts, args[0])
		},
	}
	return cmd
}

func runHandleEvent(cmd *cobra.Command, opts *RootOptions, src string) error {
	if err := opts.check(); err != nil {
		return err
	}
	var r io.Reader = cmd.InOrStdin()
	if src != "-" {
		f, err := os.Open(src)
		if err != nil {
			return fmt.Errorf("open event: %w", err)
		}
		defer f.Close()
		r = f
	}
	ev, err := trigger.Decode(r)
	if err != nil {
		return err
	}

	popt, err := pipelineOptions(opts.cfg, "")
	if err != nil {
		return err
	}
	flush := opts.setupMetrics()
	defer flush()

	o, closeRepo, err := newOrchestrator(cmd, opts, popt)
	if err != nil {
		return err
	}
	defer closeRepo()

	h := &trigger.Handler{Pipeline: o, Store: o.Store}
	return writeJSON(opts.out(cmd), h.Handle(cmd.Context(), ev))
}
