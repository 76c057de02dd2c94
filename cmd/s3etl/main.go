// Command s3etl loads CSV files from S3 into a SQL database, uploads local
// files into the source buckets and reports on past runs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"s3etl/internal/cli"
)

func main() {
	// The first signal cancels between files; the file in flight completes.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
