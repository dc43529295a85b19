// Command ragctl drives the retrieval pipeline from the shell: ingest a local
// directory, sync workspace content, or ask a question. Results are printed
// to stdout as JSON; logs go to stderr.
//
// Usage:
//
//	ragctl [--config configs/development.yaml] ingest <dir>
//	ragctl sync page <page-id>
//	ragctl sync database [--max-pages N] [--page-size N] [--dry-run] <database-id>
//	ragctl sync all [--max-pages N] [--page-size N] [--dry-run]
//	ragctl query [--limit N] <question>
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand(openServices).Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ragctl: %v\n", err)
		stop()
		os.Exit(1)
	}
}
