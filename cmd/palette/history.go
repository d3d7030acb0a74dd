// cmd/palette/history.go — palette history subcommand. Prints the cost
// record trail for a job.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
)

func runHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: palette history <job_id>")
		os.Exit(1)
	}
	jobID, err := uuid.Parse(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "history: invalid job id: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	c, err := newConn(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "history: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	records, err := c.Docs.CostHistory(ctx, jobID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "history: %v\n", err)
		os.Exit(1)
	}
	if len(records) == 0 {
		fmt.Println("no cost records yet")
		return
	}

	fmt.Printf("%-25s %10s %10s %10s %10s\n",
		"recorded_at", "inference", "compute", "storage", "total")
	for _, r := range records {
		fmt.Printf("%-25s %10.4f %10.4f %10.4f %10.4f\n",
			r.RecordedAt.Format("2006-01-02T15:04:05Z"),
			r.Inference, r.Compute, r.Storage, r.Total)
	}
}
