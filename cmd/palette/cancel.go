// cmd/palette/cancel.go — palette cancel subcommand.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
)

func runCancel(args []string) {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: palette cancel <job_id>")
		os.Exit(1)
	}
	jobID, err := uuid.Parse(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "cancel: invalid job id: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	c, err := newConn(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cancel: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	res, err := c.Queue.Cancel(ctx, jobID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cancel: %v\n", err)
		os.Exit(1)
	}
	switch {
	case !res.Found:
		fmt.Println("job is already terminal; nothing to cancel")
	case res.Immediate:
		fmt.Println("job cancelled")
	default:
		fmt.Println("cancellation requested; the owning worker will stop at the next record")
	}
}
