// cmd/palette/watch.go — palette watch subcommand. Polls a job until it
// reaches a terminal state.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/HatmanStack/plot-palette-sub000/internal/budget"
)

func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	interval := fs.Duration("interval", 2*time.Second, "poll interval")
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: palette watch [--interval d] <job_id>")
		os.Exit(1)
	}
	jobID, err := uuid.Parse(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "watch: invalid job id: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	c, err := newConn(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "watch: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	fmt.Printf("watching job %s (ctrl-c to stop)\n", jobID)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		job, err := c.Docs.GetJob(ctx, jobID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "watch: %v\n", err)
			os.Exit(1)
		}

		cost := job.CostAccumulated
		if c.cache != nil {
			if rec, err := budget.LatestCost(ctx, c.cache, jobID); err == nil && rec != nil {
				cost = rec.Total
			}
		}
		fmt.Printf("%s  status=%-16s records=%d/%d  cost=$%.4f\n",
			time.Now().Format("15:04:05"), job.Status,
			job.RecordsGenerated, job.Config.TargetRecords, cost)

		if job.Status.Terminal() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
