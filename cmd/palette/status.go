// cmd/palette/status.go — palette status subcommand.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/HatmanStack/plot-palette-sub000/internal/budget"
)

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: palette status <job_id>")
		os.Exit(1)
	}
	jobID, err := uuid.Parse(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: invalid job id: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	c, err := newConn(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	job, err := c.Docs.GetJob(ctx, jobID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}

	// Prefer the cached snapshot; it is fresher than the job record, which
	// only updates on terminal transitions.
	cost := job.CostAccumulated
	if c.cache != nil {
		if rec, err := budget.LatestCost(ctx, c.cache, jobID); err == nil && rec != nil {
			cost = rec.Total
		}
	}

	fmt.Printf("job_id:            %s\n", job.ID)
	fmt.Printf("status:            %s\n", job.Status)
	fmt.Printf("template:          %s v%d\n", job.Config.TemplateID, job.Config.TemplateVersion)
	fmt.Printf("records_generated: %d / %d\n", job.RecordsGenerated, job.Config.TargetRecords)
	fmt.Printf("cost:              $%.4f / $%.2f\n", cost, job.Config.BudgetLimit)
	fmt.Printf("cancel_requested:  %v\n", job.CancelRequested)
	if job.ClaimedBy != nil {
		fmt.Printf("claimed_by:        %s\n", *job.ClaimedBy)
	}
	if job.LastError != nil {
		fmt.Printf("last_error:        %s\n", *job.LastError)
	}
}
