// cmd/palette/submit.go — palette submit subcommand.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/HatmanStack/plot-palette-sub000/internal/queue"
)

func runSubmit(args []string) {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	owner := fs.String("owner", "dev", "owner id for the job")
	templateID := fs.String("template", "", "template id (required)")
	templateVersion := fs.Int("template-version", 1, "template version")
	seedLocation := fs.String("seed", "", "blob key of the seed dataset")
	records := fs.Int("records", 10, "target record count")
	budgetLimit := fs.Float64("budget", 5.0, "budget limit in dollars")
	format := fs.String("format", "ndjson", "output format")
	_ = fs.Parse(args)

	if *templateID == "" {
		fmt.Fprintln(os.Stderr, "submit: -template is required")
		os.Exit(1)
	}

	ctx := context.Background()
	c, err := newConn(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "submit: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	job, err := c.Queue.Enqueue(ctx, queue.EnqueueOptions{
		OwnerID:         *owner,
		TemplateID:      *templateID,
		TemplateVersion: *templateVersion,
		SeedLocation:    *seedLocation,
		TargetRecords:   *records,
		OutputFormat:    *format,
		BudgetLimit:     *budgetLimit,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "submit: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("job_id: %s\n", job.ID)
	fmt.Printf("status: %s\n", job.Status)
}
