package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/HatmanStack/plot-palette-sub000/internal/domain"
)

// EnqueueOptions configures a single job submission.
type EnqueueOptions struct {
	OwnerID         string
	TemplateID      string
	TemplateVersion int
	SeedLocation    string
	TargetRecords   int
	OutputFormat    string
	BudgetLimit     float64
}

func (o EnqueueOptions) validate() error {
	if o.OwnerID == "" {
		return fmt.Errorf("owner id is required")
	}
	if o.TemplateID == "" {
		return fmt.Errorf("template id is required")
	}
	if o.TargetRecords <= 0 {
		return fmt.Errorf("target_records must be > 0")
	}
	if o.BudgetLimit <= 0 {
		return fmt.Errorf("budget_limit must be > 0")
	}
	return nil
}

// Enqueue creates a Job record and its queued partition entry. The entry's
// enqueue timestamp is the claim-ordering sort key.
func (q *Queue) Enqueue(ctx context.Context, opts EnqueueOptions) (*domain.Job, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	format := opts.OutputFormat
	if format == "" {
		format = "ndjson"
	}

	job := &domain.Job{
		ID:      uuid.New(),
		OwnerID: opts.OwnerID,
		Status:  domain.StatusQueued,
		Config: domain.JobConfig{
			TemplateID:      opts.TemplateID,
			TemplateVersion: opts.TemplateVersion,
			SeedLocation:    opts.SeedLocation,
			TargetRecords:   opts.TargetRecords,
			OutputFormat:    format,
			BudgetLimit:     opts.BudgetLimit,
		},
	}
	if err := q.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if err := q.store.InsertQueueEntry(ctx, domain.QueueEntry{
		Status:    domain.StatusQueued,
		JobID:     job.ID,
		EnteredAt: time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("insert queued entry: %w", err)
	}
	q.logger.Info("job enqueued",
		"job_id", job.ID,
		"owner", job.OwnerID,
		"template", job.Config.TemplateID,
		"target_records", job.Config.TargetRecords,
		"budget_limit", job.Config.BudgetLimit)
	return job, nil
}
