package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/HatmanStack/plot-palette-sub000/internal/docstore"
	"github.com/HatmanStack/plot-palette-sub000/internal/domain"
)

// TransitionExtras carries the bookkeeping written with a terminal
// transition.
type TransitionExtras struct {
	TokensUsed       *int64
	RecordsGenerated *int
	CostAccumulated  *float64
	ErrorMessage     *string
}

// Transition moves a job from one lifecycle phase to another using the same
// delete-old-partition + insert-new-partition + job-update pattern as the
// claim. The partition entry moves are best-effort bookkeeping; the Job
// record update is authoritative and its condition failure is reported.
func (q *Queue) Transition(
	ctx context.Context, jobID uuid.UUID,
	from, to domain.JobStatus, extras TransitionExtras,
) error {
	if deleted, err := q.store.DeleteQueueEntry(ctx, from, jobID); err != nil {
		q.logger.Warn("transition: old partition entry delete failed",
			"job_id", jobID, "from", from, "err", err)
	} else if !deleted {
		q.logger.Warn("transition: old partition entry missing",
			"job_id", jobID, "from", from)
	}

	now := time.Now().UTC()
	if err := q.store.InsertQueueEntry(ctx, domain.QueueEntry{
		Status:    to,
		JobID:     jobID,
		EnteredAt: now,
	}); err != nil {
		q.logger.Warn("transition: new partition entry insert failed",
			"job_id", jobID, "to", to, "err", err)
	}

	upd := docstore.JobUpdate{
		TokensUsed:       extras.TokensUsed,
		RecordsGenerated: extras.RecordsGenerated,
		CostAccumulated:  extras.CostAccumulated,
		LastError:        extras.ErrorMessage,
	}
	if to.Terminal() {
		upd.FinishedAt = &now
	}
	updated, err := q.store.UpdateJobStatus(ctx, jobID, from, to, upd)
	if err != nil {
		return fmt.Errorf("transition %s->%s: %w", from, to, err)
	}
	if !updated {
		return fmt.Errorf("transition %s->%s: job %s not in %s", from, to, jobID, from)
	}
	q.logger.Info("job transitioned", "job_id", jobID, "from", from, "to", to)
	return nil
}
