package queue

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/HatmanStack/plot-palette-sub000/internal/domain"
)

// CancelResult reports whether the job was found and whether cancellation
// happened immediately (queued jobs) or cooperatively (running jobs marked
// for the owning worker to observe).
type CancelResult struct {
	Found     bool
	Immediate bool
}

// Cancel requests cancellation of a job.
//
// Queued jobs move to cancelled immediately through the normal transition
// path. Running jobs only get the cancel marker set; the owning worker polls
// it and performs the transition itself after flushing its partial batch.
// Terminal jobs are not modified.
func (q *Queue) Cancel(ctx context.Context, jobID uuid.UUID) (CancelResult, error) {
	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return CancelResult{}, err
	}
	if job.Status.Terminal() {
		return CancelResult{Found: false}, nil
	}

	if job.Status == domain.StatusQueued {
		err := q.Transition(ctx, jobID, domain.StatusQueued, domain.StatusCancelled, TransitionExtras{})
		if err != nil {
			// Lost a race with a claiming worker; fall through to the
			// cooperative marker.
			q.logger.Info("immediate cancel lost race, marking instead",
				"job_id", jobID, "err", err)
		} else {
			return CancelResult{Found: true, Immediate: true}, nil
		}
	}

	marked, err := q.store.SetCancelRequested(ctx, jobID)
	if err != nil {
		return CancelResult{}, fmt.Errorf("set cancel marker: %w", err)
	}
	return CancelResult{Found: marked, Immediate: false}, nil
}
