package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/HatmanStack/plot-palette-sub000/internal/docstore"
	"github.com/HatmanStack/plot-palette-sub000/internal/domain"
)

// Queue implements the claim protocol and lifecycle transitions over the
// document store. Mutual exclusion comes entirely from the store's
// conditional writes; there is no separate lock object.
type Queue struct {
	store  docstore.Store
	logger *slog.Logger
}

func New(store docstore.Store, logger *slog.Logger) *Queue {
	return &Queue{store: store, logger: logger}
}

// ClaimNext attempts to claim the oldest queued job for workerID.
// Returns nil, nil when no job is available — including when another worker
// won the race, which is "no work right now", not an error.
//
// The claim is: delete the queued partition entry conditioned on it still
// existing, insert the running entry carrying the worker identity, then move
// the Job record queued→running conditioned on the stored status. The entry
// delete is the mutual-exclusion primitive: exactly one racing worker
// observes a successful delete.
func (q *Queue) ClaimNext(ctx context.Context, workerID string) (*domain.Job, error) {
	entry, err := q.store.OldestQueued(ctx)
	if err != nil {
		return nil, fmt.Errorf("query queued partition: %w", err)
	}
	if entry == nil {
		return nil, nil
	}

	deleted, err := q.store.DeleteQueueEntry(ctx, domain.StatusQueued, entry.JobID)
	if err != nil {
		return nil, fmt.Errorf("delete queued entry: %w", err)
	}
	if !deleted {
		// Another worker claimed it between the query and the delete.
		return nil, nil
	}

	now := time.Now().UTC()
	if err := q.store.InsertQueueEntry(ctx, domain.QueueEntry{
		Status:    domain.StatusRunning,
		JobID:     entry.JobID,
		EnteredAt: now,
		WorkerID:  workerID,
	}); err != nil {
		q.restoreQueuedEntry(ctx, entry)
		return nil, fmt.Errorf("insert running entry: %w", err)
	}

	updated, err := q.store.UpdateJobStatus(ctx, entry.JobID,
		domain.StatusQueued, domain.StatusRunning, docstore.JobUpdate{
			ClaimedBy: &workerID,
			StartedAt: &now,
		})
	if err != nil {
		// A store error here (not a lost race) leaves the job QUEUED with no
		// queued entry, so no worker would ever see it again. Undo the
		// partition move best-effort.
		if _, derr := q.store.DeleteQueueEntry(ctx, domain.StatusRunning, entry.JobID); derr != nil {
			q.logger.Warn("claim abort: running entry cleanup failed",
				"job_id", entry.JobID, "err", derr)
		}
		q.restoreQueuedEntry(ctx, entry)
		return nil, fmt.Errorf("update job status: %w", err)
	}
	if !updated {
		// The Job record was not queued anymore (cancelled between entry
		// creation and claim, or a stale entry). Undo the partition move
		// best-effort and report no work.
		if _, derr := q.store.DeleteQueueEntry(ctx, domain.StatusRunning, entry.JobID); derr != nil {
			q.logger.Warn("claim abort: running entry cleanup failed",
				"job_id", entry.JobID, "err", derr)
		}
		return nil, nil
	}

	job, err := q.store.GetJob(ctx, entry.JobID)
	if err != nil {
		return nil, fmt.Errorf("load claimed job: %w", err)
	}
	return job, nil
}

// restoreQueuedEntry re-inserts the queued partition entry after an aborted
// claim, keeping the original EnteredAt so the job does not lose its place.
func (q *Queue) restoreQueuedEntry(ctx context.Context, entry *domain.QueueEntry) {
	if err := q.store.InsertQueueEntry(ctx, domain.QueueEntry{
		Status:    domain.StatusQueued,
		JobID:     entry.JobID,
		EnteredAt: entry.EnteredAt,
	}); err != nil {
		q.logger.Warn("claim abort: queued entry restore failed",
			"job_id", entry.JobID, "err", err)
	}
}

// ResumeCheck verifies that workerID still owns jobID's running claim.
func (q *Queue) ResumeCheck(ctx context.Context, jobID uuid.UUID, workerID string) (bool, error) {
	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	return job.Status == domain.StatusRunning &&
		job.ClaimedBy != nil && *job.ClaimedBy == workerID, nil
}
