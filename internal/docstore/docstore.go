// Package docstore is the document-store surface the worker coordinates
// through: keyed reads/writes on Job records, status-partitioned queue
// entries, the checkpoint version gate, and append-only cost records.
//
// Every conditional method returns (false, nil) when the condition did not
// hold — a lost race, not an error. Implementations must evaluate the
// condition atomically with the write; read-then-write is not acceptable.
package docstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/HatmanStack/plot-palette-sub000/internal/domain"
)

var ErrNotFound = errors.New("docstore: not found")

// JobUpdate carries the optional fields written alongside a status
// transition. Nil fields are left untouched.
type JobUpdate struct {
	ClaimedBy        *string
	TokensUsed       *int64
	RecordsGenerated *int
	CostAccumulated  *float64
	LastError        *string
	StartedAt        *time.Time
	FinishedAt       *time.Time
}

type Store interface {
	// CreateJob inserts a new Job record and its queued partition entry is
	// NOT created here; the queue package owns entries.
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// UpdateJobStatus moves a Job from one status to another, conditioned on
	// the stored status still being from.
	UpdateJobStatus(ctx context.Context, id uuid.UUID, from, to domain.JobStatus, upd JobUpdate) (bool, error)

	// SetCancelRequested marks a non-terminal job for cooperative
	// cancellation. Returns false when the job is already terminal or absent.
	SetCancelRequested(ctx context.Context, id uuid.UUID) (bool, error)

	// OldestQueued returns the queued partition entry with the smallest
	// enqueue timestamp, or nil when the partition is empty.
	OldestQueued(ctx context.Context) (*domain.QueueEntry, error)
	InsertQueueEntry(ctx context.Context, e domain.QueueEntry) error
	// DeleteQueueEntry removes one partition entry, conditioned on the entry
	// still existing.
	DeleteQueueEntry(ctx context.Context, status domain.JobStatus, jobID uuid.UUID) (bool, error)

	// AdvanceCheckpointVersion sets the durable checkpoint version to
	// expected+1, conditioned on it still equaling expected. expected 0 also
	// matches "no row yet" (first save).
	AdvanceCheckpointVersion(ctx context.Context, jobID uuid.UUID, expected int64) (bool, error)
	// GetCheckpointVersion reads the authoritative version gate; 0 when no
	// save has been accepted yet.
	GetCheckpointVersion(ctx context.Context, jobID uuid.UUID) (int64, error)

	AppendCostRecord(ctx context.Context, rec domain.CostRecord) error
	// CostHistory returns a job's cost records in recording order.
	CostHistory(ctx context.Context, jobID uuid.UUID) ([]domain.CostRecord, error)

	GetTemplate(ctx context.Context, id string, version int) ([]byte, error)
	PutTemplate(ctx context.Context, id string, version int, body []byte) error

	UpsertWorker(ctx context.Context, id uuid.UUID, hostname string) error
	Heartbeat(ctx context.Context, id uuid.UUID) error
}
