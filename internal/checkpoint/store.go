// Package checkpoint persists crash-safe job progress with optimistic
// concurrency. The version counter lives in the document store and gates the
// blob write; the full checkpoint body lives in the blob store.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/HatmanStack/plot-palette-sub000/internal/blob"
	"github.com/HatmanStack/plot-palette-sub000/internal/docstore"
	"github.com/HatmanStack/plot-palette-sub000/internal/domain"
)

// maxConflictRetries bounds the merge-on-conflict loop. Contention past this
// means another live writer keeps advancing the version; surfacing a hard
// error beats spinning.
const maxConflictRetries = 3

// ErrStale is returned when a concurrent writer persisted at least as much
// progress; the caller's checkpoint was discarded.
var ErrStale = errors.New("checkpoint: discarded as stale")

// ErrConflictRetriesExhausted is returned when the version gate keeps moving
// under pathological contention.
var ErrConflictRetriesExhausted = errors.New("checkpoint: conflict retries exhausted")

type Store struct {
	docs   docstore.Store
	blobs  blob.Store
	logger *slog.Logger
}

func NewStore(docs docstore.Store, blobs blob.Store, logger *slog.Logger) *Store {
	return &Store{docs: docs, blobs: blobs, logger: logger}
}

// Load reads the durable checkpoint for jobID. A job with no checkpoint yet
// gets a zero-valued checkpoint at version 0 (first run).
func (s *Store) Load(ctx context.Context, jobID uuid.UUID) (*domain.Checkpoint, error) {
	data, err := s.blobs.Get(ctx, blob.CheckpointKey(jobID))
	if errors.Is(err, blob.ErrNotFound) {
		return &domain.Checkpoint{JobID: jobID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint blob: %w", err)
	}
	cp := &domain.Checkpoint{}
	if err := json.Unmarshal(data, cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return cp, nil
}

// Save persists cp using its carried version as the optimistic-concurrency
// base. On success cp.Version is advanced in place for the next round.
//
// On a version conflict the durable checkpoint is reloaded and compared:
// if the caller has strictly more progress (records_generated) the save is
// retried on top of the current gate version — last writer with the most
// progress wins. Otherwise the caller's write is discarded as stale and
// ErrStale is returned. The loop is bounded by maxConflictRetries.
//
// The retry base comes from the version gate, not the blob body: a worker
// killed between advancing the gate and writing the blob leaves the gate
// ahead of the blob, and a successor rebasing on the blob's version would
// conflict forever.
func (s *Store) Save(ctx context.Context, cp *domain.Checkpoint) error {
	for attempt := 0; ; attempt++ {
		ok, err := s.docs.AdvanceCheckpointVersion(ctx, cp.JobID, cp.Version)
		if err != nil {
			return fmt.Errorf("advance checkpoint version: %w", err)
		}
		if ok {
			next := cp.Version + 1
			body := *cp
			body.Version = next
			data, err := json.Marshal(&body)
			if err != nil {
				return fmt.Errorf("encode checkpoint: %w", err)
			}
			if err := s.blobs.Put(ctx, blob.CheckpointKey(cp.JobID), data, "application/json"); err != nil {
				return fmt.Errorf("write checkpoint blob: %w", err)
			}
			cp.Version = next
			return nil
		}

		if attempt >= maxConflictRetries {
			return fmt.Errorf("%w (job %s, %d attempts)",
				ErrConflictRetriesExhausted, cp.JobID, attempt+1)
		}

		durable, err := s.Load(ctx, cp.JobID)
		if err != nil {
			return fmt.Errorf("reload after conflict: %w", err)
		}
		if cp.RecordsGenerated <= durable.RecordsGenerated {
			return fmt.Errorf("%w (ours %d, durable %d at v%d)",
				ErrStale, cp.RecordsGenerated, durable.RecordsGenerated, durable.Version)
		}
		gate, err := s.docs.GetCheckpointVersion(ctx, cp.JobID)
		if err != nil {
			return fmt.Errorf("read version gate after conflict: %w", err)
		}
		s.logger.Warn("checkpoint conflict, retrying with more progress",
			"job_id", cp.JobID,
			"our_records", cp.RecordsGenerated,
			"durable_records", durable.RecordsGenerated,
			"gate_version", gate)
		cp.Version = gate
	}
}
