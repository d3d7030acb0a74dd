package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/HatmanStack/plot-palette-sub000/internal/blob"
	"github.com/HatmanStack/plot-palette-sub000/internal/docstore"
	"github.com/HatmanStack/plot-palette-sub000/internal/domain"
)

func testStore() (*Store, blob.Store) {
	blobs := blob.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStore(docstore.NewMemory(), blobs, logger), blobs
}

func durableCheckpoint(t *testing.T, blobs blob.Store, jobID uuid.UUID) domain.Checkpoint {
	t.Helper()
	data, err := blobs.Get(context.Background(), blob.CheckpointKey(jobID))
	if err != nil {
		t.Fatalf("read durable checkpoint: %v", err)
	}
	var cp domain.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		t.Fatalf("decode durable checkpoint: %v", err)
	}
	return cp
}

func TestLoadAbsentReturnsZeroCheckpoint(t *testing.T) {
	s, _ := testStore()
	jobID := uuid.New()

	cp, err := s.Load(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cp.Version != 0 || cp.RecordsGenerated != 0 || cp.JobID != jobID {
		t.Fatalf("first run must be zero-valued at version 0, got %+v", cp)
	}
}

func TestSaveAdvancesVersion(t *testing.T) {
	s, blobs := testStore()
	jobID := uuid.New()

	cp := &domain.Checkpoint{
		JobID:            jobID,
		RecordsGenerated: 5,
		CurrentBatch:     1,
		TokensUsed:       500,
		CostAccumulated:  0.25,
		StartedAt:        time.Now().UTC(),
	}
	if err := s.Save(context.Background(), cp); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if cp.Version != 1 {
		t.Fatalf("in-memory version = %d, want 1", cp.Version)
	}

	cp.RecordsGenerated = 10
	if err := s.Save(context.Background(), cp); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	if cp.Version != 2 {
		t.Fatalf("in-memory version = %d, want 2", cp.Version)
	}

	durable := durableCheckpoint(t, blobs, jobID)
	if durable.Version != 2 || durable.RecordsGenerated != 10 {
		t.Fatalf("durable = %+v, want version 2, records 10", durable)
	}
}

func TestSaveRoundTripsThroughLoad(t *testing.T) {
	s, _ := testStore()
	jobID := uuid.New()

	cp := &domain.Checkpoint{
		JobID:            jobID,
		RecordsGenerated: 42,
		TokensUsed:       9000,
		ResumeState:      map[string]string{"seed_cursor": "42"},
	}
	if err := s.Save(context.Background(), cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := s.Load(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.RecordsGenerated != 42 || loaded.Version != 1 {
		t.Fatalf("loaded = %+v", loaded)
	}
	if loaded.ResumeState["seed_cursor"] != "42" {
		t.Fatalf("resume state lost: %+v", loaded.ResumeState)
	}
}

// Worker A saves records=100 at version 1; stale worker B attempts
// records=90 based on version 0. B's write must be rejected and the durable
// checkpoint must retain A's progress.
func TestConflictStaleWriterRejected(t *testing.T) {
	s, blobs := testStore()
	jobID := uuid.New()

	a := &domain.Checkpoint{JobID: jobID, RecordsGenerated: 100}
	if err := s.Save(context.Background(), a); err != nil {
		t.Fatalf("A save: %v", err)
	}

	b := &domain.Checkpoint{JobID: jobID, RecordsGenerated: 90} // version 0 base
	err := s.Save(context.Background(), b)
	if !errors.Is(err, ErrStale) {
		t.Fatalf("got %v, want ErrStale", err)
	}

	durable := durableCheckpoint(t, blobs, jobID)
	if durable.RecordsGenerated != 100 || durable.Version != 1 {
		t.Fatalf("durable = %+v, want records 100 at version 1", durable)
	}
}

// A conflicting writer with strictly more progress must win: the save is
// retried on top of the reloaded version.
func TestConflictHigherProgressMerges(t *testing.T) {
	s, blobs := testStore()
	jobID := uuid.New()

	a := &domain.Checkpoint{JobID: jobID, RecordsGenerated: 100}
	if err := s.Save(context.Background(), a); err != nil {
		t.Fatalf("A save: %v", err)
	}

	b := &domain.Checkpoint{JobID: jobID, RecordsGenerated: 120} // stale version 0 base
	if err := s.Save(context.Background(), b); err != nil {
		t.Fatalf("B save (more progress): %v", err)
	}
	if b.Version != 2 {
		t.Fatalf("B version = %d, want 2", b.Version)
	}

	durable := durableCheckpoint(t, blobs, jobID)
	if durable.RecordsGenerated != 120 || durable.Version != 2 {
		t.Fatalf("durable = %+v, want records 120 at version 2", durable)
	}
}

// Persisted records_generated must be non-decreasing and version strictly
// increasing across any accepted sequence of saves.
func TestMonotonicityAcrossSaves(t *testing.T) {
	s, blobs := testStore()
	jobID := uuid.New()

	lastVersion := int64(0)
	lastRecords := 0
	cp := &domain.Checkpoint{JobID: jobID}
	for i := 1; i <= 5; i++ {
		cp.RecordsGenerated = i * 10
		if err := s.Save(context.Background(), cp); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
		durable := durableCheckpoint(t, blobs, jobID)
		if durable.Version <= lastVersion {
			t.Fatalf("version not strictly increasing: %d after %d", durable.Version, lastVersion)
		}
		if durable.RecordsGenerated < lastRecords {
			t.Fatalf("records decreased: %d after %d", durable.RecordsGenerated, lastRecords)
		}
		lastVersion = durable.Version
		lastRecords = durable.RecordsGenerated
	}
}

// contestedDocs rejects every version advance, as if a concurrent writer
// always wins the race for the gate.
type contestedDocs struct {
	docstore.Store
}

func (contestedDocs) AdvanceCheckpointVersion(context.Context, uuid.UUID, int64) (bool, error) {
	return false, nil
}

func TestConflictRetriesBounded(t *testing.T) {
	docs := contestedDocs{Store: docstore.NewMemory()}
	blobs := blob.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewStore(docs, blobs, logger)
	jobID := uuid.New()

	// The gate never yields, so the save loop must give up instead of
	// spinning.
	cp := &domain.Checkpoint{JobID: jobID, RecordsGenerated: 50}
	err := s.Save(context.Background(), cp)
	if !errors.Is(err, ErrConflictRetriesExhausted) {
		t.Fatalf("got %v, want ErrConflictRetriesExhausted", err)
	}
}

// A worker killed after advancing the version gate but before writing the
// blob leaves the gate ahead of the durable body. A successor that resumes
// from the blob and makes strictly more progress must still converge.
func TestTornWriteRecovered(t *testing.T) {
	docs := docstore.NewMemory()
	blobs := blob.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewStore(docs, blobs, logger)
	jobID := uuid.New()

	// Simulated crash point: gate at 1, no blob.
	if ok, _ := docs.AdvanceCheckpointVersion(context.Background(), jobID, 0); !ok {
		t.Fatalf("setup: gate advance failed")
	}

	cp, err := s.Load(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cp.Version != 0 {
		t.Fatalf("resume version = %d, want 0 (blob absent)", cp.Version)
	}

	cp.RecordsGenerated = 10
	if err := s.Save(context.Background(), cp); err != nil {
		t.Fatalf("successor save with more progress must converge, got: %v", err)
	}
	if cp.Version != 2 {
		t.Fatalf("in-memory version = %d, want 2", cp.Version)
	}

	durable := durableCheckpoint(t, blobs, jobID)
	if durable.Version != 2 || durable.RecordsGenerated != 10 {
		t.Fatalf("durable = %+v, want records 10 at version 2", durable)
	}
}
