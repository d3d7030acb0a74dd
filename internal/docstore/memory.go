package docstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HatmanStack/plot-palette-sub000/internal/domain"
)

type entryKey struct {
	status domain.JobStatus
	jobID  uuid.UUID
}

type templateKey struct {
	id      string
	version int
}

// Memory implements Store in process memory. A single mutex makes every
// conditional write atomic, which is what the claim-race tests rely on.
type Memory struct {
	mu          sync.Mutex
	jobs        map[uuid.UUID]domain.Job
	entries     map[entryKey]domain.QueueEntry
	checkpoints map[uuid.UUID]int64
	costs       []domain.CostRecord
	templates   map[templateKey][]byte
	workers     map[uuid.UUID]domain.Worker
}

func NewMemory() *Memory {
	return &Memory{
		jobs:        make(map[uuid.UUID]domain.Job),
		entries:     make(map[entryKey]domain.QueueEntry),
		checkpoints: make(map[uuid.UUID]int64),
		templates:   make(map[templateKey][]byte),
		workers:     make(map[uuid.UUID]domain.Worker),
	}
}

func (m *Memory) CreateJob(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	j := *job
	now := time.Now().UTC()
	j.CreatedAt = now
	j.UpdatedAt = now
	m.jobs[job.ID] = j
	return nil
}

func (m *Memory) GetJob(_ context.Context, id uuid.UUID) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &j, nil
}

func (m *Memory) UpdateJobStatus(
	_ context.Context, id uuid.UUID,
	from, to domain.JobStatus, upd JobUpdate,
) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != from {
		return false, nil
	}
	j.Status = to
	j.UpdatedAt = time.Now().UTC()
	if upd.ClaimedBy != nil {
		j.ClaimedBy = upd.ClaimedBy
	}
	if upd.TokensUsed != nil {
		j.TokensUsed = *upd.TokensUsed
	}
	if upd.RecordsGenerated != nil {
		j.RecordsGenerated = *upd.RecordsGenerated
	}
	if upd.CostAccumulated != nil {
		j.CostAccumulated = *upd.CostAccumulated
	}
	if upd.LastError != nil {
		j.LastError = upd.LastError
	}
	if upd.StartedAt != nil {
		j.StartedAt = upd.StartedAt
	}
	if upd.FinishedAt != nil {
		j.FinishedAt = upd.FinishedAt
	}
	m.jobs[id] = j
	return true, nil
}

func (m *Memory) SetCancelRequested(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status.Terminal() {
		return false, nil
	}
	j.CancelRequested = true
	j.UpdatedAt = time.Now().UTC()
	m.jobs[id] = j
	return true, nil
}

func (m *Memory) OldestQueued(_ context.Context) (*domain.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var oldest *domain.QueueEntry
	for k, e := range m.entries {
		if k.status != domain.StatusQueued {
			continue
		}
		if oldest == nil ||
			e.EnteredAt.Before(oldest.EnteredAt) ||
			(e.EnteredAt.Equal(oldest.EnteredAt) && e.JobID.String() < oldest.JobID.String()) {
			copied := e
			oldest = &copied
		}
	}
	return oldest, nil
}

func (m *Memory) InsertQueueEntry(_ context.Context, e domain.QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.EnteredAt.IsZero() {
		e.EnteredAt = time.Now().UTC()
	}
	k := entryKey{status: e.Status, jobID: e.JobID}
	if _, ok := m.entries[k]; !ok {
		m.entries[k] = e
	}
	return nil
}

func (m *Memory) DeleteQueueEntry(_ context.Context, status domain.JobStatus, jobID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := entryKey{status: status, jobID: jobID}
	if _, ok := m.entries[k]; !ok {
		return false, nil
	}
	delete(m.entries, k)
	return true, nil
}

func (m *Memory) AdvanceCheckpointVersion(_ context.Context, jobID uuid.UUID, expected int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.checkpoints[jobID] // zero value covers "no row yet"
	if current != expected {
		return false, nil
	}
	m.checkpoints[jobID] = expected + 1
	return true, nil
}

func (m *Memory) GetCheckpointVersion(_ context.Context, jobID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkpoints[jobID], nil
}

func (m *Memory) AppendCostRecord(_ context.Context, rec domain.CostRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.costs = append(m.costs, rec)
	return nil
}

func (m *Memory) CostHistory(_ context.Context, jobID uuid.UUID) ([]domain.CostRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.CostRecord
	for _, r := range m.costs {
		if r.JobID == jobID {
			out = append(out, r)
		}
	}
	return out, nil
}

// CostRecords returns a copy of the appended records, for tests.
func (m *Memory) CostRecords(jobID uuid.UUID) []domain.CostRecord {
	out, _ := m.CostHistory(context.Background(), jobID)
	return out
}

func (m *Memory) GetTemplate(_ context.Context, id string, version int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.templates[templateKey{id: id, version: version}]
	if !ok {
		return nil, ErrNotFound
	}
	return body, nil
}

func (m *Memory) PutTemplate(_ context.Context, id string, version int, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[templateKey{id: id, version: version}] = body
	return nil
}

func (m *Memory) UpsertWorker(_ context.Context, id uuid.UUID, hostname string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	w, ok := m.workers[id]
	if !ok {
		w = domain.Worker{ID: id, RegisteredAt: now}
	}
	w.Hostname = hostname
	w.Status = "active"
	w.LastHeartbeat = now
	m.workers[id] = w
	return nil
}

func (m *Memory) Heartbeat(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[id]
	if !ok {
		return ErrNotFound
	}
	w.LastHeartbeat = time.Now().UTC()
	m.workers[id] = w
	return nil
}
