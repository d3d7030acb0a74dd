package domain

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusQueued         JobStatus = "queued"
	StatusRunning        JobStatus = "running"
	StatusCompleted      JobStatus = "completed"
	StatusFailed         JobStatus = "failed"
	StatusCancelled      JobStatus = "cancelled"
	StatusBudgetExceeded JobStatus = "budget_exceeded"
)

// Terminal reports whether the status has no outgoing transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusBudgetExceeded:
		return true
	}
	return false
}

// JobConfig is the immutable generation configuration captured at enqueue time.
type JobConfig struct {
	TemplateID      string  `json:"template_id"`
	TemplateVersion int     `json:"template_version"`
	SeedLocation    string  `json:"seed_location"`
	TargetRecords   int     `json:"target_records"`
	OutputFormat    string  `json:"output_format"`
	BudgetLimit     float64 `json:"budget_limit"`
}

type Job struct {
	ID               uuid.UUID
	OwnerID          string
	Status           JobStatus
	Config           JobConfig
	TokensUsed       int64
	RecordsGenerated int
	CostAccumulated  float64
	ClaimedBy        *string
	LastError        *string
	CancelRequested  bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
	StartedAt        *time.Time
	FinishedAt       *time.Time
}

// QueueEntry is a status-partitioned pointer to a Job. Moving a job between
// lifecycle phases is delete-old + insert-new, never an in-place update, so a
// query over one status partition is always consistent with that phase.
type QueueEntry struct {
	Status    JobStatus
	JobID     uuid.UUID
	EnteredAt time.Time
	WorkerID  string // set on running entries only
}

// Checkpoint is the durable resumable state for one job. Version strictly
// increases on every accepted save; RecordsGenerated never decreases across
// conflict merges.
type Checkpoint struct {
	JobID            uuid.UUID         `json:"job_id"`
	RecordsGenerated int               `json:"records_generated"`
	CurrentBatch     int               `json:"current_batch"`
	TokensUsed       int64             `json:"tokens_used"`
	CostAccumulated  float64           `json:"cost_accumulated"`
	StartedAt        time.Time         `json:"started_at"`
	ResumeState      map[string]string `json:"resume_state,omitempty"`
	Version          int64             `json:"version"`
}

// StepResult is the output of one pipeline step. Either Output or Error is
// set, never both. Held only in the in-process execution context and the
// persisted output batch.
type StepResult struct {
	StepID string `json:"step_id"`
	Prompt string `json:"prompt,omitempty"`
	Model  string `json:"model"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// GeneratedRecord is one line of an NDJSON output batch.
type GeneratedRecord struct {
	Index int                   `json:"index"`
	Seed  map[string]any        `json:"seed"`
	Steps map[string]StepResult `json:"steps"`
}

// CostRecord is an append-only snapshot of cumulative cost by category,
// written at checkpoint cadence.
type CostRecord struct {
	JobID      uuid.UUID `json:"job_id"`
	Inference  float64   `json:"inference"`
	Compute    float64   `json:"compute"`
	Storage    float64   `json:"storage"`
	Total      float64   `json:"total"`
	RecordedAt time.Time `json:"recorded_at"`
}

type Worker struct {
	ID            uuid.UUID
	Hostname      string
	LastHeartbeat time.Time
	Status        string
	RegisteredAt  time.Time
}
