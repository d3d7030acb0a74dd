package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/HatmanStack/plot-palette-sub000/internal/domain"
)

// Postgres implements Store on a pgx pool. Conditional writes are expressed
// as UPDATE/DELETE with the condition in the WHERE clause; RowsAffected()==1
// is the success signal, never a prior read.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const jobColumns = `
	id, owner_id, status,
	template_id, template_version, seed_location, target_records,
	output_format, budget_limit,
	tokens_used, records_generated, cost_accumulated,
	claimed_by, last_error, cancel_requested,
	created_at, updated_at, started_at, finished_at`

func (s *Postgres) CreateJob(ctx context.Context, job *domain.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs
			(id, owner_id, status,
			 template_id, template_version, seed_location, target_records,
			 output_format, budget_limit,
			 tokens_used, records_generated, cost_accumulated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, 0, 0)`,
		job.ID, job.OwnerID, job.Status,
		job.Config.TemplateID, job.Config.TemplateVersion,
		job.Config.SeedLocation, job.Config.TargetRecords,
		job.Config.OutputFormat, job.Config.BudgetLimit)
	return err
}

func (s *Postgres) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	job := &domain.Job{}
	var status string
	err := row.Scan(
		&job.ID, &job.OwnerID, &status,
		&job.Config.TemplateID, &job.Config.TemplateVersion,
		&job.Config.SeedLocation, &job.Config.TargetRecords,
		&job.Config.OutputFormat, &job.Config.BudgetLimit,
		&job.TokensUsed, &job.RecordsGenerated, &job.CostAccumulated,
		&job.ClaimedBy, &job.LastError, &job.CancelRequested,
		&job.CreatedAt, &job.UpdatedAt, &job.StartedAt, &job.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	return job, nil
}

func (s *Postgres) UpdateJobStatus(
	ctx context.Context, id uuid.UUID,
	from, to domain.JobStatus, upd JobUpdate,
) (bool, error) {
	sets := []string{"status = $1", "updated_at = NOW()"}
	args := []any{to}

	add := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if upd.ClaimedBy != nil {
		add("claimed_by", *upd.ClaimedBy)
	}
	if upd.TokensUsed != nil {
		add("tokens_used", *upd.TokensUsed)
	}
	if upd.RecordsGenerated != nil {
		add("records_generated", *upd.RecordsGenerated)
	}
	if upd.CostAccumulated != nil {
		add("cost_accumulated", *upd.CostAccumulated)
	}
	if upd.LastError != nil {
		add("last_error", *upd.LastError)
	}
	if upd.StartedAt != nil {
		add("started_at", *upd.StartedAt)
	}
	if upd.FinishedAt != nil {
		add("finished_at", *upd.FinishedAt)
	}

	args = append(args, id, from)
	query := fmt.Sprintf(
		`UPDATE jobs SET %s WHERE id = $%d AND status = $%d`,
		strings.Join(sets, ", "), len(args)-1, len(args))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Postgres) SetCancelRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			cancel_requested = TRUE,
			updated_at       = NOW()
		WHERE id = $1
		  AND status IN ('queued', 'running')`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Postgres) OldestQueued(ctx context.Context) (*domain.QueueEntry, error) {
	e := &domain.QueueEntry{}
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT status, job_id, entered_at, COALESCE(worker_id, '')
		FROM queue_entries
		WHERE status = 'queued'
		ORDER BY entered_at ASC, job_id ASC
		LIMIT 1`).Scan(&status, &e.JobID, &e.EnteredAt, &e.WorkerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Status = domain.JobStatus(status)
	return e, nil
}

func (s *Postgres) InsertQueueEntry(ctx context.Context, e domain.QueueEntry) error {
	enteredAt := e.EnteredAt
	if enteredAt.IsZero() {
		enteredAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO queue_entries (status, job_id, entered_at, worker_id)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		ON CONFLICT (status, job_id) DO NOTHING`,
		e.Status, e.JobID, enteredAt, e.WorkerID)
	return err
}

func (s *Postgres) DeleteQueueEntry(ctx context.Context, status domain.JobStatus, jobID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM queue_entries
		WHERE status = $1 AND job_id = $2`, status, jobID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// AdvanceCheckpointVersion is the optimistic-concurrency gate for checkpoint
// saves. First save (expected 0) inserts the row; ON CONFLICT DO NOTHING
// turns a concurrent first save into a clean condition failure.
func (s *Postgres) AdvanceCheckpointVersion(ctx context.Context, jobID uuid.UUID, expected int64) (bool, error) {
	if expected == 0 {
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO checkpoint_meta (job_id, version, updated_at)
			VALUES ($1, 1, NOW())
			ON CONFLICT (job_id) DO NOTHING`, jobID)
		if err != nil {
			return false, err
		}
		return tag.RowsAffected() == 1, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE checkpoint_meta SET
			version    = $1,
			updated_at = NOW()
		WHERE job_id = $2
		  AND version = $3`, expected+1, jobID, expected)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Postgres) GetCheckpointVersion(ctx context.Context, jobID uuid.UUID) (int64, error) {
	var version int64
	err := s.pool.QueryRow(ctx,
		`SELECT version FROM checkpoint_meta WHERE job_id = $1`,
		jobID).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return version, err
}

func (s *Postgres) AppendCostRecord(ctx context.Context, rec domain.CostRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cost_records
			(job_id, inference, compute, storage, total, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.JobID, rec.Inference, rec.Compute, rec.Storage, rec.Total, rec.RecordedAt)
	return err
}

func (s *Postgres) CostHistory(ctx context.Context, jobID uuid.UUID) ([]domain.CostRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_id, inference, compute, storage, total, recorded_at
		FROM cost_records
		WHERE job_id = $1
		ORDER BY recorded_at ASC, id ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CostRecord
	for rows.Next() {
		var r domain.CostRecord
		if err := rows.Scan(&r.JobID, &r.Inference, &r.Compute,
			&r.Storage, &r.Total, &r.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Postgres) GetTemplate(ctx context.Context, id string, version int) ([]byte, error) {
	var body []byte
	err := s.pool.QueryRow(ctx,
		`SELECT body FROM templates WHERE id = $1 AND version = $2`,
		id, version).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return body, err
}

func (s *Postgres) PutTemplate(ctx context.Context, id string, version int, body []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO templates (id, version, body)
		VALUES ($1, $2, $3)
		ON CONFLICT (id, version) DO UPDATE SET body = EXCLUDED.body`,
		id, version, body)
	return err
}

// UpsertWorker registers the worker row. Safe to call on restart — ON
// CONFLICT re-marks the worker active and refreshes the heartbeat.
func (s *Postgres) UpsertWorker(ctx context.Context, id uuid.UUID, hostname string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workers (id, hostname)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE
			SET hostname       = EXCLUDED.hostname,
			    status         = 'active',
			    last_heartbeat = NOW()`, id, hostname)
	return err
}

func (s *Postgres) Heartbeat(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE workers SET last_heartbeat = NOW() WHERE id = $1`, id)
	return err
}
