package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/HatmanStack/plot-palette-sub000/internal/blob"
	"github.com/HatmanStack/plot-palette-sub000/internal/breaker"
	"github.com/HatmanStack/plot-palette-sub000/internal/budget"
	"github.com/HatmanStack/plot-palette-sub000/internal/checkpoint"
	"github.com/HatmanStack/plot-palette-sub000/internal/collab"
	"github.com/HatmanStack/plot-palette-sub000/internal/docstore"
	"github.com/HatmanStack/plot-palette-sub000/internal/domain"
	"github.com/HatmanStack/plot-palette-sub000/internal/pipeline"
	"github.com/HatmanStack/plot-palette-sub000/internal/queue"
	"github.com/HatmanStack/plot-palette-sub000/internal/retry"
)

const testTemplate = `
name: story
steps:
  - id: draft
    prompt: "Write about {{.seed.topic}}"
    tier: cheap
`

// scriptedClient counts invocations and delegates to a per-call function.
type scriptedClient struct {
	mu     sync.Mutex
	calls  int
	invoke func(call int, model, prompt string) (pipeline.Completion, error)
}

func (c *scriptedClient) Invoke(_ context.Context, model, prompt string) (pipeline.Completion, error) {
	c.mu.Lock()
	call := c.calls
	c.calls++
	c.mu.Unlock()
	return c.invoke(call, model, prompt)
}

func okCompletion(_ int, _, prompt string) (pipeline.Completion, error) {
	return pipeline.Completion{Text: "out:" + prompt, InputTokens: 10, OutputTokens: 5}, nil
}

type testEnv struct {
	docs        *docstore.Memory
	blobs       *blob.Memory
	q           *queue.Queue
	checkpoints *checkpoint.Store
	w           *Worker
}

func newTestEnv(t *testing.T, client pipeline.InferenceClient) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	docs := docstore.NewMemory()
	blobs := blob.NewMemory()
	q := queue.New(docs, logger)
	cps := checkpoint.NewStore(docs, blobs, logger)
	engine := pipeline.NewEngine(
		client,
		breaker.NewRegistry(breaker.Config{FailureThreshold: 2, RecoveryTimeout: time.Minute}),
		retry.Policy{MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		pipeline.DefaultModelTable(),
		logger)
	w := New(Options{
		ID:           uuid.New(),
		Hostname:     "test-host",
		Queue:        q,
		Docs:         docs,
		Blobs:        blobs,
		Checkpoints:  cps,
		Templates:    collab.NewTemplates(docs),
		Seeds:        collab.NewSeeds(blobs),
		Exporter:     collab.NewExporter(blobs),
		Engine:       engine,
		Prices:       budget.DefaultPriceTable(),
		Logger:       logger,
		PollInterval: 5 * time.Millisecond,
		FlushEvery:   2,
	})
	return &testEnv{docs: docs, blobs: blobs, q: q, checkpoints: cps, w: w}
}

func (e *testEnv) submit(t *testing.T, opts queue.EnqueueOptions) *domain.Job {
	t.Helper()
	ctx := context.Background()
	if err := e.docs.PutTemplate(ctx, "story", 1, []byte(testTemplate)); err != nil {
		t.Fatal(err)
	}
	seeds := []byte(`{"topic":"tides"}` + "\n" + `{"topic":"dunes"}` + "\n")
	if err := e.blobs.Put(ctx, "seed/test.ndjson", seeds, "application/x-ndjson"); err != nil {
		t.Fatal(err)
	}
	if opts.OwnerID == "" {
		opts.OwnerID = "owner-1"
	}
	opts.TemplateID = "story"
	opts.TemplateVersion = 1
	opts.SeedLocation = "seed/test.ndjson"
	job, err := e.q.Enqueue(ctx, opts)
	if err != nil {
		t.Fatal(err)
	}
	return job
}

func (e *testEnv) claim(t *testing.T) *domain.Job {
	t.Helper()
	job, err := e.q.ClaimNext(context.Background(), e.w.opts.ID.String())
	if err != nil {
		t.Fatal(err)
	}
	if job == nil {
		t.Fatal("expected a claimable job")
	}
	return job
}

func (e *testEnv) jobStatus(t *testing.T, id uuid.UUID) *domain.Job {
	t.Helper()
	job, err := e.docs.GetJob(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return job
}

func TestRunJobCompletesAndExports(t *testing.T) {
	env := newTestEnv(t, &scriptedClient{invoke: okCompletion})
	submitted := env.submit(t, queue.EnqueueOptions{TargetRecords: 5, BudgetLimit: 100})
	ctx := context.Background()

	env.w.runJob(ctx, env.claim(t))

	job := env.jobStatus(t, submitted.ID)
	if job.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed (last_error %v)", job.Status, job.LastError)
	}
	if job.RecordsGenerated != 5 {
		t.Fatalf("records_generated = %d, want 5", job.RecordsGenerated)
	}
	if job.FinishedAt == nil {
		t.Fatal("finished_at not set")
	}

	// 5 records at a flush interval of 2 means batches of 2, 2, 1.
	keys, err := env.blobs.List(ctx, blob.BatchPrefix(job.ID))
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 3 {
		t.Fatalf("batch count = %d, want 3 (%v)", len(keys), keys)
	}

	export, err := env.blobs.Get(ctx, blob.ExportKey(job.ID, "ndjson"))
	if err != nil {
		t.Fatal(err)
	}
	if lines := bytes.Count(export, []byte("\n")); lines != 5 {
		t.Fatalf("export lines = %d, want 5", lines)
	}

	cp, err := env.checkpoints.Load(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cp.RecordsGenerated != 5 || cp.Version != 3 {
		t.Fatalf("checkpoint = %d records at v%d, want 5 at v3",
			cp.RecordsGenerated, cp.Version)
	}

	if recs := env.docs.CostRecords(job.ID); len(recs) != 3 {
		t.Fatalf("cost records = %d, want 3", len(recs))
	}
}

func TestRunJobStopsAtBudgetLimit(t *testing.T) {
	env := newTestEnv(t, &scriptedClient{invoke: okCompletion})
	// Small enough that the first flush's inference and storage cost trips
	// the inclusive check before record 3.
	submitted := env.submit(t, queue.EnqueueOptions{TargetRecords: 50, BudgetLimit: 0.00001})

	env.w.runJob(context.Background(), env.claim(t))

	job := env.jobStatus(t, submitted.ID)
	if job.Status != domain.StatusBudgetExceeded {
		t.Fatalf("status = %s, want budget_exceeded", job.Status)
	}
	if job.RecordsGenerated == 0 || job.RecordsGenerated >= 50 {
		t.Fatalf("records_generated = %d, want partial progress", job.RecordsGenerated)
	}
	if job.CostAccumulated < job.Config.BudgetLimit {
		t.Fatalf("cost %v below limit %v at budget_exceeded",
			job.CostAccumulated, job.Config.BudgetLimit)
	}
}

func TestRunJobPreemptionLeavesRunningAndResumes(t *testing.T) {
	env := newTestEnv(t, nil)
	client := &scriptedClient{invoke: func(call int, model, prompt string) (pipeline.Completion, error) {
		if call == 2 {
			env.w.Preempt()
		}
		return okCompletion(call, model, prompt)
	}}
	env.w.opts.Engine = pipeline.NewEngine(
		client,
		breaker.NewRegistry(breaker.Config{}),
		retry.Policy{},
		pipeline.DefaultModelTable(),
		env.w.logger)
	submitted := env.submit(t, queue.EnqueueOptions{TargetRecords: 5, BudgetLimit: 100})
	ctx := context.Background()

	env.w.runJob(ctx, env.claim(t))

	job := env.jobStatus(t, submitted.ID)
	if job.Status != domain.StatusRunning {
		t.Fatalf("status after preemption = %s, want running", job.Status)
	}
	cp, err := env.checkpoints.Load(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cp.RecordsGenerated != 3 {
		t.Fatalf("checkpointed records = %d, want 3", cp.RecordsGenerated)
	}

	// A successor worker picks the still-running job up from the checkpoint.
	successor := New(Options{
		ID:          uuid.New(),
		Hostname:    "successor-host",
		Queue:       env.q,
		Docs:        env.docs,
		Blobs:       env.blobs,
		Checkpoints: env.checkpoints,
		Templates:   collab.NewTemplates(env.docs),
		Seeds:       collab.NewSeeds(env.blobs),
		Exporter:    collab.NewExporter(env.blobs),
		Engine: pipeline.NewEngine(
			&scriptedClient{invoke: okCompletion},
			breaker.NewRegistry(breaker.Config{}),
			retry.Policy{},
			pipeline.DefaultModelTable(),
			env.w.logger),
		Prices:     budget.DefaultPriceTable(),
		Logger:     env.w.logger,
		FlushEvery: 2,
	})
	successor.runJob(ctx, job)

	job = env.jobStatus(t, submitted.ID)
	if job.Status != domain.StatusCompleted {
		t.Fatalf("status after resume = %s, want completed (last_error %v)",
			job.Status, job.LastError)
	}
	if job.RecordsGenerated != 5 {
		t.Fatalf("records_generated = %d, want 5", job.RecordsGenerated)
	}
}

func TestRunJobOpenBreakerFailsJob(t *testing.T) {
	env := newTestEnv(t, &scriptedClient{invoke: func(int, string, string) (pipeline.Completion, error) {
		return pipeline.Completion{}, retry.Transient(errors.New("throttled"))
	}})
	submitted := env.submit(t, queue.EnqueueOptions{TargetRecords: 10, BudgetLimit: 100})

	env.w.runJob(context.Background(), env.claim(t))

	job := env.jobStatus(t, submitted.ID)
	if job.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if job.LastError == nil || *job.LastError != msgInference {
		t.Fatalf("last_error = %v, want %q", job.LastError, msgInference)
	}
	// Per-record fault isolation: the two records attempted before the
	// breaker opened are persisted with step error markers, not dropped.
	if job.RecordsGenerated != 2 {
		t.Fatalf("records_generated = %d, want 2", job.RecordsGenerated)
	}
}

func TestRunJobHonorsCancelMarker(t *testing.T) {
	env := newTestEnv(t, &scriptedClient{invoke: okCompletion})
	submitted := env.submit(t, queue.EnqueueOptions{TargetRecords: 10, BudgetLimit: 100})
	ctx := context.Background()

	claimed := env.claim(t)
	res, err := env.q.Cancel(ctx, claimed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Found || res.Immediate {
		t.Fatalf("cancel of running job = %+v, want found cooperative", res)
	}

	env.w.runJob(ctx, claimed)

	job := env.jobStatus(t, submitted.ID)
	if job.Status != domain.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", job.Status)
	}
	if job.LastError == nil || !strings.Contains(*job.LastError, "cancelled") {
		t.Fatalf("last_error = %v, want cancellation message", job.LastError)
	}
}

func TestRunJobExportFailureFailsJob(t *testing.T) {
	env := newTestEnv(t, &scriptedClient{invoke: okCompletion})
	submitted := env.submit(t, queue.EnqueueOptions{
		TargetRecords: 2, BudgetLimit: 100, OutputFormat: "parquet"})

	env.w.runJob(context.Background(), env.claim(t))

	job := env.jobStatus(t, submitted.ID)
	if job.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if job.LastError == nil || *job.LastError != msgExport {
		t.Fatalf("last_error = %v, want %q", job.LastError, msgExport)
	}
}

func TestRunJobAbandonsOnStaleCheckpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	var submitted *domain.Job
	client := &scriptedClient{invoke: func(call int, model, prompt string) (pipeline.Completion, error) {
		if call == 0 {
			// A rival worker persists far more progress before our first
			// flush; our save must lose and the attempt must cede.
			rival := &domain.Checkpoint{JobID: submitted.ID, RecordsGenerated: 100}
			if err := env.checkpoints.Save(ctx, rival); err != nil {
				t.Errorf("rival save: %v", err)
			}
		}
		return okCompletion(call, model, prompt)
	}}
	env.w.opts.Engine = pipeline.NewEngine(
		client,
		breaker.NewRegistry(breaker.Config{}),
		retry.Policy{},
		pipeline.DefaultModelTable(),
		env.w.logger)
	submitted = env.submit(t, queue.EnqueueOptions{TargetRecords: 10, BudgetLimit: 100})

	env.w.runJob(ctx, env.claim(t))

	job := env.jobStatus(t, submitted.ID)
	if job.Status != domain.StatusRunning {
		t.Fatalf("status = %s, want running (no transition on stale cede)", job.Status)
	}
	if job.LastError != nil {
		t.Fatalf("last_error = %v, want nil", job.LastError)
	}
}

func TestStartDrainsOnContextCancel(t *testing.T) {
	env := newTestEnv(t, &scriptedClient{invoke: okCompletion})
	ctx, cancel := context.WithCancel(context.Background())

	go env.w.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Second)
	defer drainCancel()
	if err := env.w.DrainAndWait(drainCtx); err != nil {
		t.Fatalf("drain: %v", err)
	}
}
