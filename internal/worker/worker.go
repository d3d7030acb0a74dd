// Package worker is the top-level orchestrator: it claims jobs, drives the
// budget-bounded generation loop, persists checkpoints and output batches,
// and handles host preemption cooperatively.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/HatmanStack/plot-palette-sub000/internal/blob"
	"github.com/HatmanStack/plot-palette-sub000/internal/budget"
	"github.com/HatmanStack/plot-palette-sub000/internal/checkpoint"
	"github.com/HatmanStack/plot-palette-sub000/internal/collab"
	"github.com/HatmanStack/plot-palette-sub000/internal/docstore"
	"github.com/HatmanStack/plot-palette-sub000/internal/pipeline"
	"github.com/HatmanStack/plot-palette-sub000/internal/queue"
)

// Options wires one worker process. Cache is optional; without it cost
// snapshots are only written to the doc store.
type Options struct {
	ID          uuid.UUID
	Hostname    string
	Queue       *queue.Queue
	Docs        docstore.Store
	Blobs       blob.Store
	Checkpoints *checkpoint.Store
	Templates   *collab.Templates
	Seeds       *collab.Seeds
	Exporter    *collab.Exporter
	Engine      *pipeline.Engine
	Prices      *budget.PriceTable
	Cache       *redis.Client
	Logger      *slog.Logger

	// PollInterval is the idle sleep between claim attempts.
	PollInterval time.Duration
	// FlushEvery is the checkpoint interval in records.
	FlushEvery int
}

type Worker struct {
	opts          Options
	logger        *slog.Logger
	preempt       atomic.Bool
	startDone     chan struct{}
	startDoneOnce sync.Once
}

func New(opts Options) *Worker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = 10
	}
	return &Worker{
		opts:      opts,
		logger:    opts.Logger,
		startDone: make(chan struct{}),
	}
}

// Preempt sets the cooperative shutdown flag. The generation loop observes
// it once per record, flushes, and exits leaving the job RUNNING so a
// successor can resume from the checkpoint.
func (w *Worker) Preempt() {
	w.preempt.Store(true)
}

// Start runs the poll loop until ctx is canceled or the worker is
// preempted. Each job is executed synchronously; one job at a time per
// process.
func (w *Worker) Start(ctx context.Context) {
	defer w.startDoneOnce.Do(func() { close(w.startDone) })

	w.logger.Info("worker starting",
		"worker_id", w.opts.ID,
		"hostname", w.opts.Hostname,
		"flush_every", w.opts.FlushEvery)

	for {
		if ctx.Err() != nil || w.preempt.Load() {
			return
		}

		job, err := w.opts.Queue.ClaimNext(ctx, w.opts.ID.String())
		if err != nil {
			w.logger.Error("claim error", "err", err)
			w.sleep(ctx, w.opts.PollInterval)
			continue
		}
		if job == nil {
			w.sleep(ctx, w.opts.PollInterval)
			continue
		}

		w.runJob(ctx, job)
	}
}

// DrainAndWait blocks until the poll loop exits (after ctx cancellation or
// preemption) or until the caller's timeout is reached.
func (w *Worker) DrainAndWait(ctx context.Context) error {
	select {
	case <-w.startDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
