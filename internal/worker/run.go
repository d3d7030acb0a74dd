package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/HatmanStack/plot-palette-sub000/internal/blob"
	"github.com/HatmanStack/plot-palette-sub000/internal/budget"
	"github.com/HatmanStack/plot-palette-sub000/internal/checkpoint"
	"github.com/HatmanStack/plot-palette-sub000/internal/domain"
	"github.com/HatmanStack/plot-palette-sub000/internal/queue"
)

// Sanitized user-facing failure messages. Internal detail is logged, never
// written to the Job record.
const (
	msgTemplateLoad    = "template could not be loaded"
	msgSeedLoad        = "seed data could not be loaded"
	msgInference       = "inference service unavailable"
	msgPersistence     = "progress could not be persisted"
	msgExport          = "export failed"
	msgInternal        = "internal error"
	msgCancelRequested = "cancelled by user request"
)

func (w *Worker) runJob(ctx context.Context, job *domain.Job) {
	log := w.logger.With(
		"job_id", job.ID,
		"template", job.Config.TemplateID,
		"owner", job.OwnerID)

	cp, err := w.opts.Checkpoints.Load(ctx, job.ID)
	if err != nil {
		log.Error("checkpoint load failed", "err", err)
		w.failJob(ctx, job, nil, nil, msgPersistence, log)
		return
	}
	if cp.RecordsGenerated > 0 {
		log.Info("resuming from checkpoint",
			"records_generated", cp.RecordsGenerated,
			"version", cp.Version,
			"cost_accumulated", cp.CostAccumulated)
	} else {
		cp.StartedAt = time.Now().UTC()
	}

	tpl, err := w.opts.Templates.Get(ctx, job.Config.TemplateID, job.Config.TemplateVersion)
	if err != nil {
		log.Error("template load failed", "err", err)
		w.failJob(ctx, job, cp, nil, msgTemplateLoad, log)
		return
	}
	seeds, err := w.opts.Seeds.Load(ctx, job.Config.SeedLocation)
	if err != nil {
		log.Error("seed load failed", "err", err)
		w.failJob(ctx, job, cp, nil, msgSeedLoad, log)
		return
	}

	tracker := budget.NewTracker(w.opts.Prices, cp.CostAccumulated)
	batch := make([]domain.GeneratedRecord, 0, w.opts.FlushEvery)

	log.Info("job started",
		"target_records", job.Config.TargetRecords,
		"budget_limit", job.Config.BudgetLimit,
		"from_record", cp.RecordsGenerated)

	for cp.RecordsGenerated < job.Config.TargetRecords {
		// Preemption and cancellation are cooperative, observed once per
		// record, never mid-step.
		if w.preempt.Load() {
			if err := w.flush(ctx, job, cp, tracker, &batch); err != nil {
				log.Error("preemption flush failed; successor resumes from older checkpoint", "err", err)
			}
			log.Info("preempted; leaving job running for successor",
				"records_generated", cp.RecordsGenerated)
			return
		}

		current, err := w.opts.Docs.GetJob(ctx, job.ID)
		if err != nil {
			log.Error("cancel check failed", "err", err)
			w.failJob(ctx, job, cp, tracker, msgInternal, log)
			return
		}
		if current.CancelRequested {
			if err := w.flush(ctx, job, cp, tracker, &batch); err != nil {
				if errors.Is(err, checkpoint.ErrStale) {
					w.abandonStale(cp, err, log)
					return
				}
				log.Error("cancellation flush failed", "err", err)
			}
			msg := msgCancelRequested
			w.transition(ctx, job, domain.StatusCancelled, cp, tracker, &msg, log)
			return
		}

		if budget.WouldExceed(tracker.Current(), job.Config.BudgetLimit) {
			if err := w.flush(ctx, job, cp, tracker, &batch); err != nil {
				if errors.Is(err, checkpoint.ErrStale) {
					w.abandonStale(cp, err, log)
					return
				}
				log.Error("budget-exceeded flush failed", "err", err)
			}
			log.Warn("budget limit reached",
				"cost", tracker.Current(),
				"limit", job.Config.BudgetLimit,
				"records_generated", cp.RecordsGenerated)
			w.transition(ctx, job, domain.StatusBudgetExceeded, cp, tracker, nil, log)
			return
		}

		idx := cp.RecordsGenerated
		seed := seeds[idx%len(seeds)]
		results, usage, execErr := w.opts.Engine.Execute(ctx, tpl, seed)
		if execErr != nil {
			// Open breaker: no point attempting further records against a
			// target that fails fast. Persist what we have and fail the job.
			log.Error("record execution aborted", "record", idx, "err", execErr)
			if err := w.flush(ctx, job, cp, tracker, &batch); err != nil {
				if errors.Is(err, checkpoint.ErrStale) {
					w.abandonStale(cp, err, log)
					return
				}
				log.Error("abort flush failed", "err", err)
			}
			w.failJob(ctx, job, cp, tracker, msgInference, log)
			return
		}

		for model, in := range usage.InputTokens {
			tracker.RecordUsage(model, in, usage.OutputTokens[model])
		}
		// A record whose steps carry errors still counts and is persisted
		// with its error markers; single-record faults never lose the batch.
		batch = append(batch, domain.GeneratedRecord{Index: idx, Seed: seed, Steps: results})
		cp.RecordsGenerated++
		cp.TokensUsed += usage.TotalTokens()

		if len(batch) >= w.opts.FlushEvery {
			if err := w.flush(ctx, job, cp, tracker, &batch); err != nil {
				if errors.Is(err, checkpoint.ErrStale) {
					w.abandonStale(cp, err, log)
					return
				}
				log.Error("checkpoint flush failed", "err", err)
				w.failJob(ctx, job, cp, tracker, msgPersistence, log)
				return
			}
		}
	}

	if err := w.flush(ctx, job, cp, tracker, &batch); err != nil {
		if errors.Is(err, checkpoint.ErrStale) {
			w.abandonStale(cp, err, log)
			return
		}
		log.Error("final flush failed", "err", err)
		w.failJob(ctx, job, cp, tracker, msgPersistence, log)
		return
	}

	exportKey, err := w.opts.Exporter.Export(ctx, job.ID, job.Config.OutputFormat)
	if err != nil {
		// A job without its export is not COMPLETED.
		log.Error("export failed", "err", err)
		w.failJob(ctx, job, cp, tracker, msgExport, log)
		return
	}

	w.transition(ctx, job, domain.StatusCompleted, cp, tracker, nil, log)
	log.Info("job completed",
		"records_generated", cp.RecordsGenerated,
		"tokens_used", cp.TokensUsed,
		"cost", tracker.Current(),
		"export_key", exportKey)
}

// flush writes the buffered batch (if any), persists the checkpoint through
// the version gate, and publishes a cost snapshot. The batch slice is
// emptied only after its blob write succeeds.
func (w *Worker) flush(
	ctx context.Context,
	job *domain.Job,
	cp *domain.Checkpoint,
	tracker *budget.Tracker,
	batch *[]domain.GeneratedRecord,
) error {
	if len(*batch) > 0 {
		data, err := blob.EncodeNDJSON(*batch)
		if err != nil {
			return err
		}
		key := blob.BatchKey(job.ID, cp.CurrentBatch)
		if err := w.opts.Blobs.Put(ctx, key, data, "application/x-ndjson"); err != nil {
			return err
		}
		tracker.RecordStorageOps(1)
		cp.CurrentBatch++
		*batch = (*batch)[:0]
	}

	cp.CostAccumulated = tracker.Current()
	if err := w.opts.Checkpoints.Save(ctx, cp); err != nil {
		return err
	}
	tracker.RecordStorageOps(2)

	w.publishCost(ctx, job, tracker)
	return nil
}

// publishCost appends a durable cost record and refreshes the latest-cost
// cache. Both are reporting paths; failures are logged, not fatal.
func (w *Worker) publishCost(ctx context.Context, job *domain.Job, tracker *budget.Tracker) {
	inference, compute, storage, total := tracker.Categories()
	rec := domain.CostRecord{
		JobID:      job.ID,
		Inference:  inference,
		Compute:    compute,
		Storage:    storage,
		Total:      total,
		RecordedAt: time.Now().UTC(),
	}
	if err := w.opts.Docs.AppendCostRecord(ctx, rec); err != nil {
		w.logger.Warn("cost record append failed", "job_id", job.ID, "err", err)
	}
	if w.opts.Cache != nil {
		if err := budget.CacheLatestCost(ctx, w.opts.Cache, rec); err != nil {
			w.logger.Warn("cost snapshot cache failed", "job_id", job.ID, "err", err)
		}
	}
}

// abandonStale exits the job without a state transition: a concurrent worker
// persisted at least as much progress, so this attempt's claim is ceded.
func (w *Worker) abandonStale(cp *domain.Checkpoint, err error, log *slog.Logger) {
	log.Warn("checkpoint stale; abandoning attempt without transition",
		"records_generated", cp.RecordsGenerated, "err", err)
}

func (w *Worker) transition(
	ctx context.Context,
	job *domain.Job,
	to domain.JobStatus,
	cp *domain.Checkpoint,
	tracker *budget.Tracker,
	message *string,
	log *slog.Logger,
) {
	extras := queue.TransitionExtras{ErrorMessage: message}
	if cp != nil {
		extras.TokensUsed = &cp.TokensUsed
		extras.RecordsGenerated = &cp.RecordsGenerated
	}
	if tracker != nil {
		cost := tracker.Current()
		extras.CostAccumulated = &cost
	}
	if err := w.opts.Queue.Transition(ctx, job.ID, domain.StatusRunning, to, extras); err != nil {
		log.Error("terminal transition failed", "to", to, "err", err)
	}
}

// failJob marks the job FAILED with a short sanitized message. Internal
// error detail stays in the logs.
func (w *Worker) failJob(
	ctx context.Context,
	job *domain.Job,
	cp *domain.Checkpoint,
	tracker *budget.Tracker,
	message string,
	log *slog.Logger,
) {
	w.transition(ctx, job, domain.StatusFailed, cp, tracker, &message, log)
}
