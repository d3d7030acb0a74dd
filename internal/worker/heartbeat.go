package worker

import (
	"context"
	"time"
)

// Register upserts the worker row so operators can see the fleet. Safe to
// call on restart; re-registration refreshes the heartbeat and re-marks the
// worker active.
func (w *Worker) Register(ctx context.Context) error {
	return w.opts.Docs.UpsertWorker(ctx, w.opts.ID, w.opts.Hostname)
}

// RunHeartbeat refreshes last_heartbeat every 5 seconds so a stale row
// identifies a crashed worker. Informational only; nothing reclaims jobs
// from it. Stops cleanly on context cancellation. Must be run in a
// goroutine alongside Start().
func (w *Worker) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.opts.Docs.Heartbeat(ctx, w.opts.ID); err != nil {
				w.logger.Error("heartbeat failed", "err", err)
			}
		}
	}
}
