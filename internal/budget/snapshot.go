package budget

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/HatmanStack/plot-palette-sub000/internal/domain"
)

// Snapshots are kept for a day; the doc store holds the durable history.
const snapshotTTL = 24 * time.Hour

// CacheLatestCost stores the most recent cost record for a job so status
// callers can read the running total without scanning the cost history.
func CacheLatestCost(ctx context.Context, rc *redis.Client,
	rec domain.CostRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal cost snapshot: %w", err)
	}
	return rc.Set(ctx, LatestCostKey(rec.JobID), b, snapshotTTL).Err()
}

// LatestCost returns the cached cost record for jobID, or nil when no
// snapshot has been published yet.
func LatestCost(ctx context.Context, rc *redis.Client,
	jobID uuid.UUID) (*domain.CostRecord, error) {
	b, err := rc.Get(ctx, LatestCostKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec := &domain.CostRecord{}
	if err := json.Unmarshal(b, rec); err != nil {
		return nil, fmt.Errorf("decode cost snapshot: %w", err)
	}
	return rec, nil
}
