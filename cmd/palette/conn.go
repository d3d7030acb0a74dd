// cmd/palette/conn.go — shared store connection helper.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/HatmanStack/plot-palette-sub000/internal/db"
	"github.com/HatmanStack/plot-palette-sub000/internal/docstore"
	"github.com/HatmanStack/plot-palette-sub000/internal/queue"
)

type conn struct {
	pool  *pgxpool.Pool
	cache *redis.Client
	Docs  docstore.Store
	Queue *queue.Queue
}

// newConn connects to Postgres (required) and Redis (best-effort; cost
// snapshots just fall back to the job record without it).
func newConn(ctx context.Context) (*conn, error) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	pool, err := db.Connect(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	var cache *redis.Client
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}
	if opts, err := redis.ParseURL(redisURL); err == nil {
		rc := redis.NewClient(opts)
		if rc.Ping(ctx).Err() == nil {
			cache = rc
		}
	}

	docs := docstore.NewPostgres(pool)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &conn{
		pool:  pool,
		cache: cache,
		Docs:  docs,
		Queue: queue.New(docs, logger),
	}, nil
}

func (c *conn) Close() {
	if c.cache != nil {
		c.cache.Close()
	}
	c.pool.Close()
}
