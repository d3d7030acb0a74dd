package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/HatmanStack/plot-palette-sub000/internal/blob"
	"github.com/HatmanStack/plot-palette-sub000/internal/breaker"
	"github.com/HatmanStack/plot-palette-sub000/internal/budget"
	"github.com/HatmanStack/plot-palette-sub000/internal/checkpoint"
	"github.com/HatmanStack/plot-palette-sub000/internal/collab"
	"github.com/HatmanStack/plot-palette-sub000/internal/config"
	"github.com/HatmanStack/plot-palette-sub000/internal/db"
	"github.com/HatmanStack/plot-palette-sub000/internal/docstore"
	"github.com/HatmanStack/plot-palette-sub000/internal/migrate"
	"github.com/HatmanStack/plot-palette-sub000/internal/pipeline"
	"github.com/HatmanStack/plot-palette-sub000/internal/queue"
	"github.com/HatmanStack/plot-palette-sub000/internal/retry"
	"github.com/HatmanStack/plot-palette-sub000/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config failed", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("connecting to database")
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect to database failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := migrate.Run(ctx, pool); err != nil {
		logger.Error("run migrations failed", "err", err)
		os.Exit(1)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("parse redis URL failed", "err", err)
		os.Exit(1)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()
	if err := rc.Ping(ctx).Err(); err != nil {
		logger.Error("redis ping failed", "err", err)
		os.Exit(1)
	}

	blobs, err := blob.NewMinIO(ctx, blob.MinIOConfig{
		Endpoint:  cfg.BlobEndpoint,
		AccessKey: cfg.BlobAccessKey,
		SecretKey: cfg.BlobSecretKey,
		Bucket:    cfg.BlobBucket,
		UseSSL:    cfg.BlobUseSSL,
	})
	if err != nil {
		logger.Error("connect to blob store failed", "err", err)
		os.Exit(1)
	}

	models := pipeline.DefaultModelTable()
	if cfg.ModelTablePath != "" {
		if models, err = pipeline.LoadModelTable(cfg.ModelTablePath); err != nil {
			logger.Error("load model table failed", "err", err)
			os.Exit(1)
		}
	}
	prices, err := budget.LoadPriceTable(cfg.PriceTablePath)
	if err != nil {
		logger.Error("load price table failed", "err", err)
		os.Exit(1)
	}

	docs := docstore.NewPostgres(pool)
	q := queue.New(docs, logger)
	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		RecoveryTimeout:  cfg.BreakerRecoveryTimeout,
	})
	engine := pipeline.NewEngine(
		pipeline.NewHTTPClient(cfg.InferenceBaseURL, cfg.InferenceAPIKey, models),
		breakers,
		retry.Policy{
			MaxRetries: cfg.RetryMaxRetries,
			BaseDelay:  cfg.RetryBaseDelay,
			MaxDelay:   cfg.RetryMaxDelay,
		},
		models,
		logger)

	hostname, _ := os.Hostname()
	w := worker.New(worker.Options{
		ID:           uuid.New(),
		Hostname:     hostname,
		Queue:        q,
		Docs:         docs,
		Blobs:        blobs,
		Checkpoints:  checkpoint.NewStore(docs, blobs, logger),
		Templates:    collab.NewTemplates(docs),
		Seeds:        collab.NewSeeds(blobs),
		Exporter:     collab.NewExporter(blobs),
		Engine:       engine,
		Prices:       prices,
		Cache:        rc,
		Logger:       logger,
		PollInterval: cfg.PollInterval,
		FlushEvery:   cfg.FlushEvery,
	})

	if err := w.Register(ctx); err != nil {
		logger.Error("register worker failed", "err", err)
		os.Exit(1)
	}
	go w.RunHeartbeat(ctx)
	go w.Start(ctx)

	logger.Info("worker ready", "hostname", hostname)

	// SIGTERM is the platform's preemption notice. The first signal flips the
	// cooperative flag; the loop finishes its current record, flushes, and
	// exits leaving the job RUNNING for a successor. A force-exit timer is
	// armed only once the flag is set, so a wedged flush cannot outlive the
	// grace window.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("shutdown signal received", "signal", sig.String())

	deadline := cfg.PreemptionGrace - cfg.SafetyMargin
	forceExit := time.AfterFunc(deadline, func() {
		logger.Error("graceful shutdown deadline exceeded; terminating")
		os.Exit(1)
	})
	defer forceExit.Stop()

	w.Preempt()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), deadline)
	defer drainCancel()
	if err := w.DrainAndWait(drainCtx); err != nil {
		logger.Warn("shutdown drain timeout", "err", err)
	}
	cancel()
	logger.Info("shutdown complete")
}
