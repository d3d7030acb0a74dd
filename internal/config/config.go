// Package config handles environment variable loading for connection
// strings, worker tuning, and the preemption grace window.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for a worker process.
type Config struct {
	DatabaseURL string
	RedisURL    string

	// Blob storage (MinIO / S3-compatible).
	BlobEndpoint  string
	BlobAccessKey string
	BlobSecretKey string
	BlobBucket    string
	BlobUseSSL    bool

	// Hosted inference service.
	InferenceBaseURL string
	InferenceAPIKey  string

	// Optional YAML overrides for the built-in tables.
	PriceTablePath string
	ModelTablePath string

	// Checkpoint interval, in records.
	FlushEvery int

	// Idle sleep between claim attempts.
	PollInterval time.Duration

	// PreemptionGrace is the platform's notice-to-kill window. The force-exit
	// timer fires at PreemptionGrace minus SafetyMargin.
	PreemptionGrace time.Duration
	SafetyMargin    time.Duration

	BreakerFailureThreshold int
	BreakerRecoveryTimeout  time.Duration

	RetryMaxRetries int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         envOr("REDIS_URL", "redis://localhost:6379"),
		BlobEndpoint:     envOr("BLOB_ENDPOINT", "localhost:9000"),
		BlobAccessKey:    envOr("BLOB_ACCESS_KEY", "minioadmin"),
		BlobSecretKey:    envOr("BLOB_SECRET_KEY", "minioadmin"),
		BlobBucket:       envOr("BLOB_BUCKET", "palette"),
		InferenceBaseURL: os.Getenv("INFERENCE_BASE_URL"),
		InferenceAPIKey:  os.Getenv("INFERENCE_API_KEY"),
		PriceTablePath:   os.Getenv("PRICE_TABLE_PATH"),
		ModelTablePath:   os.Getenv("MODEL_TABLE_PATH"),
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.InferenceBaseURL == "" {
		return nil, fmt.Errorf("INFERENCE_BASE_URL is required")
	}

	var err error
	if cfg.BlobUseSSL, err = envBool("BLOB_USE_SSL", false); err != nil {
		return nil, err
	}
	if cfg.FlushEvery, err = envInt("CHECKPOINT_INTERVAL_RECORDS", 10); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = envDuration("POLL_INTERVAL", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.PreemptionGrace, err = envDuration("PREEMPTION_GRACE", 120*time.Second); err != nil {
		return nil, err
	}
	if cfg.SafetyMargin, err = envDuration("SHUTDOWN_SAFETY_MARGIN", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.BreakerFailureThreshold, err = envInt("BREAKER_FAILURE_THRESHOLD", 5); err != nil {
		return nil, err
	}
	if cfg.BreakerRecoveryTimeout, err = envDuration("BREAKER_RECOVERY_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.RetryMaxRetries, err = envInt("RETRY_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.RetryBaseDelay, err = envDuration("RETRY_BASE_DELAY", time.Second); err != nil {
		return nil, err
	}
	if cfg.RetryMaxDelay, err = envDuration("RETRY_MAX_DELAY", 60*time.Second); err != nil {
		return nil, err
	}

	if cfg.SafetyMargin >= cfg.PreemptionGrace {
		return nil, fmt.Errorf("SHUTDOWN_SAFETY_MARGIN must be smaller than PREEMPTION_GRACE")
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
