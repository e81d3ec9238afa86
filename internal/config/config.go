// Package config builds the process-wide, immutable configuration value
// from environment variables (SPEC_FULL.md §10.3). No global singleton:
// Load returns a value threaded explicitly through every constructor
// (spec §9 "No global singletons"), grounded on the teacher's
// envutil-style GetEnv helpers in internal/app/config.go.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fenwick-labs/etlq/internal/platform/envutil"
	"github.com/fenwick-labs/etlq/internal/platform/logger"
)

type Config struct {
	DatabaseURL string

	PollInterval      time.Duration
	MaxConcurrentJobs int
	HeartbeatInterval time.Duration
	LeaseDuration     time.Duration
	ZombieGrace       time.Duration
	ShutdownTimeout   time.Duration

	RetryBackoffBase time.Duration
	RetryBackoffCap  time.Duration

	EmbeddingsProvider    string
	VectorStoreURL        string
	VectorStoreCollection string

	LogMode string
}

// Load reads the process environment once and returns an immutable Config,
// falling back to spec §4.4's defaults on a missing or malformed value
// rather than panicking.
func Load(log *logger.Logger) (Config, error) {
	dbURL := envutil.String("DATABASE_URL", "")
	if strings.TrimSpace(dbURL) == "" {
		return Config{}, fmt.Errorf("config: DATABASE_URL is required")
	}

	cfg := Config{
		DatabaseURL: dbURL,

		PollInterval:      envutil.Duration("JOB_POLL_INTERVAL", 5, log),
		MaxConcurrentJobs: envutil.Int("MAX_CONCURRENT_JOBS", 5, log),
		HeartbeatInterval: envutil.Duration("HEARTBEAT_INTERVAL", 30, log),
		LeaseDuration:     envutil.Duration("LEASE_DURATION", 300, log),
		ZombieGrace:       envutil.Duration("ZOMBIE_GRACE", 60, log),
		ShutdownTimeout:   envutil.Duration("SHUTDOWN_TIMEOUT", 30, log),

		RetryBackoffBase: envutil.Duration("RETRY_BACKOFF_BASE", 1, log),
		RetryBackoffCap:  envutil.Duration("RETRY_BACKOFF_CAP", 30, log),

		EmbeddingsProvider:    envutil.String("EMBEDDINGS_PROVIDER", "openai"),
		VectorStoreURL:        envutil.String("VECTOR_STORE_URL", "http://localhost:6333"),
		VectorStoreCollection: envutil.String("VECTOR_STORE_COLLECTION", "documents"),

		LogMode: envutil.String("LOG_MODE", "development"),
	}
	return cfg, nil
}
