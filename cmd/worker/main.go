// Command worker is the queue's process entrypoint (spec §4.4). It exposes
// no network surface: its only inputs are the database and process
// termination signals, which trigger graceful shutdown. Wiring is grounded
// on the teacher's cmd/main.go + internal/app.New()'s construct-then-start
// shape, generalized from an HTTP+worker hybrid process down to a
// worker-only one, with the signal-driven shutdown spec §4.4 explicitly
// requires that the teacher's own main.go (select{} forever) does not do.
package main

import (
	"context"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/fenwick-labs/etlq/internal/admin"
	"github.com/fenwick-labs/etlq/internal/config"
	"github.com/fenwick-labs/etlq/internal/manager"
	"github.com/fenwick-labs/etlq/internal/pipeline"
	"github.com/fenwick-labs/etlq/internal/platform/logger"
	"github.com/fenwick-labs/etlq/internal/platform/metrics"
	"github.com/fenwick-labs/etlq/internal/stages"
	"github.com/fenwick-labs/etlq/internal/stages/providers/openaiembed"
	"github.com/fenwick-labs/etlq/internal/stages/providers/qdrantstore"
	"github.com/fenwick-labs/etlq/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	bootLog, err := logger.New(os.Getenv("LOG_MODE"))
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer bootLog.Sync()

	cfg, err := config.Load(bootLog)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gormLog := gormLogger.New(
		newStdLogger(),
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{Logger: gormLog})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("unwrap sql.DB: %w", err)
	}
	if err := store.Migrate(sqlDB); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	jobStore := store.New(db, bootLog)
	reg := metrics.New(prometheus.NewRegistry())

	embedder, upserter, err := wireStages(bootLog, cfg)
	if err != nil {
		return fmt.Errorf("wire stages: %w", err)
	}

	driverCfg := pipeline.DefaultConfig()
	drv := pipeline.New(driverCfg, embedder, upserter, jobStore, bootLog)

	mgrCfg := manager.Config{
		PollInterval:      cfg.PollInterval,
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		HeartbeatInterval: cfg.HeartbeatInterval,
		LeaseDuration:     cfg.LeaseDuration,
		ZombieGrace:       cfg.ZombieGrace,
		ShutdownTimeout:   cfg.ShutdownTimeout,
		RetryBackoffBase:  cfg.RetryBackoffBase,
		RetryBackoffCap:   cfg.RetryBackoffCap,
	}
	mgr := manager.New(mgrCfg, jobStore, drv, bootLog, reg)

	// The admin surface has no network binding in this process (spec §4.4
	// "A worker exposes no network surface"); a REST façade in a separate
	// process would call Stats/Enqueue/Cancel against the same store this
	// worker uses. Here the worker itself calls Stats periodically so the
	// queue depth by status lands in the worker's own logs.
	adm := admin.New(jobStore, bootLog, reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go logStatsPeriodically(ctx, adm, bootLog, cfg.PollInterval*20)

	bootLog.Info("worker starting", "max_concurrent_jobs", cfg.MaxConcurrentJobs)
	return mgr.Run(ctx)
}

// logStatsPeriodically logs queue depth by status at a coarse cadence,
// exercising the Admin Surface's Stats call from within the worker process
// itself since this binary has no REST façade to call it from.
func logStatsPeriodically(ctx context.Context, adm admin.Surface, log *logger.Logger, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := adm.Stats(ctx)
			if err != nil {
				log.Warn("admin stats failed", "error", err)
				continue
			}
			log.Info("queue stats", "by_status", stats.ByStatus, "claims_total", stats.Claims, "running_now", stats.RunningNow)
		}
	}
}

func newStdLogger() *stdlog.Logger {
	return stdlog.New(os.Stdout, "\r\n", stdlog.LstdFlags)
}

func wireStages(log *logger.Logger, cfg config.Config) (stages.Embedder, stages.Upserter, error) {
	var embedder stages.Embedder
	switch cfg.EmbeddingsProvider {
	case "openai", "":
		c, err := openaiembed.New(log)
		if err != nil {
			return nil, nil, err
		}
		embedder = c
	default:
		return nil, nil, fmt.Errorf("unknown EMBEDDINGS_PROVIDER %q", cfg.EmbeddingsProvider)
	}

	upserter, err := qdrantstore.New(log, cfg.VectorStoreURL, cfg.VectorStoreCollection)
	if err != nil {
		return nil, nil, err
	}
	return embedder, upserter, nil
}
