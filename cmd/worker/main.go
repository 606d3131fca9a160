package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/keystone-pm/keystone/internal/app"
	"github.com/keystone-pm/keystone/internal/audit"
	"github.com/keystone-pm/keystone/internal/authz"
	jobmetrics "github.com/keystone-pm/keystone/internal/jobs"
	"github.com/keystone-pm/keystone/internal/platform/cache"
	"github.com/keystone-pm/keystone/internal/platform/db"
	"github.com/keystone-pm/keystone/internal/relationship"
	"github.com/keystone-pm/keystone/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)

	auditWriter := audit.NewWriter(pool)
	auditJob := jobs.NewAuditRecordJob(auditWriter, logger, metrics)

	decisions := authz.NewDecisionCache(newCacheBackend(cfg, logger, redisClient), cfg.CacheTTL)
	relationshipRepo := relationship.NewRepository(pool)
	sweepJob := jobs.NewAuthzSweepJob(relationshipRepo, decisions, logger, metrics)

	sweepTask, err := jobs.NewAuthzSweepTask(jobs.AuthzSweepPayload{})
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAuditRecord, Handler: auditJob.Handle},
			{Type: jobs.TaskAuthzSweep, Handler: sweepJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.SweepCron, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

// newCacheBackend picks the invalidation backend for the sweep job. The
// memory backend is process-local: bumps made here never reach the API
// servers, leaving the TTL as the only staleness bound.
func newCacheBackend(cfg *app.Config, logger *slog.Logger, redisClient *redis.Client) authz.CacheBackend {
	if cfg.CacheBackend == "memory" {
		logger.Warn("memory cache backend is process-local, sweep invalidations will not reach the API cache")
		return authz.NewMemoryBackend()
	}
	return authz.NewRedisBackend(redisClient)
}
