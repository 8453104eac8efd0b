// Command worker processes chatdesk background jobs: audit log retention and
// permission cache warm-up.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/chatdesk/chatdesk/internal/app"
	jobmetrics "github.com/chatdesk/chatdesk/internal/jobs"
	"github.com/chatdesk/chatdesk/internal/observability"
	"github.com/chatdesk/chatdesk/internal/platform/cache"
	"github.com/chatdesk/chatdesk/internal/platform/db"
	"github.com/chatdesk/chatdesk/internal/platform/supervise"
	"github.com/chatdesk/chatdesk/internal/rbac"
	"github.com/chatdesk/chatdesk/internal/shared"
	"github.com/chatdesk/chatdesk/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

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

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	rbacService := rbac.NewService(rbac.NewRepository(pool), rbac.NewCache(redisClient, cfg.AuthzCacheTTL), logger, metrics)
	pruneJob := jobs.NewAuditPruneJob(shared.NewAuditLogger(pool), cfg.AuditRetention, logger, jobMetrics)
	warmJob := jobs.NewCacheWarmJob(rbacService, logger, jobMetrics)

	pruneTask, err := jobs.NewAuditPruneTask(0)
	if err != nil {
		logger.Error("build prune task", slog.Any("error", err))
		os.Exit(1)
	}
	warmTask, err := jobs.NewCacheWarmTask(cfg.CacheWarmLimit)
	if err != nil {
		logger.Error("build warm task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerThreads,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAuditPrune, Handler: pruneJob.Handle},
			{Type: jobs.TaskRBACCacheWarm, Handler: warmJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.AuditPruneCron, Task: pruneTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.CacheWarmCron, Task: warmTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	sup := supervise.New("chatdesk-worker", logger, supervise.Config{ShutdownTimeout: cfg.ShutdownTimeout})
	sup.Add(worker)
	if cfg.WorkerMetrics != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		sup.Add(supervise.NewHTTPService(&http.Server{Addr: cfg.WorkerMetrics, Handler: mux}, cfg.ShutdownTimeout))
	}

	logger.Info("worker started", slog.Int("concurrency", cfg.WorkerThreads), slog.String("metrics_addr", cfg.WorkerMetrics))
	if err := sup.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
