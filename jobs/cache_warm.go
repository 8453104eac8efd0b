package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/goccy/go-json"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/chatdesk/chatdesk/internal/jobs"
)

// CacheWarmer resolves and caches access snapshots for active users.
type CacheWarmer interface {
	Warm(ctx context.Context, limit int) (int, error)
}

// CacheWarmJob prefills the permission cache, typically after a deploy or a
// Redis restart.
type CacheWarmJob struct {
	Warmer  CacheWarmer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCacheWarmJob wires dependencies for the warm-up handler.
func NewCacheWarmJob(warmer CacheWarmer, logger *slog.Logger, metrics *jobmetrics.Metrics) *CacheWarmJob {
	return &CacheWarmJob{Warmer: warmer, Logger: logger, Metrics: metrics}
}

// Handle processes cache warm-up tasks.
func (j *CacheWarmJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Warmer == nil {
		return errors.New("cache warm: handler not configured")
	}
	var payload CacheWarmPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.Metrics.Track(TaskRBACCacheWarm)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := loggerOrDefault(j.Logger).With(slog.String("task", TaskRBACCacheWarm), slog.Int("limit", payload.Limit))
	warmed, err := j.Warmer.Warm(ctx, payload.Limit)
	if err != nil {
		logger.Error("warm permission cache", slog.Int("warmed", warmed), slog.Any("error", err))
		return err
	}
	j.Metrics.AddItems(TaskRBACCacheWarm, warmed)
	logger.Info("permission cache warmed", slog.Int("users", warmed))
	return nil
}
