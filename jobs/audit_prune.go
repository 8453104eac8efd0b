package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/chatdesk/chatdesk/internal/jobs"
)

// AuditPruner deletes audit rows older than a duration.
type AuditPruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// AuditPruneJob enforces the audit retention window.
type AuditPruneJob struct {
	Pruner    AuditPruner
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewAuditPruneJob wires dependencies for the prune handler.
func NewAuditPruneJob(pruner AuditPruner, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditPruneJob {
	return &AuditPruneJob{Pruner: pruner, Retention: retention, Logger: logger, Metrics: metrics}
}

// Handle processes audit prune tasks.
func (j *AuditPruneJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Pruner == nil {
		return errors.New("audit prune: handler not configured")
	}
	var payload AuditPrunePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	retention := j.Retention
	if payload.Retention > 0 {
		retention = payload.Retention
	}
	logger := loggerOrDefault(j.Logger).With(slog.String("task", TaskAuditPrune), slog.Duration("retention", retention))
	if retention <= 0 {
		logger.Info("audit retention disabled, skipping prune")
		return nil
	}

	tracker := j.Metrics.Track(TaskAuditPrune)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	deleted, err := j.Pruner.Prune(ctx, retention)
	if err != nil {
		logger.Error("prune audit logs", slog.Any("error", err))
		return err
	}
	j.Metrics.AddItems(TaskAuditPrune, int(deleted))
	logger.Info("audit logs pruned", slog.Int64("deleted", deleted))
	return nil
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
