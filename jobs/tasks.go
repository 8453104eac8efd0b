package jobs

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuditPrune deletes audit entries older than the retention window.
	TaskAuditPrune = "audit:prune"
	// TaskRBACCacheWarm prefills the permission cache for active users.
	TaskRBACCacheWarm = "rbac:cache_warm"
)

// AuditPrunePayload overrides the configured retention when Retention > 0.
type AuditPrunePayload struct {
	Retention time.Duration `json:"retention,omitempty"`
}

// NewAuditPruneTask constructs an audit prune task.
func NewAuditPruneTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(AuditPrunePayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditPrune, body, asynq.Queue(QueueDefault)), nil
}

// CacheWarmPayload bounds how many users are warmed; zero means all.
type CacheWarmPayload struct {
	Limit int `json:"limit,omitempty"`
}

// NewCacheWarmTask constructs a cache warm-up task.
func NewCacheWarmTask(limit int) (*asynq.Task, error) {
	body, err := json.Marshal(CacheWarmPayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRBACCacheWarm, body, asynq.Queue(QueueDefault)), nil
}
