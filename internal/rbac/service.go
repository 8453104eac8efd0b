package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/chatdesk/chatdesk/internal/shared"
)

// Service resolves principals from storage, optionally through the Redis cache.
type Service struct {
	repo    Repository
	cache   *Cache
	logger  *slog.Logger
	metrics Recorder
	group   singleflight.Group
}

// NewService constructs a Service. cache may be nil.
func NewService(repo Repository, cache *Cache, logger *slog.Logger, metrics Recorder) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Service{repo: repo, cache: cache, logger: logger, metrics: metrics}
}

// Resolve returns the principal for an active user. Missing or inactive users
// yield shared.ErrUnauthenticated; storage failures are returned as-is.
func (s *Service) Resolve(ctx context.Context, userID int64) (*shared.Principal, error) {
	access, err := s.Access(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !access.IsActive {
		return nil, fmt.Errorf("%w: account disabled", shared.ErrUnauthenticated)
	}
	return access.Principal(), nil
}

// Access returns the user's snapshot.
func (s *Service) Access(ctx context.Context, userID int64) (Access, error) {
	if userID <= 0 {
		return Access{}, shared.ErrUnauthenticated
	}

	key := ""
	if s.cache.Enabled() {
		k, err := s.cache.Key(ctx, userID)
		if err != nil {
			s.logger.Warn("rbac cache unavailable", slog.Int64("user_id", userID), slog.Any("error", err))
			s.metrics.ObserveCache("error")
		} else {
			key = k
		}
	}

	if key != "" {
		access, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			s.logger.Warn("rbac cache read", slog.Int64("user_id", userID), slog.Any("error", err))
			s.metrics.ObserveCache("error")
		case ok:
			s.metrics.ObserveCache("hit")
			return access, nil
		default:
			s.metrics.ObserveCache("miss")
		}
	}

	// Loads are shared only under a generation-stamped key, so a check that
	// starts after an invalidation never joins a load that started before it.
	if key == "" {
		return s.load(ctx, userID, key)
	}
	ch := s.group.DoChan(key, func() (any, error) {
		return s.load(context.WithoutCancel(ctx), userID, key)
	})
	select {
	case <-ctx.Done():
		return Access{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Access{}, res.Err
		}
		return res.Val.(Access), nil
	}
}

func (s *Service) load(ctx context.Context, userID int64, key string) (Access, error) {
	access, err := s.repo.LoadAccess(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Access{}, fmt.Errorf("%w: unknown user", shared.ErrUnauthenticated)
		}
		return Access{}, err
	}
	if err := s.cache.Set(ctx, key, access); err != nil {
		s.logger.Warn("rbac cache write", slog.Int64("user_id", userID), slog.Any("error", err))
		s.metrics.ObserveCache("error")
	}
	return access, nil
}

// EffectivePermissions returns the union of permissions across the user's roles.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	access, err := s.Access(ctx, userID)
	if err != nil {
		return nil, err
	}
	return access.Permissions, nil
}

// Warm preloads snapshots for active users and reports how many were cached.
func (s *Service) Warm(ctx context.Context, limit int) (int, error) {
	if !s.cache.Enabled() {
		return 0, nil
	}
	ids, err := s.repo.ListActiveUserIDs(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("rbac: list users: %w", err)
	}
	warmed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return warmed, err
		}
		if _, err := s.Access(ctx, id); err != nil {
			s.logger.Warn("rbac warm user", slog.Int64("user_id", id), slog.Any("error", err))
			continue
		}
		warmed++
	}
	return warmed, nil
}
