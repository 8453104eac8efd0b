package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/chatdesk/chatdesk/internal/access"
	"github.com/chatdesk/chatdesk/internal/app"
	"github.com/chatdesk/chatdesk/internal/auth"
	"github.com/chatdesk/chatdesk/internal/content"
	"github.com/chatdesk/chatdesk/internal/observability"
	"github.com/chatdesk/chatdesk/internal/permissions"
	"github.com/chatdesk/chatdesk/internal/platform/cache"
	"github.com/chatdesk/chatdesk/internal/platform/db"
	"github.com/chatdesk/chatdesk/internal/rbac"
	"github.com/chatdesk/chatdesk/internal/roles"
	"github.com/chatdesk/chatdesk/internal/shared"
	"github.com/chatdesk/chatdesk/internal/users"
)

// services holds the wired domain layer shared by the server and the CLI commands.
type services struct {
	pool    *pgxpool.Pool
	redis   *redis.Client
	metrics *observability.Metrics
	audit   *shared.AuditLogger

	rbac        *rbac.Service
	rbacCache   *rbac.Cache
	permissions *permissions.Service
	roles       *roles.Service
	users       *users.Service
	auth        *auth.Service
	access      *access.Service
	content     *content.Service
}

func connect(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*services, error) {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return nil, err
	}
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		pool.Close()
		return nil, err
	}

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	rbacCache := rbac.NewCache(redisClient, cfg.AuthzCacheTTL)
	rbacService := rbac.NewService(rbac.NewRepository(pool), rbacCache, logger, metrics)

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	if err != nil {
		_ = redisClient.Close()
		pool.Close()
		return nil, fmt.Errorf("token service: %w", err)
	}
	accessService := access.NewService(access.NewRepository(pool), auditLogger, logger, metrics)

	return &services{
		pool:        pool,
		redis:       redisClient,
		metrics:     metrics,
		audit:       auditLogger,
		rbac:        rbacService,
		rbacCache:   rbacCache,
		permissions: permissions.NewService(permissions.NewRepository(pool), rbacCache, auditLogger, logger),
		roles:       roles.NewService(roles.NewRepository(pool), rbacCache, auditLogger, logger),
		users:       users.NewService(users.NewRepository(pool), rbacCache, auditLogger, logger),
		auth:        auth.NewService(auth.NewRepository(pool), tokens, auth.NewRevoker(redisClient), rbacService, logger),
		access:      accessService,
		content:     content.NewService(content.NewRepository(pool), accessService, auditLogger, logger),
	}, nil
}

func (s *services) Close(logger *slog.Logger) {
	if err := s.redis.Close(); err != nil {
		logger.Warn("redis close", slog.Any("error", err))
	}
	s.pool.Close()
}

func (s *services) healthChecks() map[string]app.HealthCheck {
	return map[string]app.HealthCheck{
		"postgres": s.pool.Ping,
		"redis": func(ctx context.Context) error {
			return s.redis.Ping(ctx).Err()
		},
	}
}
