package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
)

const (
	cacheVersionKey  = "rbac:version"
	userGenKeyPrefix = "rbac:gen:"
	accessKeyPrefix  = "rbac:access"

	breakerTripAfter = 5
	breakerCooldown  = 30 * time.Second
)

// Invalidator drops cached access snapshots after role or permission mutations.
type Invalidator interface {
	InvalidateUser(ctx context.Context, userID int64) error
	InvalidateAll(ctx context.Context) error
}

// Cache stores access snapshots in Redis under versioned keys.
//
// Keys embed a global version and a per-user generation. Both counters only
// grow, so a snapshot loaded while an invalidation was in flight lands under a
// key that is never read again.
//
// Reads and writes pass through a circuit breaker: after repeated Redis
// failures lookups fail fast with gobreaker.ErrOpenState and callers go
// straight to Postgres until the cooldown elapses. Invalidations bypass the
// breaker.
type Cache struct {
	client  *redis.Client
	ttl     time.Duration
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewCache instantiates the cache helper. A zero TTL disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "rbac-cache",
		Timeout: breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripAfter
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Default().Warn("rbac cache breaker",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return &Cache{client: client, ttl: ttl, breaker: breaker}
}

// BreakerState reports the circuit breaker state (closed, half-open, open).
func (c *Cache) BreakerState() string {
	if c == nil || c.breaker == nil {
		return gobreaker.StateClosed.String()
	}
	return c.breaker.State().String()
}

func (c *Cache) guard(fn func() error) error {
	if c.breaker == nil {
		return fn()
	}
	_, err := c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Enabled reports whether reads and writes go to Redis.
func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil && c.ttl > 0
}

// Version returns the current global version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func (c *Cache) generation(ctx context.Context, userID int64) (int64, error) {
	gen, err := c.client.Get(ctx, userGenKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Key composes the snapshot key for the user at the current version and generation.
func (c *Cache) Key(ctx context.Context, userID int64) (string, error) {
	if !c.Enabled() {
		return "", nil
	}
	var ver, gen int64
	err := c.guard(func() error {
		var err error
		if ver, err = c.Version(ctx); err != nil {
			return fmt.Errorf("version: %w", err)
		}
		if gen, err = c.generation(ctx, userID); err != nil {
			return fmt.Errorf("generation: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("rbac cache: %w", err)
	}
	return fmt.Sprintf("%s:%d:%d:%d", accessKeyPrefix, ver, userID, gen), nil
}

// Get loads a snapshot. The boolean is false on a miss.
func (c *Cache) Get(ctx context.Context, key string) (Access, bool, error) {
	if !c.Enabled() || key == "" {
		return Access{}, false, nil
	}
	var payload []byte
	err := c.guard(func() error {
		var err error
		payload, err = c.client.Get(ctx, key).Bytes()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return Access{}, false, nil
	}
	if err != nil {
		return Access{}, false, err
	}
	var access Access
	if err := json.Unmarshal(payload, &access); err != nil {
		return Access{}, false, fmt.Errorf("rbac cache: decode: %w", err)
	}
	return access, true, nil
}

// Set stores a snapshot for the configured TTL.
func (c *Cache) Set(ctx context.Context, key string, access Access) error {
	if !c.Enabled() || key == "" {
		return nil
	}
	raw, err := json.Marshal(access)
	if err != nil {
		return err
	}
	return c.guard(func() error {
		return c.client.Set(ctx, key, raw, c.ttl).Err()
	})
}

// InvalidateUser bumps the user's generation.
func (c *Cache) InvalidateUser(ctx context.Context, userID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, userGenKey(userID)).Err()
}

// InvalidateAll bumps the global version.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	if _, err := c.Version(ctx); err != nil {
		return err
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

func userGenKey(userID int64) string {
	return userGenKeyPrefix + strconv.FormatInt(userID, 10)
}

var _ Invalidator = (*Cache)(nil)
