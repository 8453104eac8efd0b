package rbac

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatdesk/chatdesk/internal/shared"
)

type stubRepository struct {
	mu    sync.Mutex
	users map[int64]Access
	loads atomic.Int64
	err   error
	gate  chan struct{}

	lastLimit int
}

func newStubRepository() *stubRepository {
	return &stubRepository{users: map[int64]Access{
		1: {UserID: 1, Email: "root@example.com", PrimaryRole: "admin", IsActive: true, Roles: []string{"admin"}},
		2: {UserID: 2, Email: "alice@example.com", PrimaryRole: "user", IsActive: true, Roles: []string{"editor"}, Permissions: []string{"templates.create"}},
		3: {UserID: 3, Email: "gone@example.com", PrimaryRole: "user", IsActive: false},
	}}
}

func (s *stubRepository) LoadAccess(ctx context.Context, userID int64) (Access, error) {
	s.mu.Lock()
	access, ok := s.users[userID]
	s.mu.Unlock()
	s.loads.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	if s.err != nil {
		return Access{}, s.err
	}
	if !ok {
		return Access{}, shared.ErrNotFound
	}
	return access, nil
}

func (s *stubRepository) ListActiveUserIDs(ctx context.Context, limit int) ([]int64, error) {
	s.lastLimit = limit
	ids := []int64{1, 2}
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *stubRepository) grant(userID int64, perm string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.users[userID]
	a.Permissions = append(append([]string{}, a.Permissions...), perm)
	s.users[userID] = a
}

func (s *stubRepository) revokeAll(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.users[userID]
	a.Permissions = nil
	s.users[userID] = a
}

func TestResolveWithoutCache(t *testing.T) {
	repo := newStubRepository()
	svc := NewService(repo, nil, nil, nil)

	p, err := svc.Resolve(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.UserID)
	assert.True(t, p.HasPermission("templates.create"))
	assert.Equal(t, Allow, Decide(p, "templates.create"))
	assert.Equal(t, Forbidden, Decide(p, "templates.delete"))
}

func TestResolveRejectsUnknownAndInactiveUsers(t *testing.T) {
	svc := NewService(newStubRepository(), nil, nil, nil)

	_, err := svc.Resolve(context.Background(), 99)
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)

	_, err = svc.Resolve(context.Background(), 3)
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)

	_, err = svc.Resolve(context.Background(), 0)
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestResolveStorageFailureIsNotADenial(t *testing.T) {
	repo := newStubRepository()
	repo.err = errors.New("connection refused")
	svc := NewService(repo, nil, nil, nil)

	_, err := svc.Resolve(context.Background(), 2)
	require.Error(t, err)
	assert.NotErrorIs(t, err, shared.ErrUnauthenticated)
	assert.NotErrorIs(t, err, shared.ErrForbidden)
}

func TestResolveUsesCacheUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	repo := newStubRepository()
	cache, _ := newTestCache(t, time.Minute)
	svc := NewService(repo, cache, nil, nil)

	_, err := svc.Resolve(ctx, 2)
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), repo.loads.Load())

	repo.grant(2, "templates.delete")
	p, err := svc.Resolve(ctx, 2)
	require.NoError(t, err)
	assert.False(t, p.HasPermission("templates.delete"), "served from cache")

	require.NoError(t, cache.InvalidateUser(ctx, 2))
	p, err = svc.Resolve(ctx, 2)
	require.NoError(t, err)
	assert.True(t, p.HasPermission("templates.delete"))
	assert.Equal(t, int64(2), repo.loads.Load())

	require.NoError(t, cache.InvalidateAll(ctx))
	_, err = svc.Resolve(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), repo.loads.Load())
}

func TestResolveFallsBackWhenRedisIsDown(t *testing.T) {
	repo := newStubRepository()
	cache, mr := newTestCache(t, time.Minute)
	svc := NewService(repo, cache, nil, nil)
	mr.Close()

	p, err := svc.Resolve(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.UserID)
}

func TestResolveCollapsesConcurrentLoads(t *testing.T) {
	repo := newStubRepository()
	repo.gate = make(chan struct{})
	cache, _ := newTestCache(t, time.Minute)
	svc := NewService(repo, cache, nil, nil)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Resolve(context.Background(), 2)
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return repo.loads.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(repo.gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Less(t, repo.loads.Load(), int64(callers))
}

func TestResolveAfterRevocationNeverSharesEarlierLoad(t *testing.T) {
	cases := []struct {
		name    string
		redisUp bool
		cache   func(t *testing.T) *Cache
	}{
		{"no cache", false, func(*testing.T) *Cache { return nil }},
		{"redis cache", true, func(t *testing.T) *Cache {
			c, _ := newTestCache(t, time.Minute)
			return c
		}},
		{"redis down", false, func(t *testing.T) *Cache {
			c, mr := newTestCache(t, time.Minute)
			mr.Close()
			return c
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			repo := newStubRepository()
			repo.gate = make(chan struct{})
			cache := tc.cache(t)
			svc := NewService(repo, cache, nil, nil)

			before := make(chan *shared.Principal, 1)
			go func() {
				p, _ := svc.Resolve(ctx, 2)
				before <- p
			}()
			require.Eventually(t, func() bool { return repo.loads.Load() == 1 }, 5*time.Second, time.Millisecond)

			repo.revokeAll(2)
			if tc.redisUp {
				require.NoError(t, cache.InvalidateUser(ctx, 2))
			}

			after := make(chan *shared.Principal, 1)
			go func() {
				p, _ := svc.Resolve(ctx, 2)
				after <- p
			}()
			require.Eventually(t, func() bool { return repo.loads.Load() == 2 }, 5*time.Second, time.Millisecond,
				"a check started after the revocation must load fresh state")
			close(repo.gate)

			stale := <-before
			require.NotNil(t, stale)
			assert.True(t, stale.HasPermission("templates.create"))
			fresh := <-after
			require.NotNil(t, fresh)
			assert.False(t, fresh.HasPermission("templates.create"))
		})
	}
}

func TestWarmPopulatesCache(t *testing.T) {
	ctx := context.Background()
	repo := newStubRepository()
	cache, _ := newTestCache(t, time.Minute)
	svc := NewService(repo, cache, nil, nil)

	n, err := svc.Warm(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = svc.Resolve(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), repo.loads.Load())
}

func TestWarmPassesLimitToStorage(t *testing.T) {
	repo := newStubRepository()
	cache, _ := newTestCache(t, time.Minute)
	svc := NewService(repo, cache, nil, nil)

	n, err := svc.Warm(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, repo.lastLimit)
	assert.Equal(t, int64(1), repo.loads.Load())
}

func TestWarmWithoutCacheIsNoop(t *testing.T) {
	svc := NewService(newStubRepository(), nil, nil, nil)
	n, err := svc.Warm(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}
