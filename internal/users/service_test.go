package users

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/chatdesk/chatdesk/internal/shared"
)

type binding struct {
	at time.Time
	by int64
}

type mockRepository struct {
	nextID   int64
	users    map[int64]User
	roles    map[int64]string
	bindings map[int64]map[int64]binding
	clock    time.Time

	failAssign error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		users:    map[int64]User{},
		roles:    map[int64]string{1: shared.RoleAdmin, 2: shared.RoleUser, 3: shared.RoleModerator, 4: "editor"},
		bindings: map[int64]map[int64]binding{},
		clock:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *mockRepository) tick() time.Time {
	m.clock = m.clock.Add(time.Minute)
	return m.clock
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	users := make(map[int64]User, len(m.users))
	for k, v := range m.users {
		users[k] = v
	}
	bindings := make(map[int64]map[int64]binding, len(m.bindings))
	for k, v := range m.bindings {
		inner := make(map[int64]binding, len(v))
		for rk, rv := range v {
			inner[rk] = rv
		}
		bindings[k] = inner
	}
	nextID := m.nextID
	if err := fn(ctx, &mockTx{m: m}); err != nil {
		m.users, m.bindings, m.nextID = users, bindings, nextID
		return err
	}
	return nil
}

func (m *mockRepository) List(ctx context.Context) ([]User, error) {
	out := []User{}
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockRepository) Get(ctx context.Context, id int64) (User, error) {
	u, ok := m.users[id]
	if !ok {
		return User{}, shared.ErrNotFound
	}
	return u, nil
}

func (m *mockRepository) GetByEmail(ctx context.Context, email string) (User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, shared.ErrNotFound
}

func (m *mockRepository) ListRoles(ctx context.Context, userID int64) ([]AssignedRole, error) {
	out := []AssignedRole{}
	for roleID, b := range m.bindings[userID] {
		ar := AssignedRole{RoleID: roleID, Name: m.roles[roleID], AssignedAt: b.at}
		if b.by > 0 {
			by := b.by
			ar.AssignedBy = &by
		}
		out = append(out, ar)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockRepository) Delete(ctx context.Context, id int64) error {
	if _, ok := m.users[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.users, id)
	delete(m.bindings, id)
	return nil
}

type mockTx struct {
	m *mockRepository
}

func (t *mockTx) Get(ctx context.Context, id int64) (User, error) { return t.m.Get(ctx, id) }

func (t *mockTx) Create(ctx context.Context, u User) (User, error) {
	if _, err := t.m.GetByEmail(ctx, u.Email); err == nil {
		return User{}, shared.ErrConflict
	}
	t.m.nextID++
	u.ID = t.m.nextID
	u.CreatedAt = t.m.tick()
	u.UpdatedAt = u.CreatedAt
	t.m.users[u.ID] = u
	return u, nil
}

func (t *mockTx) UpdateProfile(ctx context.Context, id int64, fullName, primaryRole string) (User, error) {
	u, ok := t.m.users[id]
	if !ok {
		return User{}, shared.ErrNotFound
	}
	u.FullName = fullName
	u.PrimaryRole = primaryRole
	t.m.users[id] = u
	return u, nil
}

func (t *mockTx) SetPassword(ctx context.Context, id int64, hash string) error {
	u, ok := t.m.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	u.PasswordHash = hash
	t.m.users[id] = u
	return nil
}

func (t *mockTx) SetActive(ctx context.Context, id int64, active bool) error {
	u, ok := t.m.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	u.IsActive = active
	t.m.users[id] = u
	return nil
}

func (t *mockTx) RoleIDByName(ctx context.Context, name string) (int64, error) {
	for id, n := range t.m.roles {
		if n == name {
			return id, nil
		}
	}
	return 0, shared.ErrNotFound
}

func (t *mockTx) CountRoles(ctx context.Context, ids []int64) (int, error) {
	n := 0
	for _, id := range ids {
		if _, ok := t.m.roles[id]; ok {
			n++
		}
	}
	return n, nil
}

func (t *mockTx) AssignRole(ctx context.Context, userID, roleID, assignedBy int64) error {
	if t.m.failAssign != nil {
		return t.m.failAssign
	}
	if t.m.bindings[userID] == nil {
		t.m.bindings[userID] = map[int64]binding{}
	}
	t.m.bindings[userID][roleID] = binding{at: t.m.tick(), by: assignedBy}
	return nil
}

func (t *mockTx) UnassignRole(ctx context.Context, userID, roleID int64) (bool, error) {
	if _, ok := t.m.bindings[userID][roleID]; !ok {
		return false, nil
	}
	delete(t.m.bindings[userID], roleID)
	return true, nil
}

func (t *mockTx) ClearRoles(ctx context.Context, userID int64) error {
	delete(t.m.bindings, userID)
	return nil
}

type spyInvalidator struct{ users []int64 }

func (s *spyInvalidator) InvalidateAll(context.Context) error { return nil }
func (s *spyInvalidator) InvalidateUser(_ context.Context, id int64) error {
	s.users = append(s.users, id)
	return nil
}

func newTestService() (*Service, *mockRepository, *spyInvalidator) {
	repo := newMockRepository()
	spy := &spyInvalidator{}
	svc := NewService(repo, spy, nil, nil)
	svc.hashCost = bcrypt.MinCost
	return svc, repo, spy
}

func roleNames(roles []AssignedRole) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, r.Name)
	}
	return out
}

func TestCreateAssignsPrimaryRoleByDefault(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	u, err := svc.Create(ctx, CreateRequest{Email: " Alice@Example.com ", FullName: "Alice", Password: "s3cretpass"}, 1)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, shared.RoleUser, u.PrimaryRole)
	assert.True(t, u.IsActive)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("s3cretpass")))

	roles, err := svc.ListRoles(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{shared.RoleUser}, roleNames(roles))
}

func TestCreateWithExplicitRoles(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	u, err := svc.Create(ctx, CreateRequest{Email: "bob@example.com", FullName: "Bob", Password: "s3cretpass", RoleIDs: []int64{4, 3}}, 1)
	require.NoError(t, err)
	roles, err := svc.ListRoles(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"editor", shared.RoleModerator}, roleNames(roles))
}

func TestCreateRollsBackWhenRoleAssignmentFails(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService()
	repo.failAssign = errors.New("deadlock detected")

	_, err := svc.Create(ctx, CreateRequest{Email: "carol@example.com", FullName: "Carol", Password: "s3cretpass"}, 1)
	require.Error(t, err)
	assert.Empty(t, repo.users)

	_, err = svc.Create(ctx, CreateRequest{Email: "carol@example.com", FullName: "Carol", Password: "s3cretpass", RoleIDs: []int64{42}}, 1)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.Empty(t, repo.users)
}

func TestCreateDuplicateEmailIsConflict(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()
	_, err := svc.Create(ctx, CreateRequest{Email: "dup@example.com", FullName: "A", Password: "s3cretpass"}, 1)
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateRequest{Email: "DUP@example.com", FullName: "B", Password: "s3cretpass"}, 1)
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestCreateRejectsShortPassword(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.Create(context.Background(), CreateRequest{Email: "e@example.com", FullName: "E", Password: "short"}, 1)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestAssignRoleIsIdempotentAndRefreshesTimestamp(t *testing.T) {
	ctx := context.Background()
	svc, repo, spy := newTestService()
	u, err := svc.Create(ctx, CreateRequest{Email: "a@example.com", FullName: "A", Password: "s3cretpass"}, 1)
	require.NoError(t, err)

	require.NoError(t, svc.AssignRole(ctx, u.ID, 4, 1))
	first := repo.bindings[u.ID][4].at
	require.NoError(t, svc.AssignRole(ctx, u.ID, 4, 9))

	assert.Len(t, repo.bindings[u.ID], 2)
	assert.True(t, repo.bindings[u.ID][4].at.After(first))
	assert.Equal(t, int64(9), repo.bindings[u.ID][4].by)
	assert.Equal(t, []int64{u.ID, u.ID}, spy.users)

	assert.ErrorIs(t, svc.AssignRole(ctx, 999, 4, 1), shared.ErrNotFound)
	assert.ErrorIs(t, svc.AssignRole(ctx, u.ID, 999, 1), shared.ErrNotFound)
}

func TestAssignThenUnassignRestoresRoles(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()
	u, err := svc.Create(ctx, CreateRequest{Email: "a@example.com", FullName: "A", Password: "s3cretpass"}, 1)
	require.NoError(t, err)

	before, err := svc.ListRoles(ctx, u.ID)
	require.NoError(t, err)
	require.NoError(t, svc.AssignRole(ctx, u.ID, 4, 1))
	require.NoError(t, svc.UnassignRole(ctx, u.ID, 4, 1))
	after, err := svc.ListRoles(ctx, u.ID)
	require.NoError(t, err)

	assert.Equal(t, roleNames(before), roleNames(after))
	assert.ErrorIs(t, svc.UnassignRole(ctx, u.ID, 4, 1), shared.ErrNotFound)
}

func TestReplaceRoles(t *testing.T) {
	ctx := context.Background()
	svc, repo, spy := newTestService()
	u, err := svc.Create(ctx, CreateRequest{Email: "a@example.com", FullName: "A", Password: "s3cretpass", RoleIDs: []int64{2, 3}}, 1)
	require.NoError(t, err)

	roles, err := svc.ReplaceRoles(ctx, u.ID, []int64{4}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"editor"}, roleNames(roles))
	assert.Contains(t, spy.users, u.ID)

	roles, err = svc.ReplaceRoles(ctx, u.ID, nil, 1)
	require.NoError(t, err)
	assert.Empty(t, roles)

	_, err = svc.ReplaceRoles(ctx, u.ID, []int64{2}, 1)
	require.NoError(t, err)
	repo.failAssign = errors.New("boom")
	_, err = svc.ReplaceRoles(ctx, u.ID, []int64{3, 4}, 1)
	require.Error(t, err)
	repo.failAssign = nil

	roles, err = svc.ListRoles(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{shared.RoleUser}, roleNames(roles), "failed replace leaves prior set")
}

func TestUpdateAndDeactivate(t *testing.T) {
	ctx := context.Background()
	svc, _, spy := newTestService()
	u, err := svc.Create(ctx, CreateRequest{Email: "a@example.com", FullName: "A", Password: "s3cretpass"}, 1)
	require.NoError(t, err)

	inactive := false
	updated, err := svc.Update(ctx, u.ID, UpdateRequest{FullName: "Alice", PrimaryRole: "Moderator", IsActive: &inactive}, 99)
	require.NoError(t, err)
	assert.Equal(t, "Alice", updated.FullName)
	assert.Equal(t, shared.RoleModerator, updated.PrimaryRole)
	assert.False(t, updated.IsActive)
	assert.Contains(t, spy.users, u.ID)

	_, err = svc.Update(ctx, u.ID, UpdateRequest{FullName: "Alice", IsActive: &inactive}, u.ID)
	assert.ErrorIs(t, err, shared.ErrInvariant)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService()
	u, err := svc.Create(ctx, CreateRequest{Email: "a@example.com", FullName: "A", Password: "s3cretpass"}, 1)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(ctx, u.ID, u.ID), shared.ErrInvariant)
	require.NoError(t, svc.Delete(ctx, u.ID, 99))
	assert.Empty(t, repo.bindings[u.ID])
	assert.ErrorIs(t, svc.Delete(ctx, u.ID, 99), shared.ErrNotFound)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService()
	u, err := svc.Create(ctx, CreateRequest{Email: "a@example.com", FullName: "A", Password: "s3cretpass"}, 1)
	require.NoError(t, err)

	require.NoError(t, svc.ChangePassword(ctx, u.ID, "an0therpass", u.ID))
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.users[u.ID].PasswordHash), []byte("an0therpass")))
	assert.ErrorIs(t, svc.ChangePassword(ctx, 404, "an0therpass", 1), shared.ErrNotFound)
}
