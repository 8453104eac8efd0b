package roles

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatdesk/chatdesk/internal/permissions"
	"github.com/chatdesk/chatdesk/internal/shared"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockRepository struct {
	nextID   int64
	roles    map[int64]Role
	bindings map[int64]map[int64]int64
	members  map[int64][]Member
	perms    map[int64]permissions.Permission

	// error injection
	failAfterClear error
	addCalls       int
}

func newMockRepository() *mockRepository {
	m := &mockRepository{
		roles:    map[int64]Role{},
		bindings: map[int64]map[int64]int64{},
		members:  map[int64][]Member{},
		perms:    map[int64]permissions.Permission{},
	}
	for i, name := range []string{"templates.create", "templates.delete", "templates.view", "users.view"} {
		id := int64(i + 1)
		m.perms[id] = permissions.Permission{ID: id, Name: name, Category: "General"}
	}
	return m
}

func (m *mockRepository) snapshot() (map[int64]Role, map[int64]map[int64]int64, int64) {
	roles := make(map[int64]Role, len(m.roles))
	for k, v := range m.roles {
		roles[k] = v
	}
	bindings := make(map[int64]map[int64]int64, len(m.bindings))
	for k, v := range m.bindings {
		inner := make(map[int64]int64, len(v))
		for pk, pv := range v {
			inner[pk] = pv
		}
		bindings[k] = inner
	}
	return roles, bindings, m.nextID
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	roles, bindings, nextID := m.snapshot()
	if err := fn(ctx, &mockTx{m: m}); err != nil {
		m.roles, m.bindings, m.nextID = roles, bindings, nextID
		return err
	}
	return nil
}

func (m *mockRepository) Get(ctx context.Context, id int64) (Role, error) {
	role, ok := m.roles[id]
	if !ok {
		return Role{}, shared.ErrNotFound
	}
	return role, nil
}

func (m *mockRepository) GetByName(ctx context.Context, name string) (Role, error) {
	for _, role := range m.roles {
		if role.Name == name {
			return role, nil
		}
	}
	return Role{}, shared.ErrNotFound
}

func (m *mockRepository) ListWithPermissionCounts(ctx context.Context) ([]Summary, error) {
	out := []Summary{}
	for _, role := range m.roles {
		out = append(out, Summary{Role: role, PermissionCount: int64(len(m.bindings[role.ID]))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockRepository) ListPermissions(ctx context.Context, roleID int64) ([]permissions.Permission, error) {
	out := []permissions.Permission{}
	for id := range m.bindings[roleID] {
		out = append(out, m.perms[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockRepository) ListMembers(ctx context.Context, roleID int64) ([]Member, error) {
	out := append([]Member{}, m.members[roleID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}

func (m *mockRepository) Delete(ctx context.Context, id int64) error {
	if _, ok := m.roles[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.roles, id)
	delete(m.bindings, id)
	delete(m.members, id)
	return nil
}

type mockTx struct {
	m *mockRepository
}

func (t *mockTx) Get(ctx context.Context, id int64) (Role, error) { return t.m.Get(ctx, id) }

func (t *mockTx) Create(ctx context.Context, name, description string) (Role, error) {
	if _, err := t.m.GetByName(ctx, name); err == nil {
		return Role{}, shared.ErrConflict
	}
	t.m.nextID++
	now := time.Now()
	role := Role{ID: t.m.nextID, Name: name, Description: description, BuiltIn: shared.IsBuiltInRole(name), CreatedAt: now, UpdatedAt: now}
	t.m.roles[role.ID] = role
	return role, nil
}

func (t *mockTx) Update(ctx context.Context, role Role) (Role, error) {
	current, ok := t.m.roles[role.ID]
	if !ok {
		return Role{}, shared.ErrNotFound
	}
	current.Name = role.Name
	current.Description = role.Description
	current.BuiltIn = shared.IsBuiltInRole(role.Name)
	current.UpdatedAt = time.Now()
	t.m.roles[role.ID] = current
	return current, nil
}

func (t *mockTx) Upsert(ctx context.Context, name, description string) (Role, error) {
	if role, err := t.m.GetByName(ctx, name); err == nil {
		role.Description = description
		t.m.roles[role.ID] = role
		return role, nil
	}
	return t.Create(ctx, name, description)
}

func (t *mockTx) ClearPermissions(ctx context.Context, roleID int64) error {
	delete(t.m.bindings, roleID)
	return t.m.failAfterClear
}

func (t *mockTx) AddPermissions(ctx context.Context, roleID int64, ids []int64, grantedBy int64) error {
	t.m.addCalls++
	if t.m.bindings[roleID] == nil {
		t.m.bindings[roleID] = map[int64]int64{}
	}
	for _, id := range ids {
		if _, ok := t.m.bindings[roleID][id]; ok {
			continue
		}
		t.m.bindings[roleID][id] = grantedBy
	}
	return nil
}

func (t *mockTx) RemovePermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	if _, ok := t.m.bindings[roleID][permissionID]; !ok {
		return false, nil
	}
	delete(t.m.bindings[roleID], permissionID)
	return true, nil
}

func (t *mockTx) CountExistingPermissions(ctx context.Context, ids []int64) (int, error) {
	n := 0
	for _, id := range ids {
		if _, ok := t.m.perms[id]; ok {
			n++
		}
	}
	return n, nil
}

type spyInvalidator struct{ all int }

func (s *spyInvalidator) InvalidateAll(context.Context) error         { s.all++; return nil }
func (s *spyInvalidator) InvalidateUser(context.Context, int64) error { return nil }

func permissionNames(d Detail) []string {
	out := make([]string, 0, len(d.Permissions))
	for _, p := range d.Permissions {
		out = append(out, p.Name)
	}
	return out
}

func newSeededService(t *testing.T) (*Service, *mockRepository, map[string]Role) {
	t.Helper()
	repo := newMockRepository()
	svc := NewService(repo, nil, nil, nil)
	builtIn, err := svc.EnsureBuiltIn(context.Background())
	require.NoError(t, err)
	return svc, repo, builtIn
}

// ============================================================================
// TESTS
// ============================================================================

func TestCreateBindsInitialPermissions(t *testing.T) {
	svc, _, _ := newSeededService(t)

	role, err := svc.Create(context.Background(), CreateRequest{Name: "Editor", PermissionIDs: []int64{1, 1, 3}}, 1)
	require.NoError(t, err)
	assert.Equal(t, "editor", role.Name)
	assert.False(t, role.BuiltIn)
	assert.Equal(t, []string{"templates.create", "templates.view"}, permissionNames(role))
}

func TestCreateDuplicateNameIsConflict(t *testing.T) {
	svc, _, _ := newSeededService(t)
	_, err := svc.Create(context.Background(), CreateRequest{Name: "ADMIN"}, 1)
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestCreateWithUnknownPermissionRollsBack(t *testing.T) {
	svc, repo, _ := newSeededService(t)
	before := len(repo.roles)

	_, err := svc.Create(context.Background(), CreateRequest{Name: "ghost", PermissionIDs: []int64{1, 99}}, 1)
	assert.ErrorIs(t, err, shared.ErrValidation)
	assert.Len(t, repo.roles, before)
	_, err = svc.GetByName(context.Background(), "ghost")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestBuiltInRolesAreProtected(t *testing.T) {
	ctx := context.Background()
	svc, _, builtIn := newSeededService(t)

	for _, name := range shared.BuiltInRoles() {
		role := builtIn[name]

		err := svc.Delete(ctx, role.ID, 1)
		assert.ErrorIs(t, err, shared.ErrProtectedRole, name)
		assert.ErrorIs(t, err, shared.ErrInvariant, name)

		_, err = svc.Update(ctx, role.ID, UpdateRequest{Name: name + "-renamed"}, 1)
		assert.ErrorIs(t, err, shared.ErrInvariant, name)

		still, err := svc.Get(ctx, role.ID)
		require.NoError(t, err)
		assert.Equal(t, name, still.Name)

		// other mutations still succeed
		updated, err := svc.Update(ctx, role.ID, UpdateRequest{Name: name, Description: "changed"}, 1)
		require.NoError(t, err)
		assert.Equal(t, "changed", updated.Description)
		require.NoError(t, svc.AssignPermissions(ctx, role.ID, []int64{3}, 1))
	}
}

func TestDeleteCustomRole(t *testing.T) {
	ctx := context.Background()
	spy := &spyInvalidator{}
	repo := newMockRepository()
	svc := NewService(repo, spy, nil, nil)

	role, err := svc.Create(ctx, CreateRequest{Name: "temp"}, 1)
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, role.ID, 1))
	assert.Equal(t, 1, spy.all)

	_, err = svc.Get(ctx, role.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, role.ID, 1), shared.ErrNotFound)
}

func TestUpdateNameCollision(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newSeededService(t)
	a, err := svc.Create(ctx, CreateRequest{Name: "alpha"}, 1)
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateRequest{Name: "beta"}, 1)
	require.NoError(t, err)

	_, err = svc.Update(ctx, a.ID, UpdateRequest{Name: "beta"}, 1)
	assert.ErrorIs(t, err, shared.ErrConflict)

	_, err = svc.Update(ctx, 999, UpdateRequest{Name: "gamma"}, 1)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestReplacePermissionsEmptyThenTwo(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newSeededService(t)
	role, err := svc.Create(ctx, CreateRequest{Name: "editor", PermissionIDs: []int64{1, 2, 3}}, 1)
	require.NoError(t, err)

	empty := []int64{}
	updated, err := svc.Update(ctx, role.ID, UpdateRequest{Name: "editor", PermissionIDs: &empty}, 1)
	require.NoError(t, err)
	assert.Empty(t, updated.Permissions)

	two := []int64{2, 4}
	updated, err = svc.Update(ctx, role.ID, UpdateRequest{Name: "editor", PermissionIDs: &two}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"templates.delete", "users.view"}, permissionNames(updated))
}

func TestUpdateWithoutPermissionIDsKeepsSet(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newSeededService(t)
	role, err := svc.Create(ctx, CreateRequest{Name: "editor", PermissionIDs: []int64{1}}, 1)
	require.NoError(t, err)

	updated, err := svc.Update(ctx, role.ID, UpdateRequest{Name: "writer"}, 1)
	require.NoError(t, err)
	assert.Equal(t, "writer", updated.Name)
	assert.Equal(t, []string{"templates.create"}, permissionNames(updated))
}

func TestReplaceIsAtomicOnFailure(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newSeededService(t)
	role, err := svc.Create(ctx, CreateRequest{Name: "editor", PermissionIDs: []int64{1, 3}}, 1)
	require.NoError(t, err)

	repo.failAfterClear = errors.New("connection reset")
	next := []int64{2, 4}
	_, err = svc.Update(ctx, role.ID, UpdateRequest{Name: "editor-2", PermissionIDs: &next}, 1)
	require.Error(t, err)

	repo.failAfterClear = nil
	after, err := svc.GetWithPermissions(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, "editor", after.Name)
	assert.Equal(t, []string{"templates.create", "templates.view"}, permissionNames(after))
}

func TestAssignPermissionsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newSeededService(t)
	role, err := svc.Create(ctx, CreateRequest{Name: "editor"}, 1)
	require.NoError(t, err)

	require.NoError(t, svc.AssignPermissions(ctx, role.ID, []int64{1}, 7))
	require.NoError(t, svc.AssignPermissions(ctx, role.ID, []int64{1}, 8))

	assert.Len(t, repo.bindings[role.ID], 1)
	assert.Equal(t, int64(7), repo.bindings[role.ID][1], "first grant is kept")

	assert.ErrorIs(t, svc.AssignPermissions(ctx, 999, []int64{1}, 1), shared.ErrNotFound)
	assert.ErrorIs(t, svc.AssignPermissions(ctx, role.ID, nil, 1), shared.ErrValidation)
}

func TestRemovePermission(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newSeededService(t)
	role, err := svc.Create(ctx, CreateRequest{Name: "editor", PermissionIDs: []int64{1, 3}}, 1)
	require.NoError(t, err)

	require.NoError(t, svc.RemovePermission(ctx, role.ID, 1, 1))
	detail, err := svc.GetWithPermissions(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"templates.view"}, permissionNames(detail))

	assert.ErrorIs(t, svc.RemovePermission(ctx, role.ID, 1, 1), shared.ErrNotFound)
}

func TestListWithPermissionCountsAndMembers(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newSeededService(t)
	role, err := svc.Create(ctx, CreateRequest{Name: "editor", PermissionIDs: []int64{1, 2}}, 1)
	require.NoError(t, err)
	repo.members[role.ID] = []Member{{ID: 3, FullName: "Zed"}, {ID: 2, FullName: "Alice"}}

	summaries, err := svc.ListWithPermissionCounts(ctx)
	require.NoError(t, err)
	counts := map[string]int64{}
	for _, s := range summaries {
		counts[s.Name] = s.PermissionCount
	}
	assert.Equal(t, int64(2), counts["editor"])
	assert.Equal(t, int64(0), counts["admin"])

	members, err := svc.UsersWithRole(ctx, role.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "Alice", members[0].FullName)

	_, err = svc.UsersWithRole(ctx, 999)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestEnsureBuiltInIsIdempotent(t *testing.T) {
	svc, repo, first := newSeededService(t)
	second, err := svc.EnsureBuiltIn(context.Background())
	require.NoError(t, err)
	assert.Len(t, repo.roles, 3)
	for name, role := range first {
		assert.Equal(t, role.ID, second[name].ID)
		assert.True(t, second[name].BuiltIn)
	}
}
