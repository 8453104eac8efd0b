package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatdesk/chatdesk/internal/permissions"
	"github.com/chatdesk/chatdesk/internal/roles"
	"github.com/chatdesk/chatdesk/internal/shared"
	"github.com/chatdesk/chatdesk/internal/users"
	"github.com/chatdesk/chatdesk/jobs"
)

type stubPermissions struct{}

func (stubPermissions) Ensure(_ context.Context, entries []shared.CatalogEntry) ([]permissions.Permission, error) {
	out := make([]permissions.Permission, 0, len(entries))
	for i, e := range entries {
		out = append(out, permissions.Permission{ID: int64(i + 1), Name: e.Name, Category: e.Category})
	}
	return out, nil
}

type stubRoles struct {
	byName   map[string]roles.Role
	assigned map[int64][]int64
}

func newStubRoles() *stubRoles {
	r := &stubRoles{byName: map[string]roles.Role{}, assigned: map[int64][]int64{}}
	for i, name := range shared.BuiltInRoles() {
		r.byName[name] = roles.Role{ID: int64(i + 1), Name: name, BuiltIn: true}
	}
	return r
}

func (s *stubRoles) EnsureBuiltIn(context.Context) (map[string]roles.Role, error) {
	return s.byName, nil
}

func (s *stubRoles) AssignPermissions(_ context.Context, roleID int64, ids []int64, _ int64) error {
	s.assigned[roleID] = ids
	return nil
}

func (s *stubRoles) GetByName(_ context.Context, name string) (roles.Role, error) {
	r, ok := s.byName[name]
	if !ok {
		return roles.Role{}, shared.ErrNotFound
	}
	return r, nil
}

type stubAccounts struct {
	users    map[string]users.User
	created  []users.CreateRequest
	assigned [][2]int64
	removed  [][2]int64
}

func (s *stubAccounts) GetByEmail(_ context.Context, email string) (users.User, error) {
	u, ok := s.users[email]
	if !ok {
		return users.User{}, shared.ErrNotFound
	}
	return u, nil
}

func (s *stubAccounts) Create(_ context.Context, req users.CreateRequest, _ int64) (users.User, error) {
	s.created = append(s.created, req)
	u := users.User{ID: int64(len(s.created)), Email: req.Email, PrimaryRole: req.PrimaryRole}
	s.users[req.Email] = u
	return u, nil
}

func (s *stubAccounts) AssignRole(_ context.Context, userID, roleID int64, _ int64) error {
	s.assigned = append(s.assigned, [2]int64{userID, roleID})
	return nil
}

func (s *stubAccounts) UnassignRole(_ context.Context, userID, roleID int64, _ int64) error {
	s.removed = append(s.removed, [2]int64{userID, roleID})
	return nil
}

func TestSeedCommandJSON(t *testing.T) {
	roleSvc := newStubRoles()
	accounts := &stubAccounts{users: map[string]users.User{}}
	seeder := NewSeedCLI(stubPermissions{}, roleSvc, accounts)

	var stdout, stderr bytes.Buffer
	code := seeder.SeedCommand(context.Background(), SeedOptions{
		AdminEmail:    "root@example.com",
		AdminPassword: "change-me-now",
		JSONOutput:    true,
		Stdout:        &stdout,
		Stderr:        &stderr,
	})
	require.Equal(t, 0, code, stderr.String())

	var summary SeedSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	catalog := len(shared.CoreCatalog())
	assert.Equal(t, catalog, summary.Permissions)
	assert.Equal(t, []string{shared.RoleAdmin, shared.RoleModerator, shared.RoleUser}, summary.Roles)
	assert.Equal(t, catalog, summary.Grants[shared.RoleAdmin])
	assert.Equal(t, len(shared.DefaultRoleGrants()[shared.RoleUser]), summary.Grants[shared.RoleUser])
	assert.True(t, summary.AdminCreated)
	require.Len(t, accounts.created, 1)
	assert.Equal(t, shared.RoleAdmin, accounts.created[0].PrimaryRole)

	stdout.Reset()
	code = seeder.SeedCommand(context.Background(), SeedOptions{AdminEmail: "root@example.com", JSONOutput: true, Stdout: &stdout, Stderr: &stderr})
	require.Equal(t, 0, code)
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	assert.False(t, summary.AdminCreated)
	assert.Len(t, accounts.created, 1)
}

func TestGrantCommand(t *testing.T) {
	roleSvc := newStubRoles()
	accounts := &stubAccounts{users: map[string]users.User{"agent@example.com": {ID: 9, Email: "agent@example.com"}}}
	granter := NewGrantCLI(accounts, roleSvc)

	var stdout, stderr bytes.Buffer
	code := granter.GrantCommand(context.Background(), GrantOptions{Email: "agent@example.com", Role: shared.RoleModerator, Stdout: &stdout, Stderr: &stderr})
	require.Equal(t, 0, code, stderr.String())
	assert.Equal(t, [][2]int64{{9, roleSvc.byName[shared.RoleModerator].ID}}, accounts.assigned)

	code = granter.GrantCommand(context.Background(), GrantOptions{Email: "agent@example.com", Role: shared.RoleModerator, Revoke: true, Stdout: &stdout, Stderr: &stderr})
	require.Equal(t, 0, code)
	assert.Len(t, accounts.removed, 1)

	stderr.Reset()
	code = granter.GrantCommand(context.Background(), GrantOptions{Email: "agent@example.com", Role: "ghost", Stdout: &stdout, Stderr: &stderr})
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "role ghost")
}

type stubMigrator struct {
	ups   int
	downs []int
	err   error
}

func (m *stubMigrator) Up() error {
	m.ups++
	return m.err
}

func (m *stubMigrator) Down(steps int) error {
	m.downs = append(m.downs, steps)
	return m.err
}

func (m *stubMigrator) Version() (uint, bool, error) { return 3, false, m.err }

func TestMigrateCommand(t *testing.T) {
	m := &stubMigrator{}
	var out, errOut bytes.Buffer

	assert.Equal(t, 0, MigrateCommand(m, nil, &out, &errOut))
	assert.Equal(t, 1, m.ups)
	assert.Equal(t, 0, MigrateCommand(m, []string{"down", "2"}, &out, &errOut))
	assert.Equal(t, []int{2}, m.downs)
	assert.Equal(t, 2, MigrateCommand(m, []string{"down", "x"}, &out, &errOut))
	assert.Equal(t, 2, MigrateCommand(m, []string{"sideways"}, &out, &errOut))

	out.Reset()
	assert.Equal(t, 0, MigrateCommand(m, []string{"version"}, &out, &errOut))
	assert.Equal(t, "version 3 dirty=false\n", out.String())

	m.err = errors.New("dirty database")
	assert.Equal(t, 1, MigrateCommand(m, []string{"up"}, &out, &errOut))
}

func TestTriggerTask(t *testing.T) {
	task, err := TriggerTask("warm")
	require.NoError(t, err)
	assert.Equal(t, jobs.TaskRBACCacheWarm, task.Type())

	task, err = TriggerTask(jobs.TaskAuditPrune)
	require.NoError(t, err)
	assert.Equal(t, jobs.TaskAuditPrune, task.Type())

	_, err = TriggerTask("mail:send")
	assert.Error(t, err)
}
