package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/goccy/go-json"

	"github.com/chatdesk/chatdesk/internal/permissions"
	"github.com/chatdesk/chatdesk/internal/roles"
	"github.com/chatdesk/chatdesk/internal/shared"
	"github.com/chatdesk/chatdesk/internal/users"
)

// PermissionEnsurer upserts catalog permissions.
type PermissionEnsurer interface {
	Ensure(ctx context.Context, entries []shared.CatalogEntry) ([]permissions.Permission, error)
}

// RoleEnsurer creates built-in roles and binds permissions.
type RoleEnsurer interface {
	EnsureBuiltIn(ctx context.Context) (map[string]roles.Role, error)
	AssignPermissions(ctx context.Context, roleID int64, permissionIDs []int64, actorID int64) error
}

// AccountCreator finds or creates user accounts.
type AccountCreator interface {
	GetByEmail(ctx context.Context, email string) (users.User, error)
	Create(ctx context.Context, req users.CreateRequest, actorID int64) (users.User, error)
}

// SeedCLI bootstraps the built-in roles, the permission catalog and an
// optional first administrator.
type SeedCLI struct {
	permissions PermissionEnsurer
	roles       RoleEnsurer
	accounts    AccountCreator
}

// NewSeedCLI constructs the seeder. accounts may be nil when no admin is seeded.
func NewSeedCLI(perms PermissionEnsurer, roleSvc RoleEnsurer, accounts AccountCreator) *SeedCLI {
	return &SeedCLI{permissions: perms, roles: roleSvc, accounts: accounts}
}

// SeedOptions configures a seed run.
type SeedOptions struct {
	AdminEmail    string
	AdminPassword string
	AdminName     string
	JSONOutput    bool
	Stdout        io.Writer
	Stderr        io.Writer
}

// SeedSummary reports what the seed run ensured.
type SeedSummary struct {
	Permissions  int            `json:"permissions"`
	Roles        []string       `json:"roles"`
	Grants       map[string]int `json:"grants"`
	AdminEmail   string         `json:"admin_email,omitempty"`
	AdminCreated bool           `json:"admin_created"`
}

// Seed runs the seed and returns its summary. Re-running is a no-op.
func (c *SeedCLI) Seed(ctx context.Context, opts SeedOptions) (SeedSummary, error) {
	perms, err := c.permissions.Ensure(ctx, shared.CoreCatalog())
	if err != nil {
		return SeedSummary{}, err
	}
	byName := make(map[string]int64, len(perms))
	allIDs := make([]int64, 0, len(perms))
	for _, p := range perms {
		byName[p.Name] = p.ID
		allIDs = append(allIDs, p.ID)
	}

	builtIn, err := c.roles.EnsureBuiltIn(ctx)
	if err != nil {
		return SeedSummary{}, err
	}
	summary := SeedSummary{Permissions: len(perms), Grants: map[string]int{}}
	for name := range builtIn {
		summary.Roles = append(summary.Roles, name)
	}
	sort.Strings(summary.Roles)

	grants := shared.DefaultRoleGrants()
	for _, name := range summary.Roles {
		ids := allIDs
		if name != shared.RoleAdmin {
			ids = lookupIDs(byName, grants[name])
		}
		summary.Grants[name] = len(ids)
		if len(ids) == 0 {
			continue
		}
		if err := c.roles.AssignPermissions(ctx, builtIn[name].ID, ids, 0); err != nil {
			return SeedSummary{}, fmt.Errorf("seed: grant %s: %w", name, err)
		}
	}

	if opts.AdminEmail == "" || c.accounts == nil {
		return summary, nil
	}
	summary.AdminEmail = opts.AdminEmail
	if _, err := c.accounts.GetByEmail(ctx, opts.AdminEmail); err == nil {
		return summary, nil
	} else if !errors.Is(err, shared.ErrNotFound) {
		return SeedSummary{}, err
	}
	name := opts.AdminName
	if name == "" {
		name = "Administrator"
	}
	_, err = c.accounts.Create(ctx, users.CreateRequest{
		Email:       opts.AdminEmail,
		FullName:    name,
		Password:    opts.AdminPassword,
		PrimaryRole: shared.RoleAdmin,
	}, 0)
	if err != nil {
		return SeedSummary{}, fmt.Errorf("seed: create admin: %w", err)
	}
	summary.AdminCreated = true
	return summary, nil
}

func lookupIDs(byName map[string]int64, names []string) []int64 {
	ids := make([]int64, 0, len(names))
	for _, name := range names {
		if id, ok := byName[name]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// SeedCommand runs Seed and prints the summary. It returns a process exit code.
func (c *SeedCLI) SeedCommand(ctx context.Context, opts SeedOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	summary, err := c.Seed(ctx, opts)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "seed failed: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		enc := json.NewEncoder(opts.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			fmt.Fprintf(opts.Stderr, "encode summary: %v\n", err)
			return 1
		}
		return 0
	}
	fmt.Fprintf(opts.Stdout, "permissions: %d\n", summary.Permissions)
	for _, name := range summary.Roles {
		fmt.Fprintf(opts.Stdout, "role %s: %d permissions\n", name, summary.Grants[name])
	}
	if summary.AdminCreated {
		fmt.Fprintf(opts.Stdout, "admin created: %s\n", summary.AdminEmail)
	}
	return 0
}
