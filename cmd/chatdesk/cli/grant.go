package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/chatdesk/chatdesk/internal/roles"
	"github.com/chatdesk/chatdesk/internal/users"
)

// RoleLookup resolves roles by name.
type RoleLookup interface {
	GetByName(ctx context.Context, name string) (roles.Role, error)
}

// UserRoleManager assigns and removes roles on users.
type UserRoleManager interface {
	GetByEmail(ctx context.Context, email string) (users.User, error)
	AssignRole(ctx context.Context, userID, roleID int64, actorID int64) error
	UnassignRole(ctx context.Context, userID, roleID int64, actorID int64) error
}

// GrantCLI lets operators change role assignments without the HTTP API.
type GrantCLI struct {
	users UserRoleManager
	roles RoleLookup
}

// NewGrantCLI constructs a GrantCLI.
func NewGrantCLI(userSvc UserRoleManager, roleSvc RoleLookup) *GrantCLI {
	return &GrantCLI{users: userSvc, roles: roleSvc}
}

// GrantOptions selects the user and role to bind or unbind.
type GrantOptions struct {
	Email  string
	Role   string
	Revoke bool
	Stdout io.Writer
	Stderr io.Writer
}

// GrantCommand assigns (or with Revoke, unassigns) a role. It returns a process exit code.
func (c *GrantCLI) GrantCommand(ctx context.Context, opts GrantOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if err := c.grant(ctx, opts); err != nil {
		fmt.Fprintf(opts.Stderr, "grant failed: %v\n", err)
		return 1
	}
	verb := "granted"
	if opts.Revoke {
		verb = "revoked"
	}
	fmt.Fprintf(opts.Stdout, "%s role %s for %s\n", verb, opts.Role, opts.Email)
	return 0
}

func (c *GrantCLI) grant(ctx context.Context, opts GrantOptions) error {
	if opts.Email == "" || opts.Role == "" {
		return errors.New("email and role are required")
	}
	user, err := c.users.GetByEmail(ctx, opts.Email)
	if err != nil {
		return fmt.Errorf("user %s: %w", opts.Email, err)
	}
	role, err := c.roles.GetByName(ctx, opts.Role)
	if err != nil {
		return fmt.Errorf("role %s: %w", opts.Role, err)
	}
	if opts.Revoke {
		return c.users.UnassignRole(ctx, user.ID, role.ID, 0)
	}
	return c.users.AssignRole(ctx, user.ID, role.ID, 0)
}
