package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chatdesk/chatdesk/internal/rbac"
	"github.com/chatdesk/chatdesk/internal/shared"
)

// Service handles role business logic.
type Service struct {
	repo   Repository
	cache  rbac.Invalidator
	audit  shared.Auditor
	logger *slog.Logger
}

// NewService builds Service instance. cache and audit may be nil.
func NewService(repo Repository, cache rbac.Invalidator, audit shared.Auditor, logger *slog.Logger) *Service {
	if audit == nil {
		audit = shared.NopAuditor{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, audit: audit, logger: logger}
}

// Get returns a role by id.
func (s *Service) Get(ctx context.Context, id int64) (Role, error) {
	return s.repo.Get(ctx, id)
}

// GetByName returns a role by name.
func (s *Service) GetByName(ctx context.Context, name string) (Role, error) {
	return s.repo.GetByName(ctx, shared.NormalizeName(name))
}

// GetWithPermissions returns the role and its permissions.
func (s *Service) GetWithPermissions(ctx context.Context, id int64) (Detail, error) {
	role, err := s.repo.Get(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	perms, err := s.repo.ListPermissions(ctx, id)
	if err != nil {
		return Detail{}, fmt.Errorf("roles: list permissions: %w", err)
	}
	return Detail{Role: role, Permissions: perms}, nil
}

// ListWithPermissionCounts returns every role with its permission count.
func (s *Service) ListWithPermissionCounts(ctx context.Context) ([]Summary, error) {
	return s.repo.ListWithPermissionCounts(ctx)
}

// UsersWithRole returns the role's members sorted by full name.
func (s *Service) UsersWithRole(ctx context.Context, roleID int64) ([]Member, error) {
	if _, err := s.repo.Get(ctx, roleID); err != nil {
		return nil, err
	}
	return s.repo.ListMembers(ctx, roleID)
}

// Create inserts a role and binds its initial permissions in one transaction.
func (s *Service) Create(ctx context.Context, req CreateRequest, actorID int64) (Detail, error) {
	name, err := validName(req.Name)
	if err != nil {
		return Detail{}, err
	}
	if err := s.ensureNameFree(ctx, name, 0); err != nil {
		return Detail{}, err
	}
	ids := shared.UniqueIDs(req.PermissionIDs)

	var role Role
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		role, err = tx.Create(ctx, name, strings.TrimSpace(req.Description))
		if err != nil {
			return err
		}
		return bindPermissions(ctx, tx, role.ID, ids, actorID)
	})
	if err != nil {
		return Detail{}, fmt.Errorf("roles: create: %w", err)
	}
	s.record(ctx, actorID, shared.AuditCreate, role.ID, map[string]any{"name": role.Name, "permission_ids": ids})
	return s.GetWithPermissions(ctx, role.ID)
}

// Update renames or re-describes a role. A non-nil PermissionIDs replaces the
// full permission set; the replace is all-or-nothing.
func (s *Service) Update(ctx context.Context, id int64, req UpdateRequest, actorID int64) (Detail, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	name, err := validName(req.Name)
	if err != nil {
		return Detail{}, err
	}
	if name != current.Name {
		if current.BuiltIn {
			return Detail{}, fmt.Errorf("%w: cannot rename %q", shared.ErrProtectedRole, current.Name)
		}
		if err := s.ensureNameFree(ctx, name, id); err != nil {
			return Detail{}, err
		}
	}

	var replaced []int64
	if req.PermissionIDs != nil {
		replaced = shared.UniqueIDs(*req.PermissionIDs)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.Update(ctx, Role{ID: id, Name: name, Description: strings.TrimSpace(req.Description)}); err != nil {
			return err
		}
		if req.PermissionIDs == nil {
			return nil
		}
		if err := tx.ClearPermissions(ctx, id); err != nil {
			return err
		}
		return bindPermissions(ctx, tx, id, replaced, actorID)
	})
	if err != nil {
		return Detail{}, fmt.Errorf("roles: update: %w", err)
	}

	if req.PermissionIDs != nil || name != current.Name {
		s.invalidateAll(ctx)
	}
	meta := map[string]any{"from": current.Name, "to": name}
	if req.PermissionIDs != nil {
		meta["permission_ids"] = replaced
	}
	s.record(ctx, actorID, shared.AuditUpdate, id, meta)
	return s.GetWithPermissions(ctx, id)
}

// Delete removes a custom role. Built-in roles fail with shared.ErrProtectedRole.
func (s *Service) Delete(ctx context.Context, id int64, actorID int64) error {
	role, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if role.BuiltIn {
		return fmt.Errorf("%w: cannot delete %q", shared.ErrProtectedRole, role.Name)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("roles: delete: %w", err)
	}
	s.invalidateAll(ctx)
	s.record(ctx, actorID, shared.AuditDelete, id, map[string]any{"name": role.Name})
	return nil
}

// AssignPermissions binds permissions to a role. Already-bound pairs are a no-op.
func (s *Service) AssignPermissions(ctx context.Context, roleID int64, permissionIDs []int64, actorID int64) error {
	ids := shared.UniqueIDs(permissionIDs)
	if len(ids) == 0 {
		return fmt.Errorf("%w: permission ids required", shared.ErrValidation)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.Get(ctx, roleID); err != nil {
			return err
		}
		return bindPermissions(ctx, tx, roleID, ids, actorID)
	})
	if err != nil {
		return fmt.Errorf("roles: assign permissions: %w", err)
	}
	s.invalidateAll(ctx)
	s.record(ctx, actorID, shared.AuditGrant, roleID, map[string]any{"permission_ids": ids})
	return nil
}

// RemovePermission unbinds one permission. An absent binding is shared.ErrNotFound.
func (s *Service) RemovePermission(ctx context.Context, roleID, permissionID int64, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.Get(ctx, roleID); err != nil {
			return err
		}
		removed, err := tx.RemovePermission(ctx, roleID, permissionID)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("%w: permission not bound to role", shared.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("roles: remove permission: %w", err)
	}
	s.invalidateAll(ctx)
	s.record(ctx, actorID, shared.AuditRevoke, roleID, map[string]any{"permission_id": permissionID})
	return nil
}

// EnsureBuiltIn creates the protected roles when missing and returns them by name.
func (s *Service) EnsureBuiltIn(ctx context.Context) (map[string]Role, error) {
	descriptions := map[string]string{
		shared.RoleAdmin:     "Full access to every resource",
		shared.RoleModerator: "Reviews content and manages shared templates",
		shared.RoleUser:      "Default role for registered users",
	}
	out := make(map[string]Role, len(descriptions))
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, name := range shared.BuiltInRoles() {
			role, err := tx.Upsert(ctx, name, descriptions[name])
			if err != nil {
				return fmt.Errorf("ensure %s: %w", name, err)
			}
			out[name] = role
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("roles: %w", err)
	}
	return out, nil
}

func bindPermissions(ctx context.Context, tx TxRepository, roleID int64, ids []int64, actorID int64) error {
	if len(ids) == 0 {
		return nil
	}
	n, err := tx.CountExistingPermissions(ctx, ids)
	if err != nil {
		return err
	}
	if n != len(ids) {
		return fmt.Errorf("%w: unknown permission id", shared.ErrValidation)
	}
	return tx.AddPermissions(ctx, roleID, ids, actorID)
}

func validName(raw string) (string, error) {
	name := shared.NormalizeName(raw)
	if name == "" {
		return "", fmt.Errorf("%w: role name required", shared.ErrValidation)
	}
	return name, nil
}

func (s *Service) ensureNameFree(ctx context.Context, name string, selfID int64) error {
	existing, err := s.repo.GetByName(ctx, name)
	switch {
	case err == nil && existing.ID != selfID:
		return fmt.Errorf("%w: role %q already exists", shared.ErrConflict, name)
	case err != nil && !errors.Is(err, shared.ErrNotFound):
		return err
	}
	return nil
}

func (s *Service) invalidateAll(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateAll(ctx); err != nil {
		s.logger.Error("roles: invalidate cache", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	err := s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "role", EntityID: shared.EntityID(id), Meta: meta})
	if err != nil {
		s.logger.Warn("roles: audit", slog.String("action", action), slog.Any("error", err))
	}
}
