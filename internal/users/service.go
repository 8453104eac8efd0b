package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/chatdesk/chatdesk/internal/rbac"
	"github.com/chatdesk/chatdesk/internal/shared"
)

// Service handles user business logic and role assignment.
type Service struct {
	repo     Repository
	cache    rbac.Invalidator
	audit    shared.Auditor
	logger   *slog.Logger
	hashCost int
}

// NewService builds Service instance. cache and audit may be nil.
func NewService(repo Repository, cache rbac.Invalidator, audit shared.Auditor, logger *slog.Logger) *Service {
	if audit == nil {
		audit = shared.NopAuditor{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, audit: audit, logger: logger, hashCost: bcrypt.DefaultCost}
}

// List returns all users.
func (s *Service) List(ctx context.Context) ([]User, error) {
	return s.repo.List(ctx)
}

// Get returns one user.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	return s.repo.Get(ctx, id)
}

// GetByEmail looks a user up by email, case-insensitively.
func (s *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	return s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
}

// ListRoles returns the roles assigned to a user.
func (s *Service) ListRoles(ctx context.Context, userID int64) ([]AssignedRole, error) {
	if _, err := s.repo.Get(ctx, userID); err != nil {
		return nil, err
	}
	return s.repo.ListRoles(ctx, userID)
}

// Create registers a user and assigns roles in one transaction. With no role
// ids the role named by the primary role is assigned.
func (s *Service) Create(ctx context.Context, req CreateRequest, actorID int64) (User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return User{}, fmt.Errorf("%w: email required", shared.ErrValidation)
	}
	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return User{}, fmt.Errorf("%w: email already registered", shared.ErrConflict)
	} else if !errors.Is(err, shared.ErrNotFound) {
		return User{}, err
	}
	primary := shared.NormalizeName(req.PrimaryRole)
	if primary == "" {
		primary = shared.RoleUser
	}
	hash, err := s.hash(req.Password)
	if err != nil {
		return User{}, err
	}
	roleIDs := shared.UniqueIDs(req.RoleIDs)

	var created User
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.Create(ctx, User{
			Email:        email,
			FullName:     strings.TrimSpace(req.FullName),
			PasswordHash: hash,
			PrimaryRole:  primary,
			IsActive:     true,
		})
		if err != nil {
			return err
		}
		if len(roleIDs) == 0 {
			id, err := tx.RoleIDByName(ctx, primary)
			if err != nil {
				if errors.Is(err, shared.ErrNotFound) {
					return fmt.Errorf("%w: unknown role %q", shared.ErrValidation, primary)
				}
				return err
			}
			roleIDs = []int64{id}
		}
		return assignAll(ctx, tx, created.ID, roleIDs, actorID)
	})
	if err != nil {
		return User{}, fmt.Errorf("users: create: %w", err)
	}
	s.record(ctx, actorID, shared.AuditCreate, "user", created.ID, map[string]any{"email": created.Email, "role_ids": roleIDs})
	return created, nil
}

// Update changes the profile, primary role and active flag.
func (s *Service) Update(ctx context.Context, id int64, req UpdateRequest, actorID int64) (User, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	fullName := strings.TrimSpace(req.FullName)
	if fullName == "" {
		return User{}, fmt.Errorf("%w: full name required", shared.ErrValidation)
	}
	primary := shared.NormalizeName(req.PrimaryRole)
	if primary == "" {
		primary = current.PrimaryRole
	}
	if req.IsActive != nil && !*req.IsActive && id == actorID {
		return User{}, fmt.Errorf("%w: cannot deactivate your own account", shared.ErrInvariant)
	}

	var updated User
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		updated, err = tx.UpdateProfile(ctx, id, fullName, primary)
		if err != nil {
			return err
		}
		if req.IsActive != nil && *req.IsActive != current.IsActive {
			if err := tx.SetActive(ctx, id, *req.IsActive); err != nil {
				return err
			}
			updated.IsActive = *req.IsActive
		}
		return nil
	})
	if err != nil {
		return User{}, fmt.Errorf("users: update: %w", err)
	}
	s.invalidateUser(ctx, id)
	s.record(ctx, actorID, shared.AuditUpdate, "user", id, map[string]any{"primary_role": primary, "is_active": updated.IsActive})
	return updated, nil
}

// ChangePassword replaces the password hash.
func (s *Service) ChangePassword(ctx context.Context, id int64, password string, actorID int64) error {
	hash, err := s.hash(password)
	if err != nil {
		return err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.SetPassword(ctx, id, hash)
	})
	if err != nil {
		return fmt.Errorf("users: change password: %w", err)
	}
	s.record(ctx, actorID, shared.AuditUpdate, "user", id, map[string]any{"password": "changed"})
	return nil
}

// Delete removes a user and, by cascade, their role assignments.
func (s *Service) Delete(ctx context.Context, id int64, actorID int64) error {
	if id == actorID {
		return fmt.Errorf("%w: cannot delete your own account", shared.ErrInvariant)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidateUser(ctx, id)
	s.record(ctx, actorID, shared.AuditDelete, "user", id, nil)
	return nil
}

// AssignRole binds a role. Re-assigning refreshes the assignment timestamp.
func (s *Service) AssignRole(ctx context.Context, userID, roleID int64, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.Get(ctx, userID); err != nil {
			return err
		}
		return assignAll(ctx, tx, userID, []int64{roleID}, actorID)
	})
	if err != nil {
		return fmt.Errorf("users: assign role: %w", err)
	}
	s.invalidateUser(ctx, userID)
	s.record(ctx, actorID, shared.AuditAssign, "user_role", userID, map[string]any{"role_id": roleID})
	return nil
}

// UnassignRole removes a binding. An absent binding is shared.ErrNotFound.
func (s *Service) UnassignRole(ctx context.Context, userID, roleID int64, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		removed, err := tx.UnassignRole(ctx, userID, roleID)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("%w: role not assigned to user", shared.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("users: unassign role: %w", err)
	}
	s.invalidateUser(ctx, userID)
	s.record(ctx, actorID, shared.AuditUnassign, "user_role", userID, map[string]any{"role_id": roleID})
	return nil
}

// ReplaceRoles swaps the user's full role set atomically.
func (s *Service) ReplaceRoles(ctx context.Context, userID int64, roleIDs []int64, actorID int64) ([]AssignedRole, error) {
	ids := shared.UniqueIDs(roleIDs)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.Get(ctx, userID); err != nil {
			return err
		}
		if err := tx.ClearRoles(ctx, userID); err != nil {
			return err
		}
		return assignAll(ctx, tx, userID, ids, actorID)
	})
	if err != nil {
		return nil, fmt.Errorf("users: replace roles: %w", err)
	}
	s.invalidateUser(ctx, userID)
	s.record(ctx, actorID, shared.AuditReplace, "user_role", userID, map[string]any{"role_ids": ids})
	return s.repo.ListRoles(ctx, userID)
}

func assignAll(ctx context.Context, tx TxRepository, userID int64, roleIDs []int64, actorID int64) error {
	if len(roleIDs) == 0 {
		return nil
	}
	n, err := tx.CountRoles(ctx, roleIDs)
	if err != nil {
		return err
	}
	if n != len(roleIDs) {
		return fmt.Errorf("%w: unknown role id", shared.ErrNotFound)
	}
	for _, roleID := range roleIDs {
		if err := tx.AssignRole(ctx, userID, roleID, actorID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) hash(password string) (string, error) {
	if len(password) < 8 {
		return "", fmt.Errorf("%w: password must be at least 8 characters", shared.ErrValidation)
	}
	if len(password) > 72 {
		return "", fmt.Errorf("%w: password must be at most 72 bytes", shared.ErrValidation)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return "", fmt.Errorf("users: hash password: %w", err)
	}
	return string(hash), nil
}

func (s *Service) invalidateUser(ctx context.Context, userID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateUser(ctx, userID); err != nil {
		s.logger.Error("users: invalidate cache", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity string, id int64, meta map[string]any) {
	err := s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: entity, EntityID: shared.EntityID(id), Meta: meta})
	if err != nil {
		s.logger.Warn("users: audit", slog.String("action", action), slog.Any("error", err))
	}
}
