package access

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chatdesk/chatdesk/internal/rbac"
	"github.com/chatdesk/chatdesk/internal/shared"
)

// Service evaluates and manages per-resource access overrides.
type Service struct {
	repo    Repository
	audit   shared.Auditor
	logger  *slog.Logger
	metrics rbac.Recorder
}

// NewService builds a Service. audit and metrics may be nil.
func NewService(repo Repository, audit shared.Auditor, logger *slog.Logger, metrics rbac.Recorder) *Service {
	if audit == nil {
		audit = shared.NopAuditor{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, metrics: metrics}
}

// CanAccess decides whether the principal may act on the resource.
// Admins and owners are allowed before the global flag and the grant table
// are consulted; a global resource is only viewable through that flag.
// A missing resource is reported as shared.ErrNotFound.
func (s *Service) CanAccess(ctx context.Context, p *shared.Principal, kind Kind, id int64, t Type) (bool, error) {
	if p == nil {
		s.observe(rbac.Unauthenticated)
		return false, shared.ErrUnauthenticated
	}
	res, err := s.repo.GetResource(ctx, kind, id)
	if err != nil {
		return false, err
	}
	allowed, err := s.decide(ctx, p, kind, res, t)
	if err != nil {
		return false, fmt.Errorf("access: check %s %d: %w", kind.Entity(), id, err)
	}
	if allowed {
		s.observe(rbac.Allow)
	} else {
		s.observe(rbac.Forbidden)
	}
	return allowed, nil
}

func (s *Service) decide(ctx context.Context, p *shared.Principal, kind Kind, res Resource, t Type) (bool, error) {
	switch {
	case rbac.IsAdmin(p):
		return true, nil
	case res.CreatedBy != 0 && res.CreatedBy == p.UserID:
		return true, nil
	case t == View && res.IsGlobal:
		return true, nil
	}
	return s.repo.HasGrant(ctx, kind, res.ID, p.Roles, t)
}

// Require is CanAccess mapped onto the error taxonomy: a denial is shared.ErrForbidden.
func (s *Service) Require(ctx context.Context, p *shared.Principal, kind Kind, id int64, t Type) error {
	ok, err := s.CanAccess(ctx, p, kind, id, t)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s access to %s %d", shared.ErrForbidden, t, kind.Entity(), id)
	}
	return nil
}

// ListGrants returns the overrides of a resource.
func (s *Service) ListGrants(ctx context.Context, kind Kind, id int64) ([]Grant, error) {
	if _, err := s.repo.GetResource(ctx, kind, id); err != nil {
		return nil, err
	}
	grants, err := s.repo.ListGrants(ctx, kind, id)
	if err != nil {
		return nil, fmt.Errorf("access: list grants: %w", err)
	}
	if grants == nil {
		grants = []Grant{}
	}
	return grants, nil
}

// SetRoleAccess upserts the override row of a role on a resource.
func (s *Service) SetRoleAccess(ctx context.Context, kind Kind, id, roleID int64, req GrantRequest, actorID int64) (Grant, error) {
	if _, err := s.repo.GetResource(ctx, kind, id); err != nil {
		return Grant{}, err
	}
	exists, err := s.repo.RoleExists(ctx, roleID)
	if err != nil {
		return Grant{}, fmt.Errorf("access: role lookup: %w", err)
	}
	if !exists {
		return Grant{}, fmt.Errorf("%w: role %d", shared.ErrNotFound, roleID)
	}
	grant, err := s.repo.UpsertGrant(ctx, kind, id, roleID, req)
	if err != nil {
		return Grant{}, fmt.Errorf("access: upsert grant: %w", err)
	}
	s.record(ctx, actorID, shared.AuditGrant, kind, id, map[string]any{
		"role_id":    roleID,
		"can_view":   grant.CanView,
		"can_edit":   grant.CanEdit,
		"can_delete": grant.CanDelete,
	})
	return grant, nil
}

// RemoveGrant deletes the override row of a role on a resource.
func (s *Service) RemoveGrant(ctx context.Context, kind Kind, id, roleID int64, actorID int64) error {
	if _, err := s.repo.GetResource(ctx, kind, id); err != nil {
		return err
	}
	removed, err := s.repo.DeleteGrant(ctx, kind, id, roleID)
	if err != nil {
		return fmt.Errorf("access: delete grant: %w", err)
	}
	if !removed {
		return fmt.Errorf("%w: no grant for role %d", shared.ErrNotFound, roleID)
	}
	s.record(ctx, actorID, shared.AuditRevoke, kind, id, map[string]any{"role_id": roleID})
	return nil
}

func (s *Service) observe(d rbac.Decision) {
	if s.metrics != nil {
		s.metrics.ObserveDecision("resource", d.String())
	}
}

func (s *Service) record(ctx context.Context, actorID int64, action string, kind Kind, id int64, meta map[string]any) {
	err := s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: kind.Entity() + "_access", EntityID: shared.EntityID(id), Meta: meta})
	if err != nil {
		s.logger.Warn("access: audit", slog.String("action", action), slog.Any("error", err))
	}
}
