package permissions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chatdesk/chatdesk/internal/rbac"
	"github.com/chatdesk/chatdesk/internal/shared"
)

// Service orchestrates the permission catalog.
type Service struct {
	repo   Repository
	cache  rbac.Invalidator
	audit  shared.Auditor
	logger *slog.Logger
}

// NewService builds a Service. cache and audit may be nil.
func NewService(repo Repository, cache rbac.Invalidator, audit shared.Auditor, logger *slog.Logger) *Service {
	if audit == nil {
		audit = shared.NopAuditor{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, audit: audit, logger: logger}
}

// List returns all permissions ordered by (category, name).
func (s *Service) List(ctx context.Context) ([]Permission, error) {
	return s.repo.List(ctx)
}

// ListByCategory returns an empty slice for unknown categories.
func (s *Service) ListByCategory(ctx context.Context, category string) ([]Permission, error) {
	return s.repo.ListByCategory(ctx, strings.TrimSpace(category))
}

// ListCategories returns the distinct categories.
func (s *Service) ListCategories(ctx context.Context) ([]string, error) {
	return s.repo.ListCategories(ctx)
}

// Get fetches a permission by id.
func (s *Service) Get(ctx context.Context, id int64) (Permission, error) {
	return s.repo.Get(ctx, id)
}

// Create adds a permission. Duplicate names fail with shared.ErrConflict.
func (s *Service) Create(ctx context.Context, req CreateRequest, actorID int64) (Permission, error) {
	p, err := build(0, req.Name, req.Description, req.Category)
	if err != nil {
		return Permission{}, err
	}
	if _, err := s.repo.GetByName(ctx, p.Name); err == nil {
		return Permission{}, fmt.Errorf("%w: permission %q already exists", shared.ErrConflict, p.Name)
	} else if !errors.Is(err, shared.ErrNotFound) {
		return Permission{}, err
	}
	created, err := s.repo.Create(ctx, p)
	if err != nil {
		return Permission{}, fmt.Errorf("permissions: create: %w", err)
	}
	s.record(ctx, actorID, shared.AuditCreate, created.ID, map[string]any{"name": created.Name, "category": created.Category})
	return created, nil
}

// Update rewrites a permission. A rename invalidates every cached snapshot.
func (s *Service) Update(ctx context.Context, id int64, req UpdateRequest, actorID int64) (Permission, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Permission{}, err
	}
	p, err := build(id, req.Name, req.Description, req.Category)
	if err != nil {
		return Permission{}, err
	}
	if p.Name != current.Name {
		other, err := s.repo.GetByName(ctx, p.Name)
		switch {
		case err == nil && other.ID != id:
			return Permission{}, fmt.Errorf("%w: permission %q already exists", shared.ErrConflict, p.Name)
		case err != nil && !errors.Is(err, shared.ErrNotFound):
			return Permission{}, err
		}
	}
	updated, err := s.repo.Update(ctx, p)
	if err != nil {
		return Permission{}, fmt.Errorf("permissions: update: %w", err)
	}
	if updated.Name != current.Name {
		s.invalidateAll(ctx)
	}
	s.record(ctx, actorID, shared.AuditUpdate, id, map[string]any{"from": current.Name, "to": updated.Name})
	return updated, nil
}

// Delete removes a permission. It fails with shared.ErrPermissionInUse while
// any role still holds it.
func (s *Service) Delete(ctx context.Context, id int64, actorID int64) error {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	n, err := s.repo.CountBindings(ctx, id)
	if err != nil {
		return fmt.Errorf("permissions: count bindings: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("%w: held by %d role(s)", shared.ErrPermissionInUse, n)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actorID, shared.AuditDelete, id, map[string]any{"name": current.Name})
	return nil
}

// Ensure upserts catalog entries, used by seeding.
func (s *Service) Ensure(ctx context.Context, entries []shared.CatalogEntry) ([]Permission, error) {
	out := make([]Permission, 0, len(entries))
	for _, e := range entries {
		p, err := build(0, e.Name, e.Description, e.Category)
		if err != nil {
			return nil, err
		}
		saved, err := s.repo.Upsert(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("permissions: ensure %s: %w", p.Name, err)
		}
		out = append(out, saved)
	}
	return out, nil
}

func build(id int64, name, description, category string) (Permission, error) {
	p := Permission{
		ID:          id,
		Name:        shared.NormalizeName(name),
		Description: strings.TrimSpace(description),
		Category:    strings.TrimSpace(category),
	}
	if p.Name == "" {
		return Permission{}, fmt.Errorf("%w: permission name required", shared.ErrValidation)
	}
	if strings.ContainsAny(p.Name, " \t\n") {
		return Permission{}, fmt.Errorf("%w: permission name must not contain whitespace", shared.ErrValidation)
	}
	if p.Category == "" {
		p.Category = DefaultCategory
	}
	return p, nil
}

func (s *Service) invalidateAll(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateAll(ctx); err != nil {
		s.logger.Error("permissions: invalidate cache", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	err := s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "permission", EntityID: shared.EntityID(id), Meta: meta})
	if err != nil {
		s.logger.Warn("permissions: audit", slog.String("action", action), slog.Any("error", err))
	}
}
