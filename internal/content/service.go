package content

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chatdesk/chatdesk/internal/access"
	"github.com/chatdesk/chatdesk/internal/rbac"
	"github.com/chatdesk/chatdesk/internal/shared"
)

// AccessChecker enforces per-row access.
type AccessChecker interface {
	Require(ctx context.Context, p *shared.Principal, kind access.Kind, id int64, t access.Type) error
}

// Service manages templates and formats for a principal.
type Service struct {
	repo   Repository
	access AccessChecker
	audit  shared.Auditor
	logger *slog.Logger
}

// NewService builds a Service. audit may be nil.
func NewService(repo Repository, checker AccessChecker, audit shared.Auditor, logger *slog.Logger) *Service {
	if audit == nil {
		audit = shared.NopAuditor{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, access: checker, audit: audit, logger: logger}
}

// List returns the items the principal may view.
func (s *Service) List(ctx context.Context, p *shared.Principal, kind access.Kind) ([]Item, error) {
	if p == nil {
		return nil, shared.ErrUnauthenticated
	}
	if rbac.IsAdmin(p) {
		return s.repo.List(ctx, kind)
	}
	return s.repo.ListVisible(ctx, kind, p.UserID, p.Roles)
}

// Get returns an item after a view check.
func (s *Service) Get(ctx context.Context, p *shared.Principal, kind access.Kind, id int64) (Item, error) {
	if err := s.access.Require(ctx, p, kind, id, access.View); err != nil {
		return Item{}, err
	}
	return s.repo.Get(ctx, kind, id)
}

// Create stores a new item owned by the principal.
func (s *Service) Create(ctx context.Context, p *shared.Principal, kind access.Kind, req CreateRequest) (Item, error) {
	if p == nil {
		return Item{}, shared.ErrUnauthenticated
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return Item{}, fmt.Errorf("%w: name is required", shared.ErrValidation)
	}
	owner := p.UserID
	item, err := s.repo.Create(ctx, kind, Item{Name: name, Body: req.Body, IsGlobal: req.IsGlobal, CreatedBy: &owner})
	if err != nil {
		return Item{}, fmt.Errorf("content: create %s: %w", kind.Entity(), err)
	}
	s.record(ctx, p.UserID, shared.AuditCreate, kind, item.ID, map[string]any{"name": item.Name, "is_global": item.IsGlobal})
	return item, nil
}

// Update changes an item after an edit check.
func (s *Service) Update(ctx context.Context, p *shared.Principal, kind access.Kind, id int64, req UpdateRequest) (Item, error) {
	if err := s.access.Require(ctx, p, kind, id, access.Edit); err != nil {
		return Item{}, err
	}
	item, err := s.repo.Get(ctx, kind, id)
	if err != nil {
		return Item{}, err
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return Item{}, fmt.Errorf("%w: name is required", shared.ErrValidation)
		}
		item.Name = name
	}
	if req.Body != nil {
		item.Body = *req.Body
	}
	if req.IsGlobal != nil {
		item.IsGlobal = *req.IsGlobal
	}
	updated, err := s.repo.Update(ctx, kind, item)
	if err != nil {
		return Item{}, fmt.Errorf("content: update %s: %w", kind.Entity(), err)
	}
	s.record(ctx, p.UserID, shared.AuditUpdate, kind, id, map[string]any{"name": updated.Name, "is_global": updated.IsGlobal})
	return updated, nil
}

// Delete removes an item after a delete check.
func (s *Service) Delete(ctx context.Context, p *shared.Principal, kind access.Kind, id int64) error {
	if err := s.access.Require(ctx, p, kind, id, access.Delete); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, kind, id); err != nil {
		return err
	}
	s.record(ctx, p.UserID, shared.AuditDelete, kind, id, nil)
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, kind access.Kind, id int64, meta map[string]any) {
	err := s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: kind.Entity(), EntityID: shared.EntityID(id), Meta: meta})
	if err != nil {
		s.logger.Warn("content: audit", slog.String("action", action), slog.Any("error", err))
	}
}
