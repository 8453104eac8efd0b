package access

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/chatdesk/chatdesk/internal/platform/httpx"
	"github.com/chatdesk/chatdesk/internal/rbac"
	"github.com/chatdesk/chatdesk/internal/shared"
)

// Handler exposes the overrides of one resource kind.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	kind      Kind
	validator *validator.Validate
}

// NewHandler builds a Handler for kind.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware, kind Kind) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, kind: kind, validator: validator.New()}
}

// MountRoutes registers the /{id}/access routes on the kind's router.
// Managing overrides also requires edit access to the row itself.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequirePermission(h.kind.Permission("view"))).Get("/{id}/access/check", h.check)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(h.kind.Permission("manage_access")))
		r.Get("/{id}/access", h.list)
		r.Put("/{id}/access/{roleID}", h.set)
		r.Delete("/{id}/access/{roleID}", h.remove)
	})
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	t := View
	if raw := r.URL.Query().Get("type"); raw != "" {
		if t, err = ParseType(raw); err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
	}
	allowed, err := h.service.CanAccess(r.Context(), shared.PrincipalFromContext(r.Context()), h.kind, id, t)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"resource_id": id, "type": t, "allowed": allowed})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	id, ok := h.editableID(w, r)
	if !ok {
		return
	}
	grants, err := h.service.ListGrants(r.Context(), h.kind, id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"grants": grants})
}

func (h *Handler) set(w http.ResponseWriter, r *http.Request) {
	id, ok := h.editableID(w, r)
	if !ok {
		return
	}
	roleID, err := httpx.IDParam(r, "roleID")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req GrantRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	grant, err := h.service.SetRoleAccess(r.Context(), h.kind, id, roleID, req, shared.ActorID(r.Context()))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, grant)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id, ok := h.editableID(w, r)
	if !ok {
		return
	}
	roleID, err := httpx.IDParam(r, "roleID")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := h.service.RemoveGrant(r.Context(), h.kind, id, roleID, shared.ActorID(r.Context())); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) editableID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return 0, false
	}
	if err := h.service.Require(r.Context(), shared.PrincipalFromContext(r.Context()), h.kind, id, Edit); err != nil {
		httpx.RespondError(w, h.logger, err)
		return 0, false
	}
	return id, true
}
