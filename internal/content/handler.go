package content

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/chatdesk/chatdesk/internal/access"
	"github.com/chatdesk/chatdesk/internal/platform/httpx"
	"github.com/chatdesk/chatdesk/internal/rbac"
	"github.com/chatdesk/chatdesk/internal/shared"
)

// Handler exposes one kind of content over HTTP.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	kind      access.Kind
	validator *validator.Validate
}

// NewHandler builds a Handler for kind.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware, kind access.Kind) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, kind: kind, validator: validator.New()}
}

// MountRoutes registers CRUD routes. The coarse permission guard runs first,
// then each row is checked against its owner, global flag and overrides.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(h.kind.Permission("view")))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
	})
	r.With(h.rbac.RequirePermission(h.kind.Permission("create"))).Post("/", h.create)
	r.With(h.rbac.RequirePermission(h.kind.Permission("edit"))).Put("/{id}", h.update)
	r.With(h.rbac.RequirePermission(h.kind.Permission("delete"))).Delete("/{id}", h.delete)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.List(r.Context(), shared.PrincipalFromContext(r.Context()), h.kind)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{string(h.kind): items})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	item, err := h.service.Get(r.Context(), shared.PrincipalFromContext(r.Context()), h.kind, id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	item, err := h.service.Create(r.Context(), shared.PrincipalFromContext(r.Context()), h.kind, req)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req UpdateRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	item, err := h.service.Update(r.Context(), shared.PrincipalFromContext(r.Context()), h.kind, id, req)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := h.service.Delete(r.Context(), shared.PrincipalFromContext(r.Context()), h.kind, id); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.NoContent(w)
}
