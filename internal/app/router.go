package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chatdesk/chatdesk/internal/access"
	"github.com/chatdesk/chatdesk/internal/audit"
	"github.com/chatdesk/chatdesk/internal/auth"
	"github.com/chatdesk/chatdesk/internal/content"
	"github.com/chatdesk/chatdesk/internal/observability"
	"github.com/chatdesk/chatdesk/internal/permissions"
	"github.com/chatdesk/chatdesk/internal/platform/httpx"
	"github.com/chatdesk/chatdesk/internal/rbac"
	"github.com/chatdesk/chatdesk/internal/roles"
	"github.com/chatdesk/chatdesk/internal/shared"
	"github.com/chatdesk/chatdesk/internal/users"
	"github.com/chatdesk/chatdesk/jobs"
)

// HealthCheck probes one dependency; a non-nil error marks it down.
type HealthCheck func(ctx context.Context) error

// ResourceRoutes pairs the content and access-override handlers of one kind.
type ResourceRoutes struct {
	Kind    access.Kind
	Content *content.Handler
	Access  *access.Handler
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	Metrics            *observability.Metrics
	AuthHandler        *auth.Handler
	AuthService        *auth.Service
	RBACMiddleware     rbac.Middleware
	PermissionsHandler *permissions.Handler
	RolesHandler       *roles.Handler
	UsersHandler       *users.Handler
	Resources          []ResourceRoutes
	AuditHandler       *audit.Handler
	JobHandler         *jobs.Handler
	HealthChecks       map[string]HealthCheck
}

// NewRouter constructs the chi.Router with chatdesk defaults.
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", healthHandler(params.HealthChecks))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	if params.AuthHandler != nil {
		r.Route("/auth", params.AuthHandler.MountRoutes)
	}

	r.Group(func(r chi.Router) {
		if params.AuthService != nil {
			r.Use(params.AuthService.RequireToken)
		}
		r.Use(params.RBACMiddleware.RequireAuth())

		if params.PermissionsHandler != nil {
			r.Route("/permissions", params.PermissionsHandler.MountRoutes)
		}
		if params.RolesHandler != nil {
			r.Route("/roles", params.RolesHandler.MountRoutes)
		}
		if params.UsersHandler != nil {
			r.Route("/users", params.UsersHandler.MountRoutes)
		}
		for _, res := range params.Resources {
			r.Route("/"+string(res.Kind), func(r chi.Router) {
				if res.Content != nil {
					res.Content.MountRoutes(r)
				}
				if res.Access != nil {
					res.Access.MountRoutes(r)
				}
			})
		}
		if params.AuditHandler != nil {
			r.Route("/audit", params.AuditHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.With(params.RBACMiddleware.RequireRole(shared.RoleAdmin)).Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, http.StatusText(http.StatusNotFound), "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed), "")
	})
	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := "ok"
		code := http.StatusOK
		deps := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				deps[name] = "down"
				status = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			deps[name] = "up"
		}
		httpx.JSON(w, code, map[string]any{"status": status, "checks": deps})
	}
}
