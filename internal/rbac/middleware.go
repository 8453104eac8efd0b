package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/chatdesk/chatdesk/internal/platform/httpx"
	"github.com/chatdesk/chatdesk/internal/shared"
)

// Middleware wires RBAC authorization guards for HTTP handlers. The principal
// must already be attached to the request context by the authenticator.
type Middleware struct {
	Logger  *slog.Logger
	Metrics Recorder
}

// RequireAuth rejects requests without a principal.
func (m Middleware) RequireAuth() func(http.Handler) http.Handler {
	return m.guard("auth", nil, func(p *shared.Principal) Decision {
		if p == nil {
			return Unauthenticated
		}
		return Allow
	})
}

// RequirePermission ensures the current user holds every listed permission.
func (m Middleware) RequirePermission(perms ...string) func(http.Handler) http.Handler {
	required := shared.NormalizeNames(perms)
	return m.guard("all", required, func(p *shared.Principal) Decision {
		return DecideAll(p, required)
	})
}

// RequireAnyPermission ensures the current user holds at least one of the permissions.
func (m Middleware) RequireAnyPermission(perms ...string) func(http.Handler) http.Handler {
	required := shared.NormalizeNames(perms)
	return m.guard("any", required, func(p *shared.Principal) Decision {
		return DecideAny(p, required)
	})
}

// RequireRole ensures the current user has one of the listed roles.
func (m Middleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	required := shared.NormalizeNames(roles)
	return m.guard("role", required, func(p *shared.Principal) Decision {
		return DecideRole(p, required)
	})
}

func (m Middleware) guard(kind string, required []string, decide func(*shared.Principal) Decision) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := shared.PrincipalFromContext(r.Context())
			decision := decide(p)
			m.recorder().ObserveDecision(kind, decision.String())
			switch decision {
			case Allow:
				next.ServeHTTP(w, r)
			case Unauthenticated:
				httpx.Problem(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized), "authentication required")
			default:
				if m.Logger != nil {
					m.Logger.Debug("rbac denied",
						slog.Int64("user_id", p.UserID),
						slog.String("kind", kind),
						slog.String("required", strings.Join(required, ",")),
						slog.String("path", r.URL.Path))
				}
				httpx.Problem(w, http.StatusForbidden, http.StatusText(http.StatusForbidden), "insufficient permissions")
			}
		})
	}
}

func (m Middleware) recorder() Recorder {
	if m.Metrics == nil {
		return nopRecorder{}
	}
	return m.Metrics
}
