package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/chatdesk/chatdesk/internal/platform/httpx"
	"github.com/chatdesk/chatdesk/internal/shared"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the verified token claims.
func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsContextKey{}).(*Claims)
	return c
}

// RequireToken resolves the bearer credential into a principal on the request
// context. Missing or rejected credentials answer 401; resolution failures 500.
func (s *Service) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			httpx.Problem(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized), "missing bearer token")
			return
		}
		principal, claims, err := s.PrincipalForToken(r.Context(), raw)
		if err != nil {
			if errors.Is(err, shared.ErrUnauthenticated) {
				httpx.Problem(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized), "invalid or expired token")
				return
			}
			s.logger.Error("auth: resolve principal", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError), "")
			return
		}
		ctx := shared.ContextWithPrincipal(r.Context(), principal)
		ctx = context.WithValue(ctx, claimsContextKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
