package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/chatdesk/chatdesk/internal/shared"
)

// PrincipalResolver loads the principal for a user id.
type PrincipalResolver interface {
	Resolve(ctx context.Context, userID int64) (*shared.Principal, error)
}

// Service wraps authentication business rules.
type Service struct {
	repo     Repository
	tokens   *TokenService
	revoker  *Revoker
	resolver PrincipalResolver
	logger   *slog.Logger
}

// NewService constructs a new Service.
func NewService(repo Repository, tokens *TokenService, revoker *Revoker, resolver PrincipalResolver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, tokens: tokens, revoker: revoker, resolver: resolver, logger: logger}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// Login authenticates and issues a bearer token.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return LoginResult{}, err
	}
	principal, err := s.resolver.Resolve(ctx, user.ID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: resolve principal: %w", err)
	}
	token, claims, err := s.tokens.Issue(user.ID)
	if err != nil {
		return LoginResult{}, err
	}
	if err := s.repo.TouchLastLogin(ctx, user.ID); err != nil {
		s.logger.Warn("auth: touch last login", slog.Int64("user_id", user.ID), slog.Any("error", err))
	}
	return LoginResult{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: claims.ExpiresAt.Time,
		Principal: principal,
	}, nil
}

// Logout revokes the token until it expires.
func (s *Service) Logout(ctx context.Context, claims *Claims) error {
	if claims == nil {
		return shared.ErrUnauthenticated
	}
	if err := s.revoker.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("auth: revoke token: %w", err)
	}
	return nil
}

// PrincipalForToken verifies a raw bearer token and resolves its principal.
// Credential problems wrap shared.ErrUnauthenticated; storage failures do not.
func (s *Service) PrincipalForToken(ctx context.Context, raw string) (*shared.Principal, *Claims, error) {
	claims, err := s.tokens.Verify(raw)
	if err != nil {
		return nil, nil, err
	}
	revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("auth: revocation check: %w", err)
	}
	if revoked {
		return nil, nil, fmt.Errorf("%w: token revoked", shared.ErrUnauthenticated)
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, nil, err
	}
	principal, err := s.resolver.Resolve(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return principal, claims, nil
}
