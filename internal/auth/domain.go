package auth

import (
	"time"

	"github.com/chatdesk/chatdesk/internal/shared"
)

// User represents an authenticated user account.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	PrimaryRole  string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// LoginRequest carries credentials.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResult is returned after a successful login.
type LoginResult struct {
	Token     string            `json:"token"`
	TokenType string            `json:"token_type"`
	ExpiresAt time.Time         `json:"expires_at"`
	Principal *shared.Principal `json:"principal"`
}
