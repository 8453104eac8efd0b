package rbac

import (
	"github.com/chatdesk/chatdesk/internal/shared"
)

// Access is the resolved authorization snapshot of a user.
type Access struct {
	UserID      int64    `json:"user_id"`
	Email       string   `json:"email"`
	PrimaryRole string   `json:"primary_role"`
	IsActive    bool     `json:"is_active"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// Principal converts the snapshot into the request principal.
func (a Access) Principal() *shared.Principal {
	return shared.NewPrincipal(a.UserID, a.Email, a.PrimaryRole, a.Roles, a.Permissions)
}

// Decision is the outcome of an access check.
type Decision int

const (
	// Allow lets the request through.
	Allow Decision = iota
	// Forbidden means the principal is known but lacks the requirement.
	Forbidden
	// Unauthenticated means there is no principal.
	Unauthenticated
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Forbidden:
		return "forbidden"
	case Unauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Err maps the decision onto the shared error taxonomy. Allow yields nil.
func (d Decision) Err() error {
	switch d {
	case Allow:
		return nil
	case Unauthenticated:
		return shared.ErrUnauthenticated
	default:
		return shared.ErrForbidden
	}
}

// Recorder receives authorization telemetry.
type Recorder interface {
	ObserveDecision(kind, result string)
	ObserveCache(result string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveDecision(string, string) {}
func (nopRecorder) ObserveCache(string)            {}
