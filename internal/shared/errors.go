package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a uniqueness violation.
	ErrConflict = errors.New("conflict")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthenticated indicates a missing or rejected credential.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden indicates the rule evaluated to deny.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvariant indicates a mutation that would break a domain invariant.
	ErrInvariant = errors.New("invariant violation")

	// ErrProtectedRole is returned when renaming or deleting a built-in role.
	ErrProtectedRole = fmt.Errorf("%w: built-in role is protected", ErrInvariant)
	// ErrPermissionInUse is returned when deleting a permission still bound to roles.
	ErrPermissionInUse = fmt.Errorf("%w: permission is bound to roles", ErrInvariant)
)

// UserSafeMessage returns a message that can be shown to API clients.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrUnauthenticated),
		errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrInvariant):
		return err.Error()
	default:
		return "internal error"
	}
}
