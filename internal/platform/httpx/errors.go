// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/chatdesk/chatdesk/internal/shared"
)

// Status returns the HTTP status code for a domain error.
func Status(err error) int {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrUnauthenticated), errors.Is(err, shared.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, shared.ErrForbidden), errors.Is(err, shared.ErrProtectedRole):
		return http.StatusForbidden
	case errors.Is(err, shared.ErrPermissionInUse):
		return http.StatusConflict
	case errors.Is(err, shared.ErrInvariant):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807.
// Internal errors are logged and answered without detail.
func RespondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := Status(err)
	if status == http.StatusInternalServerError {
		if logger != nil {
			logger.Error("request failed", slog.Any("error", err))
		}
		Problem(w, status, http.StatusText(status), "")
		return
	}
	Problem(w, status, http.StatusText(status), shared.UserSafeMessage(err))
}
