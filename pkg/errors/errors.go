package kindred_errors

import (
	"errors"
	"net/http"
)

// Common errors
var (
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrRateLimited       = errors.New("rate limited")
	ErrNetworkFailure    = errors.New("network failure")
	ErrAlreadyExists     = errors.New("already exists")
	ErrMutationWindow    = errors.New("mutation window elapsed")
	ErrSessionClosed     = errors.New("session closed")
	ErrChannelNotStarted = errors.New("channel not started")
)

// Code returns the machine readable code used in API error envelopes.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "UNAUTHENTICATED"
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrMutationWindow):
		return "PERMISSION_DENIED"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidInput):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, ErrAlreadyExists):
		return "CONFLICT"
	case errors.Is(err, ErrNetworkFailure):
		return "NETWORK_FAILURE"
	default:
		return "INTERNAL_ERROR"
	}
}

func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrMutationWindow):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrNetworkFailure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
