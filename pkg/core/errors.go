// Package core provides configuration and the shared error taxonomy for the
// amica companion service.
package core

import (
	"errors"
	"fmt"
	"net/http"
)

// Predefined errors for common failure scenarios.
//
// The turn handler and batch endpoints map these onto HTTP statuses via
// HTTPStatus; everything not in the taxonomy is treated as internal.
var (
	// ErrUnauthorized indicates a missing or invalid bearer credential.
	// It always short-circuits a request before any work is done.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates the upstream completion gateway rejected the
	// request with a rate limit. Surfaced to users as a "slow down" message.
	ErrRateLimited = errors.New("rate limited")

	// ErrUpstreamUnavailable indicates the completion or embedding gateway is
	// temporarily unavailable. Surfaced as a "try again later" message.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrValidation indicates a malformed request body or parameters.
	ErrValidation = errors.New("invalid request")

	// ErrNotFound indicates a requested row was not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfig indicates the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failed.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrStorageOperation indicates a storage operation failed.
	ErrStorageOperation = errors.New("storage operation failed")
)

// Error wraps errors with operation context.
//
// It provides additional context about which operation failed, making error
// messages more informative for debugging.
//
// Example:
//
//	err := &Error{Op: "Turn", Err: ErrRateLimited}
//	// Error() returns: "amica: Turn: rate limited"
type Error struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message in the form "amica: <Op>: <Err>".
func (e *Error) Error() string {
	return fmt.Sprintf("amica: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
//
// This allows using errors.Is() and errors.As() with Error.
func (e *Error) Unwrap() error {
	return e.Err
}

// WrapError creates a new Error wrapping the given error.
//
// If err is nil, returns nil. This allows safe error wrapping:
//
//	if err != nil {
//	    return core.WrapError("Turn", err)
//	}
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// HTTPStatus maps a taxonomy error onto an HTTP status code.
//
// Unauthorized → 401, RateLimited → 429, UpstreamUnavailable → 503,
// Validation → 400, NotFound → 404, everything else → 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage returns the user-facing message for an upstream failure.
//
// The turn endpoint streams this text instead of the model reply when the
// gateway rejects the request.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "I'm getting too many messages right now. Give me a moment and try again."
	case errors.Is(err, ErrUpstreamUnavailable):
		return "I'm having trouble reaching my thoughts right now. Please try again in a little while."
	default:
		return "Something went wrong on my side. Please try again."
	}
}
