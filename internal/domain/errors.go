// Package domain holds the sentinel errors and identity type shared by the
// persistence gateway layers (repo, service, handler).
package domain

import "errors"

// ErrNotFound is returned when the requested trip, activity or user does not exist.
// Handlers map this to HTTP 404.
var ErrNotFound = errors.New("not found")

// ErrValidation is returned when input fails a business rule (empty content,
// malformed email). Handlers map this to HTTP 422.
var ErrValidation = errors.New("validation error")

// ErrForbidden is returned when the caller is authenticated but may not act on
// the trip: not an active collaborator, or a non-admin inviting.
// Handlers map this to HTTP 403.
var ErrForbidden = errors.New("forbidden")

// ErrUnauthorized is returned when no valid bearer credential was presented.
// Handlers map this to HTTP 401.
var ErrUnauthorized = errors.New("unauthorized")
