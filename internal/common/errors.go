// Package common defines shared constants and sentinel errors used across
// the magiclink server and its client. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// ErrStorage marks a fatal ledger or directory failure, store timeouts
	// included. It is never folded into the verification outcome.
	ErrStorage = errors.New("storage failure")

	// Link request validation errors.
	ErrInvalidEmail          = errors.New("invalid email")
	ErrEmailDomainNotAllowed = errors.New("email domain not allowed")

	// Session issuance errors.
	ErrAccountInactive = errors.New("account is inactive")
	ErrInvalidToken    = errors.New("invalid token")
	ErrTokenExpired    = errors.New("token expired")
)

// ErrorAlreadyExists is returned when a unique key (an account email) is taken.
var ErrorAlreadyExists = errors.New("already exists")
