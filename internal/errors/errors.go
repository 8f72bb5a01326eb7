package errors

import "errors"

// Client errors.
var (
	ErrAccessDenied     = errors.New("access denied")
	ErrInvalidState     = errors.New("invalid or expired oauth state")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNoRefreshToken   = errors.New("credential has no refresh token")
	ErrUnknownCategory  = errors.New("unknown report category")
	ErrExpirationRange  = errors.New("expiration out of range")
)

// Server/transport errors.
var (
	ErrUpstream    = errors.New("upstream request failed")
	ErrPersistence = errors.New("persisting access tokens failed")
	ErrNoClient    = errors.New("no query client bound to session")
)
