package auth

import "errors"

var (
	ErrValidation         = errors.New("validation failed")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrIssuanceFailed     = errors.New("failed to issue tokens")
)

// Client facing reasons carried by UnauthorizedError.
const (
	ReasonUnauthorizedRequest = "Unauthorized request"
	ReasonInvalidAccessToken  = "Invalid access token"
	ReasonInvalidOrExpired    = "Invalid or expired refresh token"
	ReasonInvalidRefreshToken = "Invalid refresh token"
	ReasonRefreshTokenUsed    = "Refresh token expired or used"
)

// UnauthorizedError is a 401 with a message safe to show the client. The
// underlying cause is kept for logging only and does not appear in Error.
type UnauthorizedError struct {
	Reason string
	Cause  error
}

func (e *UnauthorizedError) Error() string { return e.Reason }

func (e *UnauthorizedError) Unwrap() error { return ErrUnauthorized }

func unauthorized(reason string, cause error) error {
	return &UnauthorizedError{Reason: reason, Cause: cause}
}

// ValidationError reports malformed or missing caller input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(msg string) error {
	return &ValidationError{Message: msg}
}
