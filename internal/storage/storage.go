package storage

import "errors"

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
	// ErrRefreshTokenMismatch is returned by a compare-and-set rotation when
	// the stored refresh token is no longer the expected one.
	ErrRefreshTokenMismatch = errors.New("refresh token mismatch")
)
