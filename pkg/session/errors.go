package session

import "errors"

var (
	// ErrInvalidCredentials is returned for unknown users, inactive
	// accounts and password mismatches alike, so callers cannot tell
	// which one applied.
	ErrInvalidCredentials = errors.New("session: invalid credentials")

	// ErrInvalidToken is returned for access tokens that fail signature
	// or claim validation.
	ErrInvalidToken = errors.New("session: invalid token")

	// ErrTokenNotFound is returned when a refresh token hash has no row.
	ErrTokenNotFound = errors.New("session: token not found")

	// ErrTokenExpired is returned for refresh tokens past their expiry.
	ErrTokenExpired = errors.New("session: token expired")

	// ErrSessionNotFound is returned when a session id has no row.
	ErrSessionNotFound = errors.New("session: session not found")

	// ErrSessionRevoked is returned when the backing session is revoked
	// or past its own expiry.
	ErrSessionRevoked = errors.New("session: session revoked")

	// ErrReplayDetected is returned when an already-consumed refresh
	// token is presented again. The family and session are revoked as a
	// side effect.
	ErrReplayDetected = errors.New("session: refresh token replay detected")
)
