package session

import (
	"context"
	"time"
)

// Store persists sessions and refresh tokens.
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	// RevokeSession marks a session revoked. Revoking a session that is
	// already revoked or missing is a no-op.
	RevokeSession(ctx context.Context, id string) error
	// RevokeFamily revokes every session in the family and consumes all
	// of its refresh tokens.
	RevokeFamily(ctx context.Context, familyID string) error
	// RevokeAllForUser revokes every active session belonging to the
	// user and returns how many were revoked.
	RevokeAllForUser(ctx context.Context, userID string) (int, error)

	CreateRefreshToken(ctx context.Context, t *RefreshToken) error
	GetRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error)
	// MarkTokenUsed consumes a refresh token. It returns true only for
	// the single caller that flipped the used flag; every concurrent
	// loser gets false.
	MarkTokenUsed(ctx context.Context, tokenHash string) (bool, error)

	// DeleteExpired removes refresh tokens and sessions whose expiry is
	// before now. Returns the number of rows removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	// CountActiveSessions reports sessions that are neither revoked nor
	// expired at now.
	CountActiveSessions(ctx context.Context, now time.Time) (int, error)
}
