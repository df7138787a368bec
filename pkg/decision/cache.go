package decision

import (
	"context"
	"time"
)

// Decision is a cached authorization outcome for one
// (user, organization, permission) triple.
type Decision struct {
	Allowed       bool      `json:"allowed"`
	PolicyVersion int64     `json:"policy_version"`
	CachedAt      time.Time `json:"cached_at"`
}

// Cache stores computed decisions. Get returns (nil, nil) on a miss.
// Implementations are safe for concurrent use; none of the operations
// block callers working on unrelated keys.
type Cache interface {
	Get(ctx context.Context, userID, orgID, permission string) (*Decision, error)
	Put(ctx context.Context, userID, orgID, permission string, d Decision) error

	// InvalidateOrg bumps the organization's epoch, making every existing
	// entry for that organization immediately unreachable without
	// deleting it.
	InvalidateOrg(ctx context.Context, orgID string) error

	// InvalidateUser drops entries for one user-org pair.
	InvalidateUser(ctx context.Context, userID, orgID string) error
}

// DefaultTTL bounds how long an entry may occupy the cache even when its
// organization's policy never changes.
const DefaultTTL = 5 * time.Minute
