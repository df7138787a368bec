package session

import "time"

// Session represents an authenticated session for one user in one
// organization. FamilyID ties the session to the chain of refresh tokens
// minted from its original login.
type Session struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	OrganizationID string    `json:"organization_id"`
	FamilyID       string    `json:"family_id"`
	IPAddress      string    `json:"ip_address,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
	LoginMethod    string    `json:"login_method"`
	Revoked        bool      `json:"revoked"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Active reports whether the session can still validate requests at now.
func (s *Session) Active(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}

// RefreshToken is the stored form of an opaque refresh token. Only the
// SHA-256 hash is persisted; the plaintext exists solely in the response
// that delivered it.
type RefreshToken struct {
	TokenHash       string    `json:"token_hash"`
	SessionID       string    `json:"session_id"`
	FamilyID        string    `json:"family_id"`
	PredecessorHash string    `json:"predecessor_hash,omitempty"`
	Used            bool      `json:"used"`
	IssuedAt        time.Time `json:"issued_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// TokenPair is what a successful login or refresh hands back to the client.
type TokenPair struct {
	AccessToken     string    `json:"access_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
	RefreshToken    string    `json:"refresh_token"`
	SessionID       string    `json:"session_id"`
}

// Principal identifies the caller behind a validated access token.
type Principal struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	SessionID      string `json:"session_id"`
}

// LoginMethodPassword is the only supported login method today.
const LoginMethodPassword = "password"

// LoginMetadata captures where a login came from. Stored on the session for
// audit purposes.
type LoginMetadata struct {
	IPAddress string
	UserAgent string
}
