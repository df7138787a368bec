package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// RefreshTokenPrefix identifies Gatehouse refresh tokens.
	RefreshTokenPrefix = "ghr_"
	// refreshTokenBytes is the amount of entropy per token (256 bits).
	refreshTokenBytes = 32
)

// NewRefreshToken mints an opaque refresh token.
// Format: ghr_<base64url(32 random bytes)>. Returns the plaintext and the
// SHA-256 hex hash used as the storage key.
func NewRefreshToken() (token string, tokenHash string, err error) {
	raw := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	token = RefreshTokenPrefix + base64.RawURLEncoding.EncodeToString(raw)
	return token, HashRefreshToken(token), nil
}

// HashRefreshToken computes the SHA-256 hash of a token for lookup.
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// AccessClaims are the claims carried by a Gatehouse access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	OrganizationID string `json:"org"`
	SessionID      string `json:"sid"`
}

// TokenSigner signs and verifies HS256 access tokens.
type TokenSigner struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenSigner creates a signer with the given shared secret. ttl bounds
// the validity of every token it signs.
func NewTokenSigner(secret []byte, issuer string, ttl time.Duration) *TokenSigner {
	return &TokenSigner{
		secret: secret,
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Sign issues an access token for the given principal.
func (s *TokenSigner) Sign(userID, orgID, sessionID string) (string, time.Time, error) {
	now := s.now().UTC()
	expiresAt := now.Add(s.ttl)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		OrganizationID: orgID,
		SessionID:      sessionID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses an access token and validates its signature, issuer and
// expiry. Any failure maps to ErrInvalidToken.
func (s *TokenSigner) Verify(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
