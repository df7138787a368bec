package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatehouse-io/gatehouse/pkg/events"
	"github.com/gatehouse-io/gatehouse/pkg/observability"
	"github.com/gatehouse-io/gatehouse/pkg/policy"
)

// Revocation reasons reported on the session_revocations metric.
const (
	RevokeReasonLogout        = "logout"
	RevokeReasonReplay        = "replay"
	RevokeReasonPasswordReset = "password_reset"
	RevokeReasonRotation      = "rotation_failure"
)

const (
	// DefaultAccessTTL bounds access token validity.
	DefaultAccessTTL = 15 * time.Minute
	// DefaultRefreshTTL bounds each refresh token's validity.
	DefaultRefreshTTL = 30 * 24 * time.Hour
	// DefaultSessionTTL bounds the session itself regardless of refresh
	// activity.
	DefaultSessionTTL = 90 * 24 * time.Hour
)

// Config tunes the manager's lifetimes.
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	SessionTTL time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.AccessTTL <= 0 {
		out.AccessTTL = DefaultAccessTTL
	}
	if out.RefreshTTL <= 0 {
		out.RefreshTTL = DefaultRefreshTTL
	}
	if out.SessionTTL <= 0 {
		out.SessionTTL = DefaultSessionTTL
	}
	return out
}

// Manager drives login, refresh, logout and access token validation.
type Manager struct {
	store     Store
	directory policy.Store
	signer    *TokenSigner
	publisher events.Publisher
	metrics   *observability.Metrics
	logger    *observability.Logger

	refreshTTL time.Duration
	sessionTTL time.Duration
	now        func() time.Time
}

// NewManager wires a manager. publisher and metrics may be nil, in which
// case events and counters are skipped.
func NewManager(store Store, directory policy.Store, secret []byte, cfg Config, publisher events.Publisher, metrics *observability.Metrics, logger *observability.Logger) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		store:      store,
		directory:  directory,
		signer:     NewTokenSigner(secret, "gatehouse", cfg.AccessTTL),
		publisher:  publisher,
		metrics:    metrics,
		logger:     logger,
		refreshTTL: cfg.RefreshTTL,
		sessionTTL: cfg.SessionTTL,
		now:        time.Now,
	}
}

// Login verifies credentials and opens a session in the given organization.
// Unknown emails, wrong passwords, inactive users and inactive organizations
// all surface as ErrInvalidCredentials.
func (m *Manager) Login(ctx context.Context, email, password, orgID string, meta LoginMetadata) (*Session, *TokenPair, error) {
	user, err := m.directory.GetUserByEmail(ctx, email)
	if errors.Is(err, policy.ErrNotFound) {
		m.recordLogin("failure")
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if !user.IsActive {
		m.recordLogin("failure")
		return nil, nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		m.recordLogin("failure")
		return nil, nil, ErrInvalidCredentials
	}

	org, err := m.directory.GetOrganization(ctx, orgID)
	if errors.Is(err, policy.ErrNotFound) {
		m.recordLogin("failure")
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up organization: %w", err)
	}
	if !org.IsActive {
		m.recordLogin("failure")
		return nil, nil, ErrInvalidCredentials
	}

	now := m.now().UTC()
	sess := &Session{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		OrganizationID: org.ID,
		FamilyID:       uuid.NewString(),
		IPAddress:      meta.IPAddress,
		UserAgent:      meta.UserAgent,
		LoginMethod:    LoginMethodPassword,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.sessionTTL),
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	pair, err := m.issueTokens(ctx, sess, "")
	if err != nil {
		return nil, nil, err
	}

	m.recordLogin("success")
	if m.metrics != nil {
		m.metrics.ActiveSessions.Inc()
	}
	m.publish(ctx, events.TopicLogin, map[string]interface{}{
		"user_id":         user.ID,
		"organization_id": org.ID,
		"session_id":      sess.ID,
		"ip_address":      meta.IPAddress,
		"method":          LoginMethodPassword,
	})
	return sess, pair, nil
}

// Refresh rotates a refresh token: the presented token is consumed and a
// successor is minted in the same family. Presenting an already-consumed
// token revokes the family and its session before failing.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	hash := HashRefreshToken(refreshToken)
	stored, err := m.store.GetRefreshToken(ctx, hash)
	if errors.Is(err, ErrTokenNotFound) {
		m.recordRefresh("failure")
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load refresh token: %w", err)
	}

	now := m.now().UTC()
	if now.After(stored.ExpiresAt) {
		m.recordRefresh("failure")
		return nil, ErrTokenExpired
	}

	sess, err := m.store.GetSession(ctx, stored.SessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			m.recordRefresh("failure")
			return nil, ErrSessionRevoked
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if !sess.Active(now) {
		m.recordRefresh("failure")
		return nil, ErrSessionRevoked
	}

	// The conditional mark is the sole arbiter under concurrency: exactly
	// one caller flips the flag, everyone else lands on the replay path.
	won, err := m.store.MarkTokenUsed(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to consume refresh token: %w", err)
	}
	if !won {
		return nil, m.handleReplay(ctx, sess, stored)
	}

	pair, err := m.issueTokens(ctx, sess, hash)
	if err != nil {
		// The presented token is already consumed. Revoke the session so
		// a half-rotated chain can never validate again.
		if revokeErr := m.store.RevokeSession(ctx, sess.ID); revokeErr != nil {
			m.logger.WithError(revokeErr).WithSession(sess.ID).
				Error("failed to revoke session after rotation failure")
		}
		m.recordRevocation(RevokeReasonRotation, 1)
		m.recordRefresh("failure")
		return nil, err
	}

	m.recordRefresh("success")
	return pair, nil
}

func (m *Manager) handleReplay(ctx context.Context, sess *Session, stored *RefreshToken) error {
	if err := m.store.RevokeFamily(ctx, stored.FamilyID); err != nil {
		m.logger.WithError(err).WithField("family_id", stored.FamilyID).
			Error("failed to revoke token family after replay")
	}
	if m.metrics != nil {
		m.metrics.ReplaysTotal.Inc()
		m.metrics.ActiveSessions.Dec()
	}
	m.recordRevocation(RevokeReasonReplay, 1)
	m.recordRefresh("replay")
	m.logger.WithUser(sess.UserID).WithOrg(sess.OrganizationID).WithSession(sess.ID).
		WithField("family_id", stored.FamilyID).
		Warn("refresh token replay detected")
	m.publish(ctx, events.TopicTokenReplay, map[string]interface{}{
		"user_id":         sess.UserID,
		"organization_id": sess.OrganizationID,
		"session_id":      sess.ID,
		"family_id":       stored.FamilyID,
	})
	return ErrReplayDetected
}

func (m *Manager) issueTokens(ctx context.Context, sess *Session, predecessorHash string) (*TokenPair, error) {
	refresh, refreshHash, err := NewRefreshToken()
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	if err := m.store.CreateRefreshToken(ctx, &RefreshToken{
		TokenHash:       refreshHash,
		SessionID:       sess.ID,
		FamilyID:        sess.FamilyID,
		PredecessorHash: predecessorHash,
		IssuedAt:        now,
		ExpiresAt:       now.Add(m.refreshTTL),
	}); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	access, expiresAt, err := m.signer.Sign(sess.UserID, sess.OrganizationID, sess.ID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:     access,
		AccessExpiresAt: expiresAt,
		RefreshToken:    refresh,
		SessionID:       sess.ID,
	}, nil
}

// Logout revokes the session. Logging out twice, or with an unknown session
// id, succeeds quietly.
func (m *Manager) Logout(ctx context.Context, sessionID string) error {
	sess, err := m.store.GetSession(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	if err := m.store.RevokeSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	if !sess.Revoked {
		m.recordRevocation(RevokeReasonLogout, 1)
		if m.metrics != nil {
			m.metrics.ActiveSessions.Dec()
		}
		m.publish(ctx, events.TopicLogout, map[string]interface{}{
			"user_id":         sess.UserID,
			"organization_id": sess.OrganizationID,
			"session_id":      sess.ID,
		})
	}
	return nil
}

// ValidateAccess checks an access token's signature and expiry, then confirms
// the backing session is still active.
func (m *Manager) ValidateAccess(ctx context.Context, accessToken string) (*Principal, error) {
	claims, err := m.signer.Verify(accessToken)
	if err != nil {
		return nil, err
	}
	sess, err := m.store.GetSession(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrSessionRevoked
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if !sess.Active(m.now().UTC()) {
		return nil, ErrSessionRevoked
	}
	return &Principal{
		UserID:         claims.Subject,
		OrganizationID: claims.OrganizationID,
		SessionID:      claims.SessionID,
	}, nil
}

// RevokeAllForUser revokes every active session the user holds. Used by
// password reset redemption.
func (m *Manager) RevokeAllForUser(ctx context.Context, userID, reason string) (int, error) {
	n, err := m.store.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke user sessions: %w", err)
	}
	if n > 0 {
		m.recordRevocation(reason, n)
		if m.metrics != nil {
			m.metrics.ActiveSessions.Sub(float64(n))
		}
	}
	return n, nil
}

func (m *Manager) recordLogin(status string) {
	if m.metrics != nil {
		m.metrics.LoginsTotal.WithLabelValues(status).Inc()
	}
}

func (m *Manager) recordRefresh(status string) {
	if m.metrics != nil {
		m.metrics.RefreshesTotal.WithLabelValues(status).Inc()
	}
}

func (m *Manager) recordRevocation(reason string, n int) {
	if m.metrics != nil {
		m.metrics.SessionRevocations.WithLabelValues(reason).Add(float64(n))
	}
}

func (m *Manager) publish(ctx context.Context, topic string, payload map[string]interface{}) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(ctx, topic, payload); err != nil {
		m.logger.WithError(err).WithField("event_topic", topic).Warn("failed to publish event")
	}
}
