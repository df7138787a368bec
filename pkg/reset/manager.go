package reset

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatehouse-io/gatehouse/pkg/events"
	"github.com/gatehouse-io/gatehouse/pkg/observability"
	"github.com/gatehouse-io/gatehouse/pkg/policy"
	"github.com/gatehouse-io/gatehouse/pkg/session"
)

const (
	tokenKeyPrefix = "pwreset:token:"
	userKeyPrefix  = "pwreset:user:"
	rateKeyPrefix  = "pwreset:rl:"

	// DefaultTokenTTL bounds how long a reset token stays redeemable.
	DefaultTokenTTL = time.Hour
	// DefaultRateLimit caps reset requests per user per window.
	DefaultRateLimit = 5
	// DefaultRateWindow is the rate limit window.
	DefaultRateWindow = time.Hour

	// MinPasswordLength is the weakest password Redeem accepts.
	MinPasswordLength = 8

	resetTokenBytes = 32
)

var (
	// ErrTokenInvalid covers unknown, expired and already-used tokens.
	ErrTokenInvalid = errors.New("reset: token invalid or expired")

	// ErrWeakPassword is returned when the replacement password fails the
	// policy check.
	ErrWeakPassword = errors.New("reset: password does not meet requirements")
)

// SessionRevoker terminates every session a user holds. Satisfied by
// session.Manager.
type SessionRevoker interface {
	RevokeAllForUser(ctx context.Context, userID, reason string) (int, error)
}

// Config tunes token lifetime and throttling.
type Config struct {
	TokenTTL   time.Duration
	RateLimit  int
	RateWindow time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.TokenTTL <= 0 {
		out.TokenTTL = DefaultTokenTTL
	}
	if out.RateLimit <= 0 {
		out.RateLimit = DefaultRateLimit
	}
	if out.RateWindow <= 0 {
		out.RateWindow = DefaultRateWindow
	}
	return out
}

// Manager issues and redeems password reset tokens backed by Redis.
type Manager struct {
	client    *redis.Client
	directory policy.Store
	sessions  SessionRevoker
	publisher events.Publisher
	metrics   *observability.Metrics
	logger    *observability.Logger
	cfg       Config
}

// NewManager wires a reset manager.
func NewManager(client *redis.Client, directory policy.Store, sessions SessionRevoker, cfg Config, publisher events.Publisher, metrics *observability.Metrics, logger *observability.Logger) *Manager {
	return &Manager{
		client:    client,
		directory: directory,
		sessions:  sessions,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg.withDefaults(),
	}
}

// Request issues a reset token for the user behind email. It returns an
// empty token, with no error, when the email is unknown, the account is
// inactive, or the user is throttled: callers must present the same
// response shape in all cases. A newly issued token replaces any
// outstanding one.
func (m *Manager) Request(ctx context.Context, email string) (string, error) {
	user, err := m.directory.GetUserByEmail(ctx, email)
	if errors.Is(err, policy.ErrNotFound) {
		m.recordRequest("unknown_user")
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up user: %w", err)
	}
	if !user.IsActive {
		m.recordRequest("unknown_user")
		return "", nil
	}

	allowed, err := m.allow(ctx, user.ID)
	if err != nil {
		return "", err
	}
	if !allowed {
		m.logger.WithUser(user.ID).Warn("password reset throttled")
		m.recordRequest("throttled")
		return "", nil
	}

	token, hash, err := newResetToken()
	if err != nil {
		return "", err
	}

	// Invalidate the previous outstanding token, if any.
	prevHash, err := m.client.Get(ctx, userKeyPrefix+user.ID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("failed to look up outstanding token: %w", err)
	}
	if prevHash != "" {
		if err := m.client.Del(ctx, tokenKeyPrefix+prevHash).Err(); err != nil {
			return "", fmt.Errorf("failed to invalidate previous token: %w", err)
		}
	}

	pipe := m.client.TxPipeline()
	pipe.Set(ctx, tokenKeyPrefix+hash, user.ID, m.cfg.TokenTTL)
	pipe.Set(ctx, userKeyPrefix+user.ID, hash, m.cfg.TokenTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to store reset token: %w", err)
	}

	m.recordRequest("issued")
	// The mail pipeline consumes this event; the plaintext token exists
	// only here and in the return value, never in storage.
	m.publish(ctx, events.TopicPasswordResetRequested, map[string]interface{}{
		"user_id":    user.ID,
		"email":      user.Email,
		"token":      token,
		"expires_at": time.Now().UTC().Add(m.cfg.TokenTTL).Format(time.RFC3339),
	})
	return token, nil
}

// Redeem consumes a reset token and replaces the user's password. Every
// session the user holds is revoked on success.
func (m *Manager) Redeem(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < MinPasswordLength {
		m.recordRedeem("weak_password")
		return ErrWeakPassword
	}

	hash := hashResetToken(token)
	userID, err := m.client.Get(ctx, tokenKeyPrefix+hash).Result()
	if errors.Is(err, redis.Nil) {
		m.recordRedeem("invalid")
		return ErrTokenInvalid
	}
	if err != nil {
		return fmt.Errorf("failed to look up reset token: %w", err)
	}

	// DEL is the single-use arbiter: only the caller that removed the key
	// proceeds.
	removed, err := m.client.Del(ctx, tokenKeyPrefix+hash).Result()
	if err != nil {
		return fmt.Errorf("failed to consume reset token: %w", err)
	}
	if removed == 0 {
		m.recordRedeem("invalid")
		return ErrTokenInvalid
	}
	if err := m.client.Del(ctx, userKeyPrefix+userID).Err(); err != nil {
		m.logger.WithError(err).WithUser(userID).
			Warn("failed to clear outstanding token pointer")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := m.directory.UpdateUserPassword(ctx, userID, string(passwordHash)); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	if _, err := m.sessions.RevokeAllForUser(ctx, userID, session.RevokeReasonPasswordReset); err != nil {
		m.logger.WithError(err).WithUser(userID).
			Error("failed to revoke sessions after password reset")
	}

	m.recordRedeem("success")
	m.publish(ctx, events.TopicPasswordResetCompleted, map[string]interface{}{
		"user_id": userID,
	})
	return nil
}

// allow applies the per-user rate limit. The counter key expires with the
// window, so the limit resets on its own.
func (m *Manager) allow(ctx context.Context, userID string) (bool, error) {
	key := rateKeyPrefix + userID
	count, err := m.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate counter: %w", err)
	}
	if count == 1 {
		if err := m.client.Expire(ctx, key, m.cfg.RateWindow).Err(); err != nil {
			return false, fmt.Errorf("failed to set rate window: %w", err)
		}
	}
	return count <= int64(m.cfg.RateLimit), nil
}

func newResetToken() (token string, tokenHash string, err error) {
	raw := make([]byte, resetTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	token = base64.RawURLEncoding.EncodeToString(raw)
	return token, hashResetToken(token), nil
}

func hashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (m *Manager) recordRequest(outcome string) {
	if m.metrics != nil {
		m.metrics.ResetRequestsTotal.WithLabelValues(outcome).Inc()
	}
}

func (m *Manager) recordRedeem(status string) {
	if m.metrics != nil {
		m.metrics.ResetRedeemsTotal.WithLabelValues(status).Inc()
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
