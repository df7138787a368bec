package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatehouse-io/gatehouse/pkg/observability"
	"github.com/gatehouse-io/gatehouse/pkg/policy"
)

const testPassword = "correct horse battery staple"

type capturePublisher struct {
	mu     sync.Mutex
	topics []string
}

func (c *capturePublisher) Publish(_ context.Context, topic string, _ map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	return nil
}

func (c *capturePublisher) has(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.topics {
		if t == topic {
			return true
		}
	}
	return false
}

type managerFixture struct {
	manager   *Manager
	store     *MemoryStore
	directory *policy.MemoryStore
	publisher *capturePublisher
	metrics   *observability.Metrics
	org       *policy.Organization
	user      *policy.User
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	ctx := context.Background()

	directory := policy.NewMemoryStore()
	org, err := directory.CreateOrganization(ctx, "acme")
	require.NoError(t, err)
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)
	user, err := directory.CreateUser(ctx, "alice@acme.test", string(hash))
	require.NoError(t, err)

	store := NewMemoryStore()
	publisher := &capturePublisher{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	manager := NewManager(store, directory, []byte("test-secret"), Config{}, publisher, metrics, logger)
	return &managerFixture{
		manager:   manager,
		store:     store,
		directory: directory,
		publisher: publisher,
		metrics:   metrics,
		org:       org,
		user:      user,
	}
}

func (f *managerFixture) login(t *testing.T) (*Session, *TokenPair) {
	t.Helper()
	sess, pair, err := f.manager.Login(context.Background(), "alice@acme.test", testPassword, f.org.ID,
		LoginMetadata{IPAddress: "198.51.100.7", UserAgent: "test-agent"})
	require.NoError(t, err)
	return sess, pair
}

func TestLoginSuccess(t *testing.T) {
	f := newManagerFixture(t)
	sess, pair := f.login(t)

	assert.Equal(t, f.user.ID, sess.UserID)
	assert.Equal(t, f.org.ID, sess.OrganizationID)
	assert.NotEmpty(t, sess.FamilyID)
	assert.Equal(t, "198.51.100.7", sess.IPAddress)

	principal, err := f.manager.ValidateAccess(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, principal.UserID)
	assert.Equal(t, f.org.ID, principal.OrganizationID)
	assert.Equal(t, sess.ID, principal.SessionID)

	assert.True(t, f.publisher.has("login"))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.LoginsTotal.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.ActiveSessions))
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	_, _, err := f.manager.Login(ctx, "nobody@acme.test", testPassword, f.org.ID, LoginMetadata{})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = f.manager.Login(ctx, "alice@acme.test", "wrong password", f.org.ID, LoginMetadata{})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = f.manager.Login(ctx, "alice@acme.test", testPassword, "missing-org", LoginMetadata{})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	assert.Equal(t, float64(3), testutil.ToFloat64(f.metrics.LoginsTotal.WithLabelValues("failure")))
}

type inactiveUserDirectory struct {
	policy.Store
}

func (d *inactiveUserDirectory) GetUserByEmail(ctx context.Context, email string) (*policy.User, error) {
	u, err := d.Store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	u.IsActive = false
	return u, nil
}

func TestLoginInactiveUser(t *testing.T) {
	f := newManagerFixture(t)
	f.manager.directory = &inactiveUserDirectory{Store: f.directory}

	_, _, err := f.manager.Login(context.Background(), "alice@acme.test", testPassword, f.org.ID, LoginMetadata{})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRefreshRotates(t *testing.T) {
	f := newManagerFixture(t)
	_, pair := f.login(t)

	rotated, err := f.manager.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)
	assert.Equal(t, pair.SessionID, rotated.SessionID)

	stored, err := f.store.GetRefreshToken(context.Background(), HashRefreshToken(rotated.RefreshToken))
	require.NoError(t, err)
	assert.Equal(t, HashRefreshToken(pair.RefreshToken), stored.PredecessorHash)

	_, err = f.manager.ValidateAccess(context.Background(), rotated.AccessToken)
	assert.NoError(t, err)
}

func TestReplayRevokesFamilyAndSession(t *testing.T) {
	f := newManagerFixture(t)
	_, pair := f.login(t)
	ctx := context.Background()

	rotated, err := f.manager.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)

	// Presenting the consumed token again is a replay.
	_, err = f.manager.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrReplayDetected)
	assert.True(t, f.publisher.has("token.replay"))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.ReplaysTotal))

	// The whole family is dead, including the legitimate successor.
	_, err = f.manager.Refresh(ctx, rotated.RefreshToken)
	assert.ErrorIs(t, err, ErrSessionRevoked)

	// And the session no longer validates access tokens.
	_, err = f.manager.ValidateAccess(ctx, rotated.AccessToken)
	assert.ErrorIs(t, err, ErrSessionRevoked)
}

func TestRefreshUnknownToken(t *testing.T) {
	f := newManagerFixture(t)
	_, err := f.manager.Refresh(context.Background(), "ghr_does-not-exist")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestRefreshExpiredToken(t *testing.T) {
	f := newManagerFixture(t)
	_, pair := f.login(t)

	f.manager.now = func() time.Time { return time.Now().Add(DefaultRefreshTTL + time.Hour) }
	_, err := f.manager.Refresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := newManagerFixture(t)
	sess, pair := f.login(t)
	ctx := context.Background()

	require.NoError(t, f.manager.Logout(ctx, sess.ID))
	require.NoError(t, f.manager.Logout(ctx, sess.ID))
	require.NoError(t, f.manager.Logout(ctx, "never-existed"))

	_, err := f.manager.ValidateAccess(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, ErrSessionRevoked)
	_, err = f.manager.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrSessionRevoked)

	assert.True(t, f.publisher.has("logout"))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(f.metrics.SessionRevocations.WithLabelValues(RevokeReasonLogout)))
}

func TestRevokeAllForUser(t *testing.T) {
	f := newManagerFixture(t)
	_, pairA := f.login(t)
	_, pairB := f.login(t)
	ctx := context.Background()

	n, err := f.manager.RevokeAllForUser(ctx, f.user.ID, RevokeReasonPasswordReset)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = f.manager.ValidateAccess(ctx, pairA.AccessToken)
	assert.ErrorIs(t, err, ErrSessionRevoked)
	_, err = f.manager.ValidateAccess(ctx, pairB.AccessToken)
	assert.ErrorIs(t, err, ErrSessionRevoked)

	// Second pass finds nothing left to revoke.
	n, err = f.manager.RevokeAllForUser(ctx, f.user.ID, RevokeReasonPasswordReset)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	f := newManagerFixture(t)
	_, pair := f.login(t)

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.manager.Refresh(context.Background(), pair.RefreshToken)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrReplayDetected), errors.Is(err, ErrSessionRevoked):
		default:
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}
	assert.Equal(t, 1, wins, "exactly one concurrent refresh must win")
}

func TestValidateAccessRejectsTamperedToken(t *testing.T) {
	f := newManagerFixture(t)
	_, pair := f.login(t)

	tampered := pair.AccessToken + "x"
	_, err := f.manager.ValidateAccess(context.Background(), tampered)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
