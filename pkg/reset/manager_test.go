package reset

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatehouse-io/gatehouse/pkg/events"
	"github.com/gatehouse-io/gatehouse/pkg/observability"
	"github.com/gatehouse-io/gatehouse/pkg/policy"
)

type fakeRevoker struct {
	calls  int
	userID string
	reason string
}

func (f *fakeRevoker) RevokeAllForUser(_ context.Context, userID, reason string) (int, error) {
	f.calls++
	f.userID = userID
	f.reason = reason
	return 2, nil
}

type capturedEvent struct {
	topic   string
	payload map[string]interface{}
}

type capturePublisher struct {
	events []capturedEvent
}

func (c *capturePublisher) Publish(_ context.Context, topic string, payload map[string]interface{}) error {
	c.events = append(c.events, capturedEvent{topic: topic, payload: payload})
	return nil
}

type resetFixture struct {
	manager   *Manager
	mr        *miniredis.Miniredis
	directory *policy.MemoryStore
	revoker   *fakeRevoker
	publisher *capturePublisher
	metrics   *observability.Metrics
	user      *policy.User
}

func newResetFixture(t *testing.T) *resetFixture {
	t.Helper()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	directory := policy.NewMemoryStore()
	hash, err := bcrypt.GenerateFromPassword([]byte("old password"), bcrypt.MinCost)
	require.NoError(t, err)
	user, err := directory.CreateUser(ctx, "alice@acme.test", string(hash))
	require.NoError(t, err)

	revoker := &fakeRevoker{}
	publisher := &capturePublisher{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	manager := NewManager(client, directory, revoker, Config{}, publisher, metrics, logger)

	return &resetFixture{
		manager:   manager,
		mr:        mr,
		directory: directory,
		revoker:   revoker,
		publisher: publisher,
		metrics:   metrics,
		user:      user,
	}
}

func TestRequestAndRedeem(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()

	token, err := f.manager.Request(ctx, "alice@acme.test")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	require.NoError(t, f.manager.Redeem(ctx, token, "brand new password"))

	user, err := f.directory.GetUser(ctx, f.user.ID)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("brand new password")))

	assert.Equal(t, 1, f.revoker.calls)
	assert.Equal(t, f.user.ID, f.revoker.userID)
	assert.Equal(t, "password_reset", f.revoker.reason)
}

func TestRequestEventDeliversToken(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()

	token, err := f.manager.Request(ctx, "alice@acme.test")
	require.NoError(t, err)

	require.Len(t, f.publisher.events, 1)
	ev := f.publisher.events[0]
	assert.Equal(t, events.TopicPasswordResetRequested, ev.topic)
	assert.Equal(t, f.user.ID, ev.payload["user_id"])
	assert.Equal(t, "alice@acme.test", ev.payload["email"])
	assert.NotEmpty(t, ev.payload["expires_at"])

	// The mail pipeline only ever sees the event, so the token it carries
	// must be the redeemable one.
	delivered, ok := ev.payload["token"].(string)
	require.True(t, ok)
	assert.Equal(t, token, delivered)
	assert.NoError(t, f.manager.Redeem(ctx, delivered, "brand new password"))
}

func TestRequestUnknownEmailIsSilent(t *testing.T) {
	f := newResetFixture(t)

	token, err := f.manager.Request(context.Background(), "nobody@acme.test")
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.Empty(t, f.publisher.events)
	assert.Equal(t, float64(1),
		testutil.ToFloat64(f.metrics.ResetRequestsTotal.WithLabelValues("unknown_user")))
}

func TestRequestThrottledAfterLimit(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()

	for i := 0; i < DefaultRateLimit; i++ {
		token, err := f.manager.Request(ctx, "alice@acme.test")
		require.NoError(t, err)
		assert.NotEmpty(t, token)
	}

	// The sixth request is silently dropped: same success shape, no token.
	token, err := f.manager.Request(ctx, "alice@acme.test")
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.Equal(t, float64(1),
		testutil.ToFloat64(f.metrics.ResetRequestsTotal.WithLabelValues("throttled")))

	// Once the window lapses the user may request again.
	f.mr.FastForward(DefaultRateWindow + time.Minute)
	token, err = f.manager.Request(ctx, "alice@acme.test")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestNewTokenReplacesPrevious(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()

	first, err := f.manager.Request(ctx, "alice@acme.test")
	require.NoError(t, err)
	second, err := f.manager.Request(ctx, "alice@acme.test")
	require.NoError(t, err)

	assert.ErrorIs(t, f.manager.Redeem(ctx, first, "brand new password"), ErrTokenInvalid)
	assert.NoError(t, f.manager.Redeem(ctx, second, "brand new password"))
}

func TestRedeemIsSingleUse(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()

	token, err := f.manager.Request(ctx, "alice@acme.test")
	require.NoError(t, err)

	require.NoError(t, f.manager.Redeem(ctx, token, "brand new password"))
	assert.ErrorIs(t, f.manager.Redeem(ctx, token, "another password"), ErrTokenInvalid)
}

func TestRedeemExpiredToken(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()

	token, err := f.manager.Request(ctx, "alice@acme.test")
	require.NoError(t, err)

	f.mr.FastForward(DefaultTokenTTL + time.Minute)
	assert.ErrorIs(t, f.manager.Redeem(ctx, token, "brand new password"), ErrTokenInvalid)
}

func TestRedeemRejectsWeakPassword(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()

	token, err := f.manager.Request(ctx, "alice@acme.test")
	require.NoError(t, err)

	assert.ErrorIs(t, f.manager.Redeem(ctx, token, "short"), ErrWeakPassword)
	// The token survives a failed policy check.
	assert.NoError(t, f.manager.Redeem(ctx, token, "long enough now"))
}

func TestRedeemGarbageToken(t *testing.T) {
	f := newResetFixture(t)
	assert.ErrorIs(t, f.manager.Redeem(context.Background(), "no-such-token", "brand new password"),
		ErrTokenInvalid)
}
