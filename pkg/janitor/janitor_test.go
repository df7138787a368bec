package janitor

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-io/gatehouse/pkg/observability"
	"github.com/gatehouse-io/gatehouse/pkg/session"
)

func TestSweepRemovesExpired(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	now := time.Now().UTC()

	require.NoError(t, store.CreateSession(ctx, &session.Session{
		ID: "live", FamilyID: "f1", ExpiresAt: now.Add(time.Hour),
	}))
	require.NoError(t, store.CreateSession(ctx, &session.Session{
		ID: "dead", FamilyID: "f2", ExpiresAt: now.Add(-time.Hour),
	}))
	require.NoError(t, store.CreateRefreshToken(ctx, &session.RefreshToken{
		TokenHash: "stale", SessionID: "dead", FamilyID: "f2", ExpiresAt: now.Add(-time.Minute),
	}))

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	j := New(store, "", metrics, logger)

	removed, err := j.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	_, err = store.GetSession(ctx, "live")
	assert.NoError(t, err)
	_, err = store.GetSession(ctx, "dead")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
	_, err = store.GetRefreshToken(ctx, "stale")
	assert.ErrorIs(t, err, session.ErrTokenNotFound)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ActiveSessions))
}

func TestStartAndStop(t *testing.T) {
	store := session.NewMemoryStore()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	j := New(store, "@every 1h", nil, logger)

	require.NoError(t, j.Start())
	j.Stop()
}

func TestStartRejectsBadSchedule(t *testing.T) {
	store := session.NewMemoryStore()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	j := New(store, "not a schedule", nil, logger)

	assert.Error(t, j.Start())
}
