// Package janitor runs scheduled housekeeping: expired refresh tokens and
// sessions are deleted, and the active session gauge is kept honest.
package janitor

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gatehouse-io/gatehouse/pkg/observability"
	"github.com/gatehouse-io/gatehouse/pkg/session"
)

// DefaultSchedule sweeps once an hour.
const DefaultSchedule = "@hourly"

const sweepTimeout = time.Minute

// Janitor owns the cron scheduler and the sweep job.
type Janitor struct {
	store    session.Store
	metrics  *observability.Metrics
	logger   *observability.Logger
	schedule string
	cron     *cron.Cron
}

// New creates a janitor on the given schedule. An empty schedule uses
// DefaultSchedule.
func New(store session.Store, schedule string, metrics *observability.Metrics, logger *observability.Logger) *Janitor {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Janitor{
		store:    store,
		metrics:  metrics,
		logger:   logger,
		schedule: schedule,
		cron:     cron.New(),
	}
}

// Start registers the sweep job and starts the scheduler.
func (j *Janitor) Start() error {
	_, err := j.cron.AddFunc(j.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()
		if _, err := j.Sweep(ctx); err != nil {
			j.logger.WithError(err).Error("sweep failed")
		}
	})
	if err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

// Sweep removes expired rows and refreshes the active session gauge.
func (j *Janitor) Sweep(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	removed, err := j.store.DeleteExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		j.logger.WithField("removed", removed).Info("swept expired sessions and tokens")
	}

	if j.metrics != nil {
		if active, err := j.store.CountActiveSessions(ctx, now); err == nil {
			j.metrics.ActiveSessions.Set(float64(active))
		}
	}
	return removed, nil
}
