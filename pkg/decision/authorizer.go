package decision

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gatehouse-io/gatehouse/pkg/observability"
	"github.com/gatehouse-io/gatehouse/pkg/policy"
)

// Authorizer answers allow/deny checks, consulting the cache before the
// policy engine. It is the implementation of the inbound
// authorize(user, org, permission) operation.
type Authorizer struct {
	engine  *policy.Engine
	store   policy.Store
	cache   Cache
	group   singleflight.Group
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewAuthorizer creates an authorizer. cache and metrics may be nil; a nil
// cache means every check evaluates the policy engine directly.
func NewAuthorizer(engine *policy.Engine, store policy.Store, cache Cache, metrics *observability.Metrics, logger *observability.Logger) *Authorizer {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Authorizer{
		engine:  engine,
		store:   store,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
	}
}

// Authorize reports whether the user holds the permission within the
// organization. Cache failures degrade to direct evaluation and are never
// surfaced to the caller.
func (a *Authorizer) Authorize(ctx context.Context, userID, orgID, permission string) (bool, error) {
	if a.cache == nil {
		return a.evaluate(ctx, userID, orgID, permission)
	}

	currentVersion, err := a.store.PolicyVersion(ctx, orgID)
	if err != nil {
		return false, err
	}

	cached, err := a.cache.Get(ctx, userID, orgID, permission)
	if err != nil {
		a.cacheDegraded(err)
		return a.evaluate(ctx, userID, orgID, permission)
	}
	if cached != nil && cached.PolicyVersion == currentVersion {
		if a.metrics != nil {
			a.metrics.CacheHitsTotal.Inc()
			a.metrics.RecordDecision(cached.Allowed, "cache")
		}
		return cached.Allowed, nil
	}

	if a.metrics != nil {
		a.metrics.CacheMissesTotal.Inc()
	}

	// Coalesce concurrent misses for the same key into one evaluation.
	// Duplicate evaluation would be safe (the engine is pure), just
	// wasteful.
	key := userID + "\x00" + orgID + "\x00" + permission
	result, err, _ := a.group.Do(key, func() (interface{}, error) {
		allowed, version, err := a.check(ctx, userID, orgID, permission)
		if err != nil {
			return nil, err
		}

		d := Decision{Allowed: allowed, PolicyVersion: version, CachedAt: time.Now().UTC()}
		if putErr := a.cache.Put(ctx, userID, orgID, permission, d); putErr != nil {
			a.cacheDegraded(putErr)
		}
		return allowed, nil
	})
	if err != nil {
		return false, err
	}

	allowed := result.(bool)
	if a.metrics != nil {
		a.metrics.RecordDecision(allowed, "engine")
	}
	return allowed, nil
}

// EffectivePermissions exposes the engine's permission set computation
// for callers that need the full set rather than a single decision.
func (a *Authorizer) EffectivePermissions(ctx context.Context, userID, orgID string) (policy.PermissionSet, error) {
	perms, _, err := a.engine.EffectivePermissions(ctx, userID, orgID)
	return perms, err
}

// InvalidateOrg stales all cached decisions for the organization.
func (a *Authorizer) InvalidateOrg(ctx context.Context, orgID string) error {
	if a.cache == nil {
		return nil
	}
	return a.cache.InvalidateOrg(ctx, orgID)
}

// InvalidateUser drops cached decisions for one user-org pair.
func (a *Authorizer) InvalidateUser(ctx context.Context, userID, orgID string) error {
	if a.cache == nil {
		return nil
	}
	return a.cache.InvalidateUser(ctx, userID, orgID)
}

func (a *Authorizer) evaluate(ctx context.Context, userID, orgID, permission string) (bool, error) {
	allowed, _, err := a.check(ctx, userID, orgID, permission)
	if err != nil {
		return false, err
	}
	if a.metrics != nil {
		a.metrics.RecordDecision(allowed, "engine")
	}
	return allowed, nil
}

func (a *Authorizer) check(ctx context.Context, userID, orgID, permission string) (bool, int64, error) {
	start := time.Now()
	allowed, version, err := a.engine.Check(ctx, userID, orgID, permission)
	if a.metrics != nil {
		a.metrics.AuthzEvalDuration.Observe(time.Since(start).Seconds())
	}
	return allowed, version, err
}

func (a *Authorizer) cacheDegraded(err error) {
	if a.metrics != nil {
		a.metrics.CacheErrorsTotal.Inc()
	}
	a.logger.WithError(err).Warn("decision cache unavailable, evaluating directly")
}
