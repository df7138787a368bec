package policy

import (
	"context"

	"github.com/gatehouse-io/gatehouse/pkg/observability"
)

// Invalidator drops or stales cached decisions after a policy mutation.
// Implemented by the decision cache.
type Invalidator interface {
	// InvalidateOrg stales every cached decision for the organization.
	InvalidateOrg(ctx context.Context, orgID string) error
	// InvalidateUser drops cached decisions for one user-org pair.
	InvalidateUser(ctx context.Context, userID, orgID string) error
}

// EventPublisher is the subset of the event publisher the admin service
// needs. Publishing is best-effort and never fails the mutation.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, payload map[string]interface{}) error
}

// TopicPolicyChanged is emitted after every successful policy mutation.
const TopicPolicyChanged = "policy.changed"

// Admin performs administrative policy mutations. Each successful mutation
// synchronously invalidates affected cache entries and emits a
// policy-changed event. The durable write happens first; a cache or
// publish failure never rolls it back (the version check makes stale
// entries self-invalidating).
type Admin struct {
	store       Store
	invalidator Invalidator
	publisher   EventPublisher
	metrics     *observability.Metrics
	logger      *observability.Logger
}

// NewAdmin creates an admin service. invalidator, publisher, and metrics
// may be nil.
func NewAdmin(store Store, invalidator Invalidator, publisher EventPublisher, metrics *observability.Metrics, logger *observability.Logger) *Admin {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Admin{
		store:       store,
		invalidator: invalidator,
		publisher:   publisher,
		metrics:     metrics,
		logger:      logger,
	}
}

// CreateRole creates a role within an organization.
func (a *Admin) CreateRole(ctx context.Context, orgID, name, description string) (*Role, error) {
	role, err := a.store.CreateRole(ctx, orgID, name, description)
	if err != nil {
		return nil, err
	}
	a.afterMutation(ctx, "create_role", orgID, "", map[string]interface{}{
		"role_id": role.ID,
		"name":    name,
	})
	return role, nil
}

// DeleteRole deletes a role from an organization.
func (a *Admin) DeleteRole(ctx context.Context, orgID, roleID string) error {
	if err := a.store.DeleteRole(ctx, roleID); err != nil {
		return err
	}
	a.afterMutation(ctx, "delete_role", orgID, "", map[string]interface{}{
		"role_id": roleID,
	})
	return nil
}

// BindPermission attaches a permission to a role.
func (a *Admin) BindPermission(ctx context.Context, orgID, roleID, permissionID string) error {
	if err := a.store.BindPermission(ctx, roleID, permissionID); err != nil {
		return err
	}
	a.afterMutation(ctx, "bind_permission", orgID, "", map[string]interface{}{
		"role_id":       roleID,
		"permission_id": permissionID,
	})
	return nil
}

// UnbindPermission detaches a permission from a role.
func (a *Admin) UnbindPermission(ctx context.Context, orgID, roleID, permissionID string) error {
	if err := a.store.UnbindPermission(ctx, roleID, permissionID); err != nil {
		return err
	}
	a.afterMutation(ctx, "unbind_permission", orgID, "", map[string]interface{}{
		"role_id":       roleID,
		"permission_id": permissionID,
	})
	return nil
}

// AssignRole grants a role to a user. Invalidation is scoped to the
// user-org pair since no other subject's decisions change.
func (a *Admin) AssignRole(ctx context.Context, userID, roleID, orgID string) error {
	if err := a.store.AssignRole(ctx, userID, roleID, orgID); err != nil {
		return err
	}
	a.afterMutation(ctx, "assign_role", orgID, userID, map[string]interface{}{
		"user_id": userID,
		"role_id": roleID,
	})
	return nil
}

// RevokeRole removes a role assignment.
func (a *Admin) RevokeRole(ctx context.Context, userID, roleID, orgID string) error {
	if err := a.store.RevokeRole(ctx, userID, roleID, orgID); err != nil {
		return err
	}
	a.afterMutation(ctx, "revoke_role", orgID, userID, map[string]interface{}{
		"user_id": userID,
		"role_id": roleID,
	})
	return nil
}

func (a *Admin) afterMutation(ctx context.Context, operation, orgID, userID string, payload map[string]interface{}) {
	if a.metrics != nil {
		a.metrics.PolicyMutationsTotal.WithLabelValues(operation).Inc()
	}

	if a.invalidator != nil {
		var err error
		if userID != "" {
			err = a.invalidator.InvalidateUser(ctx, userID, orgID)
		} else {
			err = a.invalidator.InvalidateOrg(ctx, orgID)
		}
		if err != nil {
			// Stale entries fail the version check on read, so a missed
			// invalidation degrades to extra cache misses, not wrong
			// decisions.
			a.logger.WithError(err).WithField("org_id", orgID).Warn("cache invalidation failed after policy mutation")
		}
	}

	if a.publisher != nil {
		payload["operation"] = operation
		payload["organization_id"] = orgID
		if err := a.publisher.Publish(ctx, TopicPolicyChanged, payload); err != nil {
			a.logger.WithError(err).Warn("failed to publish policy change event")
		}
	}
}
