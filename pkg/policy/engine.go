package policy

import (
	"context"
	"fmt"
)

// Engine computes effective permissions and allow/deny decisions from
// policy store snapshots. It holds no state and performs no I/O beyond
// store reads, so results are deterministic for a given policy version.
type Engine struct {
	store Store
}

// NewEngine creates a policy engine over the given store.
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// EffectivePermissions returns the union of permissions over all roles
// assigned to the user in the organization, together with the policy
// version the result was computed at.
func (e *Engine) EffectivePermissions(ctx context.Context, userID, orgID string) (PermissionSet, int64, error) {
	version, err := e.store.PolicyVersion(ctx, orgID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read policy version: %w", err)
	}

	roles, err := e.store.RolesForUser(ctx, userID, orgID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get roles for user: %w", err)
	}

	perms := make(PermissionSet)
	for _, role := range roles {
		rolePerms, err := e.store.PermissionsForRole(ctx, role.ID)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to get permissions for role %s: %w", role.ID, err)
		}
		for _, p := range rolePerms {
			perms[p.Name] = struct{}{}
		}
	}

	return perms, version, nil
}

// Check reports whether the user holds the named permission within the
// organization, with the policy version the decision is valid for.
func (e *Engine) Check(ctx context.Context, userID, orgID, permission string) (bool, int64, error) {
	perms, version, err := e.EffectivePermissions(ctx, userID, orgID)
	if err != nil {
		return false, 0, err
	}
	return perms.Contains(permission), version, nil
}
