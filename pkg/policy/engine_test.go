package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store *MemoryStore
	org   *Organization
	user  *User
	role  *Role
	perm  *Permission
}

// newFixture creates an org with an "editor" role bound to "doc.write",
// assigned to a single user.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := NewMemoryStore()

	org, err := store.CreateOrganization(ctx, "acme")
	require.NoError(t, err)

	user, err := store.CreateUser(ctx, "editor@acme.test", "hash")
	require.NoError(t, err)

	role, err := store.CreateRole(ctx, org.ID, "editor", "")
	require.NoError(t, err)

	perm, err := store.CreatePermission(ctx, "doc.write", "")
	require.NoError(t, err)

	require.NoError(t, store.BindPermission(ctx, role.ID, perm.ID))
	require.NoError(t, store.AssignRole(ctx, user.ID, role.ID, org.ID))

	return &fixture{store: store, org: org, user: user, role: role, perm: perm}
}

func TestCheckAllowsAssignedPermission(t *testing.T) {
	f := newFixture(t)
	engine := NewEngine(f.store)
	ctx := context.Background()

	allowed, version, err := engine.Check(ctx, f.user.ID, f.org.ID, "doc.write")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Greater(t, version, int64(0))

	allowed, _, err = engine.Check(ctx, f.user.ID, f.org.ID, "doc.delete")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestCheckDeniesAcrossOrganizations(t *testing.T) {
	f := newFixture(t)
	engine := NewEngine(f.store)
	ctx := context.Background()

	// Same permission name exists in another org but the user has no
	// assignment there.
	orgB, err := f.store.CreateOrganization(ctx, "globex")
	require.NoError(t, err)

	allowed, _, err := engine.Check(ctx, f.user.ID, orgB.ID, "doc.write")
	require.NoError(t, err)
	assert.False(t, allowed, "permissions must not leak across organizations")
}

func TestEffectivePermissionsIsUnionOfRoles(t *testing.T) {
	f := newFixture(t)
	engine := NewEngine(f.store)
	ctx := context.Background()

	reviewer, err := f.store.CreateRole(ctx, f.org.ID, "reviewer", "")
	require.NoError(t, err)
	readPerm, err := f.store.CreatePermission(ctx, "doc.read", "")
	require.NoError(t, err)
	require.NoError(t, f.store.BindPermission(ctx, reviewer.ID, readPerm.ID))
	require.NoError(t, f.store.AssignRole(ctx, f.user.ID, reviewer.ID, f.org.ID))

	perms, _, err := engine.EffectivePermissions(ctx, f.user.ID, f.org.ID)
	require.NoError(t, err)
	assert.True(t, perms.Contains("doc.write"))
	assert.True(t, perms.Contains("doc.read"))
	assert.Len(t, perms, 2)
}

func TestAssignThenRevokeRestoresPermissionSet(t *testing.T) {
	f := newFixture(t)
	engine := NewEngine(f.store)
	ctx := context.Background()

	before, _, err := engine.EffectivePermissions(ctx, f.user.ID, f.org.ID)
	require.NoError(t, err)

	auditor, err := f.store.CreateRole(ctx, f.org.ID, "auditor", "")
	require.NoError(t, err)
	auditPerm, err := f.store.CreatePermission(ctx, "audit.read", "")
	require.NoError(t, err)
	require.NoError(t, f.store.BindPermission(ctx, auditor.ID, auditPerm.ID))
	require.NoError(t, f.store.AssignRole(ctx, f.user.ID, auditor.ID, f.org.ID))

	during, _, err := engine.EffectivePermissions(ctx, f.user.ID, f.org.ID)
	require.NoError(t, err)
	assert.True(t, during.Contains("audit.read"))

	require.NoError(t, f.store.RevokeRole(ctx, f.user.ID, auditor.ID, f.org.ID))

	after, _, err := engine.EffectivePermissions(ctx, f.user.ID, f.org.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, before.Names(), after.Names())
}

func TestEveryMutationBumpsPolicyVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	version := func() int64 {
		v, err := f.store.PolicyVersion(ctx, f.org.ID)
		require.NoError(t, err)
		return v
	}

	v0 := version()

	role, err := f.store.CreateRole(ctx, f.org.ID, "temp", "")
	require.NoError(t, err)
	assert.Equal(t, v0+1, version())

	require.NoError(t, f.store.BindPermission(ctx, role.ID, f.perm.ID))
	assert.Equal(t, v0+2, version())

	require.NoError(t, f.store.AssignRole(ctx, f.user.ID, role.ID, f.org.ID))
	assert.Equal(t, v0+3, version())

	require.NoError(t, f.store.RevokeRole(ctx, f.user.ID, role.ID, f.org.ID))
	assert.Equal(t, v0+4, version())

	require.NoError(t, f.store.DeleteRole(ctx, role.ID))
	assert.Equal(t, v0+5, version())
}

func TestCreateRoleDuplicateNameConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.CreateRole(ctx, f.org.ID, "editor", "")
	assert.ErrorIs(t, err, ErrConflict)

	// Same name in a different org is fine.
	orgB, err := f.store.CreateOrganization(ctx, "globex")
	require.NoError(t, err)
	_, err = f.store.CreateRole(ctx, orgB.ID, "editor", "")
	assert.NoError(t, err)
}

func TestAssignRoleRejectsCrossOrgRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	orgB, err := f.store.CreateOrganization(ctx, "globex")
	require.NoError(t, err)

	err = f.store.AssignRole(ctx, f.user.ID, f.role.ID, orgB.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMissingEntitiesReturnNotFound(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.GetOrganization(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.PermissionsForRole(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.DeleteRole(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.PolicyVersion(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRoleRemovesAssignments(t *testing.T) {
	f := newFixture(t)
	engine := NewEngine(f.store)
	ctx := context.Background()

	require.NoError(t, f.store.DeleteRole(ctx, f.role.ID))

	allowed, _, err := engine.Check(ctx, f.user.ID, f.org.ID, "doc.write")
	require.NoError(t, err)
	assert.False(t, allowed)
}
