package policy

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func TestPostgresGetOrganizationByName(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	now := time.Now()
	mock.ExpectQuery(`SELECT id, name, is_active, policy_version, created_at, updated_at\s+FROM organizations\s+WHERE name = \$1`).
		WithArgs("default").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "name", "is_active", "policy_version", "created_at", "updated_at"}).
			AddRow("org-1", "default", true, int64(3), now, now))

	org, err := store.GetOrganizationByName(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, "org-1", org.ID)
	assert.Equal(t, int64(3), org.PolicyVersion)
	assert.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectQuery(`FROM organizations\s+WHERE name = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	_, err = store.GetOrganizationByName(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresCreateRoleBumpsVersionInTransaction(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE organizations SET policy_version = policy_version \+ 1`).
		WithArgs("org-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO roles`).
		WithArgs(sqlmock.AnyArg(), "org-1", "editor", "").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectCommit()

	role, err := store.CreateRole(ctx, "org-1", "editor", "")
	require.NoError(t, err)
	assert.Equal(t, "org-1", role.OrganizationID)
	assert.Equal(t, "editor", role.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateRoleRollsBackOnInsertFailure(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE organizations SET policy_version = policy_version \+ 1`).
		WithArgs("org-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO roles`).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err := store.CreateRole(ctx, "org-1", "editor", "")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMutationOnMissingOrgReturnsNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE organizations SET policy_version = policy_version \+ 1`).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := store.CreateRole(ctx, "missing", "editor", "")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAssignRoleRejectsCrossOrgRole(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT organization_id FROM roles`).
		WithArgs("role-1").
		WillReturnRows(sqlmock.NewRows([]string{"organization_id"}).AddRow("org-other"))

	err := store.AssignRole(ctx, "user-1", "role-1", "org-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRolesForUser(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"id", "organization_id", "name", "description", "created_at"}).
		AddRow("role-1", "org-1", "editor", "", time.Now()).
		AddRow("role-2", "org-1", "reviewer", "", time.Now())
	mock.ExpectQuery(`SELECT r.id, r.organization_id, r.name`).
		WithArgs("user-1", "org-1").
		WillReturnRows(rows)

	roles, err := store.RolesForUser(ctx, "user-1", "org-1")
	require.NoError(t, err)
	assert.Len(t, roles, 2)
	assert.Equal(t, "editor", roles[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPolicyVersion(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT policy_version FROM organizations`).
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{"policy_version"}).AddRow(int64(7)))

	version, err := store.PolicyVersion(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), version)

	mock.ExpectQuery(`SELECT policy_version FROM organizations`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"policy_version"}))

	_, err = store.PolicyVersion(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresRevokeRoleMissingAssignment(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE organizations SET policy_version = policy_version \+ 1`).
		WithArgs("org-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM role_assignments`).
		WithArgs("user-1", "role-1", "org-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.RevokeRole(ctx, "user-1", "role-1", "org-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
