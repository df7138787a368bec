package policy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL error code for unique constraint
// violations.
const uniqueViolation = "23505"

// PostgresStore implements Store using PostgreSQL. Every mutation runs in
// a transaction that locks the owning organization row and increments its
// policy version, so the version and the change commit together.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed policy store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateOrganization creates a new organization with policy version zero.
func (s *PostgresStore) CreateOrganization(ctx context.Context, name string) (*Organization, error) {
	org := &Organization{ID: uuid.NewString(), Name: name, IsActive: true}

	query := `
		INSERT INTO organizations (id, name, is_active, policy_version)
		VALUES ($1, $2, TRUE, 0)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query, org.ID, name).Scan(&org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}
	return org, nil
}

// GetOrganization retrieves an organization by ID.
func (s *PostgresStore) GetOrganization(ctx context.Context, orgID string) (*Organization, error) {
	query := `
		SELECT id, name, is_active, policy_version, created_at, updated_at
		FROM organizations
		WHERE id = $1
	`
	var org Organization
	err := s.db.QueryRowContext(ctx, query, orgID).Scan(
		&org.ID, &org.Name, &org.IsActive, &org.PolicyVersion, &org.CreatedAt, &org.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("organization %s: %w", orgID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return &org, nil
}

// GetOrganizationByName retrieves an organization by name. When several
// share the name the oldest wins.
func (s *PostgresStore) GetOrganizationByName(ctx context.Context, name string) (*Organization, error) {
	query := `
		SELECT id, name, is_active, policy_version, created_at, updated_at
		FROM organizations
		WHERE name = $1
		ORDER BY created_at
		LIMIT 1
	`
	var org Organization
	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&org.ID, &org.Name, &org.IsActive, &org.PolicyVersion, &org.CreatedAt, &org.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("organization %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return &org, nil
}

// CreateUser creates a new active user.
func (s *PostgresStore) CreateUser(ctx context.Context, email, passwordHash string) (*User, error) {
	user := &User{ID: uuid.NewString(), Email: email, PasswordHash: passwordHash, IsActive: true}

	query := `
		INSERT INTO users (id, email, password_hash, is_active)
		VALUES ($1, $2, $3, TRUE)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query, user.ID, email, passwordHash).Scan(&user.CreatedAt, &user.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("user %s: %w", email, ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUser retrieves a user by ID.
func (s *PostgresStore) GetUser(ctx context.Context, userID string) (*User, error) {
	return s.getUser(ctx, "id", userID)
}

// GetUserByEmail retrieves a user by email address.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, "email", email)
}

func (s *PostgresStore) getUser(ctx context.Context, column, value string) (*User, error) {
	query := fmt.Sprintf(`
		SELECT id, email, password_hash, is_active, created_at, updated_at
		FROM users
		WHERE %s = $1
	`, column)

	var user User
	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.IsActive, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", value, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// UpdateUserPassword replaces the user's credential hash.
func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	query := `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}

// CreatePermission creates a new global permission.
func (s *PostgresStore) CreatePermission(ctx context.Context, name, description string) (*Permission, error) {
	perm := &Permission{ID: uuid.NewString(), Name: name, Description: description}

	query := `
		INSERT INTO permissions (id, name, description)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`
	err := s.db.QueryRowContext(ctx, query, perm.ID, name, description).Scan(&perm.CreatedAt)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("permission %s: %w", name, ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create permission: %w", err)
	}
	return perm, nil
}

// GetPermissionByName retrieves a permission by name.
func (s *PostgresStore) GetPermissionByName(ctx context.Context, name string) (*Permission, error) {
	query := `SELECT id, name, description, created_at FROM permissions WHERE name = $1`

	var perm Permission
	err := s.db.QueryRowContext(ctx, query, name).Scan(&perm.ID, &perm.Name, &perm.Description, &perm.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("permission %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	return &perm, nil
}

// CreateRole creates an organization-scoped role and bumps the
// organization's policy version in the same transaction.
func (s *PostgresStore) CreateRole(ctx context.Context, orgID, name, description string) (*Role, error) {
	role := &Role{ID: uuid.NewString(), OrganizationID: orgID, Name: name, Description: description}

	err := s.mutate(ctx, orgID, func(tx *sql.Tx) error {
		query := `
			INSERT INTO roles (id, organization_id, name, description)
			VALUES ($1, $2, $3, $4)
			RETURNING created_at
		`
		err := tx.QueryRowContext(ctx, query, role.ID, orgID, name, description).Scan(&role.CreatedAt)
		if isUniqueViolation(err) {
			return fmt.Errorf("role %s in organization %s: %w", name, orgID, ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("failed to create role: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return role, nil
}

// DeleteRole removes a role and everything referencing it, bumping the
// owning organization's policy version.
func (s *PostgresStore) DeleteRole(ctx context.Context, roleID string) error {
	orgID, err := s.roleOrganization(ctx, roleID)
	if err != nil {
		return err
	}

	return s.mutate(ctx, orgID, func(tx *sql.Tx) error {
		// role_permissions and role_assignments cascade on delete
		res, err := tx.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, roleID)
		if err != nil {
			return fmt.Errorf("failed to delete role: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("role %s: %w", roleID, ErrNotFound)
		}
		return nil
	})
}

// BindPermission attaches a permission to a role.
func (s *PostgresStore) BindPermission(ctx context.Context, roleID, permissionID string) error {
	orgID, err := s.roleOrganization(ctx, roleID)
	if err != nil {
		return err
	}

	return s.mutate(ctx, orgID, func(tx *sql.Tx) error {
		query := `
			INSERT INTO role_permissions (role_id, permission_id)
			VALUES ($1, $2)
			ON CONFLICT (role_id, permission_id) DO NOTHING
		`
		if _, err := tx.ExecContext(ctx, query, roleID, permissionID); err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("permission %s: %w", permissionID, ErrNotFound)
			}
			return fmt.Errorf("failed to bind permission: %w", err)
		}
		return nil
	})
}

// UnbindPermission detaches a permission from a role.
func (s *PostgresStore) UnbindPermission(ctx context.Context, roleID, permissionID string) error {
	orgID, err := s.roleOrganization(ctx, roleID)
	if err != nil {
		return err
	}

	return s.mutate(ctx, orgID, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`,
			roleID, permissionID)
		if err != nil {
			return fmt.Errorf("failed to unbind permission: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("binding %s/%s: %w", roleID, permissionID, ErrNotFound)
		}
		return nil
	})
}

// AssignRole grants a role to a user within an organization. The role must
// belong to the same organization.
func (s *PostgresStore) AssignRole(ctx context.Context, userID, roleID, orgID string) error {
	roleOrg, err := s.roleOrganization(ctx, roleID)
	if err != nil {
		return err
	}
	if roleOrg != orgID {
		return fmt.Errorf("role %s does not belong to organization %s: %w", roleID, orgID, ErrNotFound)
	}

	return s.mutate(ctx, orgID, func(tx *sql.Tx) error {
		query := `
			INSERT INTO role_assignments (user_id, role_id, organization_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, role_id, organization_id) DO NOTHING
		`
		if _, err := tx.ExecContext(ctx, query, userID, roleID, orgID); err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("user %s: %w", userID, ErrNotFound)
			}
			return fmt.Errorf("failed to assign role: %w", err)
		}
		return nil
	})
}

// RevokeRole removes a role assignment.
func (s *PostgresStore) RevokeRole(ctx context.Context, userID, roleID, orgID string) error {
	return s.mutate(ctx, orgID, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM role_assignments WHERE user_id = $1 AND role_id = $2 AND organization_id = $3`,
			userID, roleID, orgID)
		if err != nil {
			return fmt.Errorf("failed to revoke role: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("assignment %s/%s: %w", userID, roleID, ErrNotFound)
		}
		return nil
	})
}

// RolesForUser returns the roles assigned to the user within the
// organization.
func (s *PostgresStore) RolesForUser(ctx context.Context, userID, orgID string) ([]Role, error) {
	query := `
		SELECT r.id, r.organization_id, r.name, r.description, r.created_at
		FROM roles r
		JOIN role_assignments ra ON ra.role_id = r.id
		WHERE ra.user_id = $1 AND ra.organization_id = $2
	`
	rows, err := s.db.QueryContext(ctx, query, userID, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles for user: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.OrganizationID, &role.Name, &role.Description, &role.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// PermissionsForRole returns the permissions bound to the role.
func (s *PostgresStore) PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error) {
	query := `
		SELECT p.id, p.name, p.description, p.created_at
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = $1
	`
	rows, err := s.db.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query permissions for role: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var perm Permission
		if err := rows.Scan(&perm.ID, &perm.Name, &perm.Description, &perm.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

// PolicyVersion returns the organization's current policy version.
func (s *PostgresStore) PolicyVersion(ctx context.Context, orgID string) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `SELECT policy_version FROM organizations WHERE id = $1`, orgID).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("organization %s: %w", orgID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read policy version: %w", err)
	}
	return version, nil
}

// mutate runs fn inside a transaction that first locks the organization
// row and increments its policy version. If fn fails the whole
// transaction, including the version bump, rolls back.
func (s *PostgresStore) mutate(ctx context.Context, orgID string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE organizations SET policy_version = policy_version + 1, updated_at = NOW() WHERE id = $1`,
		orgID)
	if err != nil {
		return fmt.Errorf("failed to bump policy version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("organization %s: %w", orgID, ErrNotFound)
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) roleOrganization(ctx context.Context, roleID string) (string, error) {
	var orgID string
	err := s.db.QueryRowContext(ctx, `SELECT organization_id FROM roles WHERE id = $1`, roleID).Scan(&orgID)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("role %s: %w", roleID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get role: %w", err)
	}
	return orgID, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
