package policy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the policy and session schema migrations in order.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create organizations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS organizations (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					policy_version BIGINT NOT NULL DEFAULT 0,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id UUID PRIMARY KEY,
					email VARCHAR(320) NOT NULL UNIQUE,
					password_hash VARCHAR(255) NOT NULL,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
			`,
		},
		{
			Version:     3,
			Description: "Create roles and permissions tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id UUID PRIMARY KEY,
					organization_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE(organization_id, name)
				);

				CREATE TABLE IF NOT EXISTS permissions (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					description TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_roles_organization_id ON roles(organization_id);
			`,
		},
		{
			Version:     4,
			Description: "Create role_permissions and role_assignments tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_permissions (
					role_id UUID NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_id UUID NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					PRIMARY KEY (role_id, permission_id)
				);

				CREATE TABLE IF NOT EXISTS role_assignments (
					user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role_id UUID NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					organization_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (user_id, role_id, organization_id)
				);

				CREATE INDEX IF NOT EXISTS idx_role_assignments_user_org ON role_assignments(user_id, organization_id);
			`,
		},
		{
			Version:     5,
			Description: "Create sessions and refresh_tokens tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS sessions (
					id UUID PRIMARY KEY,
					user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					organization_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					family_id UUID NOT NULL,
					ip_address VARCHAR(64) NOT NULL DEFAULT '',
					user_agent TEXT NOT NULL DEFAULT '',
					login_method VARCHAR(32) NOT NULL DEFAULT 'password',
					revoked BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					expires_at TIMESTAMPTZ NOT NULL
				);

				CREATE TABLE IF NOT EXISTS refresh_tokens (
					token_hash VARCHAR(64) PRIMARY KEY,
					session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
					family_id UUID NOT NULL,
					predecessor_hash VARCHAR(64),
					used BOOLEAN NOT NULL DEFAULT FALSE,
					issued_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					expires_at TIMESTAMPTZ NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
				CREATE INDEX IF NOT EXISTS idx_refresh_tokens_family_id ON refresh_tokens(family_id);
				CREATE INDEX IF NOT EXISTS idx_refresh_tokens_expires_at ON refresh_tokens(expires_at);
			`,
		},
	}
}

// RunMigrations applies all migrations in order. Each migration runs in
// its own transaction and is recorded in schema_migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	for _, m := range GetMigrations() {
		var exists bool
		err := db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`,
			m.Version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check migration %d: %w", m.Version, err)
		}
		if exists {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, description) VALUES ($1, $2)`,
			m.Version, m.Description); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SeedDefaults creates a default organization, admin role, and baseline
// permissions in the given store if they do not already exist. Used by
// first-run bootstrap; safe to run on every start.
func SeedDefaults(ctx context.Context, store Store) (*Organization, error) {
	org, err := store.GetOrganizationByName(ctx, "default")
	if err == nil {
		return org, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to look up default organization: %w", err)
	}

	org, err = store.CreateOrganization(ctx, "default")
	if err != nil {
		return nil, fmt.Errorf("failed to create default organization: %w", err)
	}

	admin, err := store.CreateRole(ctx, org.ID, "admin", "Full administrative access")
	if err != nil {
		return nil, fmt.Errorf("failed to create admin role: %w", err)
	}

	for _, p := range []struct{ name, description string }{
		{"org.manage", "Manage organization settings"},
		{"role.manage", "Create, edit, and delete roles"},
		{"user.manage", "Invite and remove users"},
	} {
		perm, err := store.CreatePermission(ctx, p.name, p.description)
		if errors.Is(err, ErrConflict) {
			// The permission is global and may predate this org.
			perm, err = store.GetPermissionByName(ctx, p.name)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create permission %s: %w", p.name, err)
		}
		if err := store.BindPermission(ctx, admin.ID, perm.ID); err != nil {
			return nil, fmt.Errorf("failed to bind permission %s: %w", p.name, err)
		}
	}

	return org, nil
}
