package policy

import "context"

// Store is the durable record of policy data. Implementations must make
// every mutation atomic with the owning organization's policy version
// increment: the change and the new version become visible together, never
// partially.
type Store interface {
	// Organizations
	CreateOrganization(ctx context.Context, name string) (*Organization, error)
	GetOrganization(ctx context.Context, orgID string) (*Organization, error)
	GetOrganizationByName(ctx context.Context, name string) (*Organization, error)

	// Users
	CreateUser(ctx context.Context, email, passwordHash string) (*User, error)
	GetUser(ctx context.Context, userID string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error

	// Permissions (global)
	CreatePermission(ctx context.Context, name, description string) (*Permission, error)
	GetPermissionByName(ctx context.Context, name string) (*Permission, error)

	// Role mutations. Each bumps the organization policy version in the
	// same transaction.
	CreateRole(ctx context.Context, orgID, name, description string) (*Role, error)
	DeleteRole(ctx context.Context, roleID string) error
	BindPermission(ctx context.Context, roleID, permissionID string) error
	UnbindPermission(ctx context.Context, roleID, permissionID string) error
	AssignRole(ctx context.Context, userID, roleID, orgID string) error
	RevokeRole(ctx context.Context, userID, roleID, orgID string) error

	// Snapshot reads used by the engine.
	RolesForUser(ctx context.Context, userID, orgID string) ([]Role, error)
	PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error)
	PolicyVersion(ctx context.Context, orgID string) (int64, error)
}
