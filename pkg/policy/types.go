package policy

import (
	"time"
)

// Organization is the tenant boundary for roles, assignments, and sessions.
type Organization struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	IsActive      bool      `json:"is_active"`
	PolicyVersion int64     `json:"policy_version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// User is an authenticatable principal. A user may belong to multiple
// organizations through role assignments.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Role is an organization-scoped named bundle of permissions.
// Role names are unique per organization.
type Role struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Permission is a global named capability, conventionally "resource.action"
// (e.g. "doc.write"). Permissions are not organization-scoped; scoping
// happens through roles.
type Permission struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RolePermission binds a permission to a role.
type RolePermission struct {
	RoleID       string `json:"role_id"`
	PermissionID string `json:"permission_id"`
}

// RoleAssignment grants a user all permissions of a role within one
// organization. The role always belongs to the same organization as the
// assignment.
type RoleAssignment struct {
	UserID         string    `json:"user_id"`
	RoleID         string    `json:"role_id"`
	OrganizationID string    `json:"organization_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// PermissionSet is a materialized set of permission names.
type PermissionSet map[string]struct{}

// Contains reports whether the set contains the named permission.
func (s PermissionSet) Contains(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the permission names in the set, unordered.
func (s PermissionSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	return names
}
