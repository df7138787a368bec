package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and single-node deployments.
// All operations are guarded by a single RWMutex, which gives mutations
// the same atomicity guarantee as a database transaction: the version bump
// and the change become visible together.
type MemoryStore struct {
	mu sync.RWMutex

	orgs        map[string]*Organization
	users       map[string]*User
	usersByMail map[string]string
	roles       map[string]*Role
	permissions map[string]*Permission
	permsByName map[string]string
	bindings    map[string]map[string]struct{} // roleID -> permissionID set
	assignments map[string]map[string]struct{} // userID|orgID -> roleID set
}

// NewMemoryStore creates an empty in-memory policy store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orgs:        make(map[string]*Organization),
		users:       make(map[string]*User),
		usersByMail: make(map[string]string),
		roles:       make(map[string]*Role),
		permissions: make(map[string]*Permission),
		permsByName: make(map[string]string),
		bindings:    make(map[string]map[string]struct{}),
		assignments: make(map[string]map[string]struct{}),
	}
}

func assignmentKey(userID, orgID string) string {
	return userID + "|" + orgID
}

// CreateOrganization creates a new organization with policy version zero.
func (s *MemoryStore) CreateOrganization(ctx context.Context, name string) (*Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	org := &Organization{
		ID:        uuid.NewString(),
		Name:      name,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.orgs[org.ID] = org
	return cloneOrg(org), nil
}

// GetOrganization retrieves an organization by ID.
func (s *MemoryStore) GetOrganization(ctx context.Context, orgID string) (*Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org, ok := s.orgs[orgID]
	if !ok {
		return nil, fmt.Errorf("organization %s: %w", orgID, ErrNotFound)
	}
	return cloneOrg(org), nil
}

// GetOrganizationByName retrieves an organization by name. When several
// share the name the oldest wins.
func (s *MemoryStore) GetOrganizationByName(ctx context.Context, name string) (*Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var match *Organization
	for _, org := range s.orgs {
		if org.Name != name {
			continue
		}
		if match == nil || org.CreatedAt.Before(match.CreatedAt) {
			match = org
		}
	}
	if match == nil {
		return nil, fmt.Errorf("organization %s: %w", name, ErrNotFound)
	}
	return cloneOrg(match), nil
}

// CreateUser creates a new active user.
func (s *MemoryStore) CreateUser(ctx context.Context, email, passwordHash string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByMail[email]; exists {
		return nil, fmt.Errorf("user %s: %w", email, ErrConflict)
	}

	now := time.Now().UTC()
	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.users[user.ID] = user
	s.usersByMail[email] = user.ID
	return cloneUser(user), nil
}

// GetUser retrieves a user by ID.
func (s *MemoryStore) GetUser(ctx context.Context, userID string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return cloneUser(user), nil
}

// GetUserByEmail retrieves a user by email address.
func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.usersByMail[email]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", email, ErrNotFound)
	}
	return cloneUser(s.users[userID]), nil
}

// UpdateUserPassword replaces the user's credential hash.
func (s *MemoryStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = time.Now().UTC()
	return nil
}

// CreatePermission creates a new global permission.
func (s *MemoryStore) CreatePermission(ctx context.Context, name, description string) (*Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.permsByName[name]; exists {
		return nil, fmt.Errorf("permission %s: %w", name, ErrConflict)
	}

	perm := &Permission{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	s.permissions[perm.ID] = perm
	s.permsByName[name] = perm.ID
	return clonePermission(perm), nil
}

// GetPermissionByName retrieves a permission by name.
func (s *MemoryStore) GetPermissionByName(ctx context.Context, name string) (*Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	permID, ok := s.permsByName[name]
	if !ok {
		return nil, fmt.Errorf("permission %s: %w", name, ErrNotFound)
	}
	return clonePermission(s.permissions[permID]), nil
}

// CreateRole creates a role scoped to an organization and bumps the
// organization's policy version.
func (s *MemoryStore) CreateRole(ctx context.Context, orgID, name, description string) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.orgs[orgID]
	if !ok {
		return nil, fmt.Errorf("organization %s: %w", orgID, ErrNotFound)
	}
	for _, role := range s.roles {
		if role.OrganizationID == orgID && role.Name == name {
			return nil, fmt.Errorf("role %s in organization %s: %w", name, orgID, ErrConflict)
		}
	}

	role := &Role{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		Name:           name,
		Description:    description,
		CreatedAt:      time.Now().UTC(),
	}
	s.roles[role.ID] = role
	s.bumpVersionLocked(org)
	return cloneRole(role), nil
}

// DeleteRole removes a role, its permission bindings, and its assignments,
// bumping the organization's policy version.
func (s *MemoryStore) DeleteRole(ctx context.Context, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	role, ok := s.roles[roleID]
	if !ok {
		return fmt.Errorf("role %s: %w", roleID, ErrNotFound)
	}

	delete(s.roles, roleID)
	delete(s.bindings, roleID)
	for key, roleSet := range s.assignments {
		delete(roleSet, roleID)
		if len(roleSet) == 0 {
			delete(s.assignments, key)
		}
	}
	s.bumpVersionLocked(s.orgs[role.OrganizationID])
	return nil
}

// BindPermission attaches a permission to a role.
func (s *MemoryStore) BindPermission(ctx context.Context, roleID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	role, ok := s.roles[roleID]
	if !ok {
		return fmt.Errorf("role %s: %w", roleID, ErrNotFound)
	}
	if _, ok := s.permissions[permissionID]; !ok {
		return fmt.Errorf("permission %s: %w", permissionID, ErrNotFound)
	}

	if s.bindings[roleID] == nil {
		s.bindings[roleID] = make(map[string]struct{})
	}
	s.bindings[roleID][permissionID] = struct{}{}
	s.bumpVersionLocked(s.orgs[role.OrganizationID])
	return nil
}

// UnbindPermission detaches a permission from a role.
func (s *MemoryStore) UnbindPermission(ctx context.Context, roleID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	role, ok := s.roles[roleID]
	if !ok {
		return fmt.Errorf("role %s: %w", roleID, ErrNotFound)
	}
	if _, ok := s.bindings[roleID][permissionID]; !ok {
		return fmt.Errorf("binding %s/%s: %w", roleID, permissionID, ErrNotFound)
	}

	delete(s.bindings[roleID], permissionID)
	s.bumpVersionLocked(s.orgs[role.OrganizationID])
	return nil
}

// AssignRole grants a role to a user within an organization. The role must
// belong to the same organization as the assignment.
func (s *MemoryStore) AssignRole(ctx context.Context, userID, roleID, orgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	role, ok := s.roles[roleID]
	if !ok {
		return fmt.Errorf("role %s: %w", roleID, ErrNotFound)
	}
	if role.OrganizationID != orgID {
		return fmt.Errorf("role %s does not belong to organization %s: %w", roleID, orgID, ErrNotFound)
	}

	key := assignmentKey(userID, orgID)
	if s.assignments[key] == nil {
		s.assignments[key] = make(map[string]struct{})
	}
	s.assignments[key][roleID] = struct{}{}
	s.bumpVersionLocked(s.orgs[orgID])
	return nil
}

// RevokeRole removes a role assignment.
func (s *MemoryStore) RevokeRole(ctx context.Context, userID, roleID, orgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := assignmentKey(userID, orgID)
	if _, ok := s.assignments[key][roleID]; !ok {
		return fmt.Errorf("assignment %s/%s: %w", userID, roleID, ErrNotFound)
	}

	delete(s.assignments[key], roleID)
	if len(s.assignments[key]) == 0 {
		delete(s.assignments, key)
	}
	s.bumpVersionLocked(s.orgs[orgID])
	return nil
}

// RolesForUser returns the roles assigned to the user within the
// organization.
func (s *MemoryStore) RolesForUser(ctx context.Context, userID, orgID string) ([]Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var roles []Role
	for roleID := range s.assignments[assignmentKey(userID, orgID)] {
		if role, ok := s.roles[roleID]; ok {
			roles = append(roles, *role)
		}
	}
	return roles, nil
}

// PermissionsForRole returns the permissions bound to the role.
func (s *MemoryStore) PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.roles[roleID]; !ok {
		return nil, fmt.Errorf("role %s: %w", roleID, ErrNotFound)
	}

	var perms []Permission
	for permID := range s.bindings[roleID] {
		if perm, ok := s.permissions[permID]; ok {
			perms = append(perms, *perm)
		}
	}
	return perms, nil
}

// PolicyVersion returns the organization's current policy version.
func (s *MemoryStore) PolicyVersion(ctx context.Context, orgID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org, ok := s.orgs[orgID]
	if !ok {
		return 0, fmt.Errorf("organization %s: %w", orgID, ErrNotFound)
	}
	return org.PolicyVersion, nil
}

func (s *MemoryStore) bumpVersionLocked(org *Organization) {
	if org == nil {
		return
	}
	org.PolicyVersion++
	org.UpdatedAt = time.Now().UTC()
}

func cloneOrg(org *Organization) *Organization {
	c := *org
	return &c
}

func cloneUser(user *User) *User {
	c := *user
	return &c
}

func cloneRole(role *Role) *Role {
	c := *role
	return &c
}

func clonePermission(perm *Permission) *Permission {
	c := *perm
	return &c
}
