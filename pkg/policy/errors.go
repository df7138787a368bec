package policy

import "errors"

var (
	// ErrNotFound is returned when a referenced organization, user, role,
	// or permission does not exist.
	ErrNotFound = errors.New("policy: not found")

	// ErrConflict is returned on a duplicate policy entity, such as a role
	// name already taken within an organization.
	ErrConflict = errors.New("policy: already exists")
)
