// Package policy implements the durable policy store and the pure policy
// engine for organization-scoped role based access control.
//
// The store records organizations, users, roles, global permissions,
// role-permission bindings, and user-role assignments. Every mutation
// increments the owning organization's policy version in the same
// transaction as the change, so cached decisions stamped with an older
// version can be recognized as stale.
//
// The engine is a pure function over store snapshots: the effective
// permission set for (user, organization) is exactly the union of the
// permissions of every role assigned to that user in that organization.
// Given the same policy version the engine always produces the same
// result, which is what makes decision caching sound.
package policy
