// Package decision implements the authorization decision cache and the
// Authorizer that sits in front of the policy engine.
//
// Cached decisions are stamped with the policy version they were computed
// at. A cached entry is honored only while its stamp matches the
// organization's current policy version, so invalidation after a policy
// mutation is immediate rather than TTL-bounded. A per-organization epoch
// provides coarse invalidation without deleting entries; TTL expiry is a
// secondary eviction mechanism bounding memory growth.
//
// Cache backend failures never fail an authorization check: the
// Authorizer degrades to direct policy engine evaluation.
package decision
