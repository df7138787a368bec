// Package reset implements password reset tokens: single-use, short lived,
// rate limited per user. Requests for unknown or throttled users succeed
// silently so the endpoint cannot be used to probe which emails exist.
package reset
