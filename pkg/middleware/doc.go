// Package middleware provides the HTTP middleware chain: request IDs,
// request logging, bearer token authentication and Redis-backed rate
// limiting.
package middleware
