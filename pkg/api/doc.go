// Package api exposes the HTTP surface: authentication endpoints, the
// authorization check endpoint, policy administration routes and the
// operational endpoints for health and metrics.
package api
