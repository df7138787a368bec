// Package session manages authenticated sessions and token lifecycle: short
// lived JWT access tokens and opaque single-use refresh tokens with
// rotation-on-use. Reuse of a consumed refresh token is treated as theft and
// revokes the whole token family together with its session.
package session
