package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gatehouse-io/gatehouse/pkg/session"
)

type principalKeyType struct{}

var principalKey principalKeyType

// AccessValidator validates a bearer access token. Satisfied by
// session.Manager.
type AccessValidator interface {
	ValidateAccess(ctx context.Context, accessToken string) (*session.Principal, error)
}

// AuthMiddleware authenticates requests with a Bearer access token and
// attaches the resulting principal to the request context.
type AuthMiddleware struct {
	validator AccessValidator
	optional  bool
}

// NewAuthMiddleware creates the middleware. When optional is true, requests
// without an Authorization header pass through unauthenticated; malformed or
// invalid tokens are still rejected.
func NewAuthMiddleware(validator AccessValidator, optional bool) *AuthMiddleware {
	return &AuthMiddleware{validator: validator, optional: optional}
}

// Handler wraps next with authentication.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			unauthorizedResponse(w, "missing authorization header")
			return
		}

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			unauthorizedResponse(w, "invalid authorization header")
			return
		}

		principal, err := m.validator.ValidateAccess(r.Context(), token)
		if err != nil {
			unauthorizedResponse(w, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetPrincipal returns the authenticated principal, or nil for
// unauthenticated requests.
func GetPrincipal(r *http.Request) *session.Principal {
	p, _ := r.Context().Value(principalKey).(*session.Principal)
	return p
}

func unauthorizedResponse(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
