package api

import (
	"net/http"

	"github.com/gatehouse-io/gatehouse/pkg/httputil"
	"github.com/gatehouse-io/gatehouse/pkg/middleware"
)

// authzCheck answers "may this caller do X here". The subject is always the
// authenticated principal; there is no cross-user probing.
func (s *Server) authzCheck(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	permission := r.URL.Query().Get("permission")
	if permission == "" {
		httputil.WriteBadRequest(w, "permission query parameter is required")
		return
	}

	allowed, err := s.authorizer.Authorize(r.Context(), principal.UserID, principal.OrganizationID, permission)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"allowed":         allowed,
		"permission":      permission,
		"organization_id": principal.OrganizationID,
	})
}

func (s *Server) authzPermissions(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	perms, err := s.authorizer.EffectivePermissions(r.Context(), principal.UserID, principal.OrganizationID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"organization_id": principal.OrganizationID,
		"permissions":     perms.Names(),
	})
}
