package api

import (
	"errors"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/gatehouse-io/gatehouse/pkg/httputil"
	"github.com/gatehouse-io/gatehouse/pkg/policy"
)

const minPasswordLength = 8

type createOrganizationRequest struct {
	Name string `json:"name"`
}

func (s *Server) createOrganization(w http.ResponseWriter, r *http.Request) {
	var req createOrganizationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.WriteBadRequest(w, "name is required")
		return
	}

	org, err := s.store.CreateOrganization(r.Context(), req.Name)
	if errors.Is(err, policy.ErrConflict) {
		httputil.WriteConflict(w, "organization already exists")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, org)
}

type createUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Email == "" {
		httputil.WriteBadRequest(w, "email is required")
		return
	}
	if len(req.Password) < minPasswordLength {
		httputil.WriteBadRequest(w, "password does not meet requirements")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	user, err := s.store.CreateUser(r.Context(), req.Email, string(hash))
	if errors.Is(err, policy.ErrConflict) {
		httputil.WriteConflict(w, "user already exists")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, user)
}

type createPermissionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) createPermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.WriteBadRequest(w, "name is required")
		return
	}

	perm, err := s.store.CreatePermission(r.Context(), req.Name, req.Description)
	if errors.Is(err, policy.ErrConflict) {
		httputil.WriteConflict(w, "permission already exists")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, perm)
}

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) createRole(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "org_id")
	if !ok {
		return
	}
	if !s.requirePermission(w, r, orgID, "role.manage") {
		return
	}

	var req createRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.WriteBadRequest(w, "name is required")
		return
	}

	role, err := s.admin.CreateRole(r.Context(), orgID, req.Name, req.Description)
	switch {
	case errors.Is(err, policy.ErrConflict):
		httputil.WriteConflict(w, "role already exists")
	case errors.Is(err, policy.ErrNotFound):
		httputil.WriteNotFound(w, "organization not found")
	case err != nil:
		s.internalError(w, r, err)
	default:
		httputil.WriteJSON(w, http.StatusCreated, role)
	}
}

func (s *Server) deleteRole(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "org_id")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathStringOrError(w, r, "role_id")
	if !ok {
		return
	}
	if !s.requirePermission(w, r, orgID, "role.manage") {
		return
	}

	err := s.admin.DeleteRole(r.Context(), orgID, roleID)
	if errors.Is(err, policy.ErrNotFound) {
		httputil.WriteNotFound(w, "role not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) bindPermission(w http.ResponseWriter, r *http.Request) {
	s.roleBinding(w, r, true)
}

func (s *Server) unbindPermission(w http.ResponseWriter, r *http.Request) {
	s.roleBinding(w, r, false)
}

func (s *Server) roleBinding(w http.ResponseWriter, r *http.Request, bind bool) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "org_id")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathStringOrError(w, r, "role_id")
	if !ok {
		return
	}
	permissionID, ok := httputil.ParsePathStringOrError(w, r, "permission_id")
	if !ok {
		return
	}
	if !s.requirePermission(w, r, orgID, "role.manage") {
		return
	}

	var err error
	if bind {
		err = s.admin.BindPermission(r.Context(), orgID, roleID, permissionID)
	} else {
		err = s.admin.UnbindPermission(r.Context(), orgID, roleID, permissionID)
	}
	if errors.Is(err, policy.ErrNotFound) {
		httputil.WriteNotFound(w, "role or permission not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) assignRole(w http.ResponseWriter, r *http.Request) {
	s.roleAssignment(w, r, true)
}

func (s *Server) revokeRole(w http.ResponseWriter, r *http.Request) {
	s.roleAssignment(w, r, false)
}

func (s *Server) roleAssignment(w http.ResponseWriter, r *http.Request, assign bool) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "org_id")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "user_id")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathStringOrError(w, r, "role_id")
	if !ok {
		return
	}
	if !s.requirePermission(w, r, orgID, "user.manage") {
		return
	}

	var err error
	if assign {
		err = s.admin.AssignRole(r.Context(), userID, roleID, orgID)
	} else {
		err = s.admin.RevokeRole(r.Context(), userID, roleID, orgID)
	}
	if errors.Is(err, policy.ErrNotFound) {
		httputil.WriteNotFound(w, "role, user or organization not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
