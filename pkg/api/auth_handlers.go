package api

import (
	"errors"
	"net/http"

	"github.com/gatehouse-io/gatehouse/pkg/httputil"
	"github.com/gatehouse-io/gatehouse/pkg/middleware"
	"github.com/gatehouse-io/gatehouse/pkg/reset"
	"github.com/gatehouse-io/gatehouse/pkg/session"
)

type loginRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	OrganizationID string `json:"organization_id"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" || req.OrganizationID == "" {
		httputil.WriteBadRequest(w, "email, password and organization_id are required")
		return
	}

	meta := session.LoginMetadata{
		IPAddress: clientAddr(r),
		UserAgent: r.UserAgent(),
	}
	_, pair, err := s.sessions.Login(r.Context(), req.Email, req.Password, req.OrganizationID, meta)
	if errors.Is(err, session.ErrInvalidCredentials) {
		httputil.WriteUnauthorized(w, "invalid credentials")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		httputil.WriteBadRequest(w, "refresh_token is required")
		return
	}

	pair, err := s.sessions.Refresh(r.Context(), req.RefreshToken)
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusOK, pair)
	case errors.Is(err, session.ErrTokenNotFound),
		errors.Is(err, session.ErrTokenExpired),
		errors.Is(err, session.ErrSessionRevoked),
		errors.Is(err, session.ErrReplayDetected):
		// Replay detection deliberately shares the generic response so an
		// attacker probing with stolen tokens learns nothing.
		httputil.WriteUnauthorized(w, "session invalid")
	default:
		s.internalError(w, r, err)
	}
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	if err := s.sessions.Logout(r.Context(), principal.SessionID); err != nil {
		s.internalError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

func (s *Server) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Email == "" {
		httputil.WriteBadRequest(w, "email is required")
		return
	}
	if s.resets == nil {
		httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "password reset unavailable")
		return
	}

	// Unknown accounts and throttled users get the same response shape, so
	// the endpoint cannot confirm which emails exist. The token itself
	// leaves on the requested event for the mail pipeline, never in the
	// response.
	if _, err := s.resets.Request(r.Context(), req.Email); err != nil {
		s.internalError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
	})
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (s *Server) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Token == "" || req.NewPassword == "" {
		httputil.WriteBadRequest(w, "token and new_password are required")
		return
	}
	if s.resets == nil {
		httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "password reset unavailable")
		return
	}

	err := s.resets.Redeem(r.Context(), req.Token, req.NewPassword)
	switch {
	case err == nil:
		httputil.WriteNoContent(w)
	case errors.Is(err, reset.ErrTokenInvalid):
		httputil.WriteBadRequest(w, "invalid or expired token")
	case errors.Is(err, reset.ErrWeakPassword):
		httputil.WriteBadRequest(w, "password does not meet requirements")
	default:
		s.internalError(w, r, err)
	}
}

func clientAddr(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	return r.RemoteAddr
}
