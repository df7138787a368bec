package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gatehouse-io/gatehouse/pkg/decision"
	"github.com/gatehouse-io/gatehouse/pkg/httputil"
	"github.com/gatehouse-io/gatehouse/pkg/middleware"
	"github.com/gatehouse-io/gatehouse/pkg/observability"
	"github.com/gatehouse-io/gatehouse/pkg/policy"
	"github.com/gatehouse-io/gatehouse/pkg/reset"
	"github.com/gatehouse-io/gatehouse/pkg/session"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Options wires the server's dependencies.
type Options struct {
	Sessions   *session.Manager
	Resets     *reset.Manager
	Authorizer *decision.Authorizer
	Admin      *policy.Admin
	Store      policy.Store
	Logger     *observability.Logger
	Metrics    *observability.Metrics
	Registry   *prometheus.Registry

	// RateLimiter guards the unauthenticated auth endpoints. Optional.
	RateLimiter *middleware.DistributedRateLimiter

	// HealthChecks run on every /healthz request.
	HealthChecks map[string]HealthCheck
}

// Server is the Gatehouse HTTP API.
type Server struct {
	router       *mux.Router
	sessions     *session.Manager
	resets       *reset.Manager
	authorizer   *decision.Authorizer
	admin        *policy.Admin
	store        policy.Store
	logger       *observability.Logger
	healthChecks map[string]HealthCheck
}

// NewServer builds the router and registers every route.
func NewServer(opts Options) *Server {
	s := &Server{
		router:       mux.NewRouter(),
		sessions:     opts.Sessions,
		resets:       opts.Resets,
		authorizer:   opts.Authorizer,
		admin:        opts.Admin,
		store:        opts.Store,
		logger:       opts.Logger,
		healthChecks: opts.HealthChecks,
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RequestLogger(opts.Logger, opts.Metrics))

	s.router.HandleFunc("/healthz", s.healthz).Methods("GET")
	if opts.Registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})).Methods("GET")
	}

	// Unauthenticated auth endpoints, rate limited when a limiter is
	// configured.
	public := s.router.PathPrefix("/v1").Subrouter()
	if opts.RateLimiter != nil {
		public.Use(opts.RateLimiter.Handler(opts.Logger))
	}
	public.HandleFunc("/auth/login", s.login).Methods("POST")
	public.HandleFunc("/auth/refresh", s.refresh).Methods("POST")
	public.HandleFunc("/auth/forgot-password", s.forgotPassword).Methods("POST")
	public.HandleFunc("/auth/reset-password", s.resetPassword).Methods("POST")
	public.HandleFunc("/users", s.createUser).Methods("POST")

	authMW := middleware.NewAuthMiddleware(opts.Sessions, false)
	protected := s.router.PathPrefix("/v1").Subrouter()
	protected.Use(authMW.Handler)
	protected.HandleFunc("/auth/logout", s.logout).Methods("POST")
	protected.HandleFunc("/authz/check", s.authzCheck).Methods("GET")
	protected.HandleFunc("/authz/permissions", s.authzPermissions).Methods("GET")

	protected.HandleFunc("/orgs", s.createOrganization).Methods("POST")
	protected.HandleFunc("/permissions", s.createPermission).Methods("POST")
	protected.HandleFunc("/orgs/{org_id}/roles", s.createRole).Methods("POST")
	protected.HandleFunc("/orgs/{org_id}/roles/{role_id}", s.deleteRole).Methods("DELETE")
	protected.HandleFunc("/orgs/{org_id}/roles/{role_id}/permissions/{permission_id}", s.bindPermission).Methods("PUT")
	protected.HandleFunc("/orgs/{org_id}/roles/{role_id}/permissions/{permission_id}", s.unbindPermission).Methods("DELETE")
	protected.HandleFunc("/orgs/{org_id}/users/{user_id}/roles/{role_id}", s.assignRole).Methods("PUT")
	protected.HandleFunc("/orgs/{org_id}/users/{user_id}/roles/{role_id}", s.revokeRole).Methods("DELETE")

	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	healthy := true
	for name, check := range s.healthChecks {
		if err := check(r.Context()); err != nil {
			status[name] = err.Error()
			healthy = false
		} else {
			status[name] = "ok"
		}
	}
	if !healthy {
		status["status"] = "degraded"
		httputil.WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

// internalError logs err and answers with a generic 500 so storage and
// engine failure detail never reaches clients.
func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	logger := s.logger
	if id := observability.GetRequestID(r.Context()); id != "" {
		logger = logger.WithField("request_id", id)
	}
	logger.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	httputil.WriteInternalError(w)
}

// requirePermission authorizes the caller for permission inside orgID,
// writing the error response itself when the check does not pass.
func (s *Server) requirePermission(w http.ResponseWriter, r *http.Request, orgID, permission string) bool {
	principal := middleware.GetPrincipal(r)
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return false
	}
	allowed, err := s.authorizer.Authorize(r.Context(), principal.UserID, orgID, permission)
	if err != nil {
		s.internalError(w, r, err)
		return false
	}
	if !allowed {
		httputil.WriteForbidden(w, "permission denied")
		return false
	}
	return true
}
