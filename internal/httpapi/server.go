// Package httpapi exposes the kernel's decision pipeline and operational
// state over REST.
package httpapi

import (
	"log"
	"net/http"

	"hive-kernel/internal/audit"
	"hive-kernel/internal/ingress"
	"hive-kernel/internal/killswitch"
	"hive-kernel/internal/policy"
	kernelobs "hive-kernel/libs/observability"

	"hive-kernel/libs/auth"
	"hive-kernel/libs/middleware"
)

// Server wires the control surface's HTTP handlers to the kernel's
// components and the shared JWT/rate-limit/CORS middleware stack.
type Server struct {
	mux         *http.ServeMux
	mxr         *ingress.Multiplexer
	policies    *policy.Store
	sw          *killswitch.Switch
	trail       *audit.Trail
	registry    *kernelobs.Registry
	jwtManager  *auth.JWTManager
	rateLimiter *middleware.RateLimiter
	corsConfig  middleware.CORSConfig
}

// Deps bundles the components a Server needs. registry is optional; when
// nil, /metrics is not registered.
type Deps struct {
	Multiplexer *ingress.Multiplexer
	Policies    *policy.Store
	KillSwitch  *killswitch.Switch
	Trail       *audit.Trail
	Registry    *kernelobs.Registry
}

// NewServer builds a Server. JWT auth is optional: if JWT_SECRET is unset,
// the kill-switch reset endpoint runs unauthenticated with a loud warning,
// matching the degraded-but-serving posture the rest of the kernel follows.
func NewServer(deps Deps) *Server {
	jwtManager, err := auth.NewJWTManagerFromEnv()
	if err != nil {
		log.Printf("WARNING: admin authentication disabled: %v", err)
		log.Printf("Set JWT_SECRET to require authentication on kill-switch reset")
	}

	return &Server{
		mux:         http.NewServeMux(),
		mxr:         deps.Multiplexer,
		policies:    deps.Policies,
		sw:          deps.KillSwitch,
		trail:       deps.Trail,
		registry:    deps.Registry,
		jwtManager:  jwtManager,
		rateLimiter: middleware.NewRateLimiterFromEnv(),
		corsConfig:  middleware.CORSConfigFromEnv(),
	}
}

// Handler returns the fully wrapped HTTP handler: rate limiting, then CORS,
// innermost to outermost.
func (s *Server) Handler() http.Handler {
	handler := http.Handler(s.mux)
	handler = s.rateLimiter.Middleware(handler)
	handler = middleware.CORS(s.corsConfig)(handler)
	return handler
}

// RegisterAll wires every control-surface endpoint.
func (s *Server) RegisterAll() {
	s.registerHealth()
	s.registerValidate()
	s.registerKillSwitch()
	s.registerConstitution()
	s.registerAudit()
	if s.registry != nil {
		s.registerMetrics()
	}
	if s.jwtManager != nil {
		s.registerAuth()
	}
}

// registerAuth exposes the login/refresh endpoints an operator uses to
// obtain the bearer token required by the kill-switch reset action. Only
// registered when JWT_SECRET is configured — with no secret there is no
// token to issue, and reset already runs unauthenticated in that mode.
func (s *Server) registerAuth() {
	s.mux.HandleFunc("/auth/login", auth.LoginHandler(s.jwtManager))
	s.mux.HandleFunc("/auth/refresh", auth.RefreshHandler(s.jwtManager))
}

// protectAdmin wraps a handler with JWT auth when one is configured, refusing
// a request without a valid bearer token with 403; when none is configured it
// runs the handler unauthenticated, logging once per call so the gap is
// visible in the logs rather than silent.
func (s *Server) protectAdmin(handler http.HandlerFunc) http.HandlerFunc {
	if s.jwtManager == nil {
		return func(w http.ResponseWriter, r *http.Request) {
			log.Println("WARNING: kill-switch reset invoked without authentication configured")
			handler(w, r)
		}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ExtractTokenFromRequest(r)
		if err != nil {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		if _, err := s.jwtManager.ValidateToken(token); err != nil {
			writeError(w, http.StatusForbidden, "invalid or expired token")
			return
		}
		handler(w, r)
	}
}
