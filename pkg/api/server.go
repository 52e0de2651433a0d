package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/tenancy/pkg/accounts"
	"github.com/platinummonkey/tenancy/pkg/audit"
	"github.com/platinummonkey/tenancy/pkg/httputil"
	"github.com/platinummonkey/tenancy/pkg/middleware"
	"github.com/platinummonkey/tenancy/pkg/observability"
)

// maxRequestBytes bounds JSON request bodies
const maxRequestBytes = 1 << 20

// BusinessWriter creates business profiles
type BusinessWriter interface {
	CreateBusiness(ctx context.Context, b *accounts.Business) error
}

// AuditSearcher reads back audit events
type AuditSearcher interface {
	Search(ctx context.Context, filter audit.SearchFilter) ([]*audit.Event, error)
}

// ServerDeps are the collaborators of a Server. Registry and Resolver are
// required.
type ServerDeps struct {
	Registry   *SessionRegistry
	Resolver   *accounts.Resolver
	Businesses BusinessWriter
	Health     *observability.HealthChecker
	Prometheus *prometheus.Registry
	// AuthLimiter rate limits the /v1/auth routes when set
	AuthLimiter middleware.Limiter
	// Audit receives identity events; AuditSearch serves them back to users
	Audit       audit.Logger
	AuditSearch AuditSearcher
	Metrics     *observability.Metrics
	Logger      *logrus.Entry
	Clock       clockwork.Clock
}

// ServerOptions holds the HTTP level settings
type ServerOptions struct {
	SessionCookie  string
	CookieSecure   bool
	SessionMaxAge  time.Duration
	AuthRetryAfter time.Duration
}

// Server is the HTTP surface of the identity service
type Server struct {
	router     *mux.Router
	registry   *SessionRegistry
	resolver   *accounts.Resolver
	businesses BusinessWriter
	health     *observability.HealthChecker
	audit      audit.Logger
	auditRead  AuditSearcher
	metrics    *observability.Metrics
	log        *logrus.Entry
	clock      clockwork.Clock
	opts       ServerOptions
}

// NewServer creates a server and registers its routes
func NewServer(deps ServerDeps, opts ServerOptions) (*Server, error) {
	if deps.Registry == nil || deps.Resolver == nil {
		return nil, fmt.Errorf("api: session registry and resolver are required")
	}
	if opts.SessionCookie == "" {
		opts.SessionCookie = "tenancy_session"
	}
	if opts.AuthRetryAfter <= 0 {
		opts.AuthRetryAfter = time.Minute
	}
	if deps.Logger == nil {
		deps.Logger = observability.NewNopLogger()
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Health == nil {
		deps.Health = observability.NewHealthChecker("")
	}
	if deps.Audit == nil {
		deps.Audit = audit.NopLogger{}
	}

	s := &Server{
		router:     mux.NewRouter(),
		registry:   deps.Registry,
		resolver:   deps.Resolver,
		businesses: deps.Businesses,
		health:     deps.Health,
		audit:      deps.Audit,
		auditRead:  deps.AuditSearch,
		metrics:    deps.Metrics,
		log:        deps.Logger,
		clock:      deps.Clock,
		opts:       opts,
	}
	s.setupRoutes(deps)
	return s, nil
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes(deps ServerDeps) {
	s.router.Use(observability.RecoveryMiddleware(s.log))
	s.router.Use(middleware.RequestID)
	s.router.Use(httputil.LoggingMiddleware(s.log))
	s.router.Use(observability.HTTPMetricsMiddleware(s.metrics))

	// Probes and metrics
	s.router.HandleFunc("/healthz", s.health.Liveness).Methods(http.MethodGet)
	s.router.HandleFunc("/readyz", s.health.Readiness).Methods(http.MethodGet)
	if deps.Prometheus != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(deps.Prometheus)).Methods(http.MethodGet)
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.Use(middleware.Session(s.opts.SessionCookie, s.registry))
	v1.Use(httputil.ContentTypeMiddleware)
	v1.Use(httputil.MaxBytesMiddleware(maxRequestBytes))

	// Authentication routes
	authRoutes := v1.PathPrefix("/auth").Subrouter()
	if deps.AuthLimiter != nil {
		authRoutes.Use(middleware.RateLimit("auth", deps.AuthLimiter, s.opts.AuthRetryAfter, s.log, s.metrics))
	}
	authRoutes.HandleFunc("/signup", s.signUp).Methods(http.MethodPost)
	authRoutes.HandleFunc("/signin", s.signIn).Methods(http.MethodPost)
	authRoutes.HandleFunc("/signout", s.signOut).Methods(http.MethodPost)

	// Identity routes
	v1.HandleFunc("/identity", s.getIdentity).Methods(http.MethodGet)
	v1.HandleFunc("/identity/account", s.switchAccount).Methods(http.MethodPost)
	v1.HandleFunc("/identity/refresh", s.refreshIdentity).Methods(http.MethodPost)
	v1.HandleFunc("/identity/cache", s.clearCache).Methods(http.MethodDelete)
	v1.HandleFunc("/identity/token", s.accessToken).Methods(http.MethodGet)
	v1.HandleFunc("/identity/accounts", s.listAccounts).Methods(http.MethodGet)
	v1.HandleFunc("/identity/businesses", s.createBusiness).Methods(http.MethodPost)
	v1.HandleFunc("/identity/audit", s.listAuditEvents).Methods(http.MethodGet)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the router wrapped with OpenTelemetry HTTP instrumentation
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "tenancy.http")
}
