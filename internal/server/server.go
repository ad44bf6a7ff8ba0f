package server

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/owl/internal/auth"
	"github.com/me/owl/internal/config"
	"github.com/me/owl/internal/intake"
	"github.com/me/owl/internal/metrics"
	"github.com/me/owl/internal/ratelimit"
	"github.com/me/owl/internal/store"
	"github.com/me/owl/pkg/model"
)

// LoginFlow provides the browser login endpoints.
type LoginFlow interface {
	LoginHandler(w http.ResponseWriter, r *http.Request)
	CallbackHandler(w http.ResponseWriter, r *http.Request)
	LogoutHandler(w http.ResponseWriter, r *http.Request)
}

// Server is the owl REST API server.
type Server struct {
	router      chi.Router
	logger      *slog.Logger
	config      config.ServerConfig
	startTime   time.Time
	store       store.Store
	intake      *intake.Service
	authn       auth.Authenticator
	admins      *AdminConfig
	trusted     []netip.Prefix
	login       LoginFlow           // optional; browser login endpoints
	metrics     *metrics.Metrics    // optional; /metrics and request instrumentation
	throttle    *ratelimit.Throttle // optional; per-client burst limit on submissions
	sseInterval time.Duration
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithLoginFlow mounts /auth/login, /auth/callback and /auth/logout.
func WithLoginFlow(l LoginFlow) Option {
	return func(s *Server) {
		s.login = l
	}
}

// WithMetrics instruments requests and serves /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithThrottle bounds request bursts on POST /submissions per client.
func WithThrottle(t *ratelimit.Throttle) Option {
	return func(s *Server) {
		s.throttle = t
	}
}

// WithSSEInterval sets how often submission streams poll the store.
func WithSSEInterval(d time.Duration) Option {
	return func(s *Server) {
		s.sseInterval = d
	}
}

// New creates a new Server with all routes registered.
func New(cfg config.ServerConfig, st store.Store, svc *intake.Service, authn auth.Authenticator, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		logger:      logger.With("component", "server"),
		config:      cfg,
		startTime:   time.Now(),
		store:       st,
		intake:      svc,
		authn:       authn,
		admins:      NewAdminConfig(cfg.Admins, "OWL_ADMINS"),
		sseInterval: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.config.RecentLimit <= 0 {
		s.config.RecentLimit = 10
	}
	trusted, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		s.logger.Warn("ignoring trusted proxies", "error", err)
	}
	s.trusted = trusted

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// clientIP is the caller address after realIPMiddleware has run.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(realIPMiddleware(s.trusted))
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
		r.Handle("/metrics", s.metrics.Handler())
	}

	if s.login != nil {
		r.Route("/auth", func(r chi.Router) {
			r.Get("/login", s.login.LoginHandler)
			r.Get("/callback", s.login.CallbackHandler)
			r.Get("/logout", s.login.LogoutHandler)
		})
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(identityMiddleware(s.authn, s.store, s.admins, s.logger))

		r.Get("/", s.handleDiscovery)
		r.Get("/health", s.handleHealth)
		r.Get("/schema", s.handleSchema)
		r.Get("/queue", s.handleQueue)
		r.Get("/leaderboard", s.handleLeaderboard)

		r.With(requireUser).Get("/ratelimit", s.handleRateLimit)
		r.With(requireUser).Get("/me", s.handleMe)

		r.Route("/submissions", func(r chi.Router) {
			r.With(requireUser).Get("/", s.handleListSubmissions)
			r.With(s.submitMiddleware()...).Post("/", s.handleCreateSubmission)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSubmission)
				r.Get("/events", s.handleSubmissionEvents)
				r.With(requireUser).Put("/cancel", s.handleCancelSubmission)
			})
		})
	})
}

// submitMiddleware requires a user and, when configured, throttles bursts
// per client address.
func (s *Server) submitMiddleware() []func(http.Handler) http.Handler {
	mws := []func(http.Handler) http.Handler{requireUser}
	if s.throttle != nil {
		mws = append(mws, s.throttle.Middleware(clientIP, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "1")
			respondError(w, RequestIDFromContext(r.Context()), http.StatusTooManyRequests, &model.APIError{
				Code:    model.ErrRateLimited,
				Message: "too many requests, slow down",
				Reason:  "throttled",
			})
		}))
	}
	return mws
}
