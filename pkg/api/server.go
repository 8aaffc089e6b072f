package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/aimoverse/aimo-gateway/pkg/auth"
	"github.com/aimoverse/aimo-gateway/pkg/email"
	"github.com/aimoverse/aimo-gateway/pkg/httputil"
	"github.com/aimoverse/aimo-gateway/pkg/invitation"
	"github.com/aimoverse/aimo-gateway/pkg/middleware"
	"github.com/aimoverse/aimo-gateway/pkg/observability"
	"github.com/aimoverse/aimo-gateway/pkg/upstream"
	"github.com/aimoverse/aimo-gateway/pkg/usage"
	"github.com/aimoverse/aimo-gateway/pkg/wallet"
)

// DefaultBasePath prefixes every API route.
const DefaultBasePath = "/api/v1"

// TokenIssuer mints, validates and reissues credentials.
type TokenIssuer interface {
	Issue(identity auth.Identity, attrs map[string]string, quota int) (string, *auth.Claims, error)
	Validate(token string) (*auth.Claims, error)
	Reissue(token string, newQuota int) (string, *auth.Claims, error)
	DefaultQuota() int
}

// UsageStore is the daily counter plus the revocation list.
type UsageStore interface {
	CheckAndIncrement(ctx context.Context, jti string, quota int) (usage.Decision, error)
	Peek(ctx context.Context, jti string, quota int) (usage.Decision, error)
	Reset(ctx context.Context, jti string) error
	Revoke(ctx context.Context, jti string, until time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// CodeVerifier stores and checks one-time email login codes.
type CodeVerifier interface {
	Issue(ctx context.Context, address string) (string, error)
	Consume(ctx context.Context, address, code string) error
	TTL() time.Duration
}

// cacheInvalidator is implemented by invitation.CachedLookup.
type cacheInvalidator interface {
	Invalidate(code string)
	InvalidateWallet(wallet string)
}

// Deps are the collaborators the server routes to. Email, wallet and upstream
// dependencies are optional; their routes answer 500 when unset.
type Deps struct {
	Issuer  TokenIssuer
	Usage   UsageStore
	Store   invitation.Store
	Lookup  invitation.Lookup
	Wallets wallet.Verifier
	Codes   CodeVerifier
	Mailer  email.Sender

	Completer  upstream.Completer
	Classifier upstream.Classifier

	Health  *observability.HealthChecker
	Metrics *observability.Metrics
	Logger  *observability.Logger
}

// Config holds the HTTP-facing settings.
type Config struct {
	BasePath     string
	AdminAPIKey  string
	CORSOrigins  []string
	MaxBodyBytes int64
	ListLimit    int

	// AuthExclusions are added to the built-in public paths.
	AuthExclusions []string
	// UsageExclusions are added to the built-in uncounted prefixes.
	UsageExclusions []string

	Throttle middleware.ThrottleConfig
}

// Server is the gateway's HTTP API.
type Server struct {
	router   *mux.Router
	handler  http.Handler
	deps     Deps
	cfg      Config
	throttle *middleware.ClientThrottle

	authHandlers  *AuthHandlers
	adminHandlers *AdminHandlers
	userHandlers  *UserHandlers
	chatHandlers  *ChatHandlers
}

// NewServer wires routes and the middleware chain.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Issuer == nil {
		return nil, errors.New("api: issuer is required")
	}
	if deps.Usage == nil {
		return nil, errors.New("api: usage store is required")
	}
	if deps.Store == nil {
		return nil, errors.New("api: invitation store is required")
	}
	if deps.Lookup == nil {
		deps.Lookup = deps.Store
	}
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	cfg.BasePath = "/" + strings.Trim(cfg.BasePath, "/")
	if cfg.BasePath == "/" {
		cfg.BasePath = ""
	}

	s := &Server{
		router:   mux.NewRouter(),
		deps:     deps,
		cfg:      cfg,
		throttle: middleware.NewClientThrottle(cfg.Throttle, deps.Metrics),
	}

	invalidator, _ := deps.Lookup.(cacheInvalidator)
	s.authHandlers = &AuthHandlers{
		issuer:      deps.Issuer,
		store:       deps.Store,
		wallets:     deps.Wallets,
		codes:       deps.Codes,
		mailer:      deps.Mailer,
		invalidator: invalidator,
		metrics:     deps.Metrics,
	}
	s.adminHandlers = &AdminHandlers{
		issuer:    deps.Issuer,
		usage:     deps.Usage,
		store:     deps.Store,
		listLimit: cfg.ListLimit,
		metrics:   deps.Metrics,
	}
	s.userHandlers = &UserHandlers{usage: deps.Usage}
	s.chatHandlers = &ChatHandlers{completer: deps.Completer, classifier: deps.Classifier}

	s.setupRoutes()
	s.handler = s.buildChain()
	return s, nil
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	if h := s.deps.Health; h != nil {
		s.router.HandleFunc("/health", h.Readiness).Methods(http.MethodGet)
		s.router.HandleFunc("/health/live", h.Liveness).Methods(http.MethodGet)
		s.router.HandleFunc("/health/ready", h.Readiness).Methods(http.MethodGet)
	}

	base := s.router
	if s.cfg.BasePath != "" {
		base = s.router.PathPrefix(s.cfg.BasePath).Subrouter()
	}

	public := base.PathPrefix("/auth").Subrouter()
	public.Use(s.throttle.Handler)
	s.authHandlers.RegisterRoutes(public)

	admin := base.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.NewAdminGate(s.cfg.AdminAPIKey, s.deps.Metrics).Handler)
	s.adminHandlers.RegisterRoutes(admin)

	s.userHandlers.RegisterRoutes(base)
	s.chatHandlers.RegisterRoutes(base)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFound(w, "Not Found")
	})
}

// buildChain wraps the router with the request pipeline. The auth gate runs
// before the rate limit gate so only authenticated requests are counted.
func (s *Server) buildChain() http.Handler {
	authGate := middleware.NewAuthGate(s.deps.Issuer, s.deps.Lookup,
		middleware.WithExcludedPaths(s.authExclusions()...),
		middleware.WithRevocationChecker(s.deps.Usage),
		middleware.WithAuthMetrics(s.deps.Metrics),
	)
	rateGate := middleware.NewRateLimitGate(s.deps.Usage, s.deps.Issuer, s.deps.Issuer.DefaultQuota(),
		middleware.WithRateLimitExclusions(s.usageExclusions()...),
		middleware.WithRateLimitMetrics(s.deps.Metrics),
	)

	chain := []func(http.Handler) http.Handler{
		httputil.RecoveryMiddleware(s.deps.Logger),
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.deps.Logger),
	}
	if s.deps.Metrics != nil {
		chain = append(chain, observability.HTTPMetricsMiddleware(s.deps.Metrics))
	}
	if len(s.cfg.CORSOrigins) > 0 {
		chain = append(chain, httputil.CORSMiddleware(s.cfg.CORSOrigins))
	}
	if s.cfg.MaxBodyBytes > 0 {
		chain = append(chain, httputil.MaxBytesMiddleware(s.cfg.MaxBodyBytes))
	}
	chain = append(chain, authGate.Handler, rateGate.Handler)

	return httputil.Chain(chain...)(s.router)
}

func (s *Server) authExclusions() []string {
	out := []string{
		s.cfg.BasePath + "/auth/*",
		s.cfg.BasePath + "/admin/*",
		"/health*",
		"/metrics",
	}
	return append(out, s.cfg.AuthExclusions...)
}

func (s *Server) usageExclusions() []string {
	out := append([]string{}, middleware.DefaultRateLimitExclusions...)
	out = append(out,
		s.cfg.BasePath+"/auth",
		s.cfg.BasePath+"/admin",
		s.cfg.BasePath+"/user",
	)
	return append(out, s.cfg.UsageExclusions...)
}

// Router exposes the route table, mainly for tests and route listings.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Throttle returns the per-client throttle guarding the login routes so the
// caller can run its cleanup loop.
func (s *Server) Throttle() *middleware.ClientThrottle {
	return s.throttle
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
