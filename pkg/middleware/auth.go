package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aimoverse/aimo-gateway/pkg/auth"
	"github.com/aimoverse/aimo-gateway/pkg/contextkeys"
	"github.com/aimoverse/aimo-gateway/pkg/httputil"
	"github.com/aimoverse/aimo-gateway/pkg/invitation"
	"github.com/aimoverse/aimo-gateway/pkg/observability"
)

// Rejection messages written by the auth gate.
const (
	MsgCredentialMissing   = "Valid credential is missing"
	MsgCredentialExpired   = "Token expired"
	MsgCredentialInvalid   = "Invalid token"
	MsgCredentialRevoked   = "Credential has been superseded"
	MsgWalletNotRegistered = "Wallet not registered"
	MsgBoundCodeExpired    = "Bound invitation code has expired"
	MsgInvalidInvitation   = "Invalid invitation code"
)

// Validator verifies a bearer credential.
type Validator interface {
	Validate(token string) (*auth.Claims, error)
}

// RevocationChecker reports superseded credentials.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// AuthGate admits requests that carry a valid credential whose identity is
// still backed by the invitation store. Excluded paths and CORS preflights
// pass through untouched.
type AuthGate struct {
	validator   Validator
	lookup      invitation.Lookup
	revocations RevocationChecker
	exclude     []string
	now         func() time.Time
	metrics     *observability.Metrics
}

// AuthGateOption configures an AuthGate.
type AuthGateOption func(*AuthGate)

// WithExcludedPaths sets the paths that skip authentication. A pattern ending
// in "*" matches by prefix, anything else must match exactly.
func WithExcludedPaths(patterns ...string) AuthGateOption {
	return func(g *AuthGate) { g.exclude = append(g.exclude, patterns...) }
}

// WithRevocationChecker rejects credentials superseded by a reissue.
func WithRevocationChecker(rc RevocationChecker) AuthGateOption {
	return func(g *AuthGate) { g.revocations = rc }
}

// WithAuthMetrics records rejections.
func WithAuthMetrics(m *observability.Metrics) AuthGateOption {
	return func(g *AuthGate) { g.metrics = m }
}

// WithAuthClock replaces the time source used for code expiry.
func WithAuthClock(now func() time.Time) AuthGateOption {
	return func(g *AuthGate) { g.now = now }
}

// NewAuthGate creates an auth gate.
func NewAuthGate(validator Validator, lookup invitation.Lookup, opts ...AuthGateOption) *AuthGate {
	g := &AuthGate{
		validator: validator,
		lookup:    lookup,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Handler wraps next with authentication.
func (g *AuthGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPreflight(r) || matchAny(r.URL.Path, g.exclude) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		logger := observability.GetLogger(ctx)

		token, ok := httputil.BearerToken(r)
		if !ok {
			g.reject(w, "missing", MsgCredentialMissing)
			return
		}

		claims, err := g.validator.Validate(token)
		if err != nil {
			if errors.Is(err, auth.ErrCredentialExpired) {
				g.reject(w, "expired", MsgCredentialExpired)
				return
			}
			logger.WithError(err).Debug("credential rejected")
			g.reject(w, "invalid", MsgCredentialInvalid)
			return
		}

		if g.revoked(ctx, claims) {
			g.reject(w, "revoked", MsgCredentialRevoked)
			return
		}

		switch claims.Identity.Type {
		case auth.IdentityWallet:
			if !g.checkWallet(w, r, claims.Identity.Value) {
				return
			}
		case auth.IdentityInvitation:
			if !g.checkInvitation(w, r, claims.Identity.Value) {
				return
			}
		}

		ctx = contextkeys.WithClaims(ctx, claims)
		ctx = contextkeys.WithSubject(ctx, claims.Identity.String())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// revoked fails open: a Redis outage must not lock every user out.
func (g *AuthGate) revoked(ctx context.Context, claims *auth.Claims) bool {
	if g.revocations == nil || claims.JTI() == "" {
		return false
	}
	revoked, err := g.revocations.IsRevoked(ctx, claims.JTI())
	if err != nil {
		observability.GetLogger(ctx).WithError(err).Warn("revocation check failed, admitting credential")
		if g.metrics != nil {
			g.metrics.RedisErrorsTotal.WithLabelValues("is_revoked").Inc()
		}
		return false
	}
	return revoked
}

func (g *AuthGate) checkWallet(w http.ResponseWriter, r *http.Request, wallet string) bool {
	ctx := r.Context()
	account, err := g.lookup.WalletAccount(ctx, wallet)
	if errors.Is(err, invitation.ErrWalletNotRegistered) {
		g.reject(w, "wallet_not_registered", MsgWalletNotRegistered)
		return false
	}
	if err != nil {
		g.storeError(w, r, err)
		return false
	}

	code := account.Code
	if code == nil {
		code, err = g.lookup.Get(ctx, account.InvitationCode)
		if err != nil && !invitation.IsNotFound(err) {
			g.storeError(w, r, err)
			return false
		}
	}
	if code == nil || code.Expired(g.now()) {
		g.reject(w, "bound_code_expired", MsgBoundCodeExpired)
		return false
	}
	return true
}

func (g *AuthGate) checkInvitation(w http.ResponseWriter, r *http.Request, value string) bool {
	code, err := g.lookup.Get(r.Context(), value)
	if invitation.IsNotFound(err) {
		g.reject(w, "invalid_invitation", MsgInvalidInvitation)
		return false
	}
	if err != nil {
		g.storeError(w, r, err)
		return false
	}
	if code.Expired(g.now()) {
		g.reject(w, "invalid_invitation", MsgInvalidInvitation)
		return false
	}
	return true
}

func (g *AuthGate) reject(w http.ResponseWriter, reason, message string) {
	if g.metrics != nil {
		g.metrics.AuthRejectionsTotal.WithLabelValues(reason).Inc()
	}
	httputil.WriteUnauthorized(w, message)
}

func (g *AuthGate) storeError(w http.ResponseWriter, r *http.Request, err error) {
	observability.GetLogger(r.Context()).WithError(err).Error("invitation store lookup failed")
	if g.metrics != nil {
		g.metrics.AuthRejectionsTotal.WithLabelValues("store_error").Inc()
	}
	httputil.WriteInternalError(w)
}

// ClaimsFromContext returns the claims placed by the auth gate.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(contextkeys.ClaimsKey).(*auth.Claims)
	return claims, ok && claims != nil
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions
}

func matchAny(path string, patterns []string) bool {
	for _, pattern := range patterns {
		if matchPath(path, pattern) {
			return true
		}
	}
	return false
}

func matchPath(path, pattern string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(path, prefix)
	}
	return path == pattern
}
