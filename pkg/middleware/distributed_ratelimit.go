package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/aimoverse/aimo-gateway/pkg/contextkeys"
	"github.com/aimoverse/aimo-gateway/pkg/httputil"
	"github.com/aimoverse/aimo-gateway/pkg/observability"
	"github.com/aimoverse/aimo-gateway/pkg/usage"
)

// Usage headers set on every counted request.
const (
	HeaderRateLimitLimit     = "X-Rate-Limit-Limit"
	HeaderRateLimitRemaining = "X-Rate-Limit-Remaining"
	HeaderRateLimitReset     = "X-Rate-Limit-Reset"

	// RateLimitMessage is the body of a 429 from the rate limit gate.
	RateLimitMessage = "Rate limit exceeded. Try again tomorrow."
)

// DefaultRateLimitExclusions are path prefixes never counted.
var DefaultRateLimitExclusions = []string{
	"/docs",
	"/redoc",
	"/openapi.json",
	"/health",
	"/metrics",
	"/static",
}

// UsageCounter is the part of usage.Counter the gate needs.
type UsageCounter interface {
	CheckAndIncrement(ctx context.Context, jti string, quota int) (usage.Decision, error)
}

// RateLimitGate enforces the per-credential daily quota against the shared
// Redis counter. Requests without a usable credential are not counted; the
// auth gate decides whether they may proceed.
//
// Counter failures fail open: the request is served without usage headers.
// Keeping chat available during a Redis outage matters more than exact quota
// enforcement.
type RateLimitGate struct {
	counter      UsageCounter
	validator    Validator
	defaultQuota int
	exclude      []string
	metrics      *observability.Metrics
}

// RateLimitOption configures a RateLimitGate.
type RateLimitOption func(*RateLimitGate)

// WithRateLimitExclusions replaces DefaultRateLimitExclusions.
func WithRateLimitExclusions(prefixes ...string) RateLimitOption {
	return func(g *RateLimitGate) { g.exclude = prefixes }
}

// WithRateLimitMetrics records quota decisions.
func WithRateLimitMetrics(m *observability.Metrics) RateLimitOption {
	return func(g *RateLimitGate) { g.metrics = m }
}

// NewRateLimitGate creates a rate limit gate. validator is used only when the
// auth gate has not already placed claims in the context.
func NewRateLimitGate(counter UsageCounter, validator Validator, defaultQuota int, opts ...RateLimitOption) *RateLimitGate {
	g := &RateLimitGate{
		counter:      counter,
		validator:    validator,
		defaultQuota: defaultQuota,
		exclude:      DefaultRateLimitExclusions,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Handler wraps next with quota enforcement.
func (g *RateLimitGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.excluded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := httputil.BearerToken(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		claims, ok := ClaimsFromContext(ctx)
		if !ok {
			var err error
			claims, err = g.validator.Validate(token)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
		}

		jti := claims.JTI()
		if jti == "" {
			next.ServeHTTP(w, r)
			return
		}
		quota := claims.Quota
		if quota <= 0 {
			quota = g.defaultQuota
		}

		decision, err := g.counter.CheckAndIncrement(ctx, jti, quota)
		if err != nil {
			observability.GetLogger(ctx).WithError(err).Warn("usage counter unavailable, skipping rate limit")
			g.record("error")
			if g.metrics != nil {
				g.metrics.RedisErrorsTotal.WithLabelValues("check_and_increment").Inc()
			}
			next.ServeHTTP(w, r)
			return
		}

		SetUsageHeaders(w.Header(), decision)

		if !decision.Admitted {
			g.record("denied")
			w.Header().Set("Retry-After", strconv.FormatInt(decision.ResetSeconds(), 10))
			httputil.WriteTooManyRequests(w, RateLimitMessage)
			return
		}

		g.record("admitted")
		if g.metrics != nil {
			g.metrics.QuotaRemaining.Observe(float64(decision.Remaining))
		}
		next.ServeHTTP(w, r.WithContext(contextkeys.WithUsage(ctx, &decision)))
	})
}

// SetUsageHeaders writes the three usage headers for decision.
func SetUsageHeaders(h http.Header, decision usage.Decision) {
	h.Set(HeaderRateLimitLimit, strconv.FormatInt(decision.Limit, 10))
	h.Set(HeaderRateLimitRemaining, strconv.FormatInt(decision.Remaining, 10))
	h.Set(HeaderRateLimitReset, strconv.FormatInt(decision.ResetSeconds(), 10))
}

// UsageFromContext returns the decision recorded by the rate limit gate.
func UsageFromContext(ctx context.Context) (*usage.Decision, bool) {
	decision, ok := ctx.Value(contextkeys.UsageKey).(*usage.Decision)
	return decision, ok && decision != nil
}

func (g *RateLimitGate) excluded(path string) bool {
	for _, prefix := range g.exclude {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (g *RateLimitGate) record(result string) {
	if g.metrics != nil {
		g.metrics.QuotaDecisionsTotal.WithLabelValues(result).Inc()
	}
}
