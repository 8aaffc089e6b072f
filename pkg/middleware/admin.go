package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/aimoverse/aimo-gateway/pkg/httputil"
	"github.com/aimoverse/aimo-gateway/pkg/observability"
)

const (
	// AdminKeyHeader carries the shared admin secret.
	AdminKeyHeader = "api-key"
	// AltAdminKeyHeader is accepted when AdminKeyHeader is absent.
	AltAdminKeyHeader = "X-API-Key"

	MsgInvalidAdminKey = "Invalid APIKEY"
)

// AdminGate protects operator endpoints with a shared secret. An empty
// configured key rejects every request.
type AdminGate struct {
	key     []byte
	metrics *observability.Metrics
}

// NewAdminGate creates an admin gate. metrics may be nil.
func NewAdminGate(key string, metrics *observability.Metrics) *AdminGate {
	return &AdminGate{key: []byte(key), metrics: metrics}
}

// Handler wraps next with the admin key check.
func (g *AdminGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPreflight(r) {
			next.ServeHTTP(w, r)
			return
		}

		provided := r.Header.Get(AdminKeyHeader)
		if provided == "" {
			provided = r.Header.Get(AltAdminKeyHeader)
		}

		if len(g.key) == 0 || subtle.ConstantTimeCompare([]byte(provided), g.key) != 1 {
			if g.metrics != nil {
				g.metrics.AdminRejectionsTotal.Inc()
			}
			observability.GetLogger(r.Context()).WithField("path", r.URL.Path).Warn("admin key rejected")
			httputil.WriteUnauthorized(w, MsgInvalidAdminKey)
			return
		}
		next.ServeHTTP(w, r)
	})
}
