package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Gate metrics
	AuthRejectionsTotal  *prometheus.CounterVec
	QuotaDecisionsTotal  *prometheus.CounterVec
	QuotaRemaining       prometheus.Histogram
	AdminRejectionsTotal prometheus.Counter

	// Invitation code metrics
	InvitationOperationsTotal *prometheus.CounterVec
	InvitationCacheTotal      *prometheus.CounterVec
	InvitationsPurgedTotal    prometheus.Counter

	// Storage metrics
	RedisErrorsTotal *prometheus.CounterVec

	// Upstream metrics
	UpstreamRequestDuration *prometheus.HistogramVec
	UpstreamErrorsTotal     *prometheus.CounterVec

	// Credential metrics
	CredentialsIssuedTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aimo_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aimo_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aimo_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "path"},
		),

		AuthRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aimo_auth_rejections_total",
				Help: "Requests rejected by the auth gate",
			},
			[]string{"reason"},
		),
		QuotaDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aimo_quota_decisions_total",
				Help: "Rate limit gate decisions",
			},
			[]string{"result"},
		),
		QuotaRemaining: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "aimo_quota_remaining",
				Help:    "Remaining daily quota observed on admitted requests",
				Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000},
			},
		),
		AdminRejectionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "aimo_admin_rejections_total",
				Help: "Admin requests rejected for a bad api key",
			},
		),

		InvitationOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aimo_invitation_operations_total",
				Help: "Invitation code store operations",
			},
			[]string{"operation", "result"},
		),
		InvitationCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aimo_invitation_cache_total",
				Help: "Invitation lookup cache hits and misses",
			},
			[]string{"result"},
		),
		InvitationsPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "aimo_invitations_purged_total",
				Help: "Dead invitation codes removed by the sweeper",
			},
		),

		RedisErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aimo_redis_errors_total",
				Help: "Redis command failures",
			},
			[]string{"operation"},
		),

		UpstreamRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aimo_upstream_request_duration_seconds",
				Help:    "Duration of calls to upstream services",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"service"},
		),
		UpstreamErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aimo_upstream_errors_total",
				Help: "Failed calls to upstream services",
			},
			[]string{"service"},
		),

		CredentialsIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aimo_credentials_issued_total",
				Help: "Credentials issued by identity type",
			},
			[]string{"identity"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.AuthRejectionsTotal,
		m.QuotaDecisionsTotal,
		m.QuotaRemaining,
		m.AdminRejectionsTotal,
		m.InvitationOperationsTotal,
		m.InvitationCacheTotal,
		m.InvitationsPurgedTotal,
		m.RedisErrorsTotal,
		m.UpstreamRequestDuration,
		m.UpstreamErrorsTotal,
		m.CredentialsIssuedTotal,
	)

	return m
}

// ObserveUpstream records the duration of an upstream call and counts it as an
// error when err is non-nil. Safe to call on a nil receiver.
func (m *Metrics) ObserveUpstream(service string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.UpstreamRequestDuration.WithLabelValues(service).Observe(time.Since(start).Seconds())
	if err != nil {
		m.UpstreamErrorsTotal.WithLabelValues(service).Inc()
	}
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
