package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aimoverse/aimo-gateway/pkg/httputil"
	"github.com/aimoverse/aimo-gateway/pkg/observability"
)

// ThrottleMessage is the body of a 429 from the client throttle.
const ThrottleMessage = "Too many attempts. Try again later."

// ThrottleConfig defines the per-client token bucket.
type ThrottleConfig struct {
	// RequestsPerWindow is the refill rate
	RequestsPerWindow int
	// WindowDuration is the refill period
	WindowDuration time.Duration
	// BurstSize allows short bursts above the rate
	BurstSize int
	// TrustedProxies lists the IPs or CIDRs whose X-Forwarded-For and
	// X-Real-IP headers are believed. Empty means key on the peer address.
	TrustedProxies []string
}

// DefaultThrottleConfig allows 20 attempts a minute per client with a burst
// of 5. It guards the unauthenticated login endpoints against code guessing.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		RequestsPerWindow: 20,
		WindowDuration:    time.Minute,
		BurstSize:         5,
	}
}

// ClientThrottle is an in-process token bucket keyed by client IP. It is not
// shared between instances; the per-credential quota lives in Redis.
type ClientThrottle struct {
	config  ThrottleConfig
	trusted []*net.IPNet
	buckets map[string]*bucket
	mu      sync.Mutex
	now     func() time.Time
	metrics *observability.Metrics
}

type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// NewClientThrottle creates a throttle. Zero fields in config take the
// defaults; metrics may be nil. Unparseable trusted proxies are skipped, so
// callers should check them with ParseTrustedProxies first.
func NewClientThrottle(config ThrottleConfig, metrics *observability.Metrics) *ClientThrottle {
	def := DefaultThrottleConfig()
	if config.RequestsPerWindow <= 0 {
		config.RequestsPerWindow = def.RequestsPerWindow
	}
	if config.WindowDuration <= 0 {
		config.WindowDuration = def.WindowDuration
	}
	if config.BurstSize < 0 {
		config.BurstSize = 0
	}
	var trusted []*net.IPNet
	for _, entry := range config.TrustedProxies {
		if n, err := parseProxy(entry); err == nil {
			trusted = append(trusted, n)
		}
	}
	return &ClientThrottle{
		config:  config,
		trusted: trusted,
		buckets: make(map[string]*bucket),
		now:     time.Now,
		metrics: metrics,
	}
}

func (t *ClientThrottle) capacity() float64 {
	return float64(t.config.RequestsPerWindow + t.config.BurstSize)
}

// Allow takes a token for key if one is available.
func (t *ClientThrottle) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	b, ok := t.buckets[key]
	if !ok {
		b = &bucket{tokens: t.capacity(), lastUpdate: now}
		t.buckets[key] = b
	}

	elapsed := now.Sub(b.lastUpdate).Seconds()
	b.tokens += elapsed * float64(t.config.RequestsPerWindow) / t.config.WindowDuration.Seconds()
	if b.tokens > t.capacity() {
		b.tokens = t.capacity()
	}
	b.lastUpdate = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Remaining returns the whole tokens left for key.
func (t *ClientThrottle) Remaining(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.buckets[key]
	if !ok {
		return int(t.capacity())
	}
	return int(b.tokens)
}

// Cleanup drops buckets idle for more than two windows.
func (t *ClientThrottle) Cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for key, b := range t.buckets {
		if now.Sub(b.lastUpdate) > 2*t.config.WindowDuration {
			delete(t.buckets, key)
		}
	}
}

// StartCleanup runs Cleanup once per window until ctx is done.
func (t *ClientThrottle) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(t.config.WindowDuration)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Handler wraps next with the per-client throttle.
func (t *ClientThrottle) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPreflight(r) {
			next.ServeHTTP(w, r)
			return
		}

		key := ClientIP(r, t.trusted)
		if !t.Allow(key) {
			if t.metrics != nil {
				t.metrics.QuotaDecisionsTotal.WithLabelValues("throttled").Inc()
			}
			observability.GetLogger(r.Context()).WithField("client", key).Warn("client throttled")
			w.Header().Set("Retry-After", strconv.Itoa(int(t.config.WindowDuration.Seconds())))
			httputil.WriteTooManyRequests(w, ThrottleMessage)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ParseTrustedProxies parses IPs and CIDRs into networks.
func ParseTrustedProxies(entries []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(entries))
	for _, entry := range entries {
		n, err := parseProxy(entry)
		if err != nil {
			return nil, err
		}
		nets = append(nets, n)
	}
	return nets, nil
}

func parseProxy(entry string) (*net.IPNet, error) {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		_, n, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		return n, nil
	}
	ip := net.ParseIP(entry)
	if ip == nil {
		return nil, fmt.Errorf("invalid trusted proxy %q", entry)
	}
	bits := 8 * net.IPv6len
	if v4 := ip.To4(); v4 != nil {
		ip, bits = v4, 8*net.IPv4len
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
}

// ClientIP returns the address a request is attributed to. Forwarding
// headers count only when the peer is a trusted proxy; X-Forwarded-For is
// then read right to left and the first hop outside the trusted networks
// wins.
func ClientIP(r *http.Request, trusted []*net.IPNet) string {
	peer := remoteHost(r.RemoteAddr)
	if !isTrusted(peer, trusted) {
		return peer
	}

	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		hops := strings.Split(forwarded, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if i == 0 || !isTrusted(hop, trusted) {
				return hop
			}
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return peer
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func isTrusted(addr string, trusted []*net.IPNet) bool {
	if len(trusted) == 0 {
		return false
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
