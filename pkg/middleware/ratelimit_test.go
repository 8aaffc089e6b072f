package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestThrottle(rate, burst int) (*ClientThrottle, *testClock) {
	clock := &testClock{t: testNow}
	th := NewClientThrottle(ThrottleConfig{
		RequestsPerWindow: rate,
		WindowDuration:    time.Minute,
		BurstSize:         burst,
	}, nil)
	th.now = clock.Now
	return th, clock
}

func TestClientThrottle_Allow(t *testing.T) {
	th, clock := newTestThrottle(10, 2)

	allowed := 0
	for i := 0; i < 20; i++ {
		if th.Allow("1.2.3.4") {
			allowed++
		}
	}
	assert.Equal(t, 12, allowed)
	assert.Equal(t, 0, th.Remaining("1.2.3.4"))

	// other clients have their own bucket
	assert.True(t, th.Allow("5.6.7.8"))

	// 10 per minute refills one token every 6 seconds
	clock.t = clock.t.Add(7 * time.Second)
	assert.True(t, th.Allow("1.2.3.4"))
	assert.False(t, th.Allow("1.2.3.4"))
}

func TestClientThrottle_RefillIsCapped(t *testing.T) {
	th, clock := newTestThrottle(10, 2)
	assert.Equal(t, 12, th.Remaining("k"))

	th.Allow("k")
	clock.t = clock.t.Add(time.Hour)
	th.Allow("k")
	assert.Equal(t, 11, th.Remaining("k"))
}

func TestClientThrottle_Defaults(t *testing.T) {
	th := NewClientThrottle(ThrottleConfig{BurstSize: -1}, nil)
	def := DefaultThrottleConfig()
	assert.Equal(t, def.RequestsPerWindow, th.config.RequestsPerWindow)
	assert.Equal(t, def.WindowDuration, th.config.WindowDuration)
	assert.Equal(t, 0, th.config.BurstSize)
}

func TestClientThrottle_Cleanup(t *testing.T) {
	th, clock := newTestThrottle(10, 0)
	th.Allow("old")
	clock.t = clock.t.Add(90 * time.Second)
	th.Allow("recent")

	clock.t = clock.t.Add(60 * time.Second)
	th.Cleanup()

	th.mu.Lock()
	defer th.mu.Unlock()
	assert.NotContains(t, th.buckets, "old")
	assert.Contains(t, th.buckets, "recent")
}

func TestClientThrottle_StartCleanupStops(t *testing.T) {
	th := NewClientThrottle(ThrottleConfig{RequestsPerWindow: 1, WindowDuration: 10 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	th.StartCleanup(ctx)
	th.Allow("x")
	cancel()
}

func TestClientThrottle_Handler(t *testing.T) {
	metrics := newTestMetrics()
	th := NewClientThrottle(ThrottleConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}, metrics)
	th.now = func() time.Time { return testNow }
	h := th.Handler(okHandler)

	req := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/email/login", nil)
		r.RemoteAddr = "10.0.0.1:5555"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, r)
		return rr
	}

	assert.Equal(t, http.StatusOK, req().Code)
	rr := req()
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, ThrottleMessage, messageOf(t, rr))
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.QuotaDecisionsTotal.WithLabelValues("throttled")))

	// preflights are not counted
	assert.Equal(t, http.StatusOK, serve(h, http.MethodOptions, "/api/v1/auth/email/login", "").Code)
}

func TestClientIP(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8", "172.16.0.1"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		trusted []*net.IPNet
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "remote addr", remote: "192.168.1.1:1234", want: "192.168.1.1"},
		{name: "remote addr without port", remote: "192.168.1.1", want: "192.168.1.1"},
		{name: "forwarded ignored without trusted proxies", headers: map[string]string{"X-Forwarded-For": "203.0.113.5"}, remote: "10.0.0.1:1", want: "10.0.0.1"},
		{name: "real ip ignored without trusted proxies", headers: map[string]string{"X-Real-IP": "198.51.100.7"}, remote: "10.0.0.1:1", want: "10.0.0.1"},
		{name: "forwarded ignored from untrusted peer", trusted: proxies, headers: map[string]string{"X-Forwarded-For": "203.0.113.5"}, remote: "192.0.2.9:1", want: "192.0.2.9"},
		{name: "forwarded from trusted peer", trusted: proxies, headers: map[string]string{"X-Forwarded-For": "203.0.113.5"}, remote: "10.0.0.1:1", want: "203.0.113.5"},
		{name: "spoofed leftmost hop is skipped", trusted: proxies, headers: map[string]string{"X-Forwarded-For": "1.2.3.4, 203.0.113.5, 10.1.1.1"}, remote: "172.16.0.1:1", want: "203.0.113.5"},
		{name: "all hops trusted", trusted: proxies, headers: map[string]string{"X-Forwarded-For": "10.2.2.2, 10.1.1.1"}, remote: "10.0.0.1:1", want: "10.2.2.2"},
		{name: "real ip from trusted peer", trusted: proxies, headers: map[string]string{"X-Real-IP": "198.51.100.7"}, remote: "10.0.0.1:1", want: "198.51.100.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(r, tt.trusted))
		})
	}
}

func TestParseTrustedProxies(t *testing.T) {
	nets, err := ParseTrustedProxies([]string{"10.0.0.0/8", " 192.0.2.1 ", "2001:db8::1"})
	require.NoError(t, err)
	require.Len(t, nets, 3)
	assert.Equal(t, "192.0.2.1/32", nets[1].String())
	assert.Equal(t, "2001:db8::1/128", nets[2].String())

	for _, bad := range []string{"10.0.0.0/33", "proxy.internal", ""} {
		_, err := ParseTrustedProxies([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestClientThrottle_IgnoresRotatedForwardedFor(t *testing.T) {
	th := NewClientThrottle(ThrottleConfig{RequestsPerWindow: 1, WindowDuration: time.Hour}, nil)
	th.now = func() time.Time { return testNow }
	h := th.Handler(okHandler)

	admitted := 0
	for i := 0; i < 50; i++ {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/email/login", nil)
		r.RemoteAddr = "198.51.100.20:4000"
		r.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, r)
		if rr.Code == http.StatusOK {
			admitted++
		}
	}
	assert.Equal(t, 1, admitted)
}

func TestClientThrottle_KeysOnForwardedBehindTrustedProxy(t *testing.T) {
	th := NewClientThrottle(ThrottleConfig{
		RequestsPerWindow: 1,
		WindowDuration:    time.Hour,
		TrustedProxies:    []string{"10.0.0.0/8"},
	}, nil)
	th.now = func() time.Time { return testNow }
	h := th.Handler(okHandler)

	send := func(client string) int {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/email/login", nil)
		r.RemoteAddr = "10.0.0.2:4000"
		r.Header.Set("X-Forwarded-For", client)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, r)
		return rr.Code
	}

	assert.Equal(t, http.StatusOK, send("203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.1"))
	assert.Equal(t, http.StatusOK, send("203.0.113.2"))
}
