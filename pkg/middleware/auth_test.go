package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimoverse/aimo-gateway/pkg/auth"
	"github.com/aimoverse/aimo-gateway/pkg/contextkeys"
	"github.com/aimoverse/aimo-gateway/pkg/invitation"
	"github.com/aimoverse/aimo-gateway/pkg/observability"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeLookup struct {
	codes   map[string]*invitation.Code
	wallets map[string]*invitation.WalletAccount
	err     error
}

func (l *fakeLookup) Get(ctx context.Context, code string) (*invitation.Code, error) {
	if l.err != nil {
		return nil, l.err
	}
	c, ok := l.codes[code]
	if !ok {
		return nil, invitation.ErrNotFound
	}
	return c, nil
}

func (l *fakeLookup) WalletAccount(ctx context.Context, wallet string) (*invitation.WalletAccount, error) {
	if l.err != nil {
		return nil, l.err
	}
	a, ok := l.wallets[wallet]
	if !ok {
		return nil, invitation.ErrWalletNotRegistered
	}
	return a, nil
}

type fakeRevocations struct {
	revoked map[string]bool
	err     error
}

func (f *fakeRevocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	return f.revoked[jti], f.err
}

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }

func newTestIssuer(t *testing.T) (*auth.Issuer, *testClock) {
	t.Helper()
	clock := &testClock{t: testNow}
	issuer, err := auth.NewIssuer(auth.Config{Secret: []byte("middleware-test-secret")})
	require.NoError(t, err)
	return issuer.WithClock(clock.Now), clock
}

func issue(t *testing.T, issuer *auth.Issuer, identity auth.Identity, quota int) (string, *auth.Claims) {
	t.Helper()
	token, claims, err := issuer.Issue(identity, nil, quota)
	require.NoError(t, err)
	return token, claims
}

func newLookup() *fakeLookup {
	return &fakeLookup{
		codes: map[string]*invitation.Code{
			"ABCD1234": {Code: "ABCD1234", ExpiresAt: testNow.Add(24 * time.Hour), Used: true},
			"OLDCODE1": {Code: "OLDCODE1", ExpiresAt: testNow.Add(-time.Hour)},
		},
		wallets: map[string]*invitation.WalletAccount{
			"0xgood": {
				WalletAddress:  "0xgood",
				InvitationCode: "BOUND001",
				Code:           &invitation.Code{Code: "BOUND001", Bound: true, ExpiresAt: testNow.Add(300 * 24 * time.Hour)},
			},
			"0xstale": {
				WalletAddress:  "0xstale",
				InvitationCode: "BOUND002",
				Code:           &invitation.Code{Code: "BOUND002", Bound: true, ExpiresAt: testNow.Add(-time.Minute)},
			},
		},
	}
}

// okHandler echoes the subject placed in the context.
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if ok {
		w.Header().Set("X-Subject", claims.Identity.String())
	}
	w.WriteHeader(http.StatusOK)
})

func serve(h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func messageOf(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body.Message
}

func TestAuthGate_PassThrough(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	gate := NewAuthGate(issuer, newLookup(), WithExcludedPaths("/api/v1/auth/*", "/health"))
	h := gate.Handler(okHandler)

	assert.Equal(t, http.StatusOK, serve(h, http.MethodPost, "/api/v1/auth/check-invitation-code", "").Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodOptions, "/api/v1/chat/completions", "").Code)

	// exact patterns do not match by prefix
	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodGet, "/health/ready", "").Code)
}

func TestAuthGate_CredentialFailures(t *testing.T) {
	issuer, clock := newTestIssuer(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	h := NewAuthGate(issuer, newLookup(), WithAuthMetrics(metrics)).Handler(okHandler)

	t.Run("missing", func(t *testing.T) {
		rr := serve(h, http.MethodGet, "/api/v1/user/quota", "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, MsgCredentialMissing, messageOf(t, rr))
	})

	t.Run("wrong scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/user/quota", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, MsgCredentialMissing, messageOf(t, rr))
	})

	t.Run("invalid", func(t *testing.T) {
		rr := serve(h, http.MethodGet, "/api/v1/user/quota", "not-a-token")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, MsgCredentialInvalid, messageOf(t, rr))
	})

	t.Run("expired", func(t *testing.T) {
		token, _ := issue(t, issuer, auth.EmailIdentity("a@example.com"), 10)
		clock.t = testNow.Add(auth.DefaultExpiry + time.Second)
		defer func() { clock.t = testNow }()

		rr := serve(h, http.MethodGet, "/api/v1/user/quota", token)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, MsgCredentialExpired, messageOf(t, rr))
	})

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.AuthRejectionsTotal.WithLabelValues("missing")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AuthRejectionsTotal.WithLabelValues("invalid")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AuthRejectionsTotal.WithLabelValues("expired")))
}

func TestAuthGate_Revocation(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	token, claims := issue(t, issuer, auth.EmailIdentity("a@example.com"), 10)

	t.Run("revoked credential is rejected", func(t *testing.T) {
		rc := &fakeRevocations{revoked: map[string]bool{claims.JTI(): true}}
		h := NewAuthGate(issuer, newLookup(), WithRevocationChecker(rc)).Handler(okHandler)

		rr := serve(h, http.MethodGet, "/api/v1/user/quota", token)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, MsgCredentialRevoked, messageOf(t, rr))
	})

	t.Run("revocation store failure admits", func(t *testing.T) {
		metrics := observability.NewMetrics(prometheus.NewRegistry())
		rc := &fakeRevocations{err: errors.New("redis down")}
		h := NewAuthGate(issuer, newLookup(), WithRevocationChecker(rc), WithAuthMetrics(metrics)).Handler(okHandler)

		rr := serve(h, http.MethodGet, "/api/v1/user/quota", token)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RedisErrorsTotal.WithLabelValues("is_revoked")))
	})
}

func TestAuthGate_Identities(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	h := NewAuthGate(issuer, newLookup(), WithAuthClock(func() time.Time { return testNow })).Handler(okHandler)

	tests := []struct {
		name     string
		identity auth.Identity
		status   int
		message  string
	}{
		{name: "registered wallet", identity: auth.WalletIdentity("0xgood"), status: http.StatusOK},
		{name: "unknown wallet", identity: auth.WalletIdentity("0xnobody"), status: http.StatusUnauthorized, message: MsgWalletNotRegistered},
		{name: "wallet with expired code", identity: auth.WalletIdentity("0xstale"), status: http.StatusUnauthorized, message: MsgBoundCodeExpired},
		{name: "consumed invitation code", identity: auth.InvitationIdentity("ABCD1234"), status: http.StatusOK},
		{name: "unknown invitation code", identity: auth.InvitationIdentity("MISSING1"), status: http.StatusUnauthorized, message: MsgInvalidInvitation},
		{name: "expired invitation code", identity: auth.InvitationIdentity("OLDCODE1"), status: http.StatusUnauthorized, message: MsgInvalidInvitation},
		{name: "email", identity: auth.EmailIdentity("Someone@Example.com"), status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, _ := issue(t, issuer, tt.identity, 10)
			rr := serve(h, http.MethodPost, "/api/v1/chat/completions", token)

			assert.Equal(t, tt.status, rr.Code)
			if tt.message != "" {
				assert.Equal(t, tt.message, messageOf(t, rr))
			} else {
				assert.Equal(t, tt.identity.String(), rr.Header().Get("X-Subject"))
			}
		})
	}
}

func TestAuthGate_WalletCodeFetchedWhenNotJoined(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	lookup := newLookup()
	lookup.wallets["0xlazy"] = &invitation.WalletAccount{WalletAddress: "0xlazy", InvitationCode: "ABCD1234"}
	h := NewAuthGate(issuer, lookup, WithAuthClock(func() time.Time { return testNow })).Handler(okHandler)

	token, _ := issue(t, issuer, auth.WalletIdentity("0xlazy"), 10)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/api/v1/user/quota", token).Code)
}

func TestAuthGate_StoreErrorIsInternal(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	lookup := &fakeLookup{err: errors.New("connection refused")}
	h := NewAuthGate(issuer, lookup, WithAuthMetrics(metrics)).Handler(okHandler)

	for _, identity := range []auth.Identity{auth.WalletIdentity("0xgood"), auth.InvitationIdentity("ABCD1234")} {
		token, _ := issue(t, issuer, identity, 10)
		rr := serve(h, http.MethodGet, "/api/v1/user/quota", token)
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Equal(t, "Internal Server Error", messageOf(t, rr))
		assert.NotContains(t, rr.Body.String(), "connection refused")
	}
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.AuthRejectionsTotal.WithLabelValues("store_error")))
}

func TestAuthGate_ContextValues(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	token, issued := issue(t, issuer, auth.EmailIdentity("a@example.com"), 42)

	var gotClaims *auth.Claims
	var gotSubject string
	h := NewAuthGate(issuer, newLookup()).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims, _ = ClaimsFromContext(r.Context())
		gotSubject = contextkeys.GetSubject(r.Context())
	}))

	serve(h, http.MethodGet, "/api/v1/user/quota", token)
	require.NotNil(t, gotClaims)
	assert.Equal(t, issued.JTI(), gotClaims.JTI())
	assert.Equal(t, 42, gotClaims.Quota)
	assert.Equal(t, "email:a@example.com", gotSubject)

	_, ok := ClaimsFromContext(context.Background())
	assert.False(t, ok)
}

func TestMatchPath(t *testing.T) {
	assert.True(t, matchPath("/docs", "/docs"))
	assert.False(t, matchPath("/docs/x", "/docs"))
	assert.True(t, matchPath("/docs/x", "/docs*"))
	assert.True(t, matchPath("/api/v1/auth/email/login", "/api/v1/auth/*"))
	assert.False(t, matchPath("/api/v1/authx", "/api/v1/auth/*"))
}
