package wallet

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimoverse/aimo-gateway/pkg/observability"
)

const testAppID = "app-123"

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type privyFixture struct {
	key      *ecdsa.PrivateKey
	verifier *PrivyVerifier
	metrics  *observability.Metrics
	userBody string
	status   int
}

func setupPrivy(t *testing.T) *privyFixture {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	f := &privyFixture{
		key:     key,
		metrics: observability.NewMetrics(prometheus.NewRegistry()),
		status:  http.StatusOK,
		userBody: `{"id":"did:privy:abc","linked_accounts":[
			{"type":"email","address":"a@example.com"},
			{"type":"wallet","address":"0xAbCdEf0123","chain_type":"ethereum"}
		]}`,
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != testAppID || pass != "secret" || r.Header.Get("privy-app-id") != testAppID {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/api/v1/users/did:privy:abc" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(f.userBody))
	}))
	t.Cleanup(srv.Close)

	f.verifier, err = NewPrivyVerifier(PrivyConfig{
		AppID:     testAppID,
		AppSecret: "secret",
		APIURL:    srv.URL + "/api/v1",
	}, f.metrics,
		WithKeySet(&oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}),
		WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	return f
}

func (f *privyFixture) sign(t *testing.T, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(f.key)
	require.NoError(t, err)
	return token
}

func validClaims() jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    DefaultPrivyIssuer,
		Subject:   "did:privy:abc",
		Audience:  jwt.ClaimStrings{testAppID},
		IssuedAt:  jwt.NewNumericDate(testNow.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Hour)),
	}
}

func TestNewPrivyVerifier_RequiresAppID(t *testing.T) {
	_, err := NewPrivyVerifier(PrivyConfig{}, nil)
	assert.Error(t, err)
}

func TestPrivyVerifier_Verify(t *testing.T) {
	f := setupPrivy(t)

	id, err := f.verifier.Verify(context.Background(), f.sign(t, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "did:privy:abc", id.UserID)
	assert.Equal(t, "0xabcdef0123", id.WalletAddress)
	assert.Equal(t, "ethereum", id.ChainType)
	assert.Equal(t, float64(0), testutil.ToFloat64(f.metrics.UpstreamErrorsTotal.WithLabelValues(ServicePrivy)))
}

func TestPrivyVerifier_RejectsBadTokens(t *testing.T) {
	f := setupPrivy(t)
	other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(testNow.Add(-time.Minute))

	wrongAudience := validClaims()
	wrongAudience.Audience = jwt.ClaimStrings{"someone-else"}

	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "evil.example"

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodES256, validClaims()).SignedString(other)
	require.NoError(t, err)

	hmac, err := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims()).SignedString([]byte("k"))
	require.NoError(t, err)

	tests := map[string]string{
		"empty":          "",
		"garbage":        "not-a-jwt",
		"expired":        f.sign(t, expired),
		"wrong audience": f.sign(t, wrongAudience),
		"wrong issuer":   f.sign(t, wrongIssuer),
		"foreign key":    foreign,
		"hmac":           hmac,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := f.verifier.Verify(context.Background(), token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestPrivyVerifier_NoWallet(t *testing.T) {
	f := setupPrivy(t)
	f.userBody = `{"id":"did:privy:abc","linked_accounts":[{"type":"email","address":"a@example.com"}]}`

	_, err := f.verifier.Verify(context.Background(), f.sign(t, validClaims()))
	assert.ErrorIs(t, err, ErrNoWallet)
}

func TestPrivyVerifier_APIFailure(t *testing.T) {
	f := setupPrivy(t)
	f.status = http.StatusBadGateway

	_, err := f.verifier.Verify(context.Background(), f.sign(t, validClaims()))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidToken))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.UpstreamErrorsTotal.WithLabelValues(ServicePrivy)))
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "0xabc", NormalizeAddress(" 0xABC "))
	assert.Equal(t, "0xabc", NormalizeAddress("0XAbc"))
	assert.Equal(t, "So1anaBase58", NormalizeAddress("So1anaBase58"))
}
