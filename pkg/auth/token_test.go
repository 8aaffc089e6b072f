package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-signing-secret")

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestIssuer(t *testing.T) (*Issuer, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	issuer, err := NewIssuer(Config{Secret: testSecret})
	require.NoError(t, err)
	return issuer.WithClock(clock.Now), clock
}

func TestNewIssuer(t *testing.T) {
	t.Run("requires secret", func(t *testing.T) {
		_, err := NewIssuer(Config{})
		assert.Error(t, err)
	})

	t.Run("rejects non-HMAC algorithm", func(t *testing.T) {
		_, err := NewIssuer(Config{Secret: testSecret, Algorithm: "RS256"})
		assert.ErrorContains(t, err, "unsupported signing algorithm")
	})

	t.Run("rejects unknown algorithm", func(t *testing.T) {
		_, err := NewIssuer(Config{Secret: testSecret, Algorithm: "XX999"})
		assert.Error(t, err)
	})

	t.Run("applies defaults", func(t *testing.T) {
		issuer, err := NewIssuer(Config{Secret: testSecret})
		require.NoError(t, err)
		assert.Equal(t, "HS256", issuer.method.Alg())
		assert.Equal(t, DefaultExpiry, issuer.expiry)
		assert.Equal(t, DefaultQuota, issuer.DefaultQuota())
	})

	t.Run("accepts HS512", func(t *testing.T) {
		issuer, err := NewIssuer(Config{Secret: testSecret, Algorithm: "HS512", DefaultQuota: 50})
		require.NoError(t, err)
		assert.Equal(t, "HS512", issuer.method.Alg())
		assert.Equal(t, 50, issuer.DefaultQuota())
	})
}

func TestIssuer_IssueAndValidate(t *testing.T) {
	issuer, clock := newTestIssuer(t)

	token, issued, err := issuer.Issue(WalletIdentity("0xAbC"), map[string]string{"locale": "en"}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := issuer.Validate(token)
	require.NoError(t, err)

	assert.Equal(t, WalletIdentity("0xAbC"), claims.Identity)
	assert.Equal(t, "en", claims.Attributes["locale"])
	assert.Equal(t, 5, claims.Quota)
	assert.Equal(t, issued.ID, claims.JTI())
	assert.Len(t, claims.JTI(), 36)
	assert.Equal(t, "wallet:0xAbC", claims.Subject)
	assert.Equal(t, clock.Now().Add(DefaultExpiry).Unix(), claims.ExpiresAt.Unix())
}

func TestIssuer_IssueDefaultsQuota(t *testing.T) {
	issuer, _ := newTestIssuer(t)

	for _, quota := range []int{0, -3} {
		_, claims, err := issuer.Issue(InvitationIdentity("ABCD1234"), nil, quota)
		require.NoError(t, err)
		assert.Equal(t, DefaultQuota, claims.Quota)
		assert.Nil(t, claims.Attributes)
	}
}

func TestIssuer_UniqueJTI(t *testing.T) {
	issuer, _ := newTestIssuer(t)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		_, claims, err := issuer.Issue(EmailIdentity("a@example.com"), nil, 1)
		require.NoError(t, err)
		assert.False(t, seen[claims.ID], "duplicate jti %s", claims.ID)
		seen[claims.ID] = true
	}
}

func TestIssuer_IssueRejectsBadIdentity(t *testing.T) {
	issuer, _ := newTestIssuer(t)

	_, _, err := issuer.Issue(Identity{Type: "phone", Value: "123"}, nil, 1)
	assert.Error(t, err)

	_, _, err = issuer.Issue(WalletIdentity("  "), nil, 1)
	assert.Error(t, err)
}

func TestIssuer_IssueCopiesAttributes(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	attrs := map[string]string{"k": "v"}

	_, claims, err := issuer.Issue(EmailIdentity("a@example.com"), attrs, 1)
	require.NoError(t, err)

	attrs["k"] = "changed"
	assert.Equal(t, "v", claims.Attributes["k"])
}

func TestIssuer_ValidateExpired(t *testing.T) {
	issuer, clock := newTestIssuer(t)

	t.Run("clock passes expiry", func(t *testing.T) {
		token, _, err := issuer.Issue(EmailIdentity("a@example.com"), nil, 1)
		require.NoError(t, err)

		clock.Advance(DefaultExpiry + time.Second)
		defer clock.Advance(-(DefaultExpiry + time.Second))

		_, err = issuer.Validate(token)
		assert.ErrorIs(t, err, ErrCredentialExpired)
		assert.NotErrorIs(t, err, ErrCredentialInvalid)
	})

	t.Run("exp at epoch zero", func(t *testing.T) {
		claims := &Claims{
			Identity: InvitationIdentity("ABCD1234"),
			Quota:    10,
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        "old",
				ExpiresAt: jwt.NewNumericDate(time.Unix(0, 0)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
		require.NoError(t, err)

		_, err = issuer.Validate(token)
		assert.ErrorIs(t, err, ErrCredentialExpired)
	})
}

func TestIssuer_ValidateInvalid(t *testing.T) {
	issuer, clock := newTestIssuer(t)
	exp := jwt.NewNumericDate(clock.Now().Add(time.Hour))

	sign := func(method jwt.SigningMethod, key interface{}, claims jwt.Claims) string {
		token, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return token
	}
	good := &Claims{
		Identity:         EmailIdentity("a@example.com"),
		Quota:            1,
		RegisteredClaims: jwt.RegisteredClaims{ID: "x", ExpiresAt: exp},
	}

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-jwt"},
		{name: "empty", token: ""},
		{name: "wrong secret", token: sign(jwt.SigningMethodHS256, []byte("other"), good)},
		{name: "wrong algorithm", token: sign(jwt.SigningMethodHS512, testSecret, good)},
		{name: "alg none", token: sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, good)},
		{name: "missing exp", token: sign(jwt.SigningMethodHS256, testSecret, &Claims{
			Identity: EmailIdentity("a@example.com"),
		})},
		{name: "unknown identity type", token: sign(jwt.SigningMethodHS256, testSecret, &Claims{
			Identity:         Identity{Type: "phone", Value: "1"},
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp},
		})},
		{name: "missing identity", token: sign(jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
			"exp":                exp.Unix(),
			"invitation_code":    "ABCD1234",
			"remaining_requests": 10,
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := issuer.Validate(tt.token)
			assert.ErrorIs(t, err, ErrCredentialInvalid)
		})
	}
}

func TestIssuer_Reissue(t *testing.T) {
	issuer, clock := newTestIssuer(t)

	original, oldClaims, err := issuer.Issue(WalletIdentity("0xabc"), map[string]string{"tier": "beta"}, 1000)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	replacement, newClaims, err := issuer.Reissue(original, 50)
	require.NoError(t, err)

	assert.NotEqual(t, original, replacement)
	assert.NotEqual(t, oldClaims.ID, newClaims.ID)
	assert.Equal(t, oldClaims.Identity, newClaims.Identity)
	assert.Equal(t, oldClaims.Attributes, newClaims.Attributes)
	assert.Equal(t, 50, newClaims.Quota)
	assert.True(t, newClaims.ExpiresAt.After(oldClaims.ExpiresAt.Time))

	// the original is not revoked by reissue
	_, err = issuer.Validate(original)
	assert.NoError(t, err)
}

func TestIssuer_ReissueErrors(t *testing.T) {
	issuer, clock := newTestIssuer(t)
	token, _, err := issuer.Issue(EmailIdentity("a@example.com"), nil, 10)
	require.NoError(t, err)

	_, _, err = issuer.Reissue(token, 0)
	assert.ErrorIs(t, err, ErrInvalidQuota)

	_, _, err = issuer.Reissue("garbage", 5)
	assert.ErrorIs(t, err, ErrCredentialInvalid)

	clock.Advance(DefaultExpiry * 2)
	_, _, err = issuer.Reissue(token, 5)
	assert.ErrorIs(t, err, ErrCredentialExpired)
}
