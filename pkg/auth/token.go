package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultAlgorithm signs credentials when none is configured.
	DefaultAlgorithm = "HS256"
	// DefaultExpiry is how long a freshly issued credential stays valid.
	DefaultExpiry = 3 * 24 * time.Hour
	// DefaultQuota is the daily admission ceiling when none is requested.
	DefaultQuota = 1000
)

// Config configures an Issuer.
type Config struct {
	Secret       []byte
	Algorithm    string
	Expiry       time.Duration
	DefaultQuota int
}

// Issuer signs, validates and reissues credentials. It holds no per-token
// state and is safe for concurrent use.
type Issuer struct {
	secret       []byte
	method       jwt.SigningMethod
	expiry       time.Duration
	defaultQuota int
	now          func() time.Time
	newID        func() string
}

// NewIssuer validates cfg and returns an Issuer. Only HMAC algorithms are
// accepted since the secret is shared.
func NewIssuer(cfg Config) (*Issuer, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("signing secret is required")
	}

	alg := cfg.Algorithm
	if alg == "" {
		alg = DefaultAlgorithm
	}
	method, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported signing algorithm %q", alg)
	}

	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	quota := cfg.DefaultQuota
	if quota <= 0 {
		quota = DefaultQuota
	}

	return &Issuer{
		secret:       cfg.Secret,
		method:       method,
		expiry:       expiry,
		defaultQuota: quota,
		now:          time.Now,
		newID:        uuid.NewString,
	}, nil
}

// WithClock replaces the issuer's time source. Used by tests.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// DefaultQuota returns the quota applied when a caller passes none.
func (i *Issuer) DefaultQuota() int {
	return i.defaultQuota
}

// Issue mints a credential for identity. A non-positive quota means the
// default. Attributes are copied.
func (i *Issuer) Issue(identity Identity, attrs map[string]string, quota int) (string, *Claims, error) {
	if err := identity.Validate(); err != nil {
		return "", nil, err
	}
	if quota <= 0 {
		quota = i.defaultQuota
	}

	now := i.now()
	claims := &Claims{
		Identity:   identity,
		Attributes: copyAttrs(attrs),
		Quota:      quota,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        i.newID(),
			Subject:   identity.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.expiry)),
		},
	}

	token, err := i.sign(claims)
	if err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

// Validate checks signature, algorithm and expiry and returns the claims.
// Errors are ErrCredentialExpired or ErrCredentialInvalid, wrapping the cause.
func (i *Issuer) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{i.method.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrCredentialExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrCredentialInvalid, err)
	}
	if !token.Valid {
		return nil, ErrCredentialInvalid
	}
	if err := claims.Identity.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentialInvalid, err)
	}
	return claims, nil
}

// Reissue validates tokenString and mints a replacement with the same identity
// and attributes, a new jti, a fresh expiry and newQuota. The original stays
// valid; revoking it is the caller's job.
func (i *Issuer) Reissue(tokenString string, newQuota int) (string, *Claims, error) {
	if newQuota <= 0 {
		return "", nil, ErrInvalidQuota
	}
	old, err := i.Validate(tokenString)
	if err != nil {
		return "", nil, err
	}
	return i.Issue(old.Identity, old.Attributes, newQuota)
}

func (i *Issuer) sign(claims *Claims) (string, error) {
	token, err := jwt.NewWithClaims(i.method, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign credential: %w", err)
	}
	return token, nil
}

func copyAttrs(attrs map[string]string) map[string]string {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
