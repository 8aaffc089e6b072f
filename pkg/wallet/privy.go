package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/aimoverse/aimo-gateway/pkg/observability"
)

const (
	// ServicePrivy labels upstream metrics for the Privy API.
	ServicePrivy = "privy"

	DefaultPrivyAPIURL = "https://auth.privy.io/api/v1"
	DefaultPrivyIssuer = "privy.io"
	DefaultTimeout     = 10 * time.Second
)

var (
	// ErrInvalidToken is returned when the access token fails verification.
	ErrInvalidToken = errors.New("invalid wallet access token")
	// ErrNoWallet is returned when the verified user has no linked wallet.
	ErrNoWallet = errors.New("no wallet linked to user")
)

// Identity is a verified wallet holder.
type Identity struct {
	UserID        string
	WalletAddress string
	ChainType     string
}

// Verifier turns a wallet provider access token into a verified identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// PrivyConfig configures a PrivyVerifier.
type PrivyConfig struct {
	AppID     string
	AppSecret string
	// APIURL defaults to DefaultPrivyAPIURL
	APIURL string
	// JWKSURL defaults to {APIURL}/apps/{AppID}/jwks.json
	JWKSURL string
	Issuer  string
	Timeout time.Duration
}

// PrivyVerifier checks Privy access tokens (ES256 JWTs) against the app's
// JWKS, then asks the Privy API for the user's linked wallet.
type PrivyVerifier struct {
	verifier   *oidc.IDTokenVerifier
	apiURL     string
	appID      string
	appSecret  string
	httpClient *http.Client
	metrics    *observability.Metrics
}

type privyOptions struct {
	keySet oidc.KeySet
	now    func() time.Time
}

// PrivyOption configures a PrivyVerifier.
type PrivyOption func(*privyOptions)

// WithKeySet replaces the remote JWKS. Used in tests.
func WithKeySet(keys oidc.KeySet) PrivyOption {
	return func(o *privyOptions) { o.keySet = keys }
}

// WithClock sets the clock used for token expiry checks.
func WithClock(now func() time.Time) PrivyOption {
	return func(o *privyOptions) { o.now = now }
}

// NewPrivyVerifier creates a verifier. metrics may be nil.
func NewPrivyVerifier(cfg PrivyConfig, metrics *observability.Metrics, opts ...PrivyOption) (*PrivyVerifier, error) {
	if cfg.AppID == "" {
		return nil, errors.New("privy app id is required")
	}
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = DefaultPrivyAPIURL
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = DefaultPrivyIssuer
	}
	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		jwksURL = fmt.Sprintf("%s/apps/%s/jwks.json", apiURL, url.PathEscape(cfg.AppID))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := &http.Client{Timeout: timeout}

	o := privyOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.keySet == nil {
		// The key set refreshes in the background with this context.
		o.keySet = oidc.NewRemoteKeySet(oidc.ClientContext(context.Background(), client), jwksURL)
	}

	verifier := oidc.NewVerifier(issuer, o.keySet, &oidc.Config{
		ClientID:             cfg.AppID,
		SupportedSigningAlgs: []string{oidc.ES256},
		Now:                  o.now,
	})

	return &PrivyVerifier{
		verifier:   verifier,
		apiURL:     apiURL,
		appID:      cfg.AppID,
		appSecret:  cfg.AppSecret,
		httpClient: client,
		metrics:    metrics,
	}, nil
}

// Verify validates token and resolves the user's wallet.
func (v *PrivyVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	idToken, err := v.verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if idToken.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	user, err := v.fetchUser(ctx, idToken.Subject)
	if err != nil {
		return nil, err
	}

	for _, account := range user.LinkedAccounts {
		if account.Type == "wallet" && account.Address != "" {
			return &Identity{
				UserID:        user.ID,
				WalletAddress: NormalizeAddress(account.Address),
				ChainType:     account.ChainType,
			}, nil
		}
	}
	return nil, ErrNoWallet
}

type privyUser struct {
	ID             string          `json:"id"`
	LinkedAccounts []linkedAccount `json:"linked_accounts"`
}

type linkedAccount struct {
	Type      string `json:"type"`
	Address   string `json:"address"`
	ChainType string `json:"chain_type"`
}

func (v *PrivyVerifier) fetchUser(ctx context.Context, userID string) (user *privyUser, err error) {
	start := time.Now()
	defer func() { v.metrics.ObserveUpstream(ServicePrivy, start, err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.apiURL+"/users/"+url.PathEscape(userID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create privy request: %w", err)
	}
	req.SetBasicAuth(v.appID, v.appSecret)
	req.Header.Set("privy-app-id", v.appID)
	req.Header.Set("Accept", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("privy request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("privy returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var u privyUser
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("failed to decode privy user: %w", err)
	}
	return &u, nil
}

// NormalizeAddress trims address and lower-cases hex (0x) addresses, which
// are case-insensitive. Other encodings are returned as given.
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if strings.HasPrefix(address, "0x") || strings.HasPrefix(address, "0X") {
		return strings.ToLower(address)
	}
	return address
}
