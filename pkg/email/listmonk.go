package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aimoverse/aimo-gateway/pkg/observability"
)

const (
	// ServiceListmonk labels upstream metrics for the mail server.
	ServiceListmonk = "listmonk"

	// DefaultUsername is the Listmonk API user the gateway authenticates as.
	DefaultUsername = "invitation_code_api"

	DefaultTimeout = 30 * time.Second
)

// Sender delivers verification codes. Delivery is fire-and-forget: callers
// only learn whether it succeeded.
type Sender interface {
	SendCode(ctx context.Context, recipient, code string, expiry time.Duration) bool
}

// ListmonkConfig configures a ListmonkClient.
type ListmonkConfig struct {
	URL        string
	Username   string
	APIKey     string
	ListID     int
	TemplateID int
	Timeout    time.Duration
}

// Subscriber is the subset of a Listmonk subscriber the gateway reads.
type Subscriber struct {
	ID     int    `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// TxMessage is a Listmonk transactional message. Exactly one of
// SubscriberID and SubscriberEmails should be set.
type TxMessage struct {
	SubscriberID     int                    `json:"subscriber_id,omitempty"`
	SubscriberEmails []string               `json:"subscriber_emails,omitempty"`
	TemplateID       int                    `json:"template_id"`
	Data             map[string]interface{} `json:"data"`
	Messenger        string                 `json:"messenger"`
}

// ListmonkClient talks to the Listmonk REST API with basic auth.
type ListmonkClient struct {
	baseURL    string
	username   string
	apiKey     string
	listID     int
	templateID int
	httpClient *http.Client
	metrics    *observability.Metrics
}

// NewListmonkClient creates a client. metrics may be nil.
func NewListmonkClient(cfg ListmonkConfig, metrics *observability.Metrics) (*ListmonkClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, errors.New("listmonk URL is required")
	}
	username := cfg.Username
	if username == "" {
		username = DefaultUsername
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ListmonkClient{
		baseURL:    base,
		username:   username,
		apiKey:     cfg.APIKey,
		listID:     cfg.ListID,
		templateID: cfg.TemplateID,
		httpClient: &http.Client{Timeout: timeout},
		metrics:    metrics,
	}, nil
}

// FindSubscriber returns the subscriber with address, or nil when there is
// none.
func (c *ListmonkClient) FindSubscriber(ctx context.Context, address string) (*Subscriber, error) {
	query := url.Values{}
	query.Set("query", fmt.Sprintf("subscribers.email = '%s'", strings.ReplaceAll(address, "'", "''")))

	var resp struct {
		Data struct {
			Results []Subscriber `json:"results"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/subscribers?"+query.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to find subscriber: %w", err)
	}
	if len(resp.Data.Results) == 0 {
		return nil, nil
	}
	return &resp.Data.Results[0], nil
}

// CreateSubscriber adds an enabled, preconfirmed subscriber to the configured
// list. An empty name defaults to the local part of the address.
func (c *ListmonkClient) CreateSubscriber(ctx context.Context, address, name string) (*Subscriber, error) {
	if name == "" {
		name, _, _ = strings.Cut(address, "@")
	}
	body := map[string]interface{}{
		"email":                    address,
		"name":                     name,
		"status":                   "enabled",
		"preconfirm_subscriptions": true,
	}
	if c.listID > 0 {
		body["lists"] = []int{c.listID}
	}

	var resp struct {
		Data Subscriber `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/subscribers", body, &resp); err != nil {
		return nil, fmt.Errorf("failed to create subscriber: %w", err)
	}
	return &resp.Data, nil
}

// EnsureSubscriber finds or creates the subscriber for address.
func (c *ListmonkClient) EnsureSubscriber(ctx context.Context, address string) (*Subscriber, error) {
	sub, err := c.FindSubscriber(ctx, address)
	if err != nil {
		return nil, err
	}
	if sub != nil {
		return sub, nil
	}
	return c.CreateSubscriber(ctx, address, "")
}

// SendTransactional posts msg to the transactional endpoint.
func (c *ListmonkClient) SendTransactional(ctx context.Context, msg TxMessage) error {
	if msg.Messenger == "" {
		msg.Messenger = "email"
	}
	if msg.TemplateID == 0 {
		msg.TemplateID = c.templateID
	}
	if err := c.do(ctx, http.MethodPost, "/api/tx", msg, nil); err != nil {
		return fmt.Errorf("failed to send transactional email: %w", err)
	}
	return nil
}

// SendCode mails a verification code using the configured template. The
// message goes to the subscriber when one can be found or created and to the
// bare address otherwise.
func (c *ListmonkClient) SendCode(ctx context.Context, recipient, code string, expiry time.Duration) bool {
	logger := observability.GetLogger(ctx).WithField("recipient", recipient)

	msg := TxMessage{
		TemplateID: c.templateID,
		Data: map[string]interface{}{
			"invitation_code": code,
			"expiry_minutes":  int(expiry.Minutes()),
		},
		Messenger: "email",
	}

	sub, err := c.EnsureSubscriber(ctx, recipient)
	switch {
	case err != nil:
		logger.WithError(err).Warn("subscriber lookup failed, sending to address")
		msg.SubscriberEmails = []string{recipient}
	case sub.ID == 0:
		msg.SubscriberEmails = []string{recipient}
	default:
		msg.SubscriberID = sub.ID
	}

	if err := c.SendTransactional(ctx, msg); err != nil {
		logger.WithError(err).Error("failed to send verification code")
		return false
	}
	return true
}

// Health checks the Listmonk health endpoint.
func (c *ListmonkClient) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/health", nil, nil)
}

func (c *ListmonkClient) do(ctx context.Context, method, path string, in, out interface{}) (err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveUpstream(ServiceListmonk, start, err) }()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("listmonk returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
