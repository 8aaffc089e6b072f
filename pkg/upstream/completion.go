package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aimoverse/aimo-gateway/pkg/observability"
)

// CompleterConfig configures an HTTPCompleter.
type CompleterConfig struct {
	// BaseURL is the provider root, e.g. https://api.example.com/v1
	BaseURL string
	APIKey  string
	// Model is used when a request does not name one
	Model   string
	Timeout time.Duration
}

// HTTPCompleter calls an OpenAI-compatible chat completions endpoint. Each
// call is a single attempt.
type HTTPCompleter struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
	metrics  *observability.Metrics
}

// NewHTTPCompleter creates a completer. metrics may be nil.
func NewHTTPCompleter(cfg CompleterConfig, metrics *observability.Metrics) (*HTTPCompleter, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("completion base URL is required")
	}
	return &HTTPCompleter{
		endpoint: base + "/chat/completions",
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		client:   newHTTPClient(cfg.Timeout),
		metrics:  metrics,
	}, nil
}

// Complete forwards req to the provider. Streaming is not supported and is
// always disabled on the outbound request.
func (c *HTTPCompleter) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, errors.New("at least one message is required")
	}

	out := *req
	if out.Model == "" {
		out.Model = c.model
	}
	out.Stream = false

	var resp CompletionResponse
	if err := postJSON(ctx, c.client, ServiceCompletion, c.endpoint, c.apiKey, &out, &resp, c.metrics); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s returned no choices", ServiceCompletion)
	}
	return &resp, nil
}
