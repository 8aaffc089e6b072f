package upstream

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/aimoverse/aimo-gateway/pkg/observability"
)

// DefaultThreshold is the minimum score for a label to be reported.
const DefaultThreshold = 0.5

// ClassifierConfig configures an HTTPClassifier.
type ClassifierConfig struct {
	URL       string
	APIKey    string
	Threshold float64
	Timeout   time.Duration
}

type classifyRequest struct {
	Text string `json:"text"`
}

// Prediction is one scored label from the classifier service.
type Prediction struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

type classifyResponse struct {
	Predictions []Prediction `json:"predictions"`
}

// HTTPClassifier posts text to a scoring service and keeps the labels whose
// score reaches the threshold, highest first.
type HTTPClassifier struct {
	url       string
	apiKey    string
	threshold float64
	client    *http.Client
	metrics   *observability.Metrics
}

// NewHTTPClassifier creates a classifier. metrics may be nil.
func NewHTTPClassifier(cfg ClassifierConfig, metrics *observability.Metrics) (*HTTPClassifier, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("classifier URL is required")
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &HTTPClassifier{
		url:       url,
		apiKey:    cfg.APIKey,
		threshold: threshold,
		client:    newHTTPClient(cfg.Timeout),
		metrics:   metrics,
	}, nil
}

// Classify returns the labels for text. An empty result means nothing
// crossed the threshold.
func (c *HTTPClassifier) Classify(ctx context.Context, text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("text is required")
	}

	var resp classifyResponse
	if err := postJSON(ctx, c.client, ServiceClassifier, c.url, c.apiKey, classifyRequest{Text: text}, &resp, c.metrics); err != nil {
		return nil, err
	}

	kept := make([]Prediction, 0, len(resp.Predictions))
	for _, p := range resp.Predictions {
		if p.Score >= c.threshold {
			kept = append(kept, p)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })

	labels := make([]string, 0, len(kept))
	for _, p := range kept {
		labels = append(labels, p.Label)
	}
	return labels, nil
}
