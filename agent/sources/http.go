// Package sources holds the external data sources the escalation
// router fans out to, plus the static routing table that ranks them
// into tiers.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	contractx "github.com/voyagent/voyagent/agent/contract"
)

// HTTPConfig describes one REST source endpoint.
type HTTPConfig struct {
	Name     string        `envconfig:"NAME"`
	Endpoint string        `envconfig:"ENDPOINT"`
	APIKey   string        `envconfig:"API_KEY" split_words:"true"`
	Timeout  time.Duration `envconfig:"TIMEOUT" default:"5s"`
}

// HTTPSource fetches items from a JSON search endpoint. The endpoint
// receives the query as ?q= and answers with the wire shape of
// contract.SourceResult.
type HTTPSource struct {
	name     string
	endpoint string
	apiKey   string
	client   *http.Client
}

type HTTPOption func(*HTTPSource)

// WithHTTPClient overrides the transport, used by tests.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(s *HTTPSource) {
		if client != nil {
			s.client = client
		}
	}
}

func NewHTTPSource(cfg HTTPConfig, opts ...HTTPOption) (*HTTPSource, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, fmt.Errorf("source name is required")
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("source %s: endpoint is required", cfg.Name)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	s := &HTTPSource{
		name:     cfg.Name,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *HTTPSource) Name() string { return s.name }

func (s *HTTPSource) Fetch(ctx context.Context, req contractx.RouteRequest) (contractx.SourceResult, error) {
	q := url.Values{}
	q.Set("q", req.Query)
	q.Set("intent", req.Intent)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return contractx.SourceResult{}, fmt.Errorf("source %s: build request: %w", s.name, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return contractx.SourceResult{}, fmt.Errorf("source %s: request: %w", s.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return contractx.SourceResult{}, fmt.Errorf("source %s: read response: %w", s.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return contractx.SourceResult{}, fmt.Errorf("source %s: unexpected status %d", s.name, resp.StatusCode)
	}

	var result contractx.SourceResult
	if err := json.Unmarshal(body, &result); err != nil {
		return contractx.SourceResult{}, fmt.Errorf("source %s: decode response: %w", s.name, err)
	}
	return result, nil
}
