// Package search is the client for the external full-text search service.
// The appview treats search as best effort: the client fails fast once the
// backend degrades, and callers fall back to the relational search.
package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sony/gobreaker/v2"

	"github.com/foodios/appview/pkg/logger"
)

const (
	defaultRequestTimeout = 5 * time.Second
	defaultRetryMax       = 2
)

type searchResponse struct {
	URIs   []string `json:"uris"`
	Cursor string   `json:"cursor,omitempty"`
}

// Client queries the search service over HTTP.
type Client struct {
	base    string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[searchResponse]
	logger  logger.Logger
}

// ClientOption applies an option to a Client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	timeout  time.Duration
	retryMax int
	logger   logger.Logger
}

// WithRequestTimeout overrides the per-request timeout.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.timeout = d
	}
}

// WithRetryMax overrides the maximum retries per request.
func WithRetryMax(n int) ClientOption {
	return func(cfg *clientConfig) {
		cfg.retryMax = n
	}
}

// WithLogger overrides the logger.
func WithLogger(l logger.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = l
	}
}

// NewClient builds a search client for the service at base.
func NewClient(base string, opts ...ClientOption) *Client {
	cfg := &clientConfig{
		timeout:  defaultRequestTimeout,
		retryMax: defaultRetryMax,
		logger:   logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.retryMax
	retryClient.HTTPClient.Timeout = cfg.timeout
	retryClient.Logger = nil

	breaker := gobreaker.NewCircuitBreaker[searchResponse](gobreaker.Settings{
		Name: "search",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && counts.TotalFailures*2 > counts.Requests
		},
		Timeout: 30 * time.Second,
	})

	return &Client{
		base:    base,
		http:    retryClient.StandardClient(),
		breaker: breaker,
		logger:  cfg.logger,
	}
}

// SearchPosts queries the backend for post uris matching term.
func (c *Client) SearchPosts(ctx context.Context, term string, limit int, cursor string) ([]string, string, error) {
	resp, err := c.breaker.Execute(func() (searchResponse, error) {
		return c.doSearch(ctx, term, limit, cursor)
	})
	if err != nil {
		return nil, "", err
	}
	return resp.URIs, resp.Cursor, nil
}

func (c *Client) doSearch(ctx context.Context, term string, limit int, cursor string) (searchResponse, error) {
	q := url.Values{}
	q.Set("q", term)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/search/posts?"+q.Encode(), nil)
	if err != nil {
		return searchResponse{}, err
	}

	res, err := c.http.Do(req)
	if err != nil {
		return searchResponse{}, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return searchResponse{}, fmt.Errorf("search returned status %d", res.StatusCode)
	}

	var out searchResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return searchResponse{}, fmt.Errorf("decode search response: %w", err)
	}
	return out, nil
}
