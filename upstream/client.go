// Package upstream implements the client for the external war-status API.
// A Client performs exactly one fetch-and-parse cycle per call and reports
// failures as typed errors; retry and backoff policy belongs to the state
// cache's refresh scheduler, not here.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/galactic-tools/warwatch/warstate"
)

const defaultTimeout = 10 * time.Second

// maxBodyBytes bounds how much of an upstream response we are willing to
// parse. The war status feed is a few hundred KB at most.
const maxBodyBytes = 8 << 20

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// Client fetches the current war status from the upstream HTTP API.
type Client struct {
	endpoint string
	http     *http.Client
	log      *slog.Logger
}

// NewClient constructs a Client for the given war-status endpoint URL.
func NewClient(endpoint string, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("upstream endpoint is required")
	}
	c := &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: defaultTimeout},
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchWarStatus performs one fetch-and-parse cycle. It returns the decoded
// status or one of the typed failures in this package: *NetworkError,
// *HTTPError or *ParseError.
func (c *Client) FetchWarStatus(ctx context.Context) (*warstate.WarStatus, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		c.log.DebugContext(ctx, "upstream.fetch.fail", slog.String("err", err.Error()))
		return nil, &NetworkError{Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxBodyBytes))
		c.log.DebugContext(ctx, "upstream.fetch.http_error", slog.Int("status", res.StatusCode))
		return nil, &HTTPError{Status: res.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, &NetworkError{Err: err}
	}

	var status warstate.WarStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, &ParseError{Detail: "decoding war status", Err: err}
	}
	if status.WarID == 0 {
		return nil, &ParseError{Detail: "response missing warId"}
	}

	c.log.DebugContext(ctx, "upstream.fetch.ok",
		slog.Int("planets", len(status.Planets)),
		slog.Int("campaigns", len(status.Campaigns)),
		slog.Duration("dur", time.Since(start)))
	return &status, nil
}
