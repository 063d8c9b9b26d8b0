// Package provider implements the HTTP client for the upstream A-share
// market-data API.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stock-sync/pkg/config"
)

// Client handles REST API calls to the market-data source. Safe for
// concurrent use; the rate limiter serializes request starts.
type Client struct {
	client       *http.Client
	baseURL      string
	token        string
	logger       *logrus.Entry
	rateLimit    time.Duration
	maxRetries   int
	retryBackoff time.Duration

	mu       sync.Mutex
	lastCall time.Time
}

// NewClient creates a new provider client
func NewClient(cfg *config.ProviderConfig, logger *logrus.Logger) *Client {
	return &Client{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:      cfg.BaseURL,
		token:        cfg.APIToken,
		logger:       logger.WithField("component", "provider"),
		rateLimit:    cfg.RateLimit,
		maxRetries:   cfg.MaxRetries,
		retryBackoff: cfg.RetryBackoff,
	}
}

// enforceRateLimit ensures we don't exceed upstream rate limits
func (c *Client) enforceRateLimit() {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.lastCall)
	if elapsed < c.rateLimit {
		time.Sleep(c.rateLimit - elapsed)
	}
	c.lastCall = time.Now()
}

// retryable reports whether a status code is worth retrying.
func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// getJSON performs a GET with rate limiting and retry, decoding the JSON
// response into dest.
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, dest interface{}) error {
	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.retryBackoff * time.Duration(1<<(attempt-1))
			c.logger.WithFields(logrus.Fields{
				"path":    path,
				"attempt": attempt,
				"backoff": backoff,
			}).Debug("Retrying request")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		c.enforceRateLimit()

		err := c.doOnce(ctx, fullURL, dest)
		if err == nil {
			return nil
		}
		lastErr = err

		if he, ok := err.(*httpError); ok && !retryable(he.status) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return fmt.Errorf("request failed after %d retries: %w", c.maxRetries, lastErr)
}

type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("API error: status=%d, body=%s", e.status, e.body)
}

func (c *Client) doOnce(ctx context.Context, fullURL string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", fullURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &httpError{status: resp.StatusCode, body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
