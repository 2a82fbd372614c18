// Package ingest pulls raw quarterly series from the EIA series API
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrMissingAPIKey is returned when the client has no API key
var ErrMissingAPIKey = errors.New("EIA API key is not set")

// StatusError reports a non-2xx response
type StatusError struct {
	SeriesID string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("series %s: unexpected status %d", e.SeriesID, e.Code)
}

// Fetcher retrieves the raw response body for a series ID
type Fetcher interface {
	Fetch(ctx context.Context, seriesID string) ([]byte, error)
}

// Client is an HTTP Fetcher for the EIA series endpoint
type Client struct {
	BaseURL string
	APIKey  string
	// Retries is the number of extra attempts after a transient failure
	Retries         int
	InitialInterval time.Duration
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

// NewClient creates a client with the given request timeout
func NewClient(baseURL, apiKey string, timeout time.Duration, retries int, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL:         baseURL,
		APIKey:          apiKey,
		Retries:         retries,
		InitialInterval: 500 * time.Millisecond,
		HTTPClient:      &http.Client{Timeout: timeout},
		Logger:          logger,
	}
}

// Fetch downloads the series. The body is returned verbatim, including
// provider error envelopes, which arrive with a 200 status.
func (c *Client) Fetch(ctx context.Context, seriesID string) ([]byte, error) {
	if c.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	q := u.Query()
	q.Set("series_id", seriesID)
	q.Set("api_key", c.APIKey)
	q.Set("out", "json")
	u.RawQuery = q.Encode()

	var body []byte
	attempt := 0
	operation := func() error {
		attempt++
		b, err := c.get(ctx, u.String(), seriesID)
		if err != nil {
			var statusErr *StatusError
			if errors.As(err, &statusErr) && statusErr.Code < 500 && statusErr.Code != http.StatusTooManyRequests {
				return backoff.Permanent(err)
			}
			c.Logger.Warn("Series request failed", "series_id", seriesID, "attempt", attempt, "error", err)
			return err
		}
		body = b
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.InitialInterval
	retries := c.Retries
	if retries < 0 {
		retries = 0
	}
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(retries)), ctx)); err != nil {
		return nil, fmt.Errorf("failed to fetch series %s: %w", seriesID, err)
	}

	c.Logger.Debug("Fetched series", "series_id", seriesID, "bytes", len(body), "attempts", attempt)
	return body, nil
}

func (c *Client) get(ctx context.Context, rawURL, seriesID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{SeriesID: seriesID, Code: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}
