// Package fetch downloads raw skymap blobs from the alert collaborator.
//
// This is the only place the core touches the network. Transient failures
// are retried with exponential backoff, and the downloaded bytes are
// validated as a skymap before anything upstream sees them, so a partial
// or malformed download can never reach the localization registry.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/SAGUARO-MMA/saguaro-tom/internal/domain/skymap"
	"github.com/SAGUARO-MMA/saguaro-tom/pkg/logger"
	"github.com/SAGUARO-MMA/saguaro-tom/pkg/metrics"
)

// Default fetch configuration constants.
const (
	defaultRetries     = 4
	defaultBaseBackoff = 500 * time.Millisecond
	defaultHTTPTimeout = 30 * time.Second
	maxBlobBytes       = 256 << 20
)

// Client fetches and validates remote skymaps.
type Client struct {
	http        *http.Client
	retries     int
	baseBackoff time.Duration

	logger logger.Logger
}

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithRetries sets the number of retry attempts after the first try.
func WithRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.retries = n
		}
	}
}

// WithBaseBackoff sets the initial backoff delay; it doubles per retry.
func WithBaseBackoff(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.baseBackoff = d
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithLogger sets a custom logger for the client.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a fetch client with configuration options.
func New(opts ...Option) *Client {
	c := &Client{
		http:        &http.Client{Timeout: defaultHTTPTimeout},
		retries:     defaultRetries,
		baseBackoff: defaultBaseBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch downloads a skymap blob and validates it. Network failures and
// 5xx responses are retried with exponential backoff; a blob that fails
// skymap validation is permanent and returned immediately.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	backoff := c.baseBackoff
	var lastErr error

	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			metrics.RecordSkymapFetchRetry()
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrFetch, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		blob, retryable, err := c.tryOnce(ctx, url)
		if err == nil {
			return blob, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		if c.logger != nil {
			c.logger.Warn(ctx, "skymap fetch failed, will retry",
				logger.String("url", url),
				logger.Int("attempt", attempt+1),
				logger.Error(err),
			)
		}
	}
	return nil, fmt.Errorf("%w: %s after %d attempts: %v", ErrFetch, url, c.retries+1, lastErr)
}

// tryOnce performs a single GET and validates the body.
func (c *Client) tryOnce(ctx context.Context, url string) (blob []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("%w: %s returned %d", ErrFetch, url, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("%w: %s returned %d", ErrFetch, url, resp.StatusCode)
	}

	blob, err = io.ReadAll(io.LimitReader(resp.Body, maxBlobBytes))
	if err != nil {
		return nil, true, fmt.Errorf("%w: reading %s: %v", ErrFetch, url, err)
	}

	// Validate before handing the bytes upstream. Format errors are not
	// retryable; the collaborator published a bad revision.
	if _, err := skymap.Parse(blob); err != nil {
		return nil, false, err
	}
	return blob, false, nil
}
