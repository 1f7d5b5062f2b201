// Package httpretry provides an HTTP client that retries transient
// connectivity failures (timeouts, refused or reset connections) with a
// linearly increasing backoff. The response body is read inside the retried
// unit, so a timeout or reset while streaming a large body is retried like a
// failed dial. HTTP status codes are never retried here: a response of any
// status is handed back to the caller with its body buffered.
package httpretry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/adinsights/internal/pkg/logger"
)

// HTTPDoer is the interface for executing HTTP requests.
// Both *http.Client and *RetryClient satisfy this interface.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryClient wraps an HTTPDoer with retry logic using linear backoff.
type RetryClient struct {
	client      HTTPDoer
	maxAttempts int
	backoffUnit time.Duration
	sleep       SleepFunc
	onRetry     func(attempt int, err error)
}

// Option customizes a RetryClient.
type Option func(*RetryClient)

// WithBackoffUnit sets the delay unit; attempt n waits n*unit before running.
func WithBackoffUnit(d time.Duration) Option {
	return func(rc *RetryClient) { rc.backoffUnit = d }
}

// WithSleep replaces the backoff sleeper (used by tests).
func WithSleep(fn SleepFunc) Option {
	return func(rc *RetryClient) { rc.sleep = fn }
}

// WithRetryHook registers a callback invoked before every retry.
func WithRetryHook(fn func(attempt int, err error)) Option {
	return func(rc *RetryClient) { rc.onRetry = fn }
}

// NewRetryClient creates a new RetryClient that wraps the given HTTPDoer.
// If client is nil, a default http.Client with 180s timeout is used.
// maxAttempts counts the initial request (default 3).
func NewRetryClient(client HTTPDoer, maxAttempts int, opts ...Option) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 180 * time.Second}
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	rc := &RetryClient{
		client:      client,
		maxAttempts: maxAttempts,
		backoffUnit: 3 * time.Second,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// Do executes the HTTP request, retrying connectivity errors including
// failures while reading the body.
// It does NOT retry on any HTTP status or on context cancellation.
// When all attempts fail, the last transport error is returned.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt < rc.maxAttempts; attempt++ {
		if attempt > 0 {
			// Reset request body for retry if applicable
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: failed to reset request body: %w", err)
				}
				req.Body = body
			}

			delay := rc.Delay(attempt)
			logger.Warn("httpretry: retrying request",
				"attempt", attempt+1,
				"max_attempts", rc.maxAttempts,
				"host", req.URL.Host,
				"path", req.URL.Path,
				"wait", delay.String(),
				"error", lastErr,
			)
			if rc.onRetry != nil {
				rc.onRetry(attempt, lastErr)
			}
			if err := rc.sleep(req.Context(), delay); err != nil {
				return nil, lastErr
			}
		}

		resp, err := rc.client.Do(req)
		if err == nil {
			if err = bufferBody(resp); err == nil {
				return resp, nil
			}
		}
		lastErr = err
		// If the context was canceled/expired, don't retry
		if req.Context().Err() != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

// bufferBody reads and closes resp.Body, replacing it with an in-memory copy.
func bufferBody(resp *http.Response) error {
	if resp.Body == nil {
		resp.Body = http.NoBody
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))
	resp.ContentLength = int64(len(data))
	return nil
}

// Delay returns the wait before the given (1-based) retry: unit, 2*unit, ...
func (rc *RetryClient) Delay(attempt int) time.Duration {
	return rc.backoffUnit * time.Duration(attempt)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
