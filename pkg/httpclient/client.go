// Package httpclient wraps net/http with retry handling for upstream model
// APIs. Rate limits back off exponentially or follow the server's hint;
// plain server errors get a couple of quick linear retries.
package httpclient

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Backoff classifies how a status code is retried.
type Backoff int

const (
	BackoffNone Backoff = iota
	BackoffServerError
	BackoffRateLimit
)

// serverErrorAttempts caps retries for BackoffServerError statuses.
const serverErrorAttempts = 2

// Classify returns the backoff class of an upstream status code.
func Classify(status int) Backoff {
	switch status {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return BackoffRateLimit
	case http.StatusRequestTimeout, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusGatewayTimeout:
		return BackoffServerError
	}
	return BackoffNone
}

// ExhaustedError is returned when a retried status keeps coming back.
type ExhaustedError struct {
	StatusCode int
	Attempts   int
	RetryAfter time.Duration
}

func (e *ExhaustedError) Error() string {
	msg := fmt.Sprintf("upstream returned HTTP %d after %d attempts", e.StatusCode, e.Attempts)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %v)", e.RetryAfter)
	}
	return msg
}

type Client struct {
	http       *http.Client
	maxRetries int
	baseDelay  time.Duration
	rateLimit  func(http.Header) RateLimit
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) { c.baseDelay = d }
}

// WithRateLimitParser reads the provider's rate-limit headers so backoff
// can follow the server's hint.
func WithRateLimitParser(parse func(http.Header) RateLimit) Option {
	return func(c *Client) { c.rateLimit = parse }
}

func New(opts ...Option) *Client {
	c := &Client{
		http:       &http.Client{Timeout: 120 * time.Second},
		maxRetries: 3,
		baseDelay:  time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends req, retrying transient failures. Non-2xx responses that are not
// retried are returned with a nil error so callers can read the body.
// Bodies are replayed through req.GetBody; requests without it are sent once.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	for attempt := 0; ; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
			}
			req.Body = body
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		class := Classify(resp.StatusCode)
		if class == BackoffNone || !replayable(req) {
			return resp, nil
		}

		delay := c.delay(class, attempt, resp.Header)
		if attempt >= c.maxRetries || delay <= 0 {
			if attempt == 0 {
				return resp, nil
			}
			drain(resp)
			return nil, &ExhaustedError{StatusCode: resp.StatusCode, Attempts: attempt + 1, RetryAfter: delay}
		}

		drain(resp)
		slog.Warn("Retrying upstream request",
			"status", resp.StatusCode,
			"delay", delay,
			"attempt", attempt+1,
			"url", req.URL.Redacted())

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) delay(class Backoff, attempt int, h http.Header) time.Duration {
	switch class {
	case BackoffRateLimit:
		if c.rateLimit != nil {
			if hint := c.rateLimit(h).RetryAfter; hint > 0 {
				return hint
			}
		}
		d := c.baseDelay << attempt
		return d + d/10
	case BackoffServerError:
		if attempt >= serverErrorAttempts {
			return 0
		}
		return time.Duration(attempt+1) * c.baseDelay
	}
	return 0
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
