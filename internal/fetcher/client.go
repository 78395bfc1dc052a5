package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const maxBodyBytes = 8 << 20

// DefaultRetryableStatuses are transient upstream answers worth another attempt.
var DefaultRetryableStatuses = []int{
	http.StatusRequestTimeout,
	http.StatusTooEarly,
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// Policy controls a single FetchJSON call.
type Policy struct {
	Label             string
	Method            string
	Body              any
	Timeout           time.Duration
	Retries           int
	RetryDelay        time.Duration
	RetryableStatuses []int
	Headers           map[string]string
}

// WithRetries returns a copy with a different retry budget and timeout.
func (p Policy) WithRetries(retries int, timeout time.Duration) Policy {
	p.Retries = retries
	p.Timeout = timeout
	return p
}

// Labelled returns a copy tagged for logging.
func (p Policy) Labelled(label string) Policy {
	p.Label = label
	return p
}

func (p Policy) retryable(status int) bool {
	statuses := p.RetryableStatuses
	if statuses == nil {
		statuses = DefaultRetryableStatuses
	}
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

// Client performs outbound JSON calls for all upstream adapters.
type Client struct {
	http      *http.Client
	userAgent string
	defaults  Policy
	logger    zerolog.Logger
}

// ClientOptions parameterise the shared client.
type ClientOptions struct {
	UserAgent  string
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
	Transport  http.RoundTripper
}

// NewClient constructs a Client.
func NewClient(opts ClientOptions, logger zerolog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "pricehub/1.0"
	}

	return &Client{
		// per-attempt deadlines come from the request context
		http:      &http.Client{Transport: opts.Transport},
		userAgent: opts.UserAgent,
		defaults: Policy{
			Method:     http.MethodGet,
			Timeout:    opts.Timeout,
			Retries:    opts.Retries,
			RetryDelay: opts.RetryDelay,
		},
		logger: logger.With().Str("component", "fetcher").Logger(),
	}
}

// DefaultPolicy exposes the configured baseline so adapters can derive from it.
func (c *Client) DefaultPolicy() Policy {
	return c.defaults
}

// FetchJSON decodes the response of url into T. Every failure mode collapses to ok=false.
func FetchJSON[T any](ctx context.Context, c *Client, url string, policy Policy) (T, bool) {
	var zero T
	if policy.Method == "" {
		policy.Method = http.MethodGet
	}
	if policy.Timeout <= 0 {
		policy.Timeout = c.defaults.Timeout
	}
	if policy.Retries < 0 {
		policy.Retries = 0
	}

	var payload []byte
	if policy.Body != nil {
		encoded, err := json.Marshal(policy.Body)
		if err != nil {
			c.logger.Error().Err(err).Str("label", policy.Label).Msg("encode request body")
			return zero, false
		}
		payload = encoded
	}

	attempts := policy.Retries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && policy.RetryDelay > 0 {
			timer := time.NewTimer(policy.RetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, false
			case <-timer.C:
			}
		}

		var result T
		status, err := c.attempt(ctx, url, policy, payload, &result)
		event := c.logger.Debug()
		if err != nil {
			event = c.logger.Warn().Err(err)
		}
		event.Str("label", policy.Label).
			Int("attempt", attempt).
			Int("attempts", attempts).
			Int("status", status).
			Msg(outcome(err))

		if err == nil {
			return result, true
		}
		if ctx.Err() != nil {
			return zero, false
		}
		if status != 0 && !policy.retryable(status) {
			return zero, false
		}
	}
	return zero, false
}

func outcome(err error) string {
	if err != nil {
		return "upstream attempt failed"
	}
	return "upstream attempt succeeded"
}

// attempt runs one bounded request. status is zero for transport errors.
func (c *Client) attempt(ctx context.Context, url string, policy Policy, payload []byte, out any) (int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(attemptCtx, policy.Method, url, body)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range policy.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, snippet(data))
	}

	if err := json.Unmarshal(data, out); err != nil {
		// decode failures are treated like transport errors and retried
		return 0, fmt.Errorf("decode body: %w", err)
	}
	return resp.StatusCode, nil
}

func snippet(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		return s[:200]
	}
	return s
}
