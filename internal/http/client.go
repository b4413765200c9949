package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wolfv/repodata-tools/internal/retry"
)

// Common errors.
var (
	ErrNotFound     = errors.New("http: resource not found")
	ErrForbidden    = errors.New("http: access forbidden")
	ErrUnauthorized = errors.New("http: unauthorized")
	ErrServerError  = errors.New("http: server error")
	ErrRateLimited  = errors.New("http: rate limited")
	ErrConflict     = errors.New("http: conflict")
)

// Options configures the HTTP client.
type Options struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 16
	MaxIdleConnsPerHost int

	// Timeout for individual requests, including reading the body.
	// Default: 5m (artifacts can be large)
	Timeout time.Duration

	// Token is sent as a bearer token when set.
	Token string

	// UserAgent identifies the client to the API.
	UserAgent string

	// Retry is applied to every request.
	Retry retry.Policy
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost: 16,
		Timeout:             5 * time.Minute,
		UserAgent:           "repodata-tools",
		Retry:               retry.Default(),
	}
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client is an HTTP client that retries transient failures.
type Client struct {
	client *http.Client
	opts   Options
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) *Client {
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = 16
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		opts: opts,
	}
}

// HTTPClient returns the underlying client, for SDKs that bring their own
// request logic.
func (c *Client) HTTPClient() *http.Client {
	return c.client
}

// Policy returns the retry policy applied by the client.
func (c *Client) Policy() retry.Policy {
	return c.opts.Retry
}

// Do sends a request and reads the whole response. Transport errors, 5xx,
// 429, rate-limited 403 and, for PUT, 409 responses are retried; every
// other status is returned to the caller to interpret. body may be nil.
func (c *Client) Do(ctx context.Context, method, url string, body []byte, header http.Header) (*Response, error) {
	return retry.DoValue(ctx, c.opts.Retry, func() (*Response, error) {
		req, err := c.newRequest(ctx, method, url, body, header)
		if err != nil {
			return nil, retry.Permanent(err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, retry.Permanent(ctx.Err())
			}
			return nil, err
		}
		defer resp.Body.Close()

		if err := retryableStatus(method, resp); err != nil {
			io.Copy(io.Discard, resp.Body)
			return nil, err
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}

		return &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       data,
		}, nil
	})
}

// Fetch performs a GET and hands the body to consume. The request and the
// consumer are retried together, so consume must start over cleanly on each
// call. Non-2xx statuses other than 5xx and 429 are not retried.
func (c *Client) Fetch(ctx context.Context, url string, consume func(io.Reader) error) error {
	return retry.Do(ctx, c.opts.Retry, func() error {
		req, err := c.newRequest(ctx, http.MethodGet, url, nil, nil)
		if err != nil {
			return retry.Permanent(err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		if err := retryableStatus(http.MethodGet, resp); err != nil {
			return err
		}
		if err := checkStatusCode(resp.StatusCode); err != nil {
			return retry.Permanent(err)
		}

		return consume(resp.Body)
	})
}

func (c *Client) newRequest(ctx context.Context, method, url string, body []byte, header http.Header) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.opts.Token != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// retryableStatus returns a retryable error for 5xx and 429 responses, for
// 403 responses that signal rate limiting, and for 409 answers to a PUT
// (the target branch moved while the write was in flight).
func retryableStatus(method string, resp *http.Response) error {
	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %d %s", ErrServerError, resp.StatusCode, http.StatusText(resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: retry after %q", ErrRateLimited, resp.Header.Get("Retry-After"))
	case resp.StatusCode == http.StatusForbidden && rateLimited(resp.Header):
		return fmt.Errorf("%w: 403, remaining %q, retry after %q",
			ErrRateLimited, resp.Header.Get("X-RateLimit-Remaining"), resp.Header.Get("Retry-After"))
	case resp.StatusCode == http.StatusConflict && method == http.MethodPut:
		return fmt.Errorf("%w: %d %s", ErrConflict, resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return nil
}

// rateLimited reports whether a 403 is GitHub's primary or secondary rate
// limit rather than a permission error.
func rateLimited(h http.Header) bool {
	return h.Get("X-RateLimit-Remaining") == "0" || h.Get("Retry-After") != ""
}

// checkStatusCode returns an appropriate error for non-success status codes.
func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	default:
		return fmt.Errorf("unexpected status code: %d", code)
	}
}

// StatusError maps a status code to the package's sentinel errors.
func StatusError(code int) error {
	return checkStatusCode(code)
}
