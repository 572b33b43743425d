// Package transport wraps outbound HTTP calls with a per-attempt timeout,
// network-only retry with exponential backoff, and classified errors.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/JonMunkholm/batchpush/internal/logging"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxAttempts = 3
	DefaultBackoff     = time.Second

	// maxResponseBody bounds how much of a response is buffered.
	maxResponseBody = 32 << 20
)

// Client performs HTTP calls against a base endpoint.
// It is read-only after New returns and safe for concurrent use.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
	origin      string
	credentials bool
	headers     http.Header
	logger      *slog.Logger
}

// Option configures Client behavior.
type Option func(*Client)

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxAttempts sets the total number of attempts for network failures.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff sets the base delay; retry n waits base * 2^(n-1).
func WithBackoff(base time.Duration) Option {
	return func(c *Client) {
		if base >= 0 {
			c.backoff = base
		}
	}
}

// WithOrigin makes every call cross-origin from the given origin.
func WithOrigin(origin string) Option {
	return func(c *Client) {
		c.origin = strings.TrimRight(origin, "/")
	}
}

// WithCredentials includes cookies on every call and requires the
// endpoint to allow credentialed cross-origin requests.
func WithCredentials(enabled bool) Option {
	return func(c *Client) {
		c.credentials = enabled
	}
}

// WithHeader adds a fixed header sent on every call.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers.Set(key, value)
	}
}

// WithHTTPClient replaces the underlying http.Client. Its Timeout is ignored;
// use WithTimeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger. Defaults to the request-scoped slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a Client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{},
		timeout:     DefaultTimeout,
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff,
		headers: http.Header{
			"Content-Type": {"application/json"},
			"Accept":       {"application/json"},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.credentials && c.httpClient.Jar == nil {
		hc := *c.httpClient
		hc.Jar, _ = cookiejar.New(nil)
		c.httpClient = &hc
	}
	return c
}

// BaseURL returns the configured endpoint without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Origin returns the configured cross-origin Origin, if any.
func (c *Client) Origin() string { return c.origin }

// Request describes one logical call.
type Request struct {
	Method string
	// Path is joined to the base URL unless it is already absolute.
	Path   string
	Body   []byte
	Header http.Header

	// Origin overrides the client origin when non-empty.
	Origin string
	// Credentials forces credentialed cross-origin semantics for this call.
	Credentials bool
	// SameOrigin sends no Origin header and skips the CORS check.
	SameOrigin bool
	// MaxAttempts overrides the client setting when positive.
	MaxAttempts int
}

// Response is a successful (2xx) reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path})
}

// PostJSON marshals v and POSTs it.
func (c *Client) PostJSON(ctx context.Context, path string, v any) (*Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, &Error{Kind: KindMalformed, Message: "encode request body: " + err.Error(), Err: err}
	}
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body})
}

// Do executes req. It returns either a 2xx Response or an *Error; no other
// error type escapes.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	maxAttempts := c.maxAttempts
	if req.MaxAttempts > 0 {
		maxAttempts = req.MaxAttempts
	}
	return c.attempt(ctx, req, 1, maxAttempts)
}

// attempt runs attempt number n and recurses for retries.
func (c *Client) attempt(ctx context.Context, req Request, n, maxAttempts int) (*Response, error) {
	if n > 1 {
		if err := sleep(ctx, c.backoffDelay(n-1)); err != nil {
			return nil, &Error{
				Kind:     KindNetwork,
				Message:  "request cancelled while waiting to retry",
				Attempts: n - 1,
				Err:      err,
				terminal: true,
			}
		}
	}

	resp, err := c.once(ctx, req)
	if err == nil {
		resp.Attempts = n
		return resp, nil
	}

	var te *Error
	if !errors.As(err, &te) {
		te = &Error{Kind: KindNetwork, Message: err.Error(), Err: err}
	}
	te.Attempts = n

	if te.Retryable() && n < maxAttempts {
		c.log(ctx).Warn("request failed, retrying",
			"method", req.Method,
			"url", c.resolve(req.Path),
			"attempt", n,
			"max_attempts", maxAttempts,
			"error", te.Message,
		)
		return c.attempt(ctx, req, n+1, maxAttempts)
	}

	c.log(ctx).Debug("request failed",
		"method", req.Method,
		"url", c.resolve(req.Path),
		"kind", te.Kind,
		"status", te.StatusCode,
		"attempts", n,
	)
	return nil, te
}

// once performs a single HTTP round trip and classifies the outcome.
func (c *Client) once(ctx context.Context, req Request) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	hreq, err := http.NewRequestWithContext(attemptCtx, req.Method, c.resolve(req.Path), body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: "build request: " + err.Error(), Err: err, terminal: true}
	}
	for k, vs := range c.headers {
		hreq.Header[k] = append([]string(nil), vs...)
	}
	for k, vs := range req.Header {
		hreq.Header[k] = append([]string(nil), vs...)
	}
	if req.Body == nil {
		hreq.Header.Del("Content-Type")
	}

	origin := c.origin
	if req.Origin != "" {
		origin = req.Origin
	}
	credentials := c.credentials || req.Credentials
	if req.SameOrigin {
		origin = ""
	}
	if origin != "" {
		hreq.Header.Set("Origin", origin)
	}

	hresp, err := c.httpClient.Do(hreq)
	if err != nil {
		return nil, classify(ctx, attemptCtx, err)
	}
	defer hresp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(hresp.Body, maxResponseBody))
	if err != nil {
		return nil, classify(ctx, attemptCtx, err)
	}

	var corsReason string
	if origin != "" {
		corsReason = checkCORS(hresp.Header, origin, credentials)
	}

	// A received error status is reported as such even when the server left
	// the CORS headers off, which error handlers commonly do.
	if hresp.StatusCode >= 400 {
		e := &Error{
			Kind:       KindHTTPStatus,
			StatusCode: hresp.StatusCode,
			Message:    hresp.Status,
			Body:       truncate(data),
			CORSReason: corsReason,
		}
		if corsReason != "" {
			e.Message += "; " + corsReason
		}
		return nil, e
	}

	if corsReason != "" {
		return nil, &Error{Kind: KindCors, Message: corsReason, StatusCode: hresp.StatusCode}
	}

	return &Response{
		StatusCode: hresp.StatusCode,
		Header:     hresp.Header,
		Body:       data,
	}, nil
}

// classify maps a round-trip error to network, timeout, or caller cancellation.
func classify(parent, attemptCtx context.Context, err error) *Error {
	if parent.Err() != nil {
		return &Error{
			Kind:     KindNetwork,
			Message:  "request cancelled",
			Err:      parent.Err(),
			terminal: true,
		}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(attemptCtx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Kind: KindTimeout, Message: "request timed out", Err: err}
	}

	return &Error{Kind: KindNetwork, Message: err.Error(), Err: err}
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if path == "" {
		return c.baseURL
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// backoffDelay returns the wait before retry number retry (1-based).
func (c *Client) backoffDelay(retry int) time.Duration {
	return c.backoff * time.Duration(1<<(retry-1))
}

func (c *Client) log(ctx context.Context) *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return logging.FromContext(ctx)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	select {
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
