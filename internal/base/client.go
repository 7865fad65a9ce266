// Package base provides the shared HTTP client for the CBETA Online API.
//
// Every tool performs exactly one GET through Client.Get. The client bounds
// concurrency with a bulkhead, fails fast through a circuit breaker while the
// upstream is unhealthy, coalesces identical in-flight requests, and can
// optionally retry and cache.
package base

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/bulkhead"
	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	apierrors "github.com/olgasafonova/cbeta-mcp-server/internal/errors"
	"github.com/olgasafonova/cbeta-mcp-server/internal/infra"
	"github.com/olgasafonova/cbeta-mcp-server/metrics"
	"github.com/olgasafonova/cbeta-mcp-server/tracing"
)

const (
	// DefaultBaseURL is the public CBETA Online API
	DefaultBaseURL = "https://api.cbetaonline.cn"

	// DefaultTimeout for API requests
	DefaultTimeout = 20 * time.Second

	// DefaultMaxConcurrent limits parallel API calls
	DefaultMaxConcurrent = 5

	// DefaultMaxQueue is how many calls may wait for a free slot. A waiting
	// call gives up when its own timeout expires.
	DefaultMaxQueue = 1024

	// DefaultBreakerThreshold is the number of consecutive failures that opens the circuit
	DefaultBreakerThreshold = 5

	// DefaultBreakerTimeout is how long the circuit stays open
	DefaultBreakerTimeout = 30 * time.Second

	// DefaultUserAgent identifies the gateway to the upstream API
	DefaultUserAgent = "cbeta-mcp-server/1.0"

	maxBodyBytes  = 64 << 20
	maxErrorBytes = 200
)

// Config configures the client.
type Config struct {
	BaseURL          string
	Timeout          time.Duration // default per-request timeout
	MaxConcurrent    int
	MaxQueue         int // calls allowed to wait for a slot
	MaxRetries       int // 0 disables retries
	RetryDelay       time.Duration
	BreakerThreshold int
	BreakerTimeout   time.Duration
	CacheTTL         time.Duration // 0 disables the response cache
	UserAgent        string
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		BaseURL:          DefaultBaseURL,
		Timeout:          DefaultTimeout,
		MaxConcurrent:    DefaultMaxConcurrent,
		MaxQueue:         DefaultMaxQueue,
		MaxRetries:       0,
		RetryDelay:       200 * time.Millisecond,
		BreakerThreshold: DefaultBreakerThreshold,
		BreakerTimeout:   DefaultBreakerTimeout,
		UserAgent:        DefaultUserAgent,
	}
}

// Response is a completed upstream exchange.
type Response struct {
	URL        string // final URL after redirects
	StatusCode int
	Body       []byte
}

// JSON decodes the response body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("invalid JSON from %s: %w", r.URL, err)
	}
	return nil
}

// Request describes one GET against the API.
type Request struct {
	Path    string     // endpoint path, e.g. "/search/kwic"
	Query   url.Values // may be nil
	Timeout time.Duration
}

// Client provides common HTTP client infrastructure with caching, bulkheading,
// circuit breaking, and request coalescing.
type Client struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
	Cache      *infra.Cache[*Response]

	config   Config
	flight   singleflight.Group
	bulkhead bulkhead.Bulkhead[*Response]
	breaker  circuitbreaker.CircuitBreaker[*Response]
	retry    retry.Retry[*Response]
}

// ClientOption configures the Client
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.HTTPClient = c
	}
}

// WithLogger sets a custom logger
func WithLogger(l *slog.Logger) ClientOption {
	return func(client *Client) {
		client.Logger = l
	}
}

// WithCache sets a custom cache
func WithCache(c *infra.Cache[*Response]) ClientOption {
	return func(client *Client) {
		client.Cache = c
	}
}

// NewClient creates a client. Zero fields in cfg take their defaults.
func NewClient(cfg Config, opts ...ClientOption) *Client {
	cfg = withDefaults(cfg)

	c := &Client{
		HTTPClient: newHTTPClient(),
		Logger:     slog.Default(),
		config:     cfg,
	}
	if cfg.CacheTTL > 0 {
		c.Cache = infra.NewCache[*Response](infra.DefaultMaxCacheEntries)
		c.Cache.OnResize = metrics.SetCacheSize
	}

	for _, opt := range opts {
		opt(c)
	}

	threshold := uint32(cfg.BreakerThreshold) // #nosec G115 -- positive after withDefaults
	c.bulkhead = bulkhead.New[*Response](bulkhead.Config{
		MaxConcurrent: cfg.MaxConcurrent,
		MaxQueue:      cfg.MaxQueue,
	})
	c.breaker = circuitbreaker.New[*Response](circuitbreaker.Config{
		MaxRequests: 1,
		Interval:    cfg.BreakerTimeout,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts circuitbreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})
	c.retry = retry.New[*Response](retry.Config{
		MaxAttempts:   cfg.MaxRetries + 1,
		InitialDelay:  cfg.RetryDelay,
		BackoffPolicy: retry.BackoffExponential,
		Multiplier:    2.0,
	})

	return c
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = def.MaxQueue
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = def.BreakerThreshold
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	return cfg
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.config
}

// Close releases resources held by the client
func (c *Client) Close() {
	_ = c.bulkhead.Close()
	if c.Cache != nil {
		c.Cache.Close()
	}
}

// BreakerState returns the circuit breaker state for health reporting
func (c *Client) BreakerState() string {
	return fmt.Sprint(c.breaker.State())
}

// URL builds the absolute URL for an endpoint path and query.
func (c *Client) URL(path string, query url.Values) string {
	u := c.config.BaseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// Get performs one GET. Non-2xx responses are returned together with an
// *errors.UpstreamError; deadline overruns return an *errors.TimeoutError.
func (c *Client) Get(ctx context.Context, req Request) (*Response, error) {
	target := c.URL(req.Path, req.Query)
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.config.Timeout
	}

	ctx, span := tracing.StartSpan(ctx, "cbeta.api.get")
	defer span.End()
	tracing.AddUpstreamAttributes(span, req.Path, target)

	if c.Cache != nil && c.config.CacheTTL > 0 {
		if resp, ok := c.Cache.Get(target); ok {
			metrics.RecordCacheAccess(true)
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return resp, nil
		}
		metrics.RecordCacheAccess(false)
	}

	start := time.Now()
	res := c.coalesce(ctx, target, timeout)
	v, err := res.Val, res.Err
	duration := time.Since(start).Seconds()
	if res.Shared {
		metrics.UpstreamCoalesced.WithLabelValues(req.Path).Inc()
	}

	if err != nil {
		tracing.RecordError(span, err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordUpstreamCall(req.Path, duration, false, errorCode(err))
		c.Logger.Warn("CBETA API request failed", "url", target, "error", err)
		return nil, err
	}

	resp := v.(*Response)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := &apierrors.UpstreamError{
			StatusCode: resp.StatusCode,
			URL:        resp.URL,
			Body:       truncate(string(resp.Body), maxErrorBytes),
		}
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordUpstreamCall(req.Path, duration, false, fmt.Sprintf("http_%d", resp.StatusCode))
		return resp, err
	}

	span.SetStatus(codes.Ok, "")
	metrics.RecordUpstreamCall(req.Path, duration, true, "")
	if c.Cache != nil && c.config.CacheTTL > 0 {
		c.Cache.Set(target, resp, c.config.CacheTTL)
	}
	return resp, nil
}

// coalesce joins or starts the in-flight request for target. The shared
// request is detached from any single caller's cancellation and bounded by
// timeout instead; each caller stops waiting when its own context ends.
func (c *Client) coalesce(ctx context.Context, target string, timeout time.Duration) singleflight.Result {
	ch := c.flight.DoChan(target, func() (any, error) {
		return c.execute(context.WithoutCancel(ctx), target, timeout)
	})
	select {
	case res := <-ch:
		return res
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return singleflight.Result{Err: &apierrors.TimeoutError{URL: target, Timeout: timeout}}
		}
		return singleflight.Result{Err: ctx.Err()}
	}
}

// execute runs one request under the bulkhead, breaker and retry policy.
func (c *Client) execute(ctx context.Context, target string, timeout time.Duration) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.bulkhead.Execute(ctx, func(ctx context.Context) (*Response, error) {
		return c.breaker.Execute(ctx, func(ctx context.Context) (*Response, error) {
			if c.config.MaxRetries > 0 {
				return c.retry.Do(ctx, func(ctx context.Context) (*Response, error) {
					return c.do(ctx, target)
				})
			}
			return c.do(ctx, target)
		})
	})
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, &apierrors.TimeoutError{URL: target, Timeout: timeout}
		}
		return nil, err
	}
	return resp, nil
}

// do performs the HTTP exchange. 5xx responses are errors so that the
// breaker and retry policy see them; other statuses are returned as-is.
func (c *Client) do(ctx context.Context, target string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	body, err := readAndClose(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	out := &Response{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Body:       body,
	}
	if resp.StatusCode >= 500 {
		return nil, &apierrors.UpstreamError{
			StatusCode: resp.StatusCode,
			URL:        out.URL,
			Body:       truncate(string(body), maxErrorBytes),
		}
	}
	return out, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func errorCode(err error) string {
	var upstream *apierrors.UpstreamError
	switch {
	case apierrors.IsTimeout(err):
		return "timeout"
	case errors.As(err, &upstream):
		return fmt.Sprintf("http_%d", upstream.StatusCode)
	default:
		return "transport"
	}
}

// readAndClose reads the response body and closes it
func readAndClose(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	_ = resp.Body.Close()
	return body, err
}

// truncate shortens a string to maxLen, adding "..." if truncated
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// newHTTPClient creates an HTTP client with pooled transport settings.
// Deadlines come from the request context.
func newHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     120 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	return &http.Client{
		Transport: transport,
	}
}
