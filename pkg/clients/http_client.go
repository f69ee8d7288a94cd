// Package clients provides the outbound HTTP plumbing shared by tidemark's
// sources: a tuned, rate limited and instrumented HTTP client with bounded
// retries, and a per-tenant OAuth2 token cache.
package clients

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/tidemark/pkg/config"
	"github.com/ajitpratap0/tidemark/pkg/errors"
	jsonpkg "github.com/ajitpratap0/tidemark/pkg/json"
)

// HTTPClient performs JSON API calls with rate limiting, metrics and retry of
// transient failures (429, 408, 5xx, transport errors).
type HTTPClient struct {
	config     *HTTPConfig
	logger     *zap.Logger
	httpClient *http.Client
	transport  *http.Transport
	retry      *RetryPolicy
}

// HTTPConfig configures the HTTP client
type HTTPConfig struct {
	// Connection settings
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	// HTTP/2 settings
	EnableHTTP2 bool

	// Timeouts
	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	RequestTimeout        time.Duration
	KeepAlive             time.Duration

	// Rate limiting, requests per second; 0 disables it
	RateLimit float64
	RateBurst int

	// Retry
	RetryAttempts int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration

	UserAgent string
}

// DefaultHTTPConfig returns the default configuration
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		EnableHTTP2:           true,
		DialTimeout:           30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
		RequestTimeout:        60 * time.Second,
		KeepAlive:             30 * time.Second,
		RateBurst:             1,
		RetryAttempts:         3,
		RetryDelay:            time.Second,
		MaxRetryDelay:         30 * time.Second,
		UserAgent:             "tidemark/1.0",
	}
}

// NewHTTPClient creates a new HTTP client
func NewHTTPClient(config *HTTPConfig, logger *zap.Logger) *HTTPClient {
	if config == nil {
		config = DefaultHTTPConfig()
	}
	if config.RateBurst < 1 {
		config.RateBurst = 1
	}

	client := &HTTPClient{
		config: config,
		logger: logger.With(zap.String("component", "http_client")),
		retry:  NewRetryPolicy(config.RetryAttempts, config.RetryDelay, config.MaxRetryDelay),
	}
	client.retry.OnRetry = func(attempt int, err error, wait time.Duration) {
		client.logger.Warn("request failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	client.transport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAlive,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	if config.EnableHTTP2 {
		if err := http2.ConfigureTransport(client.transport); err != nil {
			client.logger.Warn("failed to configure HTTP/2", zap.Error(err))
		}
	}

	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst)
	}

	client.httpClient = &http.Client{
		Transport: &instrumentedTransport{base: client.transport, limiter: limiter},
		Timeout:   config.RequestTimeout,
	}

	return client
}

// StandardClient returns the underlying *http.Client. Requests made through it
// share the rate limiter and metrics but are not retried; it is handed to the
// oauth2 and Google API libraries.
func (c *HTTPClient) StandardClient() *http.Client {
	return c.httpClient
}

// GetJSON issues a GET to rawURL with query appended and decodes a 2xx JSON
// body into out. Transient failures are retried with the same URL, so a
// retried page request always asks for the same page.
func (c *HTTPClient) GetJSON(ctx context.Context, rawURL string, query url.Values, headers http.Header, out interface{}) error {
	target := withQuery(rawURL, query)

	return c.retry.ExecuteWithCondition(ctx, func() error {
		return c.getJSONOnce(ctx, target, headers, out)
	}, errors.IsRetryable)
}

func (c *HTTPClient) getJSONOnce(ctx context.Context, target string, headers http.Header, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "failed to build request")
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return errors.Wrap(err, errors.ErrorTypeConnection, "GET "+redactURL(target)+" failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e := errors.FromStatus(resp.StatusCode, http.MethodGet, redactURL(target), body)
		if wait := parseRetryAfter(resp.Header, time.Now()); wait > 0 {
			e.WithDetail(RetryAfterDetail, wait)
		}
		return e
	}

	if err := jsonpkg.Unmarshal(body, out); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to decode response from "+redactURL(target))
	}
	return nil
}

// Close releases idle connections
func (c *HTTPClient) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

func withQuery(rawURL string, query url.Values) string {
	if len(query) == 0 {
		return rawURL
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + query.Encode()
}

// redactURL drops the query string, which may carry filters worth keeping out
// of logs and error messages.
func redactURL(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}

// HTTPConfigFromReliability applies the run's reliability settings to the
// default HTTP configuration.
func HTTPConfigFromReliability(r config.ReliabilityConfig) *HTTPConfig {
	cfg := DefaultHTTPConfig()
	if r.RetryAttempts > 0 {
		cfg.RetryAttempts = r.RetryAttempts
	}
	if r.RetryDelay > 0 {
		cfg.RetryDelay = r.RetryDelay
	}
	if r.MaxRetryDelay > 0 {
		cfg.MaxRetryDelay = r.MaxRetryDelay
	}
	if r.RequestTimeout > 0 {
		cfg.RequestTimeout = r.RequestTimeout
		cfg.ResponseHeaderTimeout = r.RequestTimeout
	}
	cfg.RateLimit = r.RateLimitPerSec
	if r.RateLimitBurst > 0 {
		cfg.RateBurst = r.RateLimitBurst
	}
	return cfg
}
