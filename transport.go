package analytics_transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// maxLoggedBody bounds how much of an error response is logged
const maxLoggedBody = 512

// Transport executes one delivery attempt of a batch
type Transport interface {
	Send(ctx context.Context, batch *Batch) Result
}

// HTTPTransport posts batches to the collection endpoint
type HTTPTransport struct {
	config    *Config
	endpoint  *Endpoint
	client    *http.Client
	logger    *zap.Logger
	env       Environment
	accept    string
	userAgent string
}

// NewHTTPTransport creates a new HTTP transport. env supplies the
// Referer header and may be nil.
func NewHTTPTransport(config *Config, env Environment, logger *zap.Logger) (*HTTPTransport, error) {
	endpoint, err := ParseEndpoint(config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sslVerify := config.Transport.SSLVerify == nil || *config.Transport.SSLVerify
	transport := &http.Transport{
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !sslVerify,
		},
	}

	// Configure proxy if specified
	if config.Transport.Proxy != "" {
		proxyURL, err := url.Parse(config.Transport.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	// Credentials are included with every request: cookies set by the
	// collector are replayed on later batches.
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   config.Transport.Timeout,
		Jar:       jar,
	}

	return &HTTPTransport{
		config:    config,
		endpoint:  endpoint,
		client:    client,
		logger:    logger,
		env:       env,
		accept:    AcceptHeader(config.Vendor),
		userAgent: fmt.Sprintf("%s/%s", config.Library.Name, config.Library.Version),
	}, nil
}

// Send performs one POST of the batch and classifies the outcome
func (t *HTTPTransport) Send(ctx context.Context, batch *Batch) Result {
	req, err := t.createRequest(ctx, batch)
	if err != nil {
		t.logger.Debug("Failed to create request", zap.Error(err))
		return Result{Outcome: OutcomeNetworkError, Err: err}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Debug("HTTP request failed",
			zap.Int("batch_size", batch.Len()),
			zap.Error(err))
		return Result{Outcome: OutcomeNetworkError, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody))
	if err != nil {
		t.logger.Debug("Failed to read response body", zap.Error(err))
	}
	// Drain the rest so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)

	return t.classify(resp, body, batch)
}

// classify maps an HTTP response onto a delivery outcome
func (t *HTTPTransport) classify(resp *http.Response, body []byte, batch *Batch) Result {
	status := resp.StatusCode
	result := Result{StatusCode: status}

	if status >= 200 && status < 300 {
		t.logger.Debug("Batch sent successfully",
			zap.Int("batch_size", batch.Len()),
			zap.Int("status_code", status))
		result.Outcome = OutcomeSuccess
		return result
	}

	if isThrottleStatus(status) {
		if delay, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			t.logger.Debug("Collector throttled batch",
				zap.Int("batch_size", batch.Len()),
				zap.Int("status_code", status),
				zap.Duration("retry_after", delay))
			result.Outcome = OutcomeRetryable
			result.RetryAfter = delay
			return result
		}
	}

	result.Outcome = OutcomeTerminal
	result.Err = fmt.Errorf("HTTP %d: %s", status, string(body))
	t.logger.Debug("Batch send failed",
		zap.Int("batch_size", batch.Len()),
		zap.Int("status_code", status),
		zap.String("retry_after", resp.Header.Get("Retry-After")),
		zap.String("response", string(body)))
	return result
}

// createRequest creates an HTTP request for the batch
func (t *HTTPTransport) createRequest(ctx context.Context, batch *Batch) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint.URL, bytes.NewReader(batch.Body()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json;charset=utf-8")
	req.Header.Set("Accept", t.accept)
	req.Header.Set("User-Agent", t.userAgent)
	if t.config.AppVersion != "" {
		req.Header.Set(t.config.Transport.AppVersionHeader, t.config.AppVersion)
	}
	if t.config.Transport.Identity != "" {
		req.Header.Set(t.config.Transport.IdentityHeader, t.config.Transport.Identity)
	}
	if t.env != nil {
		if referer := safeRead(t.env.PageURL); referer != "" {
			req.Header.Set("Referer", referer)
		}
	}
	if encoding := batch.ContentEncoding(); encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	return req, nil
}

// CookieJar returns the jar holding the collector's cookies
func (t *HTTPTransport) CookieJar() http.CookieJar {
	return t.client.Jar
}

// Close closes the transport
func (t *HTTPTransport) Close() error {
	if t.client != nil {
		t.client.CloseIdleConnections()
	}
	return nil
}
