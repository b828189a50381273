// Package client provides the upstream HTTP fetcher.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"laeproxy-go/internal/config"
	"laeproxy-go/internal/metrics"
	"laeproxy-go/internal/model"
)

var (
	// ErrUpstreamUnreachable is returned when no attempt produced a response.
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
	// ErrUpstreamTimeout is returned when a single attempt exceeds the deadline.
	ErrUpstreamTimeout = errors.New("upstream timeout")

	errBadRequest = errors.New("cannot build upstream request")
)

// FetchRequest describes one upstream call.
type FetchRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
	// ReadLimit caps how many body bytes are buffered. Anything beyond it
	// marks the result as truncated.
	ReadLimit int64
}

// UpstreamClient sends requests to origin servers.
type UpstreamClient struct {
	httpClient     *http.Client
	logger         *slog.Logger
	metrics        *metrics.Metrics
	timeout        time.Duration
	retries        int
	retryBackoff   time.Duration
	identityHeader string
	maxFetch       int64
}

// NewUpstreamClient creates an UpstreamClient with connection pooling.
// Redirects are returned to the caller instead of being followed, and
// response bodies are never transparently decompressed so byte offsets stay
// meaningful. The metrics parameter is optional; pass nil to disable
// upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DisableCompression:  true,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	identity := cfg.Upstream.IdentityHeader
	if identity == "" {
		identity = "Server"
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:         logger.With("component", "upstream_client"),
		metrics:        m,
		timeout:        cfg.Upstream.Timeout(),
		retries:        cfg.Upstream.Retries,
		retryBackoff:   cfg.Upstream.RetryBackoff(),
		identityHeader: identity,
		maxFetch:       cfg.Upstream.MaxFetchBytes,
	}
}

// Fetch performs the upstream call, retrying transport-level failures a
// fixed number of times. Any HTTP status, 5xx included, is a result and is
// never retried. Cancelling ctx abandons the in-flight attempt.
func (c *UpstreamClient) Fetch(ctx context.Context, fr *FetchRequest) (*model.UpstreamResult, error) {
	retrievedAt := time.Now().UTC()
	start := time.Now()

	var (
		result   *model.UpstreamResult
		attempts int
	)
	op := func() error {
		attempts++
		if attempts > 1 {
			c.logger.Debug("retrying upstream request", "attempt", attempts, "url", fr.URL)
			if c.metrics != nil {
				c.metrics.UpstreamRetries.Inc()
			}
		}

		res, err := c.attempt(ctx, fr)
		if err == nil {
			result = res
			return nil
		}
		if !retryable(ctx, err) {
			return backoff.Permanent(err)
		}
		c.logger.Warn("upstream attempt failed", "attempt", attempts, "err", err)
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryBackoff), uint64(max(c.retries, 0))),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, c.classify(ctx, err, attempts)
	}

	result.RetrievedAt = retrievedAt
	result.Elapsed = time.Since(start)
	result.Attempts = attempts
	return result, nil
}

// attempt performs a single upstream round trip, bounded by the per-attempt
// deadline, and buffers the body up to the read limit.
func (c *UpstreamClient) attempt(ctx context.Context, fr *FetchRequest) (*model.UpstreamResult, error) {
	actx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	if fr.Body != nil {
		body = bytes.NewReader(fr.Body)
	}
	req, err := http.NewRequestWithContext(actx, fr.Method, fr.URL, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	if fr.Header != nil {
		req.Header = fr.Header.Clone()
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, c.attemptError(ctx, actx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	limit := fr.ReadLimit
	if limit <= 0 || (c.maxFetch > 0 && limit > c.maxFetch) {
		limit = c.maxFetch
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, c.attemptError(ctx, actx, fmt.Errorf("read upstream body: %w", err))
	}
	truncated := int64(len(data)) > limit
	if truncated {
		data = data[:limit]
	}

	return &model.UpstreamResult{
		StatusCode:    resp.StatusCode,
		Header:        resp.Header,
		Body:          data,
		Truncated:     truncated,
		ContentLength: resp.ContentLength,
		Server:        resp.Header.Get(c.identityHeader),
	}, nil
}

// do executes an HTTP request against the upstream and records metrics.
// The caller is responsible for closing the response body.
func (c *UpstreamClient) do(req *http.Request) (*http.Response, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"host", req.URL.Host,
		"range", req.Header.Get("Range"),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // closed by attempt
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}

	return resp, nil
}

// attemptError tags a failed attempt that hit the per-attempt deadline.
// The caller's own cancellation is passed through untouched.
func (c *UpstreamClient) attemptError(ctx, actx context.Context, err error) error {
	if ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: attempt exceeded %s: %w", ErrUpstreamTimeout, c.timeout, err)
	}
	return err
}

// retryable reports whether a failed attempt may be repeated. Only
// transport failures qualify; a missed deadline, a caller cancellation, an
// unbuildable request or an unknown host will not improve on retry.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, ErrUpstreamTimeout) || errors.Is(err, errBadRequest) {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return false
	}
	return true
}

// classify maps the final error of a fetch onto the fetcher's taxonomy.
func (c *UpstreamClient) classify(ctx context.Context, err error, attempts int) error {
	reason := "unreachable"
	defer func() {
		if c.metrics != nil {
			c.metrics.UpstreamFailures.WithLabelValues(reason).Inc()
		}
	}()

	switch {
	case ctx.Err() != nil:
		reason = "canceled"
		return fmt.Errorf("upstream fetch abandoned after %d attempt(s): %w", attempts, ctx.Err())
	case errors.Is(err, ErrUpstreamTimeout):
		reason = "timeout"
		return err
	default:
		return fmt.Errorf("%w after %d attempt(s): %w", ErrUpstreamUnreachable, attempts, err)
	}
}
