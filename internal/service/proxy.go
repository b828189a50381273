// Package service implements the core proxy forwarding logic.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"

	"github.com/labstack/echo/v4"

	"laeproxy-go/internal/client"
	"laeproxy-go/internal/config"
	"laeproxy-go/internal/guard"
	"laeproxy-go/internal/httpheader"
	"laeproxy-go/internal/metrics"
	"laeproxy-go/internal/model"
	"laeproxy-go/internal/rangepolicy"
	"laeproxy-go/internal/target"
)

// ErrUpstreamRangeViolation is returned when an origin answers a ranged
// request with a body or Content-Range that does not fit the range asked for.
var ErrUpstreamRangeViolation = errors.New("upstream range violation")

// strippedRequestHeaders never reach the origin. Range is handled
// separately: replaced by the effective range for GET, forwarded otherwise.
var strippedRequestHeaders = []string{
	"Host",
	"Content-Length",
	"Via",
	"X-Forwarded-For",
	"Vary",
}

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	client     *client.UpstreamClient
	policy     *rangepolicy.Policy
	guard      *guard.SizeGuard
	translator *Translator
	logger     *slog.Logger
	metrics    *metrics.Metrics
	userAgent  string
}

// NewProxyService creates a ProxyService. The metrics parameter is optional.
func NewProxyService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, v model.Version) *ProxyService {
	ua := cfg.Upstream.UserAgent
	if ua == "" {
		ua = "laeproxy-go/" + string(v)
	}
	logger = logger.With("component", "proxy_service")

	return &ProxyService{
		client:     c,
		policy:     rangepolicy.New(cfg.Range.MaxChunkBytes),
		guard:      guard.New(cfg.Limits.RequestMaxBytes, cfg.Limits.ResponseMaxBytes),
		translator: NewTranslator(logger, m),
		logger:     logger,
		metrics:    m,
		userAgent:  ua,
	}
}

// Forward resolves the embedded target, applies the range policy and size
// ceilings, fetches from the origin and translates the result.
//
// Errors wrap one of target.ErrMalformedTarget, rangepolicy.ErrInvalidRange,
// guard.ErrRequestTooLarge, guard.ErrRequestBodyUnreadable,
// guard.ErrResponseTooLarge, client.ErrUpstreamUnreachable, client.ErrUpstreamTimeout or
// ErrUpstreamRangeViolation. Client-side failures are detected before any
// upstream call is made.
func (s *ProxyService) Forward(in *model.InboundRequest) (*model.ProxyResponse, error) {
	u, err := target.Resolve(in.EscapedPath, in.RawQuery)
	if err != nil {
		return nil, err
	}
	if target.IsRecursive(u, in.Host) {
		return nil, fmt.Errorf("%w: recursive request to %s", target.ErrMalformedTarget, u.Host)
	}

	decision, err := s.policy.Decide(in.Method, in.Header.Get("Range"))
	if err != nil {
		return nil, err
	}
	if decision.Clamped && s.metrics != nil {
		s.metrics.RangesClamped.Inc()
	}

	var body []byte
	if carriesPayload(in.Method) {
		body, err = s.guard.ReadRequestBody(in.Body, in.ContentLength)
		if errors.Is(err, echo.ErrStatusRequestEntityTooLarge) {
			// BodyLimit cut the body off mid-read.
			err = fmt.Errorf("%w: %w", guard.ErrRequestTooLarge, err)
		}
		if err != nil {
			s.rejected(err, "request")
			return nil, err
		}
	}

	pr := &model.ProxyRequest{
		Ctx:    in.Ctx,
		Method: in.Method,
		Target: u,
		Range:  decision.Requested,
		Header: s.outboundHeader(in.Header, decision),
		Body:   body,
	}

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"host", u.Host,
		"range", pr.Header.Get("Range"),
		"clamped", decision.Clamped,
	)

	res, err := s.client.Fetch(pr.Ctx, &client.FetchRequest{
		Method:    pr.Method,
		URL:       u.String(),
		Header:    pr.Header,
		Body:      pr.Body,
		ReadLimit: s.readLimit(decision),
	})
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	resp, err := s.translator.Translate(pr, decision, res)
	if err != nil {
		s.rejected(err, "response")
		return nil, err
	}
	if err := s.guard.CheckResponse(int64(len(resp.Body))); err != nil {
		s.rejected(err, "response")
		return nil, err
	}
	return resp, nil
}

// MaxChunk returns the configured chunk ceiling.
func (s *ProxyService) MaxChunk() int64 { return s.policy.MaxChunk() }

// outboundHeader builds the header set sent to the origin.
func (s *ProxyService) outboundHeader(src http.Header, d rangepolicy.Decision) http.Header {
	h := src.Clone()
	if h == nil {
		h = make(http.Header)
	}
	httpheader.RemoveHopByHop(h)
	for _, name := range strippedRequestHeaders {
		h.Del(name)
	}
	if d.Applies {
		h.Set("Range", d.Range.Header())
	}
	if h.Get("User-Agent") == "" {
		h.Set("User-Agent", s.userAgent)
	}
	return h
}

// readLimit is how much of the upstream body is worth buffering. Anything
// but a ranged GET is bounded by the response ceiling. A ranged GET also
// needs one byte past the effective end, to tell an overlong 206 from a
// conforming one and to slice a 200 that ignored the range.
func (s *ProxyService) readLimit(d rangepolicy.Decision) int64 {
	limit := s.guard.ResponseMax()
	if !d.Applies {
		return limit
	}
	if d.Range.End > math.MaxInt64-2 {
		return math.MaxInt64
	}
	return max(limit, d.Range.End+2)
}

func (s *ProxyService) rejected(err error, direction string) {
	if s.metrics == nil {
		return
	}
	if errors.Is(err, guard.ErrRequestTooLarge) || errors.Is(err, guard.ErrResponseTooLarge) {
		s.metrics.GuardRejections.WithLabelValues(direction).Inc()
	}
}

// carriesPayload reports whether the request body is forwarded upstream.
func carriesPayload(method string) bool {
	return method == http.MethodPost || method == http.MethodPut
}
