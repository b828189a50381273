package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"

	"laeproxy-go/internal/client"
	"laeproxy-go/internal/guard"
	"laeproxy-go/internal/model"
	"laeproxy-go/internal/rangepolicy"
	"laeproxy-go/internal/service"
	"laeproxy-go/internal/target"
)

// queryPattern matches the query string of URLs embedded in error messages.
// Target queries often carry signatures or tokens.
var queryPattern = regexp.MustCompile(`(https?://[^\s"?]+)\?[^\s"]*`)

// ProxyHandler serves /<scheme>/<host>/<path> requests.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle forwards the request to the embedded target and writes the
// translated response. Every failure becomes a complete JSON error response.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	in := &model.InboundRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		EscapedPath:   req.URL.EscapedPath(),
		RawQuery:      req.URL.RawQuery,
		Host:          req.Host,
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
	}

	resp, err := h.service.Forward(in)
	if err != nil {
		return h.mapError(c, err)
	}

	for key, vals := range resp.Header {
		if key == model.HeaderVersion {
			continue // already stamped with our own
		}
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}
	c.Response().WriteHeader(resp.StatusCode)

	// Status is already sent; a failed write can only be logged.
	if _, err := c.Response().Write(resp.Body); err != nil {
		h.logger.Error("writing response body",
			"err", err,
			"path", req.URL.Path,
		)
	}
	return nil
}

// mapError converts a forwarding failure into a status code attributed to
// the client or the upstream.
func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	status, msg := http.StatusBadGateway, "upstream request failed"
	switch {
	case errors.Is(err, target.ErrMalformedTarget):
		status, msg = http.StatusBadRequest, "malformed target"
	case errors.Is(err, rangepolicy.ErrInvalidRange):
		status, msg = http.StatusBadRequest, "invalid range"
	case errors.Is(err, guard.ErrRequestTooLarge):
		status, msg = http.StatusRequestEntityTooLarge, "request body too large"
	case errors.Is(err, guard.ErrRequestBodyUnreadable):
		status, msg = http.StatusBadRequest, "request body unreadable"
	case errors.Is(err, guard.ErrResponseTooLarge):
		msg = "response too large"
	case errors.Is(err, service.ErrUpstreamRangeViolation):
		msg = "upstream range violation"
	case errors.Is(err, client.ErrUpstreamTimeout):
		msg = "upstream request timed out"
	case errors.Is(err, client.ErrUpstreamUnreachable):
		msg = "upstream unreachable"
	case errors.Is(err, context.Canceled):
		msg = "client disconnected"
	}

	detail := sanitizeError(err)
	if status == http.StatusBadGateway {
		h.logger.Error("proxy error", "err", detail, "path", c.Request().URL.Path)
	} else {
		h.logger.Debug("rejected request", "err", detail, "path", c.Request().URL.Path)
	}

	c.Response().Header().Set(model.HeaderResult, detail)
	return c.JSON(status, map[string]string{
		"error":  msg,
		"detail": detail,
	})
}

// sanitizeError redacts query strings from URLs in error messages.
func sanitizeError(err error) string {
	return queryPattern.ReplaceAllString(err.Error(), "${1}?[REDACTED]")
}
