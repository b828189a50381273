package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"laeproxy-go/internal/config"
	"laeproxy-go/internal/model"
)

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version model.Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v model.Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Healthz returns a simple OK response for liveness checks.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// StatusResponse is the body of /proxy/status.
type StatusResponse struct {
	Status           string `json:"status"`
	Version          string `json:"version"`
	MaxChunkBytes    int64  `json:"max_chunk_bytes"`
	RequestMaxBytes  int64  `json:"request_max_bytes"`
	ResponseMaxBytes int64  `json:"response_max_bytes"`
	UpstreamTimeout  string `json:"upstream_timeout"`
	UpstreamRetries  int    `json:"upstream_retries"`
}

// Status returns the proxy version and the limits it enforces.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Status:           "ok",
		Version:          string(h.version),
		MaxChunkBytes:    h.cfg.Range.MaxChunkBytes,
		RequestMaxBytes:  h.cfg.Limits.RequestMaxBytes,
		ResponseMaxBytes: h.cfg.Limits.ResponseMaxBytes,
		UpstreamTimeout:  h.cfg.Upstream.Timeout().String(),
		UpstreamRetries:  h.cfg.Upstream.Retries,
	})
}
