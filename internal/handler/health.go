package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"webhook-proxy-go/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// Healthcheck probes a backing service. A nil Healthcheck means no service
// is configured.
type Healthcheck func(context.Context) error

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	redis   Healthcheck
}

// NewHealthHandler creates a HealthHandler. redis may be nil.
func NewHealthHandler(cfg *config.Config, v Version, redis Healthcheck) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, redis: redis}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns proxy status information. It answers 503 when Redis is
// configured but unreachable.
func (h *HealthHandler) Status(c echo.Context) error {
	body := map[string]string{
		"status":             "ok",
		"version":            string(h.version),
		"upstream_url":       h.cfg.Upstream.BaseURL,
		"dedup_backend":      backendOrOff(h.cfg.Dedup.Enabled, h.cfg.Dedup.Backend),
		"rate_limit_backend": backendOrOff(h.cfg.RateLimit.Enabled, h.cfg.RateLimit.Backend),
		"queue_backend":      h.cfg.Queue.Backend,
	}
	code := http.StatusOK

	if h.redis != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := h.redis(ctx); err != nil {
			body["status"] = "degraded"
			body["redis"] = "unavailable"
			code = http.StatusServiceUnavailable
		} else {
			body["redis"] = "ok"
		}
	}

	return c.JSON(code, body)
}

func backendOrOff(enabled bool, backend string) string {
	if !enabled {
		return "disabled"
	}
	return backend
}
