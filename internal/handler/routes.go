package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"webhook-proxy-go/internal/config"
	"webhook-proxy-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// Every other path falls through to echo's 404.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, webhook *WebhookHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	e.Any(cfg.Routes.WebhookPath+"/:id", webhook.Handle)
	e.Any(cfg.Routes.WebhookTestPath+"/:id", webhook.HandleTest)
}

// RegisterMetrics exposes the Prometheus registry at metrics.path when
// metrics are enabled.
func RegisterMetrics(e *echo.Echo, cfg *config.Config, m *metrics.Metrics) {
	if !cfg.Metrics.Enabled || m == nil {
		return
	}
	e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
}
