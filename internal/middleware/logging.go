// Package middleware provides Echo middleware for logging, metrics and
// hop-by-hop header handling.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// Requests to quietPaths (probes, scrapes) are logged at debug. Server errors
// are logged at error and client errors at warn.
func RequestLogger(logger *slog.Logger, quietPaths ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				// Let echo write the error so the logged status is final.
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()

			attrs := []slog.Attr{
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int("status", res.Status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("request_id", res.Header().Get(echo.HeaderXRequestID)),
				slog.String("remote_ip", c.RealIP()),
				slog.Int64("bytes_out", res.Size),
			}
			if id := c.Param("id"); id != "" {
				attrs = append(attrs, slog.String("webhook_id", id))
			}

			logger.LogAttrs(context.Background(), requestLevel(req.URL.Path, res.Status, quietPaths), "request", attrs...)
			return nil
		}
	}
}

func requestLevel(path string, status int, quietPaths []string) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	case slices.Contains(quietPaths, path):
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
