package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"webhook-proxy-go/internal/client"
	"webhook-proxy-go/internal/config"
	"webhook-proxy-go/internal/dedup"
	"webhook-proxy-go/internal/handler"
	"webhook-proxy-go/internal/metrics"
	"webhook-proxy-go/internal/middleware"
	"webhook-proxy-go/internal/queue"
	"webhook-proxy-go/internal/ratelimit"
	"webhook-proxy-go/internal/redisclient"
	"webhook-proxy-go/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("webhook-proxy"),
		kong.Description("Deduplicating, rate limiting reverse proxy for webhooks."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			newMetrics,
			newEcho,
			newRedis,
			newRedisHealthcheck,
			dedup.NewBackend,
			dedup.NewStore,
			ratelimit.NewLimiter,
			ratelimit.NewGate,
			queue.New,
			fx.Annotate(queue.NewProducer, fx.As(new(service.Enqueuer))),
			client.NewUpstreamClient,
			service.NewForwarder,
			service.NewPipeline,
			func(p *service.Pipeline) queue.Redeliverer { return p },
			queue.NewConsumer,
			handler.NewWebhookHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(
			handler.RegisterRoutes,
			handler.RegisterMetrics,
			warnConfigPermissions,
			startServer,
			startConsumer,
		),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newMetrics(cfg *config.Config) *metrics.Metrics {
	return metrics.New(cfg.Routes.WebhookPath, cfg.Routes.WebhookTestPath)
}

func newEcho(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger, "/healthz", cfg.Metrics.Path))
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m, cfg.Metrics.Path))
	}
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.StripHopByHop())

	return e
}

// newRedis returns nil when no Redis URL is configured.
func newRedis(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (redis.UniversalClient, error) {
	if cfg.Redis.URL == "" {
		return nil, nil
	}

	rdb, err := redisclient.Connect(context.Background(), cfg.Redis)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to redis")

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return rdb.Close()
		},
	})
	return rdb, nil
}

func newRedisHealthcheck(rdb redis.UniversalClient) handler.Healthcheck {
	if rdb == nil {
		return nil
	}
	return redisclient.Healthcheck(rdb)
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server",
				"addr", addr,
				"upstream", cfg.Upstream.BaseURL,
				"dedup", cfg.Dedup.Enabled,
				"rate_limit", cfg.RateLimit.Enabled,
				"queue", cfg.Queue.Backend,
			)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}

func startConsumer(lc fx.Lifecycle, c *queue.Consumer, cfg *config.Config, logger *slog.Logger) {
	if !cfg.Queue.ConsumerEnabled() {
		logger.Info("retry consumer disabled")
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return c.Start(ctx)
		},
		OnStop: func(_ context.Context) error {
			return c.Stop()
		},
	})
}
