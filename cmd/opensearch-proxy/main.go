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
	"go.uber.org/fx"
	"golang.org/x/time/rate"

	"opensearch-proxy-go/internal/client"
	"opensearch-proxy-go/internal/config"
	"opensearch-proxy-go/internal/handler"
	"opensearch-proxy-go/internal/metrics"
	"opensearch-proxy-go/internal/middleware"
	"opensearch-proxy-go/internal/service"
	"opensearch-proxy-go/internal/stats"
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
		kong.Name("opensearch-proxy"),
		kong.Description("Intercepting proxy for an OpenSearch-compatible backend."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			config.Load,
			newLogger,
			newStats,
			metrics.New,
			client.NewUpstream,
			service.NewRouter,
			handler.NewProxyHandler,
			handler.NewMonitorHandler,
		),
		fx.Invoke(startServers),
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

func newStats(cfg *config.Config) *stats.Collector {
	return stats.NewCollector(cfg.Stats.FailureLogMax)
}

// newProxyEcho builds the inbound proxy server. No middleware here may
// decorate responses: forwarded responses must reach the client exactly
// as the backend sent them.
func newProxyEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	// WriteTimeout is disabled (0): the upstream client timeout, ReadTimeout
	// and IdleTimeout already bound a request's lifetime.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.MetricsMiddleware(m))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))

	if cfg.Server.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func newMonitorEcho(logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadTimeout = 30 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(logger.With("server", "monitor")))

	return e
}

func startServers(
	lc fx.Lifecycle,
	cfg *config.Config,
	logger *slog.Logger,
	m *metrics.Metrics,
	proxy *handler.ProxyHandler,
	mon *handler.MonitorHandler,
) {
	pe := newProxyEcho(cfg, logger, m)
	handler.RegisterProxyRoutes(pe, proxy)
	serve(lc, pe, cfg.Server.Addr(), "proxy", logger)

	me := newMonitorEcho(logger)
	handler.RegisterMonitorRoutes(me, mon, m, cfg)
	serve(lc, me, cfg.Monitor.Addr(), "monitor", logger)
}

func serve(lc fx.Lifecycle, e *echo.Echo, addr, name string, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "server", name, "addr", addr)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "server", name, "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server", "server", name)
			return e.Shutdown(ctx)
		},
	})
}
