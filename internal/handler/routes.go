package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"opensearch-proxy-go/internal/config"
	"opensearch-proxy-go/internal/metrics"
)

// RegisterProxyRoutes wires the proxy catch-all onto the Echo instance.
// Every path and method goes through the router, which decides between
// local synthesis and forwarding.
func RegisterProxyRoutes(e *echo.Echo, proxy *ProxyHandler) {
	e.Any("/*", proxy.Handle)
}

// RegisterMonitorRoutes wires the monitoring endpoints onto the Echo
// instance.
func RegisterMonitorRoutes(e *echo.Echo, mon *MonitorHandler, m *metrics.Metrics, cfg *config.Config) {
	e.GET("/search_queries_success_count", mon.SuccessCount)
	e.GET("/search_queries_failure_count", mon.FailureCount)
	e.GET("/nonsearch_passed_through_count", mon.PassthroughCount)
	e.GET("/search_queries_failures", mon.Failures)
	e.GET("/healthz", mon.Healthz)
	e.GET("/", mon.Index)
	e.GET("/favicon.ico", mon.Favicon)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(
			promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
		))
	}
}
