package handler

import (
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/labstack/echo/v4"

	"opensearch-proxy-go/internal/config"
	"opensearch-proxy-go/internal/stats"
)

// MonitorHandler serves the operational counters and the failure log on
// the monitoring port.
type MonitorHandler struct {
	stats *stats.Collector
	cfg   *config.Config
}

// NewMonitorHandler creates a MonitorHandler.
func NewMonitorHandler(st *stats.Collector, cfg *config.Config) *MonitorHandler {
	return &MonitorHandler{stats: st, cfg: cfg}
}

// SuccessCount returns the number of locally answered search requests as
// plain text.
func (h *MonitorHandler) SuccessCount(c echo.Context) error {
	return c.String(http.StatusOK, strconv.FormatUint(h.stats.Snapshot().SearchSuccess, 10))
}

// FailureCount returns the number of search requests that fell back to
// forwarding.
func (h *MonitorHandler) FailureCount(c echo.Context) error {
	return c.String(http.StatusOK, strconv.FormatUint(h.stats.Snapshot().SearchFailure, 10))
}

// PassthroughCount returns the number of non-search requests forwarded
// upstream.
func (h *MonitorHandler) PassthroughCount(c echo.Context) error {
	return c.String(http.StatusOK, strconv.FormatUint(h.stats.Snapshot().NonSearchPassthrough, 10))
}

// Failures renders the retained failure log as an HTML fragment, one row
// per entry. Bodies are decoded as UTF-8 on a best-effort basis; invalid
// bytes render as an empty string.
func (h *MonitorHandler) Failures(c echo.Context) error {
	var b strings.Builder
	for _, f := range h.stats.Snapshot().Failures {
		body := ""
		if utf8.Valid(f.Body) {
			body = string(f.Body)
		}
		fmt.Fprintf(&b,
			"<div class='failure_row'><div class='failure_reason'>%s</div> <div class='failure_body'>%s</div></div>",
			html.EscapeString(f.Reason),
			html.EscapeString(body),
		)
	}
	return c.HTML(http.StatusOK, b.String())
}

// Index serves the static monitoring page.
func (h *MonitorHandler) Index(c echo.Context) error {
	return c.File(h.cfg.Monitor.IndexFile)
}

// Favicon serves the monitoring page favicon.
func (h *MonitorHandler) Favicon(c echo.Context) error {
	return c.File(h.cfg.Monitor.FaviconFile)
}

// Healthz returns a simple OK response for liveness probes.
func (h *MonitorHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}
